package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"geoattend/internal/geo"
)

// PostgresRepository persists sessions in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, title, department, year, teacher_id, is_open, created_at, closed_at,
	latitude, longitude, allowed_radius, current_token, token_expiry`

func (r *PostgresRepository) Insert(ctx context.Context, s Session) error {
	var lat, lon *float64
	if s.Anchor != nil {
		lat, lon = &s.Anchor.Latitude, &s.Anchor.Longitude
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, department, year, teacher_id, is_open, created_at, latitude, longitude, allowed_radius)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, s.ID, s.Title, s.Department, s.Year, s.TeacherID, s.IsOpen, s.CreatedAt, lat, lon, s.AllowedRadius)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return r.scanWithRedemptions(ctx, row)
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE current_token = $1`, token)
	return r.scanWithRedemptions(ctx, row)
}

func (r *PostgresRepository) Close(ctx context.Context, id string, closedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_open = FALSE, closed_at = $2 WHERE id = $1
	`, id, closedAt)
	return err
}

func (r *PostgresRepository) ListOpenByDeptYear(ctx context.Context, department string, year int) ([]Session, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE is_open = TRUE AND department = $1 AND year = $2
		ORDER BY created_at DESC`, department, year)
}

func (r *PostgresRepository) ListByTeacher(ctx context.Context, teacherID string) ([]Session, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE teacher_id = $1 ORDER BY created_at DESC`, teacherID)
}

func (r *PostgresRepository) ListOpen(ctx context.Context) ([]Session, error) {
	return r.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE is_open = TRUE`)
}

// SetToken overwrites the active token and wipes prior redemptions in
// one transaction, so a new token never inherits a stale redeemed set.
func (r *PostgresRepository) SetToken(ctx context.Context, id, token string, expiry time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET current_token = $2, token_expiry = $3 WHERE id = $1
	`, id, token, expiry)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.New("session not found")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM token_redemptions WHERE session_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepository) AppendRedemption(ctx context.Context, id, studentID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_redemptions (session_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, id, studentID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var closedAt, tokenExpiry sql.NullTime
	var lat, lon sql.NullFloat64
	var token sql.NullString
	err := row.Scan(&s.ID, &s.Title, &s.Department, &s.Year, &s.TeacherID, &s.IsOpen,
		&s.CreatedAt, &closedAt, &lat, &lon, &s.AllowedRadius, &token, &tokenExpiry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if closedAt.Valid {
		s.ClosedAt = &closedAt.Time
	}
	if lat.Valid && lon.Valid {
		s.Anchor = &geo.Coordinates{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	if token.Valid {
		s.CurrentToken = token.String
	}
	if tokenExpiry.Valid {
		s.TokenExpiry = &tokenExpiry.Time
	}
	return &s, nil
}

func (r *PostgresRepository) scanWithRedemptions(ctx context.Context, row rowScanner) (*Session, error) {
	s, err := scanSession(row)
	if err != nil || s == nil {
		return s, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT student_id FROM token_redemptions WHERE session_id = $1`, s.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var studentID string
		if err := rows.Scan(&studentID); err != nil {
			return nil, err
		}
		s.TokenRedeemedBy = append(s.TokenRedeemedBy, studentID)
	}
	return s, rows.Err()
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
