package attendance

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"geoattend/internal/geo"
)

// PostgresRepository persists attendance in Postgres. The mark-once
// invariant lives in the UNIQUE (session_id, student_id) constraint,
// not in application-level read-then-write.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, session_id, student_id, status, marked_at, latitude, longitude,
	distance_meters, is_manually_set, overridden_by, note, last_modified`

func (r *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	var lat, lon *float64
	if rec.Coords != nil {
		lat, lon = &rec.Coords.Latitude, &rec.Coords.Longitude
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, status, marked_at,
			latitude, longitude, distance_meters, is_manually_set, overridden_by, note, last_modified)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Status, rec.MarkedAt,
		lat, lon, rec.DistanceMeters, rec.IsManuallySet, nullable(rec.OverriddenBy), rec.Note, rec.LastModified)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, sessionID, studentID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1 AND student_id = $2`, sessionID, studentID)
	return scanRecord(row)
}

func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1 ORDER BY marked_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Override(ctx context.Context, rec Record) (string, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, status, marked_at,
			is_manually_set, overridden_by, note, last_modified)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			is_manually_set = EXCLUDED.is_manually_set,
			overridden_by = EXCLUDED.overridden_by,
			note = EXCLUDED.note,
			last_modified = EXCLUDED.last_modified
		RETURNING id, (xmax = 0)
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Status, rec.MarkedAt,
		rec.IsManuallySet, nullable(rec.OverriddenBy), rec.Note, rec.LastModified)
	var id string
	var created bool
	if err := row.Scan(&id, &created); err != nil {
		return "", false, err
	}
	return id, created, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var lat, lon, dist sql.NullFloat64
	var overriddenBy, note sql.NullString
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Status, &rec.MarkedAt,
		&lat, &lon, &dist, &rec.IsManuallySet, &overriddenBy, &note, &rec.LastModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lat.Valid && lon.Valid {
		rec.Coords = &geo.Coordinates{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	if dist.Valid {
		rec.DistanceMeters = &dist.Float64
	}
	rec.OverriddenBy = overriddenBy.String
	rec.Note = note.String
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
