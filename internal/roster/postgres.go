package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepository persists the roster in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const studentColumns = `id, name, email, department, year, semester, sap_id, roll_no, phone, password_hash, created_at`

func (r *PostgresRepository) InsertStudent(ctx context.Context, s Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, email, department, year, semester, sap_id, roll_no, phone, password_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, s.ID, s.Name, s.Email, s.Department, s.Year, s.Semester, s.SapID, s.RollNo, s.Phone, s.PasswordHash, s.CreatedAt)
	return err
}

func (r *PostgresRepository) GetStudent(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	return scanStudent(row)
}

func (r *PostgresRepository) GetStudentByEmail(ctx context.Context, email string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE email = $1`, email)
	return scanStudent(row)
}

func (r *PostgresRepository) ListStudentsByCohort(ctx context.Context, department string, year int) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students
		WHERE department = $1 AND year = $2 ORDER BY roll_no`, department, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) InsertTeacher(ctx context.Context, t Teacher) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO teachers (id, name, email, phone, password_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, t.ID, t.Name, t.Email, t.Phone, t.PasswordHash, t.CreatedAt)
	return err
}

func (r *PostgresRepository) GetTeacher(ctx context.Context, id string) (*Teacher, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, email, phone, password_hash, created_at FROM teachers WHERE id = $1`, id)
	return scanTeacher(row)
}

func (r *PostgresRepository) GetTeacherByEmail(ctx context.Context, email string) (*Teacher, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, email, phone, password_hash, created_at FROM teachers WHERE email = $1`, email)
	return scanTeacher(row)
}

func (r *PostgresRepository) SaveRefreshToken(ctx context.Context, subjectID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (subject_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, subjectID, token, expiresAt)
	return err
}

func (r *PostgresRepository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.Name, &s.Email, &s.Department, &s.Year, &s.Semester,
		&s.SapID, &s.RollNo, &s.Phone, &s.PasswordHash, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func scanTeacher(row rowScanner) (*Teacher, error) {
	var t Teacher
	err := row.Scan(&t.ID, &t.Name, &t.Email, &t.Phone, &t.PasswordHash, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
