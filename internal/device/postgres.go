package device

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepository persists device identities in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const deviceColumns = `device_id, student_id, device_name, user_agent, screen_resolution, timezone,
	language, platform, is_trusted, is_active, first_seen, last_seen, last_used_for_attendance,
	suspicious_activity_count`

func (r *PostgresRepository) Insert(ctx context.Context, d Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, student_id, device_name, user_agent, screen_resolution,
			timezone, language, platform, is_trusted, is_active, first_seen, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, d.DeviceID, d.StudentID, d.DeviceName, d.Fingerprint.UserAgent, d.Fingerprint.ScreenResolution,
		d.Fingerprint.Timezone, d.Fingerprint.Language, d.Fingerprint.Platform,
		d.IsTrusted, d.IsActive, d.FirstSeen, d.LastSeen)
	return err
}

func (r *PostgresRepository) GetByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID)
	return scanDevice(row)
}

func (r *PostgresRepository) ListByStudent(ctx context.Context, studentID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices
		WHERE student_id = $1 ORDER BY first_seen`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, deviceID string, seen time.Time, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_seen = $2, is_active = $3 WHERE device_id = $1
	`, deviceID, seen, active)
	return err
}

func (r *PostgresRepository) MarkAttendanceUse(ctx context.Context, deviceID string, used time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_used_for_attendance = $2 WHERE device_id = $1
	`, deviceID, used)
	return err
}

func (r *PostgresRepository) SetTrusted(ctx context.Context, deviceID string, trusted bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE devices SET is_trusted = $2 WHERE device_id = $1`, deviceID, trusted)
	return err
}

func (r *PostgresRepository) Deactivate(ctx context.Context, deviceID string, revokeTrust bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET is_active = FALSE, is_trusted = (is_trusted AND NOT $2) WHERE device_id = $1
	`, deviceID, revokeTrust)
	return err
}

func (r *PostgresRepository) IncrementSuspicious(ctx context.Context, deviceID string, seen time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET suspicious_activity_count = suspicious_activity_count + 1, last_seen = $2
		WHERE device_id = $1
	`, deviceID, seen)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var lastUsed sql.NullTime
	err := row.Scan(&d.DeviceID, &d.StudentID, &d.DeviceName,
		&d.Fingerprint.UserAgent, &d.Fingerprint.ScreenResolution, &d.Fingerprint.Timezone,
		&d.Fingerprint.Language, &d.Fingerprint.Platform,
		&d.IsTrusted, &d.IsActive, &d.FirstSeen, &d.LastSeen, &lastUsed, &d.SuspiciousActivityCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastUsed.Valid {
		d.LastUsedForAttendance = &lastUsed.Time
	}
	return &d, nil
}

// PostgresAlertRepository persists security alerts in Postgres.
type PostgresAlertRepository struct {
	db *sql.DB
}

// NewPostgresAlertRepository creates a repo.
func NewPostgresAlertRepository(db *sql.DB) *PostgresAlertRepository {
	return &PostgresAlertRepository{db: db}
}

const alertColumns = `id, student_id, type, severity, message, device_id,
	violating_student, device_owner, meta_device_name, old_device, new_device,
	is_read, is_resolved, created_at`

func (r *PostgresAlertRepository) Insert(ctx context.Context, a Alert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO security_alerts (id, student_id, type, severity, message, device_id,
			violating_student, device_owner, meta_device_name, old_device, new_device,
			is_read, is_resolved, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, a.ID, a.StudentID, a.Type, a.Severity, a.Message, nullable(a.DeviceID),
		nullable(a.Metadata.ViolatingStudent), nullable(a.Metadata.DeviceOwner),
		nullable(a.Metadata.DeviceName), nullable(a.Metadata.OldDevice), nullable(a.Metadata.NewDevice),
		a.IsRead, a.IsResolved, a.CreatedAt)
	return err
}

func (r *PostgresAlertRepository) Get(ctx context.Context, id string) (*Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM security_alerts WHERE id = $1`, id)
	return scanAlert(row)
}

func (r *PostgresAlertRepository) ListByStudent(ctx context.Context, studentID string) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM security_alerts
		WHERE student_id = $1 ORDER BY created_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *PostgresAlertRepository) MarkRead(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE security_alerts SET is_read = TRUE WHERE id = $1`, id)
	return err
}

func (r *PostgresAlertRepository) Resolve(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE security_alerts SET is_resolved = TRUE WHERE id = $1`, id)
	return err
}

func scanAlert(row rowScanner) (*Alert, error) {
	var a Alert
	var deviceID, violating, owner, metaName, oldDev, newDev sql.NullString
	err := row.Scan(&a.ID, &a.StudentID, &a.Type, &a.Severity, &a.Message, &deviceID,
		&violating, &owner, &metaName, &oldDev, &newDev,
		&a.IsRead, &a.IsResolved, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.DeviceID = deviceID.String
	a.Metadata = AlertMetadata{
		ViolatingStudent: violating.String,
		DeviceOwner:      owner.String,
		DeviceName:       metaName.String,
		OldDevice:        oldDev.String,
		NewDevice:        newDev.String,
	}
	return &a, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
