package device

import (
	"context"
	"time"
)

// Device is one fingerprint-derived identity, permanently bound to the
// first student who registered it.
type Device struct {
	DeviceID                string      `json:"device_id"`
	StudentID               string      `json:"student_id"`
	DeviceName              string      `json:"device_name"`
	Fingerprint             Fingerprint `json:"fingerprint"`
	IsTrusted               bool        `json:"is_trusted"`
	IsActive                bool        `json:"is_active"`
	FirstSeen               time.Time   `json:"first_seen"`
	LastSeen                time.Time   `json:"last_seen"`
	LastUsedForAttendance   *time.Time  `json:"last_used_for_attendance,omitempty"`
	SuspiciousActivityCount int         `json:"suspicious_activity_count"`
}

// AlertType classifies security alerts.
type AlertType string

const (
	AlertNewDevice          AlertType = "new_device"
	AlertMultipleDevices    AlertType = "multiple_devices_attendance"
	AlertAccountSharing     AlertType = "account_sharing_attempt"
	AlertUnauthorizedAccess AlertType = "unauthorized_device_access"
	AlertOwnershipViolation AlertType = "device_ownership_violation"
)

// Severity ranks how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertMetadata carries the parties and devices involved in an alert.
type AlertMetadata struct {
	ViolatingStudent string `json:"violating_student,omitempty"`
	DeviceOwner      string `json:"device_owner,omitempty"`
	DeviceName       string `json:"device_name,omitempty"`
	OldDevice        string `json:"old_device,omitempty"`
	NewDevice        string `json:"new_device,omitempty"`
}

// Alert is a write-once audit entry; only IsRead and IsResolved mutate
// after creation.
type Alert struct {
	ID         string        `json:"id"`
	StudentID  string        `json:"student_id"`
	Type       AlertType     `json:"type"`
	Severity   Severity      `json:"severity"`
	Message    string        `json:"message"`
	DeviceID   string        `json:"device_id,omitempty"`
	Metadata   AlertMetadata `json:"metadata"`
	IsRead     bool          `json:"is_read"`
	IsResolved bool          `json:"is_resolved"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Repository persists device identities. Lookups that find nothing
// return (nil, nil).
type Repository interface {
	Insert(ctx context.Context, d Device) error
	GetByDeviceID(ctx context.Context, deviceID string) (*Device, error)
	ListByStudent(ctx context.Context, studentID string) ([]Device, error)
	UpdateLastSeen(ctx context.Context, deviceID string, seen time.Time, active bool) error
	MarkAttendanceUse(ctx context.Context, deviceID string, used time.Time) error
	SetTrusted(ctx context.Context, deviceID string, trusted bool) error
	// Deactivate clears isActive; revokeTrust additionally drops the
	// trust flag. Ownership is never touched.
	Deactivate(ctx context.Context, deviceID string, revokeTrust bool) error
	IncrementSuspicious(ctx context.Context, deviceID string, seen time.Time) error
}

// AlertRepository persists security alerts.
type AlertRepository interface {
	Insert(ctx context.Context, a Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	ListByStudent(ctx context.Context, studentID string) ([]Alert, error)
	MarkRead(ctx context.Context, id string) error
	Resolve(ctx context.Context, id string) error
}
