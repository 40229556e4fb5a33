package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
	"geoattend/internal/metrics"
)

// Registry enforces the device ownership lock: one physical device maps
// to one owning account, forever. Every rejection leaves an audit alert.
type Registry struct {
	devices Repository
	alerts  AlertRepository
	// window is the lookback for simultaneous-usage detection.
	window time.Duration
	now    func() time.Time
	sink   func(Alert)
}

// NewRegistry creates a device ownership registry.
func NewRegistry(devices Repository, alerts AlertRepository, window time.Duration) *Registry {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Registry{devices: devices, alerts: alerts, window: window, now: time.Now}
}

// SetAlertSink installs a callback invoked for every alert the registry
// raises, in addition to persisting it. Used to fan out to the queue.
func (g *Registry) SetAlertSink(sink func(Alert)) { g.sink = sink }

// RegisterResult reports the outcome of a device registration.
type RegisterResult struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	IsNew      bool   `json:"is_new"`
	IsTrusted  bool   `json:"is_trusted"`
}

// Register computes the fingerprint identity and binds it to studentID,
// or rejects when the device already belongs to someone else. A
// rejection emits two alerts: one against the requester, one for the
// true owner.
func (g *Registry) Register(ctx context.Context, studentID string, fp Fingerprint) (RegisterResult, error) {
	if studentID == "" || strings.TrimSpace(fp.UserAgent) == "" {
		return RegisterResult{}, apperr.New(apperr.CodeInvalidInput, "student id and user agent are required")
	}
	deviceID := ComputeID(fp)
	now := g.now().UTC()

	existing, err := g.devices.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return RegisterResult{}, err
	}

	if existing != nil && existing.StudentID != studentID {
		g.raise(ctx, Alert{
			StudentID: studentID,
			Type:      AlertAccountSharing,
			Severity:  SeverityCritical,
			Message:   "Attempted to register a device that is permanently locked to another student.",
			DeviceID:  deviceID,
			Metadata: AlertMetadata{
				ViolatingStudent: studentID,
				DeviceOwner:      existing.StudentID,
				DeviceName:       existing.DeviceName,
			},
		})
		g.raise(ctx, Alert{
			StudentID: existing.StudentID,
			Type:      AlertUnauthorizedAccess,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("Another student attempted to access your device: %s.", existing.DeviceName),
			DeviceID:  deviceID,
			Metadata: AlertMetadata{
				ViolatingStudent: studentID,
				DeviceOwner:      existing.StudentID,
			},
		})
		if err := g.devices.IncrementSuspicious(ctx, deviceID, now); err != nil {
			return RegisterResult{}, err
		}
		return RegisterResult{}, apperr.New(apperr.CodeOwnershipViolation,
			"device is permanently registered to another student (%s, since %s)",
			existing.DeviceName, existing.FirstSeen.Format(time.RFC3339))
	}

	if existing != nil {
		if err := g.devices.UpdateLastSeen(ctx, deviceID, now, true); err != nil {
			return RegisterResult{}, err
		}
		return RegisterResult{DeviceID: deviceID, DeviceName: existing.DeviceName, IsNew: false, IsTrusted: existing.IsTrusted}, nil
	}

	owned, err := g.devices.ListByStudent(ctx, studentID)
	if err != nil {
		return RegisterResult{}, err
	}
	// First-ever device is auto-trusted; later ones need explicit trust.
	isTrusted := len(owned) == 0
	name := DeviceName(fp)
	d := Device{
		DeviceID:    deviceID,
		StudentID:   studentID,
		DeviceName:  name,
		Fingerprint: fp,
		IsTrusted:   isTrusted,
		IsActive:    true,
		FirstSeen:   now,
		LastSeen:    now,
	}
	if err := g.devices.Insert(ctx, d); err != nil {
		return RegisterResult{}, err
	}
	if !isTrusted {
		g.raise(ctx, Alert{
			StudentID: studentID,
			Type:      AlertNewDevice,
			Severity:  SeverityMedium,
			Message:   fmt.Sprintf("New device detected: %s. If this wasn't you, contact your teacher immediately.", name),
			DeviceID:  deviceID,
			Metadata: AlertMetadata{
				NewDevice:  name,
				OldDevice:  owned[0].DeviceName,
				DeviceName: name,
			},
		})
	}
	return RegisterResult{DeviceID: deviceID, DeviceName: name, IsNew: true, IsTrusted: isTrusted}, nil
}

// CheckOwnership verifies that deviceID belongs to studentID. It guards
// security-sensitive operations independently of registration so a
// forged or stale device id cannot slip through.
func (g *Registry) CheckOwnership(ctx context.Context, studentID, deviceID string) error {
	d, err := g.devices.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return apperr.New(apperr.CodeDeviceNotFound, "device not registered, refresh and try again")
	}
	if d.StudentID != studentID {
		g.raise(ctx, Alert{
			StudentID: studentID,
			Type:      AlertUnauthorizedAccess,
			Severity:  SeverityCritical,
			Message:   "Attempted unauthorized access from a device owned by another student.",
			DeviceID:  deviceID,
			Metadata: AlertMetadata{
				ViolatingStudent: studentID,
				DeviceOwner:      d.StudentID,
				DeviceName:       d.DeviceName,
			},
		})
		return apperr.New(apperr.CodeUnauthorized, "device is registered to another student")
	}
	now := g.now().UTC()
	if err := g.devices.UpdateLastSeen(ctx, deviceID, now, true); err != nil {
		return err
	}
	return g.devices.MarkAttendanceUse(ctx, deviceID, now)
}

// SimultaneousResult reports the outcome of a concurrent-usage scan.
type SimultaneousResult struct {
	Violation        bool `json:"violation"`
	DeactivatedCount int  `json:"deactivated_count"`
}

// DetectSimultaneousUsage scans for other active devices seen within
// the trailing window and deactivates them. Heuristic only: concurrent
// tabs share a device id and never trigger it.
func (g *Registry) DetectSimultaneousUsage(ctx context.Context, studentID, currentDeviceID string) (SimultaneousResult, error) {
	owned, err := g.devices.ListByStudent(ctx, studentID)
	if err != nil {
		return SimultaneousResult{}, err
	}
	cutoff := g.now().Add(-g.window)
	var recent []Device
	for _, d := range owned {
		if d.DeviceID != currentDeviceID && d.IsActive && d.LastSeen.After(cutoff) {
			recent = append(recent, d)
		}
	}
	if len(recent) == 0 {
		return SimultaneousResult{}, nil
	}

	g.raise(ctx, Alert{
		StudentID: studentID,
		Type:      AlertMultipleDevices,
		Severity:  SeverityCritical,
		Message:   "Multiple devices detected simultaneously; other devices have been deactivated.",
		DeviceID:  currentDeviceID,
		Metadata: AlertMetadata{
			ViolatingStudent: studentID,
			DeviceName:       recent[0].DeviceName,
		},
	})
	for _, d := range recent {
		if err := g.devices.IncrementSuspicious(ctx, d.DeviceID, d.LastSeen); err != nil {
			return SimultaneousResult{}, err
		}
		if err := g.devices.Deactivate(ctx, d.DeviceID, false); err != nil {
			return SimultaneousResult{}, err
		}
	}
	return SimultaneousResult{Violation: true, DeactivatedCount: len(recent)}, nil
}

// TrustDevice sets the trust flag on a device the student already owns.
// It cannot claim a device owned by someone else.
func (g *Registry) TrustDevice(ctx context.Context, studentID, deviceID string) error {
	d, err := g.devices.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}
	if d == nil || d.StudentID != studentID {
		return apperr.New(apperr.CodeUnauthorized, "device not found or access denied")
	}
	return g.devices.SetTrusted(ctx, deviceID, true)
}

// ForceLogoutAllDevices deactivates every device a student owns.
// Records are kept: ownership history survives the emergency.
func (g *Registry) ForceLogoutAllDevices(ctx context.Context, studentID string) (int, error) {
	owned, err := g.devices.ListByStudent(ctx, studentID)
	if err != nil {
		return 0, err
	}
	for _, d := range owned {
		if err := g.devices.Deactivate(ctx, d.DeviceID, true); err != nil {
			return 0, err
		}
	}
	g.raise(ctx, Alert{
		StudentID: studentID,
		Type:      AlertAccountSharing,
		Severity:  SeverityCritical,
		Message:   "Emergency logout: all devices deactivated due to suspected account sharing. Contact your teacher to reactivate.",
	})
	return len(owned), nil
}

// RequestUnlock files a teacher-approval request for a locked device.
func (g *Registry) RequestUnlock(ctx context.Context, studentID, deviceID, reason string) error {
	d, err := g.devices.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return apperr.New(apperr.CodeDeviceNotFound, "device not found")
	}
	g.raise(ctx, Alert{
		StudentID: studentID,
		Type:      AlertOwnershipViolation,
		Severity:  SeverityMedium,
		Message:   fmt.Sprintf("Device unlock requested: %s. Requires teacher approval.", reason),
		DeviceID:  deviceID,
		Metadata: AlertMetadata{
			ViolatingStudent: studentID,
			DeviceOwner:      d.StudentID,
			DeviceName:       d.DeviceName,
		},
	})
	return nil
}

// DevicesForStudent lists a student's registered devices.
func (g *Registry) DevicesForStudent(ctx context.Context, studentID string) ([]Device, error) {
	return g.devices.ListByStudent(ctx, studentID)
}

// Alerts lists a student's security alerts.
func (g *Registry) Alerts(ctx context.Context, studentID string) ([]Alert, error) {
	return g.alerts.ListByStudent(ctx, studentID)
}

// MarkAlertRead acknowledges an alert; only the targeted student may.
func (g *Registry) MarkAlertRead(ctx context.Context, studentID, alertID string) error {
	a, err := g.alerts.Get(ctx, alertID)
	if err != nil {
		return err
	}
	if a == nil {
		return apperr.New(apperr.CodeNotFound, "alert not found")
	}
	if a.StudentID != studentID {
		return apperr.New(apperr.CodeUnauthorized, "alert belongs to another student")
	}
	return g.alerts.MarkRead(ctx, alertID)
}

// ResolveAlert closes out an alert after teacher review.
func (g *Registry) ResolveAlert(ctx context.Context, alertID string) error {
	a, err := g.alerts.Get(ctx, alertID)
	if err != nil {
		return err
	}
	if a == nil {
		return apperr.New(apperr.CodeNotFound, "alert not found")
	}
	return g.alerts.Resolve(ctx, alertID)
}

// raise persists an alert and fans it out. A failed alert write must
// not mask the security verdict returned to the caller.
func (g *Registry) raise(ctx context.Context, a Alert) {
	a.ID = uuid.NewString()
	a.CreatedAt = g.now().UTC()
	_ = g.alerts.Insert(ctx, a)
	metrics.AlertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	if g.sink != nil {
		g.sink(a)
	}
}
