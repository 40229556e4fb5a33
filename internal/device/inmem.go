package device

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// InMemRepository keeps device records in a map, for dev mode and tests.
type InMemRepository struct {
	mu      sync.Mutex
	devices map[string]Device
}

// NewInMemRepository creates an empty in-memory device repository.
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{devices: make(map[string]Device)}
}

func (r *InMemRepository) Insert(ctx context.Context, d Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[d.DeviceID]; exists {
		return errors.New("device already exists")
	}
	r.devices[d.DeviceID] = d
	return nil
}

func (r *InMemRepository) GetByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, nil
	}
	out := d
	return &out, nil
}

func (r *InMemRepository) ListByStudent(ctx context.Context, studentID string) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Device
	for _, d := range r.devices {
		if d.StudentID == studentID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out, nil
}

func (r *InMemRepository) UpdateLastSeen(ctx context.Context, deviceID string, seen time.Time, active bool) error {
	return r.patch(deviceID, func(d *Device) {
		d.LastSeen = seen
		d.IsActive = active
	})
}

func (r *InMemRepository) MarkAttendanceUse(ctx context.Context, deviceID string, used time.Time) error {
	return r.patch(deviceID, func(d *Device) {
		u := used
		d.LastUsedForAttendance = &u
	})
}

func (r *InMemRepository) SetTrusted(ctx context.Context, deviceID string, trusted bool) error {
	return r.patch(deviceID, func(d *Device) { d.IsTrusted = trusted })
}

func (r *InMemRepository) Deactivate(ctx context.Context, deviceID string, revokeTrust bool) error {
	return r.patch(deviceID, func(d *Device) {
		d.IsActive = false
		if revokeTrust {
			d.IsTrusted = false
		}
	})
}

func (r *InMemRepository) IncrementSuspicious(ctx context.Context, deviceID string, seen time.Time) error {
	return r.patch(deviceID, func(d *Device) {
		d.SuspiciousActivityCount++
		d.LastSeen = seen
	})
}

func (r *InMemRepository) patch(deviceID string, apply func(*Device)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return errors.New("device not found")
	}
	apply(&d)
	r.devices[deviceID] = d
	return nil
}

// InMemAlertRepository keeps alerts in memory.
type InMemAlertRepository struct {
	mu     sync.Mutex
	alerts map[string]Alert
	order  []string
}

// NewInMemAlertRepository creates an empty in-memory alert repository.
func NewInMemAlertRepository() *InMemAlertRepository {
	return &InMemAlertRepository{alerts: make(map[string]Alert)}
}

func (r *InMemAlertRepository) Insert(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.alerts[a.ID]; exists {
		return errors.New("alert already exists")
	}
	r.alerts[a.ID] = a
	r.order = append(r.order, a.ID)
	return nil
}

func (r *InMemAlertRepository) Get(ctx context.Context, id string) (*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, nil
	}
	out := a
	return &out, nil
}

func (r *InMemAlertRepository) ListByStudent(ctx context.Context, studentID string) ([]Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Alert
	// Newest first, matching the Postgres ordering.
	for i := len(r.order) - 1; i >= 0; i-- {
		if a := r.alerts[r.order[i]]; a.StudentID == studentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *InMemAlertRepository) MarkRead(ctx context.Context, id string) error {
	return r.flag(id, func(a *Alert) { a.IsRead = true })
}

func (r *InMemAlertRepository) Resolve(ctx context.Context, id string) error {
	return r.flag(id, func(a *Alert) { a.IsResolved = true })
}

func (r *InMemAlertRepository) flag(id string, apply func(*Alert)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return errors.New("alert not found")
	}
	apply(&a)
	r.alerts[id] = a
	return nil
}
