package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/apperr"
)

var chromeWindows = Fingerprint{
	UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/122.0 Safari/537.36",
	ScreenResolution: "1920x1080",
	Timezone:         "Asia/Kolkata",
	Language:         "en-IN",
	Platform:         "Win32",
}

var safariIphone = Fingerprint{
	UserAgent:        "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Safari/604.1",
	ScreenResolution: "390x844",
	Timezone:         "Asia/Kolkata",
	Language:         "en-IN",
	Platform:         "iPhone",
}

func newTestRegistry() (*Registry, *InMemAlertRepository, *fakeClock) {
	alerts := NewInMemAlertRepository()
	reg := NewRegistry(NewInMemRepository(), alerts, 5*time.Minute)
	clock := &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	reg.now = clock.now
	return reg, alerts, clock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestComputeIDDeterministic(t *testing.T) {
	a := ComputeID(chromeWindows)
	b := ComputeID(chromeWindows)
	assert.Equal(t, a, b)
	assert.Regexp(t, `^device_[0-9a-f]{32}$`, a)

	// Order-sensitive over distinct components.
	swapped := chromeWindows
	swapped.Timezone, swapped.Language = chromeWindows.Language, chromeWindows.Timezone
	assert.NotEqual(t, a, ComputeID(swapped))
	assert.NotEqual(t, a, ComputeID(safariIphone))
}

func TestDeviceNameDerivation(t *testing.T) {
	assert.Equal(t, "Chrome on Windows PC", DeviceName(chromeWindows))
	assert.Equal(t, "Safari on iPhone", DeviceName(safariIphone))
}

func TestRegisterFirstDeviceAutoTrusted(t *testing.T) {
	reg, alerts, _ := newTestRegistry()
	ctx := context.Background()

	res, err := reg.Register(ctx, "student-a", chromeWindows)
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.True(t, res.IsTrusted)
	assert.Equal(t, ComputeID(chromeWindows), res.DeviceID)

	got, err := alerts.ListByStudent(ctx, "student-a")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegisterSecondDeviceUntrustedWithAlert(t *testing.T) {
	reg, alerts, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Register(ctx, "student-a", chromeWindows)
	require.NoError(t, err)

	res, err := reg.Register(ctx, "student-a", safariIphone)
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.False(t, res.IsTrusted)

	got, err := alerts.ListByStudent(ctx, "student-a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, AlertNewDevice, got[0].Type)
	assert.Equal(t, SeverityMedium, got[0].Severity)
}

func TestRegisterSameDeviceAgainUpdatesLastSeen(t *testing.T) {
	reg, _, clock := newTestRegistry()
	ctx := context.Background()

	first, err := reg.Register(ctx, "student-a", chromeWindows)
	require.NoError(t, err)

	clock.advance(time.Hour)
	again, err := reg.Register(ctx, "student-a", chromeWindows)
	require.NoError(t, err)
	assert.False(t, again.IsNew)
	assert.True(t, again.IsTrusted)
	assert.Equal(t, first.DeviceID, again.DeviceID)

	devices, err := reg.DevicesForStudent(ctx, "student-a")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, clock.t.UTC(), devices[0].LastSeen)
}

func TestRegisterOwnershipViolation(t *testing.T) {
	reg, alerts, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Register(ctx, "student-a", chromeWindows)
	require.NoError(t, err)

	// Student B presents the same hardware: hard rejection, never a
	// reassignment, and exactly one alert per party.
	_, err = reg.Register(ctx, "student-b", chromeWindows)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeOwnershipViolation, apperr.CodeOf(err))

	forB, err := alerts.ListByStudent(ctx, "student-b")
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, AlertAccountSharing, forB[0].Type)
	assert.Equal(t, SeverityCritical, forB[0].Severity)
	assert.Equal(t, "student-a", forB[0].Metadata.DeviceOwner)

	forA, err := alerts.ListByStudent(ctx, "student-a")
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.Equal(t, AlertUnauthorizedAccess, forA[0].Type)
	assert.Equal(t, "student-b", forA[0].Metadata.ViolatingStudent)

	devices, err := reg.DevicesForStudent(ctx, "student-a")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "student-a", devices[0].StudentID)
	assert.Equal(t, 1, devices[0].SuspiciousActivityCount)

	// The violator gained no device record.
	stolen, err := reg.DevicesForStudent(ctx, "student-b")
	require.NoError(t, err)
	assert.Empty(t, stolen)
}

func TestCheckOwnership(t *testing.T) {
	reg, alerts, _ := newTestRegistry()
	ctx := context.Background()

	res, err := reg.Register(ctx, "student-a", chromeWindows)
	require.NoError(t, err)

	require.NoError(t, reg.CheckOwnership(ctx, "student-a", res.DeviceID))

	err = reg.CheckOwnership(ctx, "student-b", res.DeviceID)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
	forB, _ := alerts.ListByStudent(ctx, "student-b")
	require.Len(t, forB, 1)
	assert.Equal(t, AlertUnauthorizedAccess, forB[0].Type)

	err = reg.CheckOwnership(ctx, "student-a", "device_feedfacefeedfacefeedfacefeedface")
	assert.Equal(t, apperr.CodeDeviceNotFound, apperr.CodeOf(err))
}

func TestDetectSimultaneousUsage(t *testing.T) {
	reg, alerts, clock := newTestRegistry()
	ctx := context.Background()

	a, err := reg.Register(ctx, "student-a", chromeWindows)
	require.NoError(t, err)
	clock.advance(time.Minute)
	b, err := reg.Register(ctx, "student-a", safariIphone)
	require.NoError(t, err)

	res, err := reg.DetectSimultaneousUsage(ctx, "student-a", b.DeviceID)
	require.NoError(t, err)
	assert.True(t, res.Violation)
	assert.Equal(t, 1, res.DeactivatedCount)

	got, _ := alerts.ListByStudent(ctx, "student-a")
	var critical []Alert
	for _, al := range got {
		if al.Type == AlertMultipleDevices {
			critical = append(critical, al)
		}
	}
	require.Len(t, critical, 1)
	assert.Equal(t, SeverityCritical, critical[0].Severity)

	devices, err := reg.DevicesForStudent(ctx, "student-a")
	require.NoError(t, err)
	for _, d := range devices {
		if d.DeviceID == a.DeviceID {
			assert.False(t, d.IsActive)
			assert.Equal(t, 1, d.SuspiciousActivityCount)
		}
	}

	// Outside the window nothing triggers.
	clock.advance(10 * time.Minute)
	res, err = reg.DetectSimultaneousUsage(ctx, "student-a", b.DeviceID)
	require.NoError(t, err)
	assert.False(t, res.Violation)
}

func TestTrustDeviceOwnerOnly(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Register(ctx, "student-a", chromeWindows)
	require.NoError(t, err)
	res, err := reg.Register(ctx, "student-a", safariIphone)
	require.NoError(t, err)
	require.False(t, res.IsTrusted)

	err = reg.TrustDevice(ctx, "student-b", res.DeviceID)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	require.NoError(t, reg.TrustDevice(ctx, "student-a", res.DeviceID))
	devices, err := reg.DevicesForStudent(ctx, "student-a")
	require.NoError(t, err)
	for _, d := range devices {
		assert.True(t, d.IsTrusted)
	}
}

func TestForceLogoutAllDevices(t *testing.T) {
	reg, alerts, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Register(ctx, "student-a", chromeWindows)
	require.NoError(t, err)
	_, err = reg.Register(ctx, "student-a", safariIphone)
	require.NoError(t, err)

	n, err := reg.ForceLogoutAllDevices(ctx, "student-a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	devices, err := reg.DevicesForStudent(ctx, "student-a")
	require.NoError(t, err)
	require.Len(t, devices, 2) // records preserved
	for _, d := range devices {
		assert.False(t, d.IsActive)
		assert.False(t, d.IsTrusted)
		assert.Equal(t, "student-a", d.StudentID)
	}

	got, _ := alerts.ListByStudent(ctx, "student-a")
	var found bool
	for _, a := range got {
		if a.Type == AlertAccountSharing && a.Severity == SeverityCritical {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAlertReadAndResolveFlags(t *testing.T) {
	reg, alerts, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Register(ctx, "student-a", chromeWindows)
	require.NoError(t, err)
	_, err = reg.Register(ctx, "student-a", safariIphone)
	require.NoError(t, err)

	list, err := reg.Alerts(ctx, "student-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	alertID := list[0].ID

	err = reg.MarkAlertRead(ctx, "student-b", alertID)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	require.NoError(t, reg.MarkAlertRead(ctx, "student-a", alertID))
	require.NoError(t, reg.ResolveAlert(ctx, alertID))

	stored, err := alerts.Get(ctx, alertID)
	require.NoError(t, err)
	assert.True(t, stored.IsRead)
	assert.True(t, stored.IsResolved)
	// Content is immutable; only the flags changed.
	assert.Equal(t, list[0].Message, stored.Message)
	assert.Equal(t, list[0].Type, stored.Type)
}

func TestAlertSinkReceivesAlerts(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	var seen []Alert
	reg.SetAlertSink(func(a Alert) { seen = append(seen, a) })

	_, err := reg.Register(ctx, "student-a", chromeWindows)
	require.NoError(t, err)
	_, err = reg.Register(ctx, "student-b", chromeWindows)
	require.Error(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, AlertAccountSharing, seen[0].Type)
	assert.Equal(t, AlertUnauthorizedAccess, seen[1].Type)
}
