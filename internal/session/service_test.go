package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/apperr"
	"geoattend/internal/geo"
)

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(timeout time.Duration) (*Service, *fixedClock) {
	svc := NewService(NewInMemRepository(), timeout, 5*time.Minute, 100)
	clock := &fixedClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	svc.now = clock.now
	return svc, clock
}

func TestCreateDefaultsRadius(t *testing.T) {
	svc, _ := newTestService(0)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "Math Lecture", "COMP", 2, "teacher-1", &geo.Coordinates{Latitude: 19.1, Longitude: 72.8}, 0)
	require.NoError(t, err)
	assert.True(t, sess.IsOpen)
	assert.Equal(t, 100.0, sess.AllowedRadius)
	assert.NotEmpty(t, sess.ID)
	assert.Nil(t, sess.ClosedAt)
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(0)
	ctx := context.Background()

	_, err := svc.Create(ctx, "", "COMP", 2, "teacher-1", nil, 0)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = svc.Create(ctx, "Lab", "COMP", 2, "teacher-1", &geo.Coordinates{Latitude: 95, Longitude: 0}, 0)
	assert.Equal(t, apperr.CodeInvalidCoordinates, apperr.CodeOf(err))
}

func TestCloseIsTerminalAndOwnerOnly(t *testing.T) {
	svc, _ := newTestService(0)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "Lecture", "COMP", 2, "teacher-1", nil, 0)
	require.NoError(t, err)

	err = svc.Close(ctx, sess.ID, "teacher-2")
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	require.NoError(t, svc.Close(ctx, sess.ID, "teacher-1"))

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOpen)
	require.NotNil(t, got.ClosedAt)

	err = svc.Close(ctx, sess.ID, "teacher-1")
	assert.Equal(t, apperr.CodeSessionClosed, apperr.CodeOf(err))

	_, err = svc.GetOpen(ctx, sess.ID)
	assert.Equal(t, apperr.CodeSessionClosed, apperr.CodeOf(err))
}

func TestCloseUnknownSession(t *testing.T) {
	svc, _ := newTestService(0)
	err := svc.Close(context.Background(), "missing", "teacher-1")
	assert.Equal(t, apperr.CodeSessionNotFound, apperr.CodeOf(err))
}

func TestIssueTokenResetsRedemptions(t *testing.T) {
	svc, _ := newTestService(0)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "Lecture", "COMP", 2, "teacher-1", nil, 0)
	require.NoError(t, err)

	first, err := svc.IssueToken(ctx, sess.ID, "teacher-1")
	require.NoError(t, err)
	require.NoError(t, svc.MarkRedeemed(ctx, sess.ID, "student-1"))

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.HasRedeemed("student-1"))

	second, err := svc.IssueToken(ctx, sess.ID, "teacher-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	got, err = svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TokenRedeemedBy)
}

func TestIssueTokenGuards(t *testing.T) {
	svc, _ := newTestService(0)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "Lecture", "COMP", 2, "teacher-1", nil, 0)
	require.NoError(t, err)

	_, err = svc.IssueToken(ctx, sess.ID, "teacher-2")
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	require.NoError(t, svc.Close(ctx, sess.ID, "teacher-1"))
	_, err = svc.IssueToken(ctx, sess.ID, "teacher-1")
	assert.Equal(t, apperr.CodeSessionClosed, apperr.CodeOf(err))
}

func TestValidateTokenIsNonConsuming(t *testing.T) {
	svc, _ := newTestService(0)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "Lecture", "COMP", 2, "teacher-1", nil, 0)
	require.NoError(t, err)
	tok, err := svc.IssueToken(ctx, sess.ID, "teacher-1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		v, err := svc.ValidateToken(ctx, tok.Token)
		require.NoError(t, err)
		assert.True(t, v.Valid)
		require.NotNil(t, v.Session)
		assert.Equal(t, sess.ID, v.Session.SessionID)
		assert.Equal(t, 100.0, v.Session.AllowedRadius)
	}
}

func TestValidateTokenVerdicts(t *testing.T) {
	svc, clock := newTestService(0)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "Lecture", "COMP", 2, "teacher-1", nil, 0)
	require.NoError(t, err)

	v, err := svc.ValidateToken(ctx, "AT_nope")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, apperr.CodeInvalidToken, v.Reason)

	tok, err := svc.IssueToken(ctx, sess.ID, "teacher-1")
	require.NoError(t, err)

	clock.advance(5*time.Minute + time.Second)
	v, err = svc.ValidateToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, apperr.CodeTokenExpired, v.Reason)

	tok, err = svc.IssueToken(ctx, sess.ID, "teacher-1")
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, sess.ID, "teacher-1"))
	v, err = svc.ValidateToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, apperr.CodeSessionClosed, v.Reason)
}

func TestSupersededTokenIsInvalid(t *testing.T) {
	svc, _ := newTestService(0)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "Lecture", "COMP", 2, "teacher-1", nil, 0)
	require.NoError(t, err)

	t1, err := svc.IssueToken(ctx, sess.ID, "teacher-1")
	require.NoError(t, err)
	t2, err := svc.IssueToken(ctx, sess.ID, "teacher-1")
	require.NoError(t, err)

	_, err = svc.ResolveToken(ctx, t1.Token)
	assert.Equal(t, apperr.CodeInvalidToken, apperr.CodeOf(err))

	_, err = svc.ResolveToken(ctx, t2.Token)
	assert.NoError(t, err)
}

func TestExpirySweepAndReadTimeFilter(t *testing.T) {
	svc, clock := newTestService(2 * time.Minute)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "Lecture", "COMP", 2, "teacher-1", nil, 0)
	require.NoError(t, err)

	open, err := svc.ListOpenForStudent(ctx, "COMP", 2)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	clock.advance(2*time.Minute + time.Second)

	// Aged out but not yet swept: must not be listed or accept check-ins.
	open, err = svc.ListOpenForStudent(ctx, "COMP", 2)
	require.NoError(t, err)
	assert.Empty(t, open)
	_, err = svc.GetOpen(ctx, sess.ID)
	assert.Equal(t, apperr.CodeSessionClosed, apperr.CodeOf(err))

	closed, err := svc.CloseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, closed)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOpen)
}

func TestNoAutoExpiryWhenTimeoutUnset(t *testing.T) {
	svc, clock := newTestService(0)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "Lecture", "COMP", 2, "teacher-1", nil, 0)
	require.NoError(t, err)

	clock.advance(24 * time.Hour)

	closed, err := svc.CloseExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, closed)

	_, err = svc.GetOpen(ctx, sess.ID)
	assert.NoError(t, err)
}

func TestTokenFormat(t *testing.T) {
	tok, err := NewToken(time.Now())
	require.NoError(t, err)
	assert.Regexp(t, `^AT_[0-9a-z]+_[a-z0-9]{13}_[a-z0-9]{13}$`, tok)

	other, err := NewToken(time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}
