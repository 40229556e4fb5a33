package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
	"geoattend/internal/geo"
)

// Service governs session lifecycle and QR token issuance.
type Service struct {
	repo Repository
	// timeout closes sessions older than this; 0 means sessions stay
	// open until the teacher closes them.
	timeout       time.Duration
	tokenTTL      time.Duration
	defaultRadius float64
	now           func() time.Time
}

// NewService creates a session service.
func NewService(repo Repository, timeout, tokenTTL time.Duration, defaultRadius float64) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 5 * time.Minute
	}
	if defaultRadius <= 0 {
		defaultRadius = 100
	}
	return &Service{
		repo:          repo,
		timeout:       timeout,
		tokenTTL:      tokenTTL,
		defaultRadius: defaultRadius,
		now:           time.Now,
	}
}

// Token is an issued QR token with its expiry.
type Token struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
}

// Summary is the session info exposed to token validators.
type Summary struct {
	SessionID     string  `json:"session_id"`
	Title         string  `json:"title"`
	Department    string  `json:"department"`
	Year          int     `json:"year"`
	AllowedRadius float64 `json:"allowed_radius"`
}

// Validation is the non-consuming verdict on a presented token.
type Validation struct {
	Valid   bool        `json:"valid"`
	Reason  apperr.Code `json:"reason,omitempty"`
	Session *Summary    `json:"session,omitempty"`
}

// Create opens a new attendance session owned by teacherID.
func (s *Service) Create(ctx context.Context, title, department string, year int, teacherID string, anchor *geo.Coordinates, radius float64) (Session, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(department) == "" || teacherID == "" {
		return Session{}, apperr.New(apperr.CodeInvalidInput, "title, department and teacher are required")
	}
	if anchor != nil {
		if err := anchor.Validate(); err != nil {
			return Session{}, err
		}
	}
	if radius <= 0 {
		radius = s.defaultRadius
	}
	sess := Session{
		ID:            uuid.NewString(),
		Title:         title,
		Department:    department,
		Year:          year,
		TeacherID:     teacherID,
		IsOpen:        true,
		CreatedAt:     s.now().UTC(),
		Anchor:        anchor,
		AllowedRadius: radius,
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Get returns a session by id regardless of its state.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.New(apperr.CodeSessionNotFound, "session not found")
	}
	return sess, nil
}

// GetOpen returns a session only if it still accepts attendance. A
// session past the configured timeout is reported closed even before
// the sweep has reached it.
func (s *Service) GetOpen(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsOpen || s.expired(sess) {
		return nil, apperr.New(apperr.CodeSessionClosed, "session is closed")
	}
	return sess, nil
}

// Close terminates a session. Closed is a terminal state.
func (s *Service) Close(ctx context.Context, sessionID, teacherID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.TeacherID != teacherID {
		return apperr.New(apperr.CodeUnauthorized, "session belongs to another teacher")
	}
	if !sess.IsOpen {
		return apperr.New(apperr.CodeSessionClosed, "session already closed")
	}
	return s.repo.Close(ctx, sessionID, s.now().UTC())
}

// CloseExpired sweeps open sessions past the timeout and returns the
// ids it closed. No-op when auto expiry is disabled.
func (s *Service) CloseExpired(ctx context.Context) ([]string, error) {
	if s.timeout <= 0 {
		return nil, nil
	}
	open, err := s.repo.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	var closed []string
	for _, sess := range open {
		if !s.expired(&sess) {
			continue
		}
		if err := s.repo.Close(ctx, sess.ID, s.now().UTC()); err != nil {
			return closed, err
		}
		closed = append(closed, sess.ID)
	}
	return closed, nil
}

// ListOpenForStudent returns joinable sessions for a cohort, applying
// the same freshness filter as the expiry sweep.
func (s *Service) ListOpenForStudent(ctx context.Context, department string, year int) ([]Session, error) {
	sessions, err := s.repo.ListOpenByDeptYear(ctx, department, year)
	if err != nil {
		return nil, err
	}
	out := sessions[:0]
	for _, sess := range sessions {
		if !s.expired(&sess) {
			out = append(out, sess)
		}
	}
	return out, nil
}

// ListForTeacher returns every session the teacher has created.
func (s *Service) ListForTeacher(ctx context.Context, teacherID string) ([]Session, error) {
	return s.repo.ListByTeacher(ctx, teacherID)
}

// IssueToken mints a fresh single-slot QR token for an open session.
// The previous token and its redemption history are discarded.
func (s *Service) IssueToken(ctx context.Context, sessionID, teacherID string) (Token, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return Token{}, err
	}
	if sess.TeacherID != teacherID {
		return Token{}, apperr.New(apperr.CodeUnauthorized, "session belongs to another teacher")
	}
	if !sess.IsOpen || s.expired(sess) {
		return Token{}, apperr.New(apperr.CodeSessionClosed, "session is closed")
	}
	token, err := NewToken(s.now())
	if err != nil {
		return Token{}, err
	}
	expiry := s.now().UTC().Add(s.tokenTTL)
	if err := s.repo.SetToken(ctx, sessionID, token, expiry); err != nil {
		return Token{}, err
	}
	return Token{Token: token, Expiry: expiry}, nil
}

// ValidateToken returns a verdict without consuming the token, so a
// page refresh re-validating the same token sees the same answer.
func (s *Service) ValidateToken(ctx context.Context, token string) (Validation, error) {
	sess, err := s.ResolveToken(ctx, token)
	if err != nil {
		code := apperr.CodeOf(err)
		switch code {
		case apperr.CodeInvalidToken, apperr.CodeSessionClosed, apperr.CodeTokenExpired:
			return Validation{Valid: false, Reason: code}, nil
		}
		return Validation{}, err
	}
	return Validation{
		Valid: true,
		Session: &Summary{
			SessionID:     sess.ID,
			Title:         sess.Title,
			Department:    sess.Department,
			Year:          sess.Year,
			AllowedRadius: sess.AllowedRadius,
		},
	}, nil
}

// ResolveToken maps a token to its open session or fails with a coded
// error: INVALID_TOKEN, SESSION_CLOSED or TOKEN_EXPIRED.
func (s *Service) ResolveToken(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperr.New(apperr.CodeInvalidToken, "invalid QR code")
	}
	sess, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.New(apperr.CodeInvalidToken, "invalid QR code")
	}
	if !sess.IsOpen || s.expired(sess) {
		return nil, apperr.New(apperr.CodeSessionClosed, "session is closed")
	}
	if sess.TokenExpiry == nil || s.now().After(*sess.TokenExpiry) {
		return nil, apperr.New(apperr.CodeTokenExpired, "QR code has expired")
	}
	return sess, nil
}

// MarkRedeemed records that a student consumed the current token.
func (s *Service) MarkRedeemed(ctx context.Context, sessionID, studentID string) error {
	return s.repo.AppendRedemption(ctx, sessionID, studentID)
}

func (s *Service) expired(sess *Session) bool {
	return s.timeout > 0 && s.now().Sub(sess.CreatedAt) > s.timeout
}
