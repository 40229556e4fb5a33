package session

import (
	"context"
	"time"

	"geoattend/internal/geo"
)

// Session is one instructor-initiated attendance window.
type Session struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Department    string           `json:"department"`
	Year          int              `json:"year"`
	TeacherID     string           `json:"teacher_id"`
	IsOpen        bool             `json:"is_open"`
	CreatedAt     time.Time        `json:"created_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
	Anchor        *geo.Coordinates `json:"anchor,omitempty"`
	AllowedRadius float64          `json:"allowed_radius"`

	// Single active QR token. Issuing a new one overwrites the previous
	// and clears TokenRedeemedBy.
	CurrentToken    string     `json:"-"`
	TokenExpiry     *time.Time `json:"-"`
	TokenRedeemedBy []string   `json:"-"`
}

// HasRedeemed reports whether the student already consumed the current token.
func (s *Session) HasRedeemed(studentID string) bool {
	for _, id := range s.TokenRedeemedBy {
		if id == studentID {
			return true
		}
	}
	return false
}

// Repository persists sessions. Implementations must return (nil, nil)
// for lookups that find nothing.
type Repository interface {
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (*Session, error)
	GetByToken(ctx context.Context, token string) (*Session, error)
	Close(ctx context.Context, id string, closedAt time.Time) error
	ListOpenByDeptYear(ctx context.Context, department string, year int) ([]Session, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]Session, error)
	ListOpen(ctx context.Context) ([]Session, error)
	// SetToken overwrites the current token, sets its expiry and resets
	// the redeemed-by set to empty.
	SetToken(ctx context.Context, id, token string, expiry time.Time) error
	AppendRedemption(ctx context.Context, id, studentID string) error
}
