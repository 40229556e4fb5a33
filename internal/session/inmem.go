package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// InMemRepository keeps sessions in a map, for dev mode and tests.
type InMemRepository struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewInMemRepository creates an empty in-memory session repository.
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{sessions: make(map[string]Session)}
}

func (r *InMemRepository) Insert(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return errors.New("session already exists")
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *InMemRepository) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

func (r *InMemRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.CurrentToken != "" && s.CurrentToken == token {
			return copySession(s), nil
		}
	}
	return nil, nil
}

func (r *InMemRepository) Close(ctx context.Context, id string, closedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	s.IsOpen = false
	s.ClosedAt = &closedAt
	r.sessions[id] = s
	return nil
}

func (r *InMemRepository) ListOpenByDeptYear(ctx context.Context, department string, year int) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, s := range r.sessions {
		if s.IsOpen && s.Department == department && s.Year == year {
			out = append(out, *copySession(s))
		}
	}
	return out, nil
}

func (r *InMemRepository) ListByTeacher(ctx context.Context, teacherID string) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, s := range r.sessions {
		if s.TeacherID == teacherID {
			out = append(out, *copySession(s))
		}
	}
	return out, nil
}

func (r *InMemRepository) ListOpen(ctx context.Context) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, s := range r.sessions {
		if s.IsOpen {
			out = append(out, *copySession(s))
		}
	}
	return out, nil
}

func (r *InMemRepository) SetToken(ctx context.Context, id, token string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	s.CurrentToken = token
	s.TokenExpiry = &expiry
	s.TokenRedeemedBy = nil
	r.sessions[id] = s
	return nil
}

func (r *InMemRepository) AppendRedemption(ctx context.Context, id, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	s.TokenRedeemedBy = append(s.TokenRedeemedBy, studentID)
	r.sessions[id] = s
	return nil
}

func copySession(s Session) *Session {
	out := s
	if s.Anchor != nil {
		anchor := *s.Anchor
		out.Anchor = &anchor
	}
	if s.ClosedAt != nil {
		closedAt := *s.ClosedAt
		out.ClosedAt = &closedAt
	}
	if s.TokenExpiry != nil {
		expiry := *s.TokenExpiry
		out.TokenExpiry = &expiry
	}
	out.TokenRedeemedBy = append([]string(nil), s.TokenRedeemedBy...)
	return &out
}
