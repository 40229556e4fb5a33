package roster

import (
	"context"
	"errors"
	"sync"
	"time"
)

// InMemRepository keeps the roster in maps, for dev mode and tests.
type InMemRepository struct {
	mu       sync.Mutex
	students map[string]Student
	teachers map[string]Teacher
	refresh  map[string]time.Time
}

// NewInMemRepository creates an empty in-memory roster.
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		students: make(map[string]Student),
		teachers: make(map[string]Teacher),
		refresh:  make(map[string]time.Time),
	}
}

func (r *InMemRepository) InsertStudent(ctx context.Context, s Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.students[s.ID]; exists {
		return errors.New("student already exists")
	}
	r.students[s.ID] = s
	return nil
}

func (r *InMemRepository) GetStudent(ctx context.Context, id string) (*Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[id]
	if !ok {
		return nil, nil
	}
	out := s
	return &out, nil
}

func (r *InMemRepository) GetStudentByEmail(ctx context.Context, email string) (*Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.students {
		if s.Email == email {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (r *InMemRepository) ListStudentsByCohort(ctx context.Context, department string, year int) ([]Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Student
	for _, s := range r.students {
		if s.Department == department && s.Year == year {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *InMemRepository) InsertTeacher(ctx context.Context, t Teacher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.teachers[t.ID]; exists {
		return errors.New("teacher already exists")
	}
	r.teachers[t.ID] = t
	return nil
}

func (r *InMemRepository) GetTeacher(ctx context.Context, id string) (*Teacher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teachers[id]
	if !ok {
		return nil, nil
	}
	out := t
	return &out, nil
}

func (r *InMemRepository) GetTeacherByEmail(ctx context.Context, email string) (*Teacher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.teachers {
		if t.Email == email {
			out := t
			return &out, nil
		}
	}
	return nil, nil
}

func (r *InMemRepository) SaveRefreshToken(ctx context.Context, subjectID, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refresh[token] = expiresAt
	return nil
}

func (r *InMemRepository) RevokeRefreshToken(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.refresh, token)
	return nil
}
