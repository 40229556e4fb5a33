package attendance

import (
	"context"
	"sync"
)

// InMemRepository keeps records in a map for dev mode and tests. The
// mutex serializes commits, closing the check-then-insert race the
// Postgres implementation closes with a unique constraint.
type InMemRepository struct {
	mu      sync.Mutex
	records map[string]Record // key: sessionID + "/" + studentID
}

// NewInMemRepository creates an empty in-memory attendance repository.
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{records: make(map[string]Record)}
}

func key(sessionID, studentID string) string {
	return sessionID + "/" + studentID
}

func (r *InMemRepository) Insert(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(rec.SessionID, rec.StudentID)
	if _, exists := r.records[k]; exists {
		return ErrDuplicate
	}
	r.records[k] = rec
	return nil
}

func (r *InMemRepository) Get(ctx context.Context, sessionID, studentID string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key(sessionID, studentID)]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (r *InMemRepository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *InMemRepository) Override(ctx context.Context, rec Record) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(rec.SessionID, rec.StudentID)
	if existing, ok := r.records[k]; ok {
		existing.Status = rec.Status
		existing.IsManuallySet = rec.IsManuallySet
		existing.OverriddenBy = rec.OverriddenBy
		existing.Note = rec.Note
		existing.LastModified = rec.LastModified
		r.records[k] = existing
		return existing.ID, false, nil
	}
	r.records[k] = rec
	return rec.ID, true, nil
}
