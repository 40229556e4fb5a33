package attendance

import (
	"context"
	"errors"
	"time"

	"geoattend/internal/geo"
)

// Status values for an attendance record.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
)

// ErrDuplicate is returned by Insert when a record already exists for
// the (session, student) pair. The storage layer owns the mark-once
// invariant; callers translate this into ALREADY_MARKED.
var ErrDuplicate = errors.New("attendance already recorded")

// Record is one student's outcome for one session. Records are never
// deleted; a teacher override may flip the status after creation.
type Record struct {
	ID             string           `json:"id"`
	SessionID      string           `json:"session_id"`
	StudentID      string           `json:"student_id"`
	Status         string           `json:"status"`
	MarkedAt       time.Time        `json:"marked_at"`
	Coords         *geo.Coordinates `json:"coords,omitempty"`
	DistanceMeters *float64         `json:"distance_meters,omitempty"`
	IsManuallySet  bool             `json:"is_manually_set"`
	OverriddenBy   string           `json:"overridden_by,omitempty"`
	Note           string           `json:"note,omitempty"`
	LastModified   time.Time        `json:"last_modified"`
}

// Repository persists attendance records. Insert must enforce
// uniqueness on (session_id, student_id) atomically and return
// ErrDuplicate on conflict.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, sessionID, studentID string) (*Record, error)
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
	// Override creates or replaces the record's status fields, keeping
	// the original id and markedAt when the record already exists.
	Override(ctx context.Context, rec Record) (id string, created bool, err error)
}
