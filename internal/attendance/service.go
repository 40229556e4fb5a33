package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
	"geoattend/internal/device"
	"geoattend/internal/geo"
	"geoattend/internal/metrics"
	"geoattend/internal/roster"
	"geoattend/internal/session"
)

// Service is the attendance recorder: it runs the check-in validation
// pipeline in strict order and commits the result. Every failure is a
// definitive verdict for the attempt; nothing here retries.
type Service struct {
	sessions *session.Service
	roster   *roster.Service
	devices  *device.Registry
	repo     Repository
	now      func() time.Time
}

// NewService creates an attendance recorder.
func NewService(sessions *session.Service, students *roster.Service, devices *device.Registry, repo Repository) *Service {
	return &Service{
		sessions: sessions,
		roster:   students,
		devices:  devices,
		repo:     repo,
		now:      time.Now,
	}
}

// CheckInResult reports a committed check-in.
type CheckInResult struct {
	RecordID       string   `json:"record_id"`
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
}

// CheckIn handles the direct path: session validity, device guard,
// eligibility, duplicate, geofence, commit.
func (s *Service) CheckIn(ctx context.Context, sessionID, studentID string, coords *geo.Coordinates, deviceID string) (CheckInResult, error) {
	sess, err := s.sessions.GetOpen(ctx, sessionID)
	if err != nil {
		return s.reject(err)
	}
	return s.record(ctx, sess, studentID, coords, deviceID, false)
}

// CheckInWithToken handles the QR path: token validity and per-student
// single-use precede the shared pipeline, and an anchor location is
// mandatory since QR's security model rests on proximity.
func (s *Service) CheckInWithToken(ctx context.Context, token, studentID string, coords *geo.Coordinates, deviceID string) (CheckInResult, error) {
	sess, err := s.sessions.ResolveToken(ctx, token)
	if err != nil {
		return s.reject(err)
	}
	if sess.HasRedeemed(studentID) {
		return s.reject(apperr.New(apperr.CodeAlreadyUsedToken, "this QR code was already used for your attendance"))
	}
	res, err := s.record(ctx, sess, studentID, coords, deviceID, true)
	if err != nil {
		return CheckInResult{}, err
	}
	// Consumption happens only after a successful commit so that
	// re-validation stays idempotent.
	if err := s.sessions.MarkRedeemed(ctx, sess.ID, studentID); err != nil {
		return CheckInResult{}, err
	}
	return res, nil
}

func (s *Service) record(ctx context.Context, sess *session.Session, studentID string, coords *geo.Coordinates, deviceID string, qr bool) (CheckInResult, error) {
	if deviceID != "" {
		if err := s.devices.CheckOwnership(ctx, studentID, deviceID); err != nil {
			return s.reject(err)
		}
		if _, err := s.devices.DetectSimultaneousUsage(ctx, studentID, deviceID); err != nil {
			return CheckInResult{}, err
		}
	}

	student, err := s.roster.Student(ctx, studentID)
	if err != nil {
		return s.reject(err)
	}
	if student.Department != sess.Department || student.Year != sess.Year {
		return s.reject(apperr.New(apperr.CodeNotEligible, "you are not eligible for this session"))
	}

	existing, err := s.repo.Get(ctx, sess.ID, studentID)
	if err != nil {
		return CheckInResult{}, err
	}
	if existing != nil {
		return s.reject(apperr.New(apperr.CodeAlreadyMarked, "attendance already marked for this session"))
	}

	var distance *float64
	if sess.Anchor != nil {
		if coords == nil {
			return s.reject(apperr.New(apperr.CodeRequiresLocation, "this session requires your location"))
		}
		d, err := geo.Distance(*coords, *sess.Anchor)
		if err != nil {
			return s.reject(err)
		}
		if !geo.WithinRadius(d, sess.AllowedRadius) {
			return s.reject(apperr.New(apperr.CodeOutOfRange,
				"you are %.0f meters away; attendance requires being within %.0f meters", d, sess.AllowedRadius))
		}
		distance = &d
	} else if qr {
		// Without an anchor a QR token proves nothing about proximity.
		return s.reject(apperr.New(apperr.CodeRequiresLocation, "this session has no anchor location; QR check-in unavailable"))
	}

	now := s.now().UTC()
	rec := Record{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		StudentID:      studentID,
		Status:         StatusPresent,
		MarkedAt:       now,
		Coords:         coords,
		DistanceMeters: distance,
		LastModified:   now,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		if err == ErrDuplicate {
			return s.reject(apperr.New(apperr.CodeAlreadyMarked, "attendance already marked for this session"))
		}
		return CheckInResult{}, err
	}
	metrics.CheckinTotal.WithLabelValues("ok").Inc()
	return CheckInResult{RecordID: rec.ID, DistanceMeters: distance}, nil
}

func (s *Service) reject(err error) (CheckInResult, error) {
	metrics.CheckinTotal.WithLabelValues(string(apperr.CodeOf(err))).Inc()
	return CheckInResult{}, err
}

// OverrideResult reports a teacher override.
type OverrideResult struct {
	RecordID string `json:"record_id"`
	Action   string `json:"action"` // created or updated
}

// SetStatus is the teacher override. The teacher's assertion is
// authoritative, so token and geofence checks are skipped, but
// eligibility still holds.
func (s *Service) SetStatus(ctx context.Context, sessionID, studentID, status, teacherID, note string) (OverrideResult, error) {
	if status != StatusPresent && status != StatusAbsent {
		return OverrideResult{}, apperr.New(apperr.CodeInvalidInput, "status must be %q or %q", StatusPresent, StatusAbsent)
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return OverrideResult{}, err
	}
	if sess.TeacherID != teacherID {
		return OverrideResult{}, apperr.New(apperr.CodeUnauthorized, "session belongs to another teacher")
	}
	student, err := s.roster.Student(ctx, studentID)
	if err != nil {
		return OverrideResult{}, err
	}
	if student.Department != sess.Department || student.Year != sess.Year {
		return OverrideResult{}, apperr.New(apperr.CodeNotEligible, "student is not eligible for this session")
	}

	now := s.now().UTC()
	id, created, err := s.repo.Override(ctx, Record{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		StudentID:     studentID,
		Status:        status,
		MarkedAt:      now,
		IsManuallySet: true,
		OverriddenBy:  teacherID,
		Note:          note,
		LastModified:  now,
	})
	if err != nil {
		return OverrideResult{}, err
	}
	action := "updated"
	if created {
		action = "created"
	}
	return OverrideResult{RecordID: id, Action: action}, nil
}

// ReconcileResult reports an absence sweep.
type ReconcileResult struct {
	AbsentMarked int `json:"absent_marked"`
}

// CloseAndReconcile closes the session (if still open) and runs the
// absence sweep over its cohort.
func (s *Service) CloseAndReconcile(ctx context.Context, sessionID, teacherID string) (ReconcileResult, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if sess.TeacherID != teacherID {
		return ReconcileResult{}, apperr.New(apperr.CodeUnauthorized, "session belongs to another teacher")
	}
	if sess.IsOpen {
		if err := s.sessions.Close(ctx, sessionID, teacherID); err != nil {
			return ReconcileResult{}, err
		}
		metrics.SessionsClosedTotal.WithLabelValues("teacher").Inc()
	}
	return s.ReconcileAbsences(ctx, sessionID)
}

// ReconcileAbsences marks every eligible student without a record as
// absent. Safe to run repeatedly: students with any record are skipped.
func (s *Service) ReconcileAbsences(ctx context.Context, sessionID string) (ReconcileResult, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return ReconcileResult{}, err
	}
	cohort, err := s.roster.Cohort(ctx, sess.Department, sess.Year)
	if err != nil {
		return ReconcileResult{}, err
	}
	existing, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return ReconcileResult{}, err
	}
	recorded := make(map[string]bool, len(existing))
	for _, rec := range existing {
		recorded[rec.StudentID] = true
	}

	now := s.now().UTC()
	marked := 0
	for _, student := range cohort {
		if recorded[student.ID] {
			continue
		}
		err := s.repo.Insert(ctx, Record{
			ID:           uuid.NewString(),
			SessionID:    sessionID,
			StudentID:    student.ID,
			Status:       StatusAbsent,
			MarkedAt:     now,
			LastModified: now,
		})
		if err == ErrDuplicate {
			continue
		}
		if err != nil {
			return ReconcileResult{AbsentMarked: marked}, err
		}
		marked++
	}
	return ReconcileResult{AbsentMarked: marked}, nil
}

// Entry pairs a record with a student summary for teacher views.
type Entry struct {
	Record
	StudentName  string `json:"student_name"`
	StudentEmail string `json:"student_email"`
	SapID        string `json:"sap_id"`
	RollNo       string `json:"roll_no"`
}

// ListForSession returns the session's records with student details.
func (s *Service) ListForSession(ctx context.Context, sessionID string) ([]Entry, error) {
	records, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		entry := Entry{Record: rec}
		if student, err := s.roster.Student(ctx, rec.StudentID); err == nil {
			entry.StudentName = student.Name
			entry.StudentEmail = student.Email
			entry.SapID = student.SapID
			entry.RollNo = student.RollNo
		}
		out = append(out, entry)
	}
	return out, nil
}
