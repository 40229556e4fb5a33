package roster

import (
	"context"
	"time"
)

// Student is an enrolled student; the department/year pair is the
// cohort key sessions are scoped to.
type Student struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Department   string    `json:"department"`
	Year         int       `json:"year"`
	Semester     int       `json:"semester"`
	SapID        string    `json:"sap_id"`
	RollNo       string    `json:"roll_no"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Teacher owns sessions and resolves security alerts.
type Teacher struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository persists the roster. Lookups that find nothing return
// (nil, nil).
type Repository interface {
	InsertStudent(ctx context.Context, s Student) error
	GetStudent(ctx context.Context, id string) (*Student, error)
	GetStudentByEmail(ctx context.Context, email string) (*Student, error)
	ListStudentsByCohort(ctx context.Context, department string, year int) ([]Student, error)

	InsertTeacher(ctx context.Context, t Teacher) error
	GetTeacher(ctx context.Context, id string) (*Teacher, error)
	GetTeacherByEmail(ctx context.Context, email string) (*Teacher, error)

	SaveRefreshToken(ctx context.Context, subjectID, token string, expiresAt time.Time) error
	RevokeRefreshToken(ctx context.Context, token string) error
}
