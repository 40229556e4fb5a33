package roster

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"geoattend/internal/apperr"
)

// Service handles enrollment and credential checks.
type Service struct {
	repo Repository
}

// NewService creates a roster service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EnrollStudent registers a student with a bcrypt-hashed password.
func (s *Service) EnrollStudent(ctx context.Context, in Student, password string) (Student, error) {
	if strings.TrimSpace(in.Email) == "" || strings.TrimSpace(in.Name) == "" || password == "" {
		return Student{}, apperr.New(apperr.CodeInvalidInput, "name, email and password are required")
	}
	existing, err := s.repo.GetStudentByEmail(ctx, in.Email)
	if err != nil {
		return Student{}, err
	}
	if existing != nil {
		return Student{}, apperr.New(apperr.CodeInvalidInput, "email already registered")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Student{}, err
	}
	in.ID = uuid.NewString()
	in.PasswordHash = string(hash)
	in.CreatedAt = time.Now().UTC()
	if err := s.repo.InsertStudent(ctx, in); err != nil {
		return Student{}, err
	}
	return in, nil
}

// EnrollTeacher registers a teacher account.
func (s *Service) EnrollTeacher(ctx context.Context, in Teacher, password string) (Teacher, error) {
	if strings.TrimSpace(in.Email) == "" || strings.TrimSpace(in.Name) == "" || password == "" {
		return Teacher{}, apperr.New(apperr.CodeInvalidInput, "name, email and password are required")
	}
	existing, err := s.repo.GetTeacherByEmail(ctx, in.Email)
	if err != nil {
		return Teacher{}, err
	}
	if existing != nil {
		return Teacher{}, apperr.New(apperr.CodeInvalidInput, "email already registered")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Teacher{}, err
	}
	in.ID = uuid.NewString()
	in.PasswordHash = string(hash)
	in.CreatedAt = time.Now().UTC()
	if err := s.repo.InsertTeacher(ctx, in); err != nil {
		return Teacher{}, err
	}
	return in, nil
}

// AuthenticateStudent verifies credentials and returns the student.
func (s *Service) AuthenticateStudent(ctx context.Context, email, password string) (*Student, error) {
	st, err := s.repo.GetStudentByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if st == nil || bcrypt.CompareHashAndPassword([]byte(st.PasswordHash), []byte(password)) != nil {
		return nil, apperr.New(apperr.CodeUnauthorized, "invalid email or password")
	}
	return st, nil
}

// AuthenticateTeacher verifies credentials and returns the teacher.
func (s *Service) AuthenticateTeacher(ctx context.Context, email, password string) (*Teacher, error) {
	t, err := s.repo.GetTeacherByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if t == nil || bcrypt.CompareHashAndPassword([]byte(t.PasswordHash), []byte(password)) != nil {
		return nil, apperr.New(apperr.CodeUnauthorized, "invalid email or password")
	}
	return t, nil
}

// Student returns a student by id.
func (s *Service) Student(ctx context.Context, id string) (*Student, error) {
	st, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.New(apperr.CodeNotFound, "student not found")
	}
	return st, nil
}

// Cohort lists the students eligible for a department/year pair.
func (s *Service) Cohort(ctx context.Context, department string, year int) ([]Student, error) {
	return s.repo.ListStudentsByCohort(ctx, department, year)
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (s *Service) SaveRefreshToken(ctx context.Context, subjectID, token string, expiresAt time.Time) error {
	return s.repo.SaveRefreshToken(ctx, subjectID, token, expiresAt)
}

// RevokeRefreshToken marks a token revoked.
func (s *Service) RevokeRefreshToken(ctx context.Context, token string) error {
	return s.repo.RevokeRefreshToken(ctx, token)
}
