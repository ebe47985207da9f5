// Package users manages teacher and student accounts.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"classattend/internal/attendance"
	"classattend/internal/auth"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("user not found")
	ErrMatriculaTaken     = errors.New("matricula already registered")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
)

// User is an account. Exactly one of StudentID and TeacherID is set.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Role         string    `json:"role"`
	StudentID    string    `json:"student_id,omitempty"`
	TeacherID    string    `json:"teacher_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity returns the token identity for u.
func (u User) Identity() auth.Identity {
	return auth.Identity{UserID: u.ID, Role: u.Role, StudentID: u.StudentID, TeacherID: u.TeacherID}
}

// Store persists accounts. Create returns ErrEmailTaken for a duplicate
// email and ErrMatriculaTaken when the student profile already has an
// account; lookups return ErrNotFound.
type Store interface {
	Create(ctx context.Context, u User) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	GetByStudentID(ctx context.Context, studentID string) (User, error)
	SaveRefreshToken(ctx context.Context, userID, tokenID string, expiresAt time.Time) error
	// ConsumeRefreshToken revokes a live token and returns its user. Unknown,
	// revoked and expired tokens give ErrInvalidRefresh.
	ConsumeRefreshToken(ctx context.Context, tokenID string, now time.Time) (string, error)
}

// StudentDirectory reads and writes the roster profile behind a student
// account.
type StudentDirectory interface {
	StudentByMatricula(ctx context.Context, matricula string) (attendance.Student, error)
	UpsertStudent(ctx context.Context, s attendance.Student) (attendance.Student, error)
}

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Email     string `validate:"required,email"`
	Password  string `validate:"required,min=6"`
	FirstName string `validate:"required,min=2"`
	LastName  string `validate:"required,min=2"`
	Role      string `validate:"required,oneof=TEACHER STUDENT"`
	Matricula string `validate:"required_if=Role STUDENT,max=64"`
}

// TokenConfig controls token issuance.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	TTL        time.Duration
	RefreshTTL time.Duration
}

// Service registers and authenticates users.
type Service struct {
	store    Store
	students StudentDirectory
	validate *validator.Validate
	tokens   TokenConfig
	now      func() time.Time
	log      zerolog.Logger
}

// NewService constructs the account service.
func NewService(store Store, students StudentDirectory, tokens TokenConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		students: students,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tokens:   withDefaults(tokens),
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.With().Str("component", "users").Logger(),
	}
}

func withDefaults(t TokenConfig) TokenConfig {
	if t.TTL <= 0 {
		t.TTL = 12 * time.Hour
	}
	if t.RefreshTTL <= 0 {
		t.RefreshTTL = 30 * 24 * time.Hour
	}
	return t
}

// Register creates an account. A student claims the roster profile with
// their matricula, creating it when the teacher has not imported it yet; a
// profile that already has an account cannot be claimed again. An existing
// profile is only updated once the account is stored.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, auth.TokenPair, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Matricula = strings.TrimSpace(in.Matricula)
	if err := s.validate.Struct(in); err != nil {
		return User{}, auth.TokenPair{}, fmt.Errorf("%w: %v", attendance.ErrInvalidInput, err)
	}
	if in.Role == auth.RoleStudent && len(in.Matricula) < 3 {
		return User{}, auth.TokenPair{}, fmt.Errorf("%w: matricula must have at least 3 characters", attendance.ErrInvalidInput)
	}
	if _, err := s.store.GetByEmail(ctx, in.Email); err == nil {
		return User{}, auth.TokenPair{}, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, auth.TokenPair{}, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, auth.TokenPair{}, err
	}
	u := User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         in.Role,
		CreatedAt:    s.now(),
	}
	profile := attendance.Student{
		Matricula: in.Matricula,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
	}
	claimed := false
	switch in.Role {
	case auth.RoleTeacher:
		u.TeacherID = uuid.NewString()
	case auth.RoleStudent:
		studentID, existing, err := s.claimProfile(ctx, profile)
		if err != nil {
			return User{}, auth.TokenPair{}, err
		}
		u.StudentID, claimed = studentID, existing
	}

	created, err := s.store.Create(ctx, u)
	if err != nil {
		return User{}, auth.TokenPair{}, err
	}
	if claimed {
		if _, err := s.students.UpsertStudent(ctx, profile); err != nil {
			s.log.Warn().Err(err).Str("student_id", created.StudentID).Msg("roster profile not refreshed")
		}
	}
	tok, err := s.issue(ctx, created)
	if err != nil {
		return User{}, auth.TokenPair{}, err
	}
	s.log.Info().Str("user_id", created.ID).Str("role", created.Role).Msg("user registered")
	return created, tok, nil
}

// claimProfile returns the student id for a new account and whether it is a
// pre-existing roster entry.
func (s *Service) claimProfile(ctx context.Context, profile attendance.Student) (string, bool, error) {
	st, err := s.students.StudentByMatricula(ctx, profile.Matricula)
	switch {
	case err == nil:
		if _, err := s.store.GetByStudentID(ctx, st.ID); err == nil {
			return "", false, ErrMatriculaTaken
		} else if !errors.Is(err, ErrNotFound) {
			return "", false, err
		}
		return st.ID, true, nil
	case errors.Is(err, attendance.ErrStudentNotFound):
		created, err := s.students.UpsertStudent(ctx, profile)
		if err != nil {
			return "", false, err
		}
		return created.ID, false, nil
	default:
		return "", false, err
	}
}

// Login checks credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (User, auth.TokenPair, error) {
	u, err := s.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, auth.TokenPair{}, ErrInvalidCredentials
		}
		return User{}, auth.TokenPair{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return User{}, auth.TokenPair{}, ErrInvalidCredentials
	}
	tok, err := s.issue(ctx, u)
	if err != nil {
		return User{}, auth.TokenPair{}, err
	}
	return u, tok, nil
}

// Refresh exchanges a refresh token for a new pair. Each refresh token works
// once; the account is reloaded so its current role and profile are used.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (User, auth.TokenPair, error) {
	claims, err := auth.ParseRefresh(refreshToken, s.tokens.SigningKey, s.tokens.Issuer)
	if err != nil {
		return User{}, auth.TokenPair{}, ErrInvalidRefresh
	}
	userID, err := s.store.ConsumeRefreshToken(ctx, claims.ID, s.now())
	if err != nil {
		return User{}, auth.TokenPair{}, err
	}
	if userID != claims.Subject {
		return User{}, auth.TokenPair{}, ErrInvalidRefresh
	}
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, auth.TokenPair{}, ErrInvalidRefresh
		}
		return User{}, auth.TokenPair{}, err
	}
	tok, err := s.issue(ctx, u)
	if err != nil {
		return User{}, auth.TokenPair{}, err
	}
	return u, tok, nil
}

// Me returns the account behind a verified identity.
func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	return s.store.GetByID(ctx, userID)
}

func (s *Service) issue(ctx context.Context, u User) (auth.TokenPair, error) {
	tok, err := auth.Issue(u.Identity(), s.tokens.Issuer, s.tokens.SigningKey, s.tokens.TTL, s.tokens.RefreshTTL, s.now())
	if err != nil {
		return auth.TokenPair{}, err
	}
	if err := s.store.SaveRefreshToken(ctx, u.ID, tok.RefreshID, tok.RefreshExp); err != nil {
		return auth.TokenPair{}, err
	}
	return tok, nil
}
