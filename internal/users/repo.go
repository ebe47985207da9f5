package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"classattend/internal/attendance"
)

// Repository stores accounts in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	first_name    TEXT NOT NULL,
	last_name     TEXT NOT NULL,
	role          TEXT NOT NULL CHECK (role IN ('TEACHER', 'STUDENT')),
	student_id    UUID REFERENCES students(id),
	teacher_id    TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS ` + emailIndex + ` ON users(email);
CREATE UNIQUE INDEX IF NOT EXISTS ` + studentIndex + ` ON users(student_id);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id         UUID PRIMARY KEY,
	user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Unique index names, reported as the constraint of a 23505 error.
const (
	emailIndex   = "users_email_key"
	studentIndex = "users_student_id_key"
)

// Migrate creates the users and refresh_tokens tables.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return storageErr(err)
}

// Create inserts a user. The unique indexes decide between ErrEmailTaken
// and ErrMatriculaTaken.
func (r *Repository) Create(ctx context.Context, u User) (User, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, student_id, teacher_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role, nullable(u.StudentID), nullable(u.TeacherID), u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == studentIndex {
				return User{}, ErrMatriculaTaken
			}
			return User{}, ErrEmailTaken
		}
		return User{}, storageErr(err)
	}
	return u, nil
}

// GetByStudentID returns the account that owns a student profile.
func (r *Repository) GetByStudentID(ctx context.Context, studentID string) (User, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return User{}, ErrNotFound
	}
	return r.get(ctx, `student_id = $1`, studentID)
}

// SaveRefreshToken stores a refresh token id for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, userID, tokenID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, expires_at) VALUES ($1, $2, $3)
	`, tokenID, userID, expiresAt)
	return storageErr(err)
}

// ConsumeRefreshToken revokes a live token in one statement so a token can
// be redeemed once.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, tokenID string, now time.Time) (string, error) {
	if _, err := uuid.Parse(tokenID); err != nil {
		return "", ErrInvalidRefresh
	}
	var userID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE id = $1 AND NOT revoked AND expires_at > $2
		RETURNING user_id
	`, tokenID, now).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidRefresh
		}
		return "", storageErr(err)
	}
	return userID, nil
}

// GetByEmail looks a user up by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.get(ctx, `email = $1`, email)
}

// GetByID looks a user up by id.
func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	return r.get(ctx, `id = $1`, id)
}

func (r *Repository) get(ctx context.Context, where string, arg any) (User, error) {
	var (
		u         User
		studentID sql.NullString
		teacherID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, first_name, last_name, role, student_id, teacher_id, created_at
		FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &studentID, &teacherID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, storageErr(err)
	}
	u.StudentID = studentID.String
	u.TeacherID = teacherID.String
	return u, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", attendance.ErrStorageUnavailable, err)
}

// MemoryStore keeps accounts in process memory. Create enforces the same
// uniqueness as the Postgres indexes.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]User
	byEmail   map[string]string
	byStudent map[string]string
	refresh   map[string]refreshToken
}

type refreshToken struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]User),
		byEmail:   make(map[string]string),
		byStudent: make(map[string]string),
		refresh:   make(map[string]refreshToken),
	}
}

func (m *MemoryStore) Create(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byEmail[u.Email]; taken {
		return User{}, ErrEmailTaken
	}
	if u.StudentID != "" {
		if _, taken := m.byStudent[u.StudentID]; taken {
			return User{}, ErrMatriculaTaken
		}
		m.byStudent[u.StudentID] = u.ID
	}
	m.byID[u.ID] = u
	m.byEmail[u.Email] = u.ID
	return u, nil
}

func (m *MemoryStore) GetByStudentID(_ context.Context, studentID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byStudent[studentID]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.byID[id], nil
}

func (m *MemoryStore) SaveRefreshToken(_ context.Context, userID, tokenID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenID] = refreshToken{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) ConsumeRefreshToken(_ context.Context, tokenID string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refresh[tokenID]
	if !ok || tok.revoked || !now.Before(tok.expiresAt) {
		return "", ErrInvalidRefresh
	}
	tok.revoked = true
	m.refresh[tokenID] = tok
	return tok.userID, nil
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.byID[id], nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
