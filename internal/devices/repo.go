package devices

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classattend/internal/attendance"
)

// Repository stores sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the student_sessions table.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS student_sessions (
			id          UUID PRIMARY KEY,
			student_id  UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
			device_id   TEXT NOT NULL,
			ip_address  TEXT NOT NULL DEFAULT '',
			user_agent  TEXT NOT NULL DEFAULT '',
			is_active   BOOLEAN NOT NULL DEFAULT TRUE,
			login_time  TIMESTAMPTZ NOT NULL,
			logout_time TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_student_sessions_device ON student_sessions(device_id) WHERE is_active;
		CREATE INDEX IF NOT EXISTS idx_student_sessions_student ON student_sessions(student_id) WHERE is_active;
	`)
	return storageErr(err)
}

// Open closes the device's previous sessions and inserts s in a transaction.
func (r *Repository) Open(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE student_sessions SET is_active = FALSE, logout_time = $2
		WHERE device_id = $1 AND is_active
	`, s.DeviceID, s.LoginTime); err != nil {
		return Session{}, storageErr(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO student_sessions (id, student_id, device_id, ip_address, user_agent, is_active, login_time)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
	`, s.ID, s.StudentID, s.DeviceID, s.IPAddress, s.UserAgent, s.LoginTime); err != nil {
		return Session{}, storageErr(err)
	}
	if err := tx.Commit(); err != nil {
		return Session{}, storageErr(err)
	}
	return s, nil
}

// CloseForStudent ends the student's active sessions.
func (r *Repository) CloseForStudent(ctx context.Context, studentID string, at time.Time) (int64, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE student_sessions SET is_active = FALSE, logout_time = $2
		WHERE student_id = $1 AND is_active
	`, studentID, at)
	if err != nil {
		return 0, storageErr(err)
	}
	n, err := res.RowsAffected()
	return n, storageErr(err)
}

// Active lists open sessions, newest first.
func (r *Repository) Active(ctx context.Context, studentID string) ([]Session, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, device_id, ip_address, user_agent, is_active, login_time
		FROM student_sessions WHERE student_id = $1 AND is_active
		ORDER BY login_time DESC
	`, studentID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.StudentID, &s.DeviceID, &s.IPAddress, &s.UserAgent, &s.IsActive, &s.LoginTime); err != nil {
			return nil, storageErr(err)
		}
		s.LoginTime = s.LoginTime.UTC()
		res = append(res, s)
	}
	return res, storageErr(rows.Err())
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", attendance.ErrStorageUnavailable, err)
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Open(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.sessions {
		if existing.IsActive && existing.DeviceID == s.DeviceID {
			m.sessions[id] = closed(existing, s.LoginTime)
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemoryStore) CloseForStudent(_ context.Context, studentID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, existing := range m.sessions {
		if existing.IsActive && existing.StudentID == studentID {
			m.sessions[id] = closed(existing, at)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Active(_ context.Context, studentID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.IsActive && s.StudentID == studentID {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].LoginTime.After(res[j].LoginTime) })
	return res, nil
}

func closed(s Session, at time.Time) Session {
	s.IsActive = false
	s.LogoutTime = &at
	return s
}
