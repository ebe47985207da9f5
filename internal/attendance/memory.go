package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store for dev and tests. The uniqueness
// check and insert in TryInsert happen under one lock.
type MemoryStore struct {
	mu          sync.RWMutex
	classes     map[string]ClassSession
	students    map[string]Student
	matriculas  map[string]string
	enrollments map[pairKey]struct{}
	records     map[string]Record
	byPair      map[pairKey]string
}

type pairKey struct {
	studentID string
	classID   string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classes:     make(map[string]ClassSession),
		students:    make(map[string]Student),
		matriculas:  make(map[string]string),
		enrollments: make(map[pairKey]struct{}),
		records:     make(map[string]Record),
		byPair:      make(map[pairKey]string),
	}
}

func (m *MemoryStore) CreateClass(_ context.Context, c ClassSession) (ClassSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.classes[c.ID] = c
	return c, nil
}

func (m *MemoryStore) GetClass(_ context.Context, id string) (ClassSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[id]
	if !ok {
		return ClassSession{}, ErrClassNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListClasses(_ context.Context, teacherID string) ([]ClassSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []ClassSession
	for _, c := range m.classes {
		if c.TeacherID == teacherID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartTime.After(res[j].StartTime) })
	return res, nil
}

func (m *MemoryStore) ActiveClassesForStudent(_ context.Context, studentID string, opensBy, endsAfter time.Time) ([]ClassSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []ClassSession
	for key := range m.enrollments {
		if key.studentID != studentID {
			continue
		}
		c, ok := m.classes[key.classID]
		if !ok || !c.IsActive || c.StartTime.After(opensBy) || c.EndTime.Before(endsAfter) {
			continue
		}
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartTime.Before(res[j].StartTime) })
	return res, nil
}

func (m *MemoryStore) UpdateQR(_ context.Context, id, code string, activeUntil time.Time) error {
	return m.mutateClass(id, func(c *ClassSession) {
		c.CurrentQRCode = &code
		c.QRActiveUntil = &activeUntil
	})
}

func (m *MemoryStore) UpdateQRDuration(_ context.Context, id string, minutes int) error {
	return m.mutateClass(id, func(c *ClassSession) { c.QRDurationMinutes = minutes })
}

func (m *MemoryStore) SetActive(_ context.Context, id string, active bool) error {
	return m.mutateClass(id, func(c *ClassSession) { c.IsActive = active })
}

func (m *MemoryStore) mutateClass(id string, fn func(*ClassSession)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[id]
	if !ok {
		return ErrClassNotFound
	}
	fn(&c)
	m.classes[id] = c
	return nil
}

func (m *MemoryStore) UpsertStudent(_ context.Context, s Student) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.matriculas[s.Matricula]; ok {
		existing := m.students[id]
		if s.FirstName != "" {
			existing.FirstName = s.FirstName
		}
		if s.LastName != "" {
			existing.LastName = s.LastName
		}
		if s.Email != "" {
			existing.Email = s.Email
		}
		m.students[id] = existing
		return existing, nil
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.students[s.ID] = s
	m.matriculas[s.Matricula] = s.ID
	return s, nil
}

func (m *MemoryStore) GetStudent(_ context.Context, id string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return Student{}, ErrStudentNotFound
	}
	return s, nil
}

func (m *MemoryStore) StudentByMatricula(_ context.Context, matricula string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.matriculas[matricula]
	if !ok {
		return Student{}, ErrStudentNotFound
	}
	return m.students[id], nil
}

func (m *MemoryStore) Enroll(_ context.Context, studentID, classID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[studentID]; !ok {
		return ErrStudentNotFound
	}
	if _, ok := m.classes[classID]; !ok {
		return ErrClassNotFound
	}
	m.enrollments[pairKey{studentID, classID}] = struct{}{}
	return nil
}

func (m *MemoryStore) Unenroll(_ context.Context, studentID, classID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{studentID, classID}
	if _, ok := m.enrollments[key]; !ok {
		return ErrStudentNotFound
	}
	delete(m.enrollments, key)
	return nil
}

func (m *MemoryStore) IsEnrolled(_ context.Context, studentID, classID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.enrollments[pairKey{studentID, classID}]
	return ok, nil
}

func (m *MemoryStore) Roster(_ context.Context, classID string) ([]Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Student
	for key := range m.enrollments {
		if key.classID == classID {
			res = append(res, m.students[key.studentID])
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Matricula < res[j].Matricula })
	return res, nil
}

func (m *MemoryStore) TryInsert(_ context.Context, r Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{r.StudentID, r.ClassID}
	if _, exists := m.byPair[key]; exists {
		return Record{}, ErrAlreadyRegistered
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.records[r.ID] = r
	m.byPair[key] = r.ID
	return r, nil
}

func (m *MemoryStore) GetRecord(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrAttendanceNotFound
	}
	return r, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status Status) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrAttendanceNotFound
	}
	r.Status = status
	r.IsManual = true
	m.records[id] = r
	return r, nil
}

func (m *MemoryStore) ListByClass(_ context.Context, classID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []Record
	for _, r := range m.records {
		if r.ClassID == classID {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	return res, nil
}
