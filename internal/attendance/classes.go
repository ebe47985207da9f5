package attendance

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// textPolicy strips markup from free text that later lands in teacher UIs
// and spreadsheets. Entities are decoded again so names keep apostrophes.
var textPolicy = bluemonday.StrictPolicy()

func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// ClassInput is what a teacher supplies to schedule a class.
type ClassInput struct {
	Name              string
	Subject           string
	Location          string
	StartTime         time.Time
	EndTime           time.Time
	QRDurationMinutes int
}

// CreateClass schedules a class owned by teacherID.
func (s *Service) CreateClass(ctx context.Context, teacherID string, in ClassInput) (ClassSession, error) {
	name := cleanText(in.Name)
	switch {
	case teacherID == "":
		return ClassSession{}, fmt.Errorf("%w: teacher required", ErrInvalidInput)
	case len([]rune(name)) < 3:
		return ClassSession{}, fmt.Errorf("%w: name must have at least 3 characters", ErrInvalidInput)
	case in.StartTime.IsZero() || in.EndTime.IsZero():
		return ClassSession{}, fmt.Errorf("%w: start and end time required", ErrInvalidInput)
	case !in.StartTime.Before(in.EndTime):
		return ClassSession{}, fmt.Errorf("%w: start time must be before end time", ErrInvalidInput)
	case in.QRDurationMinutes < 0:
		return ClassSession{}, fmt.Errorf("%w: qr duration must be positive", ErrInvalidInput)
	}
	minutes := in.QRDurationMinutes
	if minutes == 0 {
		minutes = DefaultQRDurationMinutes
	}
	class, err := s.store.CreateClass(ctx, ClassSession{
		TeacherID:         teacherID,
		Name:              name,
		Subject:           cleanText(in.Subject),
		Location:          cleanText(in.Location),
		StartTime:         in.StartTime.UTC(),
		EndTime:           in.EndTime.UTC(),
		QRDurationMinutes: minutes,
		IsActive:          true,
	})
	if err != nil {
		return ClassSession{}, s.fail("create class", err)
	}
	s.log.Info().Str("class_id", class.ID).Str("teacher_id", teacherID).Msg("class created")
	return class, nil
}

// ListClasses returns the teacher's classes.
func (s *Service) ListClasses(ctx context.Context, teacherID string) ([]ClassSession, error) {
	classes, err := s.store.ListClasses(ctx, teacherID)
	if err != nil {
		return nil, s.fail("list classes", err)
	}
	return classes, nil
}

// GetClass returns a class the teacher owns.
func (s *Service) GetClass(ctx context.Context, teacherID, classID string) (ClassSession, error) {
	return s.ownedClass(ctx, teacherID, classID)
}

// UpdateQRDuration changes the lifetime of codes issued from now on.
func (s *Service) UpdateQRDuration(ctx context.Context, teacherID, classID string, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("%w: qr duration must be positive", ErrInvalidInput)
	}
	if _, err := s.ownedClass(ctx, teacherID, classID); err != nil {
		return err
	}
	if err := s.store.UpdateQRDuration(ctx, classID, minutes); err != nil {
		return s.fail("update qr duration", err)
	}
	return nil
}

// SetActive toggles whether students see the class as active.
func (s *Service) SetActive(ctx context.Context, teacherID, classID string, active bool) error {
	if _, err := s.ownedClass(ctx, teacherID, classID); err != nil {
		return err
	}
	if err := s.store.SetActive(ctx, classID, active); err != nil {
		return s.fail("set active", err)
	}
	return nil
}

// ActiveClasses lists the student's enrolled, active classes whose access
// window contains now.
func (s *Service) ActiveClasses(ctx context.Context, studentID string) ([]ClassSession, error) {
	now := s.clock.Now()
	classes, err := s.store.ActiveClassesForStudent(ctx, studentID, now.Add(s.window.Lead), now)
	if err != nil {
		return nil, s.fail("active classes", err)
	}
	return classes, nil
}

// StudentProfile returns the roster profile behind a student account.
func (s *Service) StudentProfile(ctx context.Context, studentID string) (Student, error) {
	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return Student{}, s.fail("get student", err)
	}
	return st, nil
}

// AddStudent registers (or refreshes) a student and enrolls them.
func (s *Service) AddStudent(ctx context.Context, teacherID, classID string, st Student) (Student, error) {
	st.Matricula = strings.TrimSpace(st.Matricula)
	if len(st.Matricula) < 3 {
		return Student{}, fmt.Errorf("%w: matricula must have at least 3 characters", ErrInvalidInput)
	}
	if _, err := s.ownedClass(ctx, teacherID, classID); err != nil {
		return Student{}, err
	}
	return s.enroll(ctx, classID, st)
}

func (s *Service) enroll(ctx context.Context, classID string, st Student) (Student, error) {
	stored, err := s.store.UpsertStudent(ctx, Student{
		Matricula: st.Matricula,
		FirstName: cleanText(st.FirstName),
		LastName:  cleanText(st.LastName),
		Email:     strings.TrimSpace(st.Email),
	})
	if err != nil {
		return Student{}, s.fail("upsert student", err)
	}
	if err := s.store.Enroll(ctx, stored.ID, classID); err != nil {
		return Student{}, s.fail("enroll", err)
	}
	return stored, nil
}

// RemoveStudent drops a student from the class roster.
func (s *Service) RemoveStudent(ctx context.Context, teacherID, classID, studentID string) error {
	if _, err := s.ownedClass(ctx, teacherID, classID); err != nil {
		return err
	}
	if err := s.store.Unenroll(ctx, studentID, classID); err != nil {
		return s.fail("unenroll", err)
	}
	return nil
}

// ImportResult summarizes a roster import.
type ImportResult struct {
	Imported []Student `json:"students"`
	Skipped  int       `json:"skipped"`
}

// ImportRoster enrolls every student in entries. Entries that fail are
// skipped and counted; the import itself only fails on ownership errors.
func (s *Service) ImportRoster(ctx context.Context, teacherID, classID string, entries []Student) (ImportResult, error) {
	if _, err := s.ownedClass(ctx, teacherID, classID); err != nil {
		return ImportResult{}, err
	}
	var res ImportResult
	for _, e := range entries {
		if strings.TrimSpace(e.Matricula) == "" {
			res.Skipped++
			continue
		}
		st, err := s.enroll(ctx, classID, e)
		if err != nil {
			s.log.Warn().Err(err).Str("matricula", e.Matricula).Msg("roster entry skipped")
			res.Skipped++
			continue
		}
		res.Imported = append(res.Imported, st)
	}
	s.log.Info().Str("class_id", classID).Int("imported", len(res.Imported)).Int("skipped", res.Skipped).Msg("roster imported")
	return res, nil
}

// ListAttendances returns one row per enrolled student with their record,
// plus the class for labelling.
func (s *Service) ListAttendances(ctx context.Context, teacherID, classID string) (ClassSession, []RosterRow, error) {
	class, err := s.ownedClass(ctx, teacherID, classID)
	if err != nil {
		return ClassSession{}, nil, err
	}
	students, err := s.store.Roster(ctx, classID)
	if err != nil {
		return ClassSession{}, nil, s.fail("roster", err)
	}
	records, err := s.store.ListByClass(ctx, classID)
	if err != nil {
		return ClassSession{}, nil, s.fail("list attendance", err)
	}
	byStudent := make(map[string]Record, len(records))
	for _, r := range records {
		byStudent[r.StudentID] = r
	}
	rows := make([]RosterRow, 0, len(students))
	for _, st := range students {
		row := RosterRow{Student: st}
		if r, ok := byStudent[st.ID]; ok {
			row.Record = &r
		}
		rows = append(rows, row)
	}
	return class, rows, nil
}

// ownedClass loads a class and hides it from teachers who do not own it.
func (s *Service) ownedClass(ctx context.Context, teacherID, classID string) (ClassSession, error) {
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return ClassSession{}, s.fail("get class", err)
	}
	if class.TeacherID != teacherID {
		return ClassSession{}, ErrClassNotFound
	}
	return class, nil
}
