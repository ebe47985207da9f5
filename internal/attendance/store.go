package attendance

import (
	"context"
	"time"
)

// ClassStore reads and updates class sessions. Get returns ErrClassNotFound
// for unknown ids.
type ClassStore interface {
	CreateClass(ctx context.Context, c ClassSession) (ClassSession, error)
	GetClass(ctx context.Context, id string) (ClassSession, error)
	ListClasses(ctx context.Context, teacherID string) ([]ClassSession, error)
	UpdateQR(ctx context.Context, id, code string, activeUntil time.Time) error
	UpdateQRDuration(ctx context.Context, id string, minutes int) error
	SetActive(ctx context.Context, id string, active bool) error
	ActiveClassesForStudent(ctx context.Context, studentID string, opensBy, endsAfter time.Time) ([]ClassSession, error)
}

// EnrollmentStore manages roster membership. Student lookups return
// ErrStudentNotFound for unknown students.
type EnrollmentStore interface {
	UpsertStudent(ctx context.Context, s Student) (Student, error)
	GetStudent(ctx context.Context, id string) (Student, error)
	StudentByMatricula(ctx context.Context, matricula string) (Student, error)
	Enroll(ctx context.Context, studentID, classID string) error
	Unenroll(ctx context.Context, studentID, classID string) error
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
	Roster(ctx context.Context, classID string) ([]Student, error)
}

// AttendanceStore persists records. TryInsert must enforce the
// (student, class) uniqueness itself and report a duplicate as
// ErrAlreadyRegistered.
type AttendanceStore interface {
	TryInsert(ctx context.Context, r Record) (Record, error)
	GetRecord(ctx context.Context, id string) (Record, error)
	UpdateStatus(ctx context.Context, id string, status Status) (Record, error)
	ListByClass(ctx context.Context, classID string) ([]Record, error)
}

// Store bundles the collaborators the service needs.
type Store interface {
	ClassStore
	EnrollmentStore
	AttendanceStore
}
