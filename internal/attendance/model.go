package attendance

import "time"

// Status is the outcome stored on an attendance record.
type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	}
	return false
}

// DefaultQRDurationMinutes applies when a class is created without a duration.
const DefaultQRDurationMinutes = 30

// ClassSession is a scheduled class with its single QR slot.
type ClassSession struct {
	ID                string     `json:"id"`
	TeacherID         string     `json:"teacher_id"`
	Name              string     `json:"name"`
	Subject           string     `json:"subject,omitempty"`
	Location          string     `json:"location,omitempty"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           time.Time  `json:"end_time"`
	QRDurationMinutes int        `json:"qr_duration_minutes"`
	CurrentQRCode     *string    `json:"-"`
	QRActiveUntil     *time.Time `json:"qr_active_until,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
}

// QRDuration returns the lifetime of a freshly issued code.
func (c ClassSession) QRDuration() time.Duration {
	return time.Duration(c.QRDurationMinutes) * time.Minute
}

// Student is a roster entry.
type Student struct {
	ID        string `json:"id"`
	Matricula string `json:"matricula"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// Record is the at-most-once attendance fact for a (student, class) pair.
type Record struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	ClassID   string    `json:"class_id"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location,omitempty"`
	IsManual  bool      `json:"is_manual"`
}

// RosterRow pairs an enrolled student with their record, if any.
type RosterRow struct {
	Student Student `json:"student"`
	Record  *Record `json:"attendance,omitempty"`
}

// Outcome is what a successful scan returns to the student.
type Outcome struct {
	RecordID  string    `json:"id"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
