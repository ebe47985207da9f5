package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists classes, rosters and attendance in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS classes (
	id                  UUID PRIMARY KEY,
	teacher_id          TEXT NOT NULL,
	name                TEXT NOT NULL,
	subject             TEXT NOT NULL DEFAULT '',
	location            TEXT NOT NULL DEFAULT '',
	start_time          TIMESTAMPTZ NOT NULL,
	end_time            TIMESTAMPTZ NOT NULL,
	qr_duration_minutes INT NOT NULL DEFAULT 30 CHECK (qr_duration_minutes > 0),
	qr_code             TEXT,
	qr_active_until     TIMESTAMPTZ,
	is_active           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CHECK (start_time < end_time)
);
CREATE INDEX IF NOT EXISTS idx_classes_teacher ON classes(teacher_id);

CREATE TABLE IF NOT EXISTS students (
	id         UUID PRIMARY KEY,
	matricula  TEXT UNIQUE NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS enrollments (
	student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
	class_id   UUID NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (student_id, class_id)
);

CREATE TABLE IF NOT EXISTS attendances (
	id         UUID PRIMARY KEY,
	student_id UUID NOT NULL REFERENCES students(id),
	class_id   UUID NOT NULL REFERENCES classes(id),
	status     TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	location   TEXT NOT NULL DEFAULT '',
	is_manual  BOOLEAN NOT NULL DEFAULT FALSE,
	CONSTRAINT attendances_student_class_key UNIQUE (student_id, class_id)
);
CREATE INDEX IF NOT EXISTS idx_attendances_class ON attendances(class_id);
`

// Migrate creates the tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return storageErr(err)
}

const classColumns = `id, teacher_id, name, subject, location, start_time, end_time, qr_duration_minutes, qr_code, qr_active_until, is_active, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanClass(row scanner) (ClassSession, error) {
	var (
		c     ClassSession
		code  sql.NullString
		until sql.NullTime
	)
	err := row.Scan(&c.ID, &c.TeacherID, &c.Name, &c.Subject, &c.Location, &c.StartTime, &c.EndTime,
		&c.QRDurationMinutes, &code, &until, &c.IsActive, &c.CreatedAt)
	if err != nil {
		return ClassSession{}, err
	}
	if code.Valid {
		c.CurrentQRCode = &code.String
	}
	if until.Valid {
		t := until.Time.UTC()
		c.QRActiveUntil = &t
	}
	c.StartTime = c.StartTime.UTC()
	c.EndTime = c.EndTime.UTC()
	return c, nil
}

// CreateClass inserts a new class.
func (r *Repository) CreateClass(ctx context.Context, c ClassSession) (ClassSession, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO classes (id, teacher_id, name, subject, location, start_time, end_time, qr_duration_minutes, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, c.ID, c.TeacherID, c.Name, c.Subject, c.Location, c.StartTime, c.EndTime, c.QRDurationMinutes, c.IsActive)
	if err := row.Scan(&c.CreatedAt); err != nil {
		return ClassSession{}, storageErr(err)
	}
	return c, nil
}

// GetClass returns a single class by id.
func (r *Repository) GetClass(ctx context.Context, id string) (ClassSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return ClassSession{}, ErrClassNotFound
	}
	c, err := scanClass(r.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ClassSession{}, ErrClassNotFound
		}
		return ClassSession{}, storageErr(err)
	}
	return c, nil
}

// ListClasses returns a teacher's classes, newest first.
func (r *Repository) ListClasses(ctx context.Context, teacherID string) ([]ClassSession, error) {
	return r.queryClasses(ctx, `SELECT `+classColumns+` FROM classes WHERE teacher_id = $1 ORDER BY start_time DESC`, teacherID)
}

// ActiveClassesForStudent lists active enrolled classes that open by opensBy
// and have not ended before endsAfter.
func (r *Repository) ActiveClassesForStudent(ctx context.Context, studentID string, opensBy, endsAfter time.Time) ([]ClassSession, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return nil, nil
	}
	return r.queryClasses(ctx, `
		SELECT c.id, c.teacher_id, c.name, c.subject, c.location, c.start_time, c.end_time,
			c.qr_duration_minutes, c.qr_code, c.qr_active_until, c.is_active, c.created_at
		FROM classes c
		JOIN enrollments e ON e.class_id = c.id
		WHERE e.student_id = $1 AND c.is_active AND c.start_time <= $2 AND c.end_time >= $3
		ORDER BY c.start_time
	`, studentID, opensBy, endsAfter)
}

func (r *Repository) queryClasses(ctx context.Context, query string, args ...any) ([]ClassSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()
	var res []ClassSession
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, storageErr(err)
		}
		res = append(res, c)
	}
	return res, storageErr(rows.Err())
}

// UpdateQR replaces the class's QR slot as a single row update.
func (r *Repository) UpdateQR(ctx context.Context, id, code string, activeUntil time.Time) error {
	return r.execOne(ctx, ErrClassNotFound, `UPDATE classes SET qr_code = $2, qr_active_until = $3 WHERE id = $1`, id, code, activeUntil)
}

// UpdateQRDuration changes the lifetime applied to future codes.
func (r *Repository) UpdateQRDuration(ctx context.Context, id string, minutes int) error {
	return r.execOne(ctx, ErrClassNotFound, `UPDATE classes SET qr_duration_minutes = $2 WHERE id = $1`, id, minutes)
}

// SetActive toggles the class management flag.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	return r.execOne(ctx, ErrClassNotFound, `UPDATE classes SET is_active = $2 WHERE id = $1`, id, active)
}

func (r *Repository) execOne(ctx context.Context, notFound error, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// UpsertStudent creates a student or refreshes the names of an existing
// matricula. The stored row is returned.
func (r *Repository) UpsertStudent(ctx context.Context, s Student) (Student, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, matricula, first_name, last_name, email)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (matricula) DO UPDATE SET
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), students.first_name),
			last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), students.last_name),
			email = COALESCE(NULLIF(EXCLUDED.email, ''), students.email)
		RETURNING id, matricula, first_name, last_name, email
	`, s.ID, s.Matricula, s.FirstName, s.LastName, s.Email)
	var out Student
	if err := row.Scan(&out.ID, &out.Matricula, &out.FirstName, &out.LastName, &out.Email); err != nil {
		return Student{}, storageErr(err)
	}
	return out, nil
}

// GetStudent returns a student by id.
func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Student{}, ErrStudentNotFound
	}
	var s Student
	err := r.db.QueryRowContext(ctx, `SELECT id, matricula, first_name, last_name, email FROM students WHERE id = $1`, id).
		Scan(&s.ID, &s.Matricula, &s.FirstName, &s.LastName, &s.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrStudentNotFound
		}
		return Student{}, storageErr(err)
	}
	return s, nil
}

// StudentByMatricula returns the student holding a matricula.
func (r *Repository) StudentByMatricula(ctx context.Context, matricula string) (Student, error) {
	var s Student
	err := r.db.QueryRowContext(ctx, `SELECT id, matricula, first_name, last_name, email FROM students WHERE matricula = $1`, matricula).
		Scan(&s.ID, &s.Matricula, &s.FirstName, &s.LastName, &s.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrStudentNotFound
		}
		return Student{}, storageErr(err)
	}
	return s, nil
}

// Enroll adds a student to a class; enrolling twice is a no-op.
func (r *Repository) Enroll(ctx context.Context, studentID, classID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (student_id, class_id)
		VALUES ($1, $2)
		ON CONFLICT (student_id, class_id) DO NOTHING
	`, studentID, classID)
	if isForeignKeyViolation(err) {
		return ErrStudentNotFound
	}
	return storageErr(err)
}

// Unenroll removes a student from a class.
func (r *Repository) Unenroll(ctx context.Context, studentID, classID string) error {
	if _, err := uuid.Parse(studentID); err != nil {
		return ErrStudentNotFound
	}
	return r.execOne(ctx, ErrStudentNotFound, `DELETE FROM enrollments WHERE student_id = $1 AND class_id = $2`, studentID, classID)
}

// IsEnrolled reports roster membership.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	if _, err := uuid.Parse(studentID); err != nil {
		return false, nil
	}
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2)
	`, studentID, classID).Scan(&exists)
	return exists, storageErr(err)
}

// Roster lists the students enrolled in a class ordered by matricula.
func (r *Repository) Roster(ctx context.Context, classID string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.matricula, s.first_name, s.last_name, s.email
		FROM students s
		JOIN enrollments e ON e.student_id = s.id
		WHERE e.class_id = $1
		ORDER BY s.matricula
	`, classID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Matricula, &s.FirstName, &s.LastName, &s.Email); err != nil {
			return nil, storageErr(err)
		}
		res = append(res, s)
	}
	return res, storageErr(rows.Err())
}

// TryInsert writes a record, relying on the table's unique constraint to
// reject a second record for the same pair.
func (r *Repository) TryInsert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendances (id, student_id, class_id, status, occurred_at, location, is_manual)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.ID, rec.StudentID, rec.ClassID, string(rec.Status), rec.Timestamp, rec.Location, rec.IsManual)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrAlreadyRegistered
		}
		return Record{}, storageErr(err)
	}
	return rec, nil
}

// GetRecord returns a record by id.
func (r *Repository) GetRecord(ctx context.Context, id string) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrAttendanceNotFound
	}
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		SELECT id, student_id, class_id, status, occurred_at, location, is_manual
		FROM attendances WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrAttendanceNotFound
		}
		return Record{}, storageErr(err)
	}
	return rec, nil
}

// UpdateStatus applies a teacher correction and flags the record as manual.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrAttendanceNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendances SET status = $2, is_manual = TRUE
		WHERE id = $1
		RETURNING id, student_id, class_id, status, occurred_at, location, is_manual
	`, id, string(status))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrAttendanceNotFound
		}
		return Record{}, storageErr(err)
	}
	return rec, nil
}

// ListByClass returns all records for a class.
func (r *Repository) ListByClass(ctx context.Context, classID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, class_id, status, occurred_at, location, is_manual
		FROM attendances WHERE class_id = $1
		ORDER BY occurred_at
	`, classID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr(err)
		}
		res = append(res, rec)
	}
	return res, storageErr(rows.Err())
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec    Record
		status string
	)
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &status, &rec.Timestamp, &rec.Location, &rec.IsManual); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

// SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
