package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"classattend/internal/clock"
	"classattend/internal/queue"
)

// Publisher receives attendance events. queue.Queue satisfies it.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Observer is notified of outcomes for metrics.
type Observer interface {
	ScanOutcome(code string)
	QRIssued()
	Correction()
}

type nopObserver struct{}

func (nopObserver) ScanOutcome(string) {}
func (nopObserver) QRIssued()          {}
func (nopObserver) Correction()        {}

// Service coordinates QR issuance, scan validation and attendance records.
type Service struct {
	store     Store
	clock     clock.Clock
	window    WindowPolicy
	publisher Publisher
	observer  Observer
	log       zerolog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithWindow replaces the default access window.
func WithWindow(w WindowPolicy) Option { return func(s *Service) { s.window = w } }

// WithPublisher sends an event for every record created by a scan.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithObserver attaches an outcome observer.
func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "attendance").Logger() }
}

// NewService creates a service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		clock:    clock.System{},
		window:   DefaultWindow(),
		observer: nopObserver{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueQR generates a new code for a class the teacher owns, superseding any
// previous code.
func (s *Service) IssueQR(ctx context.Context, teacherID, classID string) (Issued, error) {
	class, err := s.ownedClass(ctx, teacherID, classID)
	if err != nil {
		return Issued{}, err
	}
	issued := IssueCode(&class, s.clock.Now())
	if err := s.store.UpdateQR(ctx, class.ID, issued.Code, issued.ActiveUntil); err != nil {
		return Issued{}, s.fail("update qr", err)
	}
	s.observer.QRIssued()
	s.log.Info().Str("class_id", class.ID).Time("active_until", issued.ActiveUntil).Msg("qr issued")
	return issued, nil
}

// ScanRequest is a student's attempt to register presence.
type ScanRequest struct {
	StudentID string
	// ClassID is optional; when set it must match the payload's class.
	ClassID  string
	Payload  string
	Location string
}

// RegisterScan validates a scan and records PRESENT at most once per
// (student, class). Checks run in order and the first failure is returned.
func (s *Service) RegisterScan(ctx context.Context, req ScanRequest) (Outcome, error) {
	out, err := s.registerScan(ctx, req)
	s.observer.ScanOutcome(scanCode(err))
	return out, err
}

func (s *Service) registerScan(ctx context.Context, req ScanRequest) (Outcome, error) {
	now := s.clock.Now()
	log := s.log.With().Str("student_id", req.StudentID).Logger()

	payload, err := DecodePayload(req.Payload)
	if err != nil {
		log.Debug().Err(err).Msg("scan rejected")
		return Outcome{}, err
	}
	if req.ClassID != "" && req.ClassID != payload.ClassID {
		return Outcome{}, fmt.Errorf("%w: payload belongs to another class", ErrQRMismatch)
	}

	class, err := s.store.GetClass(ctx, payload.ClassID)
	if err != nil {
		return Outcome{}, s.fail("get class", err)
	}
	if !s.window.Within(class, now) {
		return Outcome{}, ErrOutsideAccessWindow
	}
	if err := ValidateCode(class, payload.Code, now).Err(); err != nil {
		return Outcome{}, err
	}

	enrolled, err := s.store.IsEnrolled(ctx, req.StudentID, class.ID)
	if err != nil {
		return Outcome{}, s.fail("check enrollment", err)
	}
	if !enrolled {
		return Outcome{}, ErrNotEnrolled
	}

	rec, err := s.store.TryInsert(ctx, Record{
		StudentID: req.StudentID,
		ClassID:   class.ID,
		Status:    StatusPresent,
		Timestamp: now,
		Location:  cleanText(req.Location),
	})
	if err != nil {
		return Outcome{}, s.fail("insert attendance", err)
	}

	log.Info().Str("class_id", class.ID).Str("attendance_id", rec.ID).Msg("attendance registered")
	s.publish(ctx, rec)
	return Outcome{RecordID: rec.ID, Status: rec.Status, Timestamp: rec.Timestamp}, nil
}

// CorrectAttendance overrides the status of an existing record in a class
// the teacher owns. There is no time restriction.
func (s *Service) CorrectAttendance(ctx context.Context, teacherID, attendanceID string, status Status) (Record, error) {
	if !status.Valid() {
		return Record{}, ErrInvalidStatus
	}
	rec, err := s.store.GetRecord(ctx, attendanceID)
	if err != nil {
		return Record{}, s.fail("get attendance", err)
	}
	if _, err := s.ownedClass(ctx, teacherID, rec.ClassID); err != nil {
		if errors.Is(err, ErrClassNotFound) {
			return Record{}, ErrAttendanceNotFound
		}
		return Record{}, err
	}
	updated, err := s.store.UpdateStatus(ctx, attendanceID, status)
	if err != nil {
		return Record{}, s.fail("update attendance", err)
	}
	s.observer.Correction()
	s.publishEvent(ctx, queue.TypeAttendanceCorrected, Correction{Record: updated, Previous: rec.Status})
	s.log.Info().Str("attendance_id", attendanceID).Str("status", string(status)).Msg("attendance corrected")
	return updated, nil
}

// MarkManual creates a teacher-entered record for an enrolled student.
func (s *Service) MarkManual(ctx context.Context, teacherID, classID, studentID string, status Status) (Record, error) {
	if !status.Valid() {
		return Record{}, ErrInvalidStatus
	}
	class, err := s.ownedClass(ctx, teacherID, classID)
	if err != nil {
		return Record{}, err
	}
	enrolled, err := s.store.IsEnrolled(ctx, studentID, class.ID)
	if err != nil {
		return Record{}, s.fail("check enrollment", err)
	}
	if !enrolled {
		return Record{}, ErrNotEnrolled
	}
	rec, err := s.store.TryInsert(ctx, Record{
		StudentID: studentID,
		ClassID:   class.ID,
		Status:    status,
		Timestamp: s.clock.Now(),
		IsManual:  true,
	})
	if err != nil {
		return Record{}, s.fail("insert attendance", err)
	}
	s.publish(ctx, rec)
	return rec, nil
}

// Correction is the body of an attendance.corrected event.
type Correction struct {
	Record   Record `json:"record"`
	Previous Status `json:"previous"`
}

func (s *Service) publish(ctx context.Context, rec Record) {
	s.publishEvent(ctx, queue.TypeAttendanceRecorded, rec)
}

// publishEvent never fails the caller; the record is already stored.
func (s *Service) publishEvent(ctx context.Context, typ string, body any) {
	if s.publisher == nil {
		return
	}
	msg, err := queue.NewMessage(typ, body)
	if err == nil {
		err = s.publisher.Publish(ctx, msg)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("type", typ).Msg("queue publish failed")
	}
}

// fail logs storage faults; domain kinds pass through untouched.
func (s *Service) fail(op string, err error) error {
	if errors.Is(err, ErrStorageUnavailable) {
		s.log.Error().Err(err).Str("op", op).Msg("storage failure")
		return err
	}
	var k *Kind
	if errors.As(err, &k) {
		return err
	}
	s.log.Error().Err(err).Str("op", op).Msg("storage failure")
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

func scanCode(err error) string {
	if err == nil {
		return "registered"
	}
	return CodeOf(err)
}
