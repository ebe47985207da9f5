package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"classattend/internal/clock"
	"classattend/internal/queue"
)

const teacherID = "teacher-1"

func at(hour, min int) time.Time {
	return time.Date(2024, 9, 2, hour, min, 0, 0, time.UTC)
}

type fixture struct {
	svc   *Service
	store *MemoryStore
	clock *clock.Manual
	class ClassSession
	alice Student
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	clk := clock.NewManual(at(9, 0))
	svc := NewService(store, append([]Option{WithClock(clk)}, opts...)...)

	class, err := svc.CreateClass(ctx, teacherID, ClassInput{
		Name:      "Algebra I",
		StartTime: at(10, 0),
		EndTime:   at(11, 0),
	})
	require.NoError(t, err)
	require.Equal(t, DefaultQRDurationMinutes, class.QRDurationMinutes)

	alice, err := svc.AddStudent(ctx, teacherID, class.ID, Student{Matricula: "A001", FirstName: "Alice", LastName: "Liddell"})
	require.NoError(t, err)

	return fixture{svc: svc, store: store, clock: clk, class: class, alice: alice}
}

func (f fixture) issue(t *testing.T, when time.Time) Issued {
	t.Helper()
	f.clock.Set(when)
	issued, err := f.svc.IssueQR(context.Background(), teacherID, f.class.ID)
	require.NoError(t, err)
	return issued
}

func payloadOf(t *testing.T, issued Issued) string {
	t.Helper()
	raw, err := EncodePayload(issued.Payload())
	require.NoError(t, err)
	return raw
}

func (f fixture) scan(t *testing.T, studentID, payload string, when time.Time) (Outcome, error) {
	t.Helper()
	f.clock.Set(when)
	return f.svc.RegisterScan(context.Background(), ScanRequest{StudentID: studentID, Payload: payload, Location: "19.43,-99.13"})
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, at(9, 59))
	require.Equal(t, at(10, 29), issued.ActiveUntil)

	out, err := f.scan(t, f.alice.ID, payloadOf(t, issued), at(10, 1))
	require.NoError(t, err)
	require.Equal(t, StatusPresent, out.Status)
	require.Equal(t, at(10, 1), out.Timestamp)

	records, err := f.store.ListByClass(context.Background(), f.class.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.False(t, records[0].IsManual)
	require.Equal(t, "19.43,-99.13", records[0].Location)
}

func TestStaleCodeAfterReissue(t *testing.T) {
	f := newFixture(t)
	first := f.issue(t, at(10, 0))
	second := f.issue(t, at(10, 5))
	require.NotEqual(t, first.Code, second.Code)

	_, err := f.scan(t, f.alice.ID, payloadOf(t, first), at(10, 6))
	require.ErrorIs(t, err, ErrQRMismatch)

	_, err = f.scan(t, f.alice.ID, payloadOf(t, second), at(10, 6))
	require.NoError(t, err)
}

func TestDoubleScan(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, at(10, 0))

	_, err := f.scan(t, f.alice.ID, payloadOf(t, issued), at(10, 1))
	require.NoError(t, err)

	_, err = f.scan(t, f.alice.ID, payloadOf(t, issued), at(10, 3))
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestNotEnrolled(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, at(10, 0))

	bob, err := f.store.UpsertStudent(context.Background(), Student{Matricula: "B002"})
	require.NoError(t, err)

	_, err = f.scan(t, bob.ID, payloadOf(t, issued), at(10, 1))
	require.ErrorIs(t, err, ErrNotEnrolled)

	records, err := f.store.ListByClass(context.Background(), f.class.ID)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestScanAfterEndWithUnexpiredCode(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.UpdateQRDuration(context.Background(), teacherID, f.class.ID, 120))
	issued := f.issue(t, at(10, 50))
	require.True(t, issued.ActiveUntil.After(at(11, 30)))

	_, err := f.scan(t, f.alice.ID, payloadOf(t, issued), at(11, 1))
	require.ErrorIs(t, err, ErrOutsideAccessWindow)
}

func TestScanTooEarly(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, at(9, 50))

	_, err := f.scan(t, f.alice.ID, payloadOf(t, issued), at(9, 57))
	require.ErrorIs(t, err, ErrOutsideAccessWindow)
}

func TestExpiredCode(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, at(10, 0))

	_, err := f.scan(t, f.alice.ID, payloadOf(t, issued), at(10, 31))
	require.ErrorIs(t, err, ErrQRExpired)
}

func TestScanErrorsInOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.scan(t, f.alice.ID, "not json", at(10, 1))
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = f.scan(t, f.alice.ID, `{"classId":"missing","qrCode":"x"}`, at(10, 1))
	require.ErrorIs(t, err, ErrClassNotFound)

	// no code issued yet
	raw, err := EncodePayload(Payload{ClassID: f.class.ID, Code: "guess"})
	require.NoError(t, err)
	_, err = f.scan(t, f.alice.ID, raw, at(10, 1))
	require.ErrorIs(t, err, ErrQRMismatch)
}

func TestScanRejectsPayloadForOtherClass(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, at(10, 0))
	f.clock.Set(at(10, 1))

	_, err := f.svc.RegisterScan(context.Background(), ScanRequest{
		StudentID: f.alice.ID,
		ClassID:   "other",
		Payload:   payloadOf(t, issued),
	})
	require.ErrorIs(t, err, ErrQRMismatch)
}

func TestConcurrentScansRegisterOnce(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, at(10, 0))
	f.clock.Set(at(10, 2))
	payload := payloadOf(t, issued)

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RegisterScan(context.Background(), ScanRequest{StudentID: f.alice.ID, Payload: payload})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyRegistered):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, n-1, conflicts)
}

func TestCorrectAttendance(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, at(10, 0))
	out, err := f.scan(t, f.alice.ID, payloadOf(t, issued), at(10, 1))
	require.NoError(t, err)

	// corrections ignore the access window
	f.clock.Set(at(18, 0))
	rec, err := f.svc.CorrectAttendance(context.Background(), teacherID, out.RecordID, StatusLate)
	require.NoError(t, err)
	require.Equal(t, StatusLate, rec.Status)
	require.True(t, rec.IsManual)

	records, err := f.store.ListByClass(context.Background(), f.class.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, out.RecordID, records[0].ID)

	_, err = f.svc.CorrectAttendance(context.Background(), teacherID, out.RecordID, Status("EXCUSED"))
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.CorrectAttendance(context.Background(), teacherID, "nope", StatusAbsent)
	require.ErrorIs(t, err, ErrAttendanceNotFound)

	_, err = f.svc.CorrectAttendance(context.Background(), "teacher-2", out.RecordID, StatusAbsent)
	require.ErrorIs(t, err, ErrAttendanceNotFound)
}

func TestMarkManualConflictsWithScan(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.MarkManual(context.Background(), teacherID, f.class.ID, f.alice.ID, StatusLate)
	require.NoError(t, err)
	require.True(t, rec.IsManual)

	issued := f.issue(t, at(10, 0))
	_, err = f.scan(t, f.alice.ID, payloadOf(t, issued), at(10, 1))
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestIssueQRRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IssueQR(context.Background(), "teacher-2", f.class.ID)
	require.ErrorIs(t, err, ErrClassNotFound)

	_, err = f.svc.IssueQR(context.Background(), teacherID, "missing")
	require.ErrorIs(t, err, ErrClassNotFound)
}

type captureQueue struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (c *captureQueue) Publish(_ context.Context, msg queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

type countingObserver struct {
	outcomes map[string]int
	issued   int
}

func (o *countingObserver) ScanOutcome(code string) { o.outcomes[code]++ }
func (o *countingObserver) QRIssued()               { o.issued++ }
func (o *countingObserver) Correction()             {}

func TestScanPublishesAndObserves(t *testing.T) {
	pub := &captureQueue{}
	obs := &countingObserver{outcomes: map[string]int{}}
	f := newFixture(t, WithPublisher(pub), WithObserver(obs))
	issued := f.issue(t, at(10, 0))

	_, err := f.scan(t, f.alice.ID, payloadOf(t, issued), at(10, 1))
	require.NoError(t, err)
	_, err = f.scan(t, f.alice.ID, payloadOf(t, issued), at(10, 2))
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	require.Len(t, pub.msgs, 1)
	require.Equal(t, queue.TypeAttendanceRecorded, pub.msgs[0].Type)
	require.Equal(t, 1, obs.issued)
	require.Equal(t, 1, obs.outcomes["registered"])
	require.Equal(t, 1, obs.outcomes["already_registered"])
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) IsEnrolled(context.Context, string, string) (bool, error) {
	return false, errors.New("connection reset")
}

func TestStorageFailureSurfacesAsUnavailable(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, at(10, 0))

	svc := NewService(failingStore{f.store}, WithClock(f.clock))
	f.clock.Set(at(10, 1))
	_, err := svc.RegisterScan(context.Background(), ScanRequest{StudentID: f.alice.ID, Payload: payloadOf(t, issued)})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.Equal(t, "storage_unavailable", CodeOf(err))
}
