package tally

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"classattend/internal/attendance"
	"classattend/internal/queue"
)

func newTally(t *testing.T) *Tally {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Hour)
}

func TestApplyCountsEachRecordOnce(t *testing.T) {
	tl := newTally(t)
	ctx := context.Background()

	rec := attendance.Record{ID: "r1", ClassID: "c1", StudentID: "s1", Status: attendance.StatusPresent}
	msg, err := queue.NewMessage(queue.TypeAttendanceRecorded, rec)
	require.NoError(t, err)

	require.NoError(t, tl.Apply(ctx, msg))
	require.NoError(t, tl.Apply(ctx, msg))

	counts, err := tl.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[attendance.StatusPresent])
}

func TestApplyCorrectionMovesCount(t *testing.T) {
	tl := newTally(t)
	ctx := context.Background()

	rec := attendance.Record{ID: "r1", ClassID: "c1", Status: attendance.StatusPresent}
	require.NoError(t, tl.Recorded(ctx, rec))

	rec.Status = attendance.StatusLate
	msg, err := queue.NewMessage(queue.TypeAttendanceCorrected, attendance.Correction{Record: rec, Previous: attendance.StatusPresent})
	require.NoError(t, err)
	require.NoError(t, tl.Apply(ctx, msg))

	counts, err := tl.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(0), counts[attendance.StatusPresent])
	require.Equal(t, int64(1), counts[attendance.StatusLate])
}

func TestApplyIgnoresUnknownTypes(t *testing.T) {
	tl := newTally(t)
	require.NoError(t, tl.Apply(context.Background(), queue.Message{Type: "other"}))

	counts, err := tl.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.Empty(t, counts)
}

func correction(t *testing.T, rec attendance.Record, prev attendance.Status) queue.Message {
	t.Helper()
	msg, err := queue.NewMessage(queue.TypeAttendanceCorrected, attendance.Correction{Record: rec, Previous: prev})
	require.NoError(t, err)
	return msg
}

func TestRedeliveredCorrectionAppliesOnce(t *testing.T) {
	tl := newTally(t)
	ctx := context.Background()

	rec := attendance.Record{ID: "r1", ClassID: "c1", Status: attendance.StatusPresent}
	require.NoError(t, tl.Recorded(ctx, rec))

	rec.Status = attendance.StatusAbsent
	msg := correction(t, rec, attendance.StatusPresent)
	require.NoError(t, tl.Apply(ctx, msg))
	require.NoError(t, tl.Apply(ctx, msg))

	counts, err := tl.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(0), counts[attendance.StatusPresent])
	require.Equal(t, int64(1), counts[attendance.StatusAbsent])
}

func TestCorrectionBeforeRecordedNeverGoesNegative(t *testing.T) {
	tl := newTally(t)
	ctx := context.Background()

	rec := attendance.Record{ID: "r1", ClassID: "c1", Status: attendance.StatusLate}
	require.NoError(t, tl.Apply(ctx, correction(t, rec, attendance.StatusPresent)))

	rec.Status = attendance.StatusPresent
	recorded, err := queue.NewMessage(queue.TypeAttendanceRecorded, rec)
	require.NoError(t, err)
	require.NoError(t, tl.Apply(ctx, recorded))

	counts, err := tl.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(0), counts[attendance.StatusPresent])
	require.Equal(t, int64(1), counts[attendance.StatusLate])
}
