package devices

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"classattend/internal/attendance"
	"classattend/internal/clock"
	"classattend/internal/store/storetest"
)

func newService() (*Service, *MemoryStore, *clock.Manual) {
	store := NewMemoryStore()
	clk := clock.NewManual(time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC))
	return NewService(store, clk, zerolog.Nop()), store, clk
}

func TestStartClosesPreviousSessionOnDevice(t *testing.T) {
	svc, store, clk := newService()
	ctx := context.Background()

	first, err := svc.Start(ctx, "ana", "phone-1", "10.0.0.1", "Mozilla/5.0")
	require.NoError(t, err)
	require.True(t, first.IsActive)

	clk.Advance(time.Hour)
	second, err := svc.Start(ctx, "beto", "phone-1", "10.0.0.2", "Mozilla/5.0")
	require.NoError(t, err)

	active, err := svc.Active(ctx, "ana")
	require.NoError(t, err)
	require.Empty(t, active)

	prev := store.sessions[first.ID]
	require.False(t, prev.IsActive)
	require.NotNil(t, prev.LogoutTime)
	require.Equal(t, second.LoginTime, *prev.LogoutTime)

	active, err = svc.Active(ctx, "beto")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "10.0.0.2", active[0].IPAddress)
}

func TestStartValidatesDevice(t *testing.T) {
	svc, _, _ := newService()
	_, err := svc.Start(context.Background(), "ana", "  ", "", "")
	require.ErrorIs(t, err, attendance.ErrInvalidInput)
}

func TestEnd(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	_, err := svc.End(ctx, "ana")
	require.ErrorIs(t, err, attendance.ErrSessionNotFound)

	_, err = svc.Start(ctx, "ana", "phone-1", "", "")
	require.NoError(t, err)
	_, err = svc.Start(ctx, "ana", "laptop", "", "")
	require.NoError(t, err)

	n, err := svc.End(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestRepositoryClose(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(storetest.Open(func(string, []driver.NamedValue) (driver.Result, error) {
		return driver.RowsAffected(3), nil
	}))
	n, err := repo.CloseForStudent(ctx, uuid.NewString(), time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	down := NewRepository(storetest.Open(storetest.Fail(errors.New("connection reset"))))
	_, err = down.CloseForStudent(ctx, uuid.NewString(), time.Now())
	require.ErrorIs(t, err, attendance.ErrStorageUnavailable)
}
