package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stepFunc func(context.Context) error

func (f stepFunc) Migrate(ctx context.Context) error { return f(ctx) }

func TestMigrateStopsAtFirstFailure(t *testing.T) {
	var ran []int
	step := func(i int, err error) Migrator {
		return stepFunc(func(context.Context) error {
			ran = append(ran, i)
			return err
		})
	}
	boom := errors.New("boom")
	err := Migrate(context.Background(), step(0, nil), step(1, boom), step(2, nil))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{0, 1}, ran)
}
