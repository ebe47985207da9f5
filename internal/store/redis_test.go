package store

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisHealthy(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)

	r := NewRedis(server.Addr())
	defer r.Close()
	require.True(t, r.Healthy(context.Background()))

	server.Close()
	require.False(t, r.Healthy(context.Background()))

	var nilRedis *Redis
	require.False(t, nilRedis.Healthy(context.Background()))
}
