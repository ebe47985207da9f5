package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, New("production", "debug").GetLevel())
	require.Equal(t, zerolog.InfoLevel, New("production", "nonsense").GetLevel())
}
