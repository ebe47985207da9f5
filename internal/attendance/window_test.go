package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccessWindowBoundaries(t *testing.T) {
	class := ClassSession{StartTime: at(10, 0), EndTime: at(11, 0)}
	w := DefaultWindow()

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"three minutes early", at(9, 57), false},
		{"lead boundary", at(9, 58), true},
		{"start", at(10, 0), true},
		{"end", at(11, 0), true},
		{"just after end", at(11, 0).Add(time.Nanosecond), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, w.Within(class, tc.now))
		})
	}
}
