package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenDeny(t *testing.T) {
	l := NewLimiter(1, 3)
	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(), "burst token %d", i)
	}
	require.False(t, l.Allow())
}

func TestLimiterRefills(t *testing.T) {
	l := NewLimiter(100, 1)
	require.True(t, l.Allow())
	require.False(t, l.Allow())

	time.Sleep(20 * time.Millisecond)
	require.True(t, l.Allow())
}
