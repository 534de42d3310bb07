package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	req := require.New(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	req.True(rl.Allow("a"))
	req.True(rl.Allow("a"))
	req.False(rl.Allow("a"))
	req.True(rl.Allow("b"))

	now = now.Add(1500 * time.Millisecond)
	req.True(rl.Allow("a"))

	rl.Forget("a")
	req.True(rl.Allow("a"))

	var nilLimiter *RateLimiter
	req.True(nilLimiter.Allow("a"))
}
