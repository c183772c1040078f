package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowBurstThenDeny(t *testing.T) {
	rl := New(10, 3)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("203.0.113.7"), "request %d", i)
	}
	assert.False(t, rl.Allow("203.0.113.7"))

	// Other clients have their own bucket.
	assert.True(t, rl.Allow("198.51.100.2"))

	// 10/min refills one token every 6s.
	now = now.Add(7 * time.Second)
	assert.True(t, rl.Allow("203.0.113.7"))
	assert.False(t, rl.Allow("203.0.113.7"))
}

func TestDisabled(t *testing.T) {
	rl := New(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("client"))
	}
	assert.Equal(t, 0, rl.Len())
}

func TestIdleBucketsPruned(t *testing.T) {
	rl := New(10, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	assert.Equal(t, 2, rl.Len())

	now = now.Add(idleTTL + time.Minute)
	rl.Allow("c")
	assert.Equal(t, 1, rl.Len())
}
