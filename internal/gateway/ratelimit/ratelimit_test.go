package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowConsumesAndRefills(t *testing.T) {
	l := New(2, time.Minute)
	defer l.Close()
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "clients have independent buckets")

	now = now.Add(30 * time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	l := New(0, time.Minute)
	defer l.Close()
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("client"))
	}
	assert.False(t, l.Enabled())
	assert.Zero(t, l.Len())

	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Allow("client"))
}

func TestEvictAndReset(t *testing.T) {
	l := New(5, time.Minute)
	defer l.Close()
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(3 * time.Minute)
	l.Allow("new")
	l.evict(now.Add(-2 * time.Minute))
	assert.Equal(t, 1, l.Len())

	l.Reset("new")
	assert.Zero(t, l.Len())
	assert.Equal(t, 12*time.Second, l.RetryAfter())
}
