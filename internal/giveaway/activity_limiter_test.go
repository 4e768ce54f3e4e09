package giveaway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActivityLimiter_OnePerCooldown(t *testing.T) {
	l := NewActivityLimiter(time.Second)
	t0 := time.UnixMilli(1_700_000_000_000)

	assert.True(t, l.Allow(1, 100, t0))
	assert.False(t, l.Allow(1, 100, t0.Add(200*time.Millisecond)))
	assert.True(t, l.Allow(1, 100, t0.Add(1100*time.Millisecond)))
}

func TestActivityLimiter_KeyedByEventAndCandidate(t *testing.T) {
	l := NewActivityLimiter(time.Minute)
	t0 := time.UnixMilli(1_700_000_000_000)

	assert.True(t, l.Allow(1, 100, t0))
	assert.True(t, l.Allow(1, 200, t0))
	assert.True(t, l.Allow(2, 100, t0))
	assert.False(t, l.Allow(1, 100, t0))
}

func TestActivityLimiter_Forget(t *testing.T) {
	l := NewActivityLimiter(time.Minute)
	t0 := time.UnixMilli(1_700_000_000_000)

	l.Allow(1, 100, t0)
	l.Allow(1, 200, t0)
	l.Allow(2, 100, t0)
	l.Forget(1)

	assert.Equal(t, 1, l.size())
	assert.True(t, l.Allow(1, 100, t0))
}

func TestActivityLimiter_ZeroCooldownNeverLimits(t *testing.T) {
	l := NewActivityLimiter(0)
	t0 := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(1, 100, t0))
	}
}
