package govern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives breaker time in tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newSet(clock *fakeClock) *BreakerSet {
	s := NewBreakerSet(BreakerConfig{Threshold: 3, Cooldown: 60 * time.Second, CooldownCap: 240 * time.Second})
	s.SetClock(clock.now)
	return s
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newSet(clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Allow("a.example.com"), "invocation %d", i)
		s.Record("a.example.com", false)
	}
	assert.Equal(t, Open, s.State("a.example.com"))
	assert.ErrorIs(t, s.Allow("a.example.com"), ErrCircuitOpen)
}

func TestSuccessResetsCounter(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newSet(clock)

	s.Record("h", false)
	s.Record("h", false)
	s.Record("h", true) // reset
	s.Record("h", false)
	s.Record("h", false)
	assert.Equal(t, Closed, s.State("h"))
	s.Record("h", false)
	assert.Equal(t, Open, s.State("h"))
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newSet(clock)
	for i := 0; i < 3; i++ {
		s.Record("h", false)
	}
	require.Equal(t, Open, s.State("h"))

	// Before cooldown: still blocked.
	clock.advance(30 * time.Second)
	assert.ErrorIs(t, s.Allow("h"), ErrCircuitOpen)

	// After cooldown: exactly one probe goes through.
	clock.advance(31 * time.Second)
	require.NoError(t, s.Allow("h"))
	assert.Equal(t, HalfOpen, s.State("h"))
	assert.ErrorIs(t, s.Allow("h"), ErrCircuitOpen, "second concurrent probe blocked")

	// Probe success closes the breaker.
	s.Record("h", true)
	assert.Equal(t, Closed, s.State("h"))
	assert.NoError(t, s.Allow("h"))
}

func TestFailedProbeDoublesCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newSet(clock)
	for i := 0; i < 3; i++ {
		s.Record("h", false)
	}

	// First cooldown is 60s.
	clock.advance(61 * time.Second)
	require.NoError(t, s.Allow("h"))
	s.Record("h", false) // probe fails, cooldown doubles to 120s

	clock.advance(61 * time.Second)
	assert.ErrorIs(t, s.Allow("h"), ErrCircuitOpen, "60s is no longer enough")
	clock.advance(60 * time.Second)
	require.NoError(t, s.Allow("h"))
	s.Record("h", false) // doubles to 240s (the cap)

	clock.advance(239 * time.Second)
	assert.ErrorIs(t, s.Allow("h"), ErrCircuitOpen)
	clock.advance(2 * time.Second)
	require.NoError(t, s.Allow("h"))
	s.Record("h", false) // capped, stays 240s
	clock.advance(241 * time.Second)
	assert.NoError(t, s.Allow("h"))
}

func TestBreakersIndependentPerHost(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newSet(clock)
	for i := 0; i < 3; i++ {
		s.Record("bad.example.com", false)
	}
	assert.ErrorIs(t, s.Allow("bad.example.com"), ErrCircuitOpen)
	assert.NoError(t, s.Allow("good.example.com"))

	snap := s.Snapshot()
	_, ok := snap["bad.example.com"]
	assert.True(t, ok)
	_, ok = snap["good.example.com"]
	assert.False(t, ok)
}

func TestAllowUnknownHostClosed(t *testing.T) {
	s := NewBreakerSet(DefaultBreakerConfig())
	require.NoError(t, s.Allow("fresh.example.com"))
	assert.Equal(t, Closed, s.State("fresh.example.com"))
}
