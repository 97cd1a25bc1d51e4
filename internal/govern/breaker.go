package govern

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while a host's breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState is the circuit state for one host.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig holds the failure threshold and cooldown schedule.
type BreakerConfig struct {
	Threshold   int           // consecutive failures before opening
	Cooldown    time.Duration // initial open duration
	CooldownCap time.Duration // doubling stops here
}

// DefaultBreakerConfig matches the documented defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 10, Cooldown: 60 * time.Second, CooldownCap: 600 * time.Second}
}

// breaker is the per-host state machine. Timeouts, 5xx, 403, and 429 all
// count as failures; any success resets the counter.
type breaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	state     BreakerState
	failures  int
	openSince time.Time
	cooldown  time.Duration
	probing   bool
	now       func() time.Time
}

// BreakerSet owns one breaker per host key. Lock scope is per-host; the
// set-level mutex only guards map access.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*breaker
	now      func() time.Time
}

// NewBreakerSet creates a BreakerSet with the given config.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.CooldownCap < cfg.Cooldown {
		cfg.CooldownCap = 10 * cfg.Cooldown
	}
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*breaker), now: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *BreakerSet) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	for _, b := range s.breakers {
		b.now = now
	}
}

func (s *BreakerSet) get(host string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[host]
	if !ok {
		b = &breaker{cfg: s.cfg, cooldown: s.cfg.Cooldown, now: s.now}
		s.breakers[host] = b
	}
	return b
}

// Allow reports whether an invocation against host may proceed. While
// open it returns ErrCircuitOpen; once the cooldown elapses it admits
// exactly one probe at a time (half-open).
func (s *BreakerSet) Allow(host string) error {
	b := s.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.openSince) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = HalfOpen
		b.probing = true
		return nil
	case HalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Record feeds an invocation outcome back into host's breaker.
func (s *BreakerSet) Record(host string, ok bool) {
	b := s.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.state = Closed
		b.failures = 0
		b.probing = false
		b.cooldown = b.cfg.Cooldown
		return
	}

	if b.state == HalfOpen {
		// Failed probe: reopen with a doubled, capped cooldown.
		b.state = Open
		b.openSince = b.now()
		b.probing = false
		b.cooldown *= 2
		if b.cooldown > b.cfg.CooldownCap {
			b.cooldown = b.cfg.CooldownCap
		}
		return
	}

	b.failures++
	if b.failures >= b.cfg.Threshold {
		b.state = Open
		b.openSince = b.now()
	}
}

// State returns host's current state without side effects.
func (s *BreakerSet) State(host string) BreakerState {
	b := s.get(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot lists hosts whose breakers left the closed state, for the
// run summary.
func (s *BreakerSet) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for host, b := range s.breakers {
		b.mu.Lock()
		if b.state != Closed {
			out[host] = b.state.String()
		}
		b.mu.Unlock()
	}
	return out
}
