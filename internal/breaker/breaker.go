// Package breaker provides a three-state circuit breaker
// (closed → open → half-open) used to guard external analysis subprocesses.
//
// The stem separator is the main client: when its binary is missing or its
// model weights are corrupt, every invocation fails after a long startup
// delay. The breaker makes subsequent detection jobs fail fast instead of
// queueing behind doomed subprocess runs.
//
// All methods are safe for concurrent use.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
// cool-down has not yet elapsed.
var ErrOpen = errors.New("breaker: open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards all calls.
	Closed State = iota

	// Open rejects calls immediately with [ErrOpen] until the cool-down
	// elapses.
	Open

	// HalfOpen lets a single probe call through; its outcome decides whether
	// the breaker closes or re-opens.
	HalfOpen
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a [Breaker]. Zero fields take defaults.
type Config struct {
	// Name labels the breaker in log messages.
	Name string

	// Threshold is the number of consecutive failures that trips the
	// breaker. Default: 3.
	Threshold int

	// CoolDown is how long the breaker stays open before allowing a probe.
	// Default: 1 minute.
	CoolDown time.Duration

	// Clock overrides time.Now in tests. Nil means time.Now.
	Clock func() time.Time
}

// Breaker is a consecutive-failure circuit breaker with a single-probe
// half-open state.
type Breaker struct {
	name      string
	threshold int
	coolDown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a [Breaker] from cfg, applying defaults for zero fields.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		coolDown:  cfg.CoolDown,
		now:       cfg.Clock,
	}
}

// Do runs fn if the breaker allows it and feeds the outcome back into the
// breaker state. While open (cool-down pending) it returns [ErrOpen] without
// calling fn.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.settle(err)
	return err
}

// admit decides whether a call may proceed, transitioning open → half-open
// once the cool-down has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return ErrOpen
		}
		b.state = HalfOpen
		b.probing = true
		slog.Info("breaker half-open, probing", "name", b.name)
		return nil
	case HalfOpen:
		if b.probing {
			// A probe is already in flight.
			return ErrOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.state == HalfOpen
	b.probing = false

	if err == nil {
		if wasProbe {
			slog.Info("breaker closed after successful probe", "name", b.name)
		}
		b.state = Closed
		b.failures = 0
		return
	}

	if wasProbe {
		b.state = Open
		b.openedAt = b.now()
		slog.Warn("breaker re-opened, probe failed", "name", b.name, "error", err)
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = Open
		b.openedAt = b.now()
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// State returns the current state. An elapsed cool-down is reported as
// [HalfOpen]; the actual transition happens on the next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.coolDown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [Closed] and clears failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = false
}
