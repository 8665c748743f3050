package breaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vocalgap/vocalgap/internal/breaker"
)

var errBoom = errors.New("boom")

// fakeClock is a manually advanced clock for cool-down tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time         { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clk *fakeClock) *breaker.Breaker {
	return breaker.New(breaker.Config{
		Name:      "test",
		Threshold: 3,
		CoolDown:  time.Minute,
		Clock:     clk.now,
	})
}

func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clk)

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
	}
	if got := b.State(); got != breaker.Open {
		t.Fatalf("state = %v, want open", got)
	}
	if err := b.Do(func() error { t.Fatal("fn must not run while open"); return nil }); !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clk)

	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return errBoom })
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("success call: %v", err)
	}
	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return errBoom })
	if got := b.State(); got != breaker.Closed {
		t.Fatalf("state = %v, want closed (counter should have reset)", got)
	}
}

func TestBreaker_ProbeClosesOrReopens(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		probeErr  error
		wantState breaker.State
	}{
		{name: "successful probe closes", probeErr: nil, wantState: breaker.Closed},
		{name: "failed probe re-opens", probeErr: errBoom, wantState: breaker.Open},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clk := &fakeClock{t: time.Unix(0, 0)}
			b := newTestBreaker(clk)
			for i := 0; i < 3; i++ {
				_ = b.Do(func() error { return errBoom })
			}

			clk.advance(2 * time.Minute)
			if got := b.State(); got != breaker.HalfOpen {
				t.Fatalf("state after cool-down = %v, want half-open", got)
			}

			err := b.Do(func() error { return tt.probeErr })
			if !errors.Is(err, tt.probeErr) {
				t.Fatalf("probe err = %v, want %v", err, tt.probeErr)
			}
			if got := b.State(); got != tt.wantState {
				t.Fatalf("state after probe = %v, want %v", got, tt.wantState)
			}
		})
	}
}

func TestBreaker_ResetClears(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		_ = b.Do(func() error { return errBoom })
	}
	b.Reset()
	if got := b.State(); got != breaker.Closed {
		t.Fatalf("state = %v, want closed after Reset", got)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}
