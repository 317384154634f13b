package redis

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, coolDown time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)}
	b := NewBreaker(maxFailures, coolDown)
	b.now = clk.now
	return b, clk
}

var errFail = errors.New("fail")

func failing() error { return errFail }
func passing() error { return nil }

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	if b.State() != BreakerClosed {
		t.Errorf("expected closed, got %v", b.State())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		if err := b.Do(failing); err != errFail {
			t.Fatalf("call %d: expected errFail, got %v", i, err)
		}
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected open after 3 failures, got %v", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_ProbeAfterCoolDown(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	b.Do(failing)
	b.Do(failing)

	clk.advance(999 * time.Millisecond)
	if err := b.Do(passing); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen before cool-down ends, got %v", err)
	}

	clk.advance(time.Millisecond)
	if err := b.Do(passing); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected closed after successful probe, got %v", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	b.Do(failing)
	b.Do(failing)

	clk.advance(time.Second)
	if err := b.Do(failing); err != errFail {
		t.Fatalf("expected probe error, got %v", err)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected open after failed probe, got %v", b.State())
	}

	// Cool-down restarts from the failed probe.
	clk.advance(500 * time.Millisecond)
	if err := b.Do(passing); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	b.Do(failing)
	b.Do(failing)
	b.Do(passing)
	b.Do(failing)
	b.Do(failing)

	if b.State() != BreakerClosed {
		t.Errorf("expected closed, got %v", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second)
	var transitions []BreakerState
	b.OnStateChange = func(from, to BreakerState) {
		transitions = append(transitions, to)
	}

	b.Do(failing)
	clk.advance(time.Second)
	b.Do(passing)

	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], transitions[i])
		}
	}
}

func TestBreakerState_String(t *testing.T) {
	cases := map[BreakerState]string{
		BreakerClosed:    "closed",
		BreakerOpen:      "open",
		BreakerHalfOpen:  "half-open",
		BreakerState(42): "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d: expected %q, got %q", int(s), want, s.String())
		}
	}
}
