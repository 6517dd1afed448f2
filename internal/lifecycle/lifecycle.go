// Package lifecycle tracks one operator action through
// idle -> pending -> (succeeded | failed) -> idle.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type State int

const (
	Idle State = iota
	Pending
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome is the terminal state of the most recent completed call.
type Outcome struct {
	State    State         `json:"state"`
	Err      string        `json:"error,omitempty"`
	Finished time.Time     `json:"finished"`
	Duration time.Duration `json:"duration"`
}

// Tracker is safe for concurrent use. Overlapping Do calls are not
// serialized or deduplicated; the last one to finish sets Last.
type Tracker struct {
	mu       sync.Mutex
	inflight int
	last     Outcome
	now      func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Busy reports whether at least one call is pending.
func (t *Tracker) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight > 0
}

// State is Pending while any call runs, Idle otherwise.
func (t *Tracker) State() State {
	if t.Busy() {
		return Pending
	}
	return Idle
}

// Last returns the outcome of the most recently finished call.
func (t *Tracker) Last() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Do runs fn inside the pending state. The return to idle happens on every
// exit path; a panic in fn is recorded as Failed and re-raised.
func (t *Tracker) Do(ctx context.Context, fn func(context.Context) error) (err error) {
	start := t.begin()
	defer func() {
		if p := recover(); p != nil {
			t.end(start, fmt.Errorf("panic: %v", p))
			panic(p)
		}
		t.end(start, err)
	}()
	return fn(ctx)
}

func (t *Tracker) begin() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight++
	return t.now()
}

func (t *Tracker) end(start time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight--
	now := t.now()
	o := Outcome{State: Succeeded, Finished: now, Duration: now.Sub(start)}
	if err != nil {
		o.State = Failed
		o.Err = err.Error()
	}
	t.last = o
}
