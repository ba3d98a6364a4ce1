// Package timeout implements the cooperative abort facility that the
// tracing inspector polls from its step hook: an optional
// wall-clock deadline plus an optional cross-goroutine cancel signal,
// checked every N steps rather than on every single opcode.
package timeout

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrDeadlineExceeded is returned once the configured wall-clock deadline
// has passed.
var ErrDeadlineExceeded = errors.New("timeout: deadline exceeded")

// ErrCancelled is returned once the shared cancel signal has been tripped.
var ErrCancelled = errors.New("timeout: cancelled")

// Deadline is a cooperative abort check. The zero value never fires.
type Deadline struct {
	deadline time.Time
	hasDeadline bool

	cancel *atomic.Bool

	interval uint64
	steps    uint64
}

// NewDeadline constructs a Deadline that fires after d elapses, checked at
// most once every interval steps. interval == 0 means "check every step".
func NewDeadline(d time.Duration, interval uint64) *Deadline {
	return &Deadline{
		deadline:    time.Now().Add(d),
		hasDeadline: d > 0,
		interval:    interval,
	}
}

// WithCancelSignal attaches a shared cancel flag; setting it from any
// goroutine causes the next Check call to return ErrCancelled.
func (d *Deadline) WithCancelSignal(sig *atomic.Bool) *Deadline {
	d.cancel = sig
	return d
}

// Check should be called from the per-opcode hook. It increments the
// internal step counter and only evaluates the deadline/signal every
// interval steps (or every step, if interval is 0), to keep the common case
// cheap.
func (d *Deadline) Check() error {
	if d == nil {
		return nil
	}
	d.steps++
	if d.interval > 1 && d.steps%d.interval != 0 {
		return nil
	}
	if d.cancel != nil && d.cancel.Load() {
		return ErrCancelled
	}
	if d.hasDeadline && time.Now().After(d.deadline) {
		return ErrDeadlineExceeded
	}
	return nil
}
