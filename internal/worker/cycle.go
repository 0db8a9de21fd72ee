package worker

import (
	"time"
)

// Cycle is the deadline token handed to Schedulable.Process. Long running
// processors should check Expired and call Pause between steps; nothing
// interrupts a Process call that ignores it.
type Cycle struct {
	thread   *Thread
	deadline time.Time
	pauses   int
}

// NewCycle creates a token that is not attached to any thread. A zero
// deadline means unbounded. Pause on such a token never blocks.
func NewCycle(deadline time.Time) *Cycle {
	return &Cycle{deadline: deadline}
}

// Deadline returns the end of the current window. ok is false when the
// window is unbounded. An attached token follows Resume calls made while
// the processor runs.
func (c *Cycle) Deadline() (deadline time.Time, ok bool) {
	if c == nil {
		return time.Time{}, false
	}
	if c.thread != nil {
		deadline = c.thread.Deadline()
	} else {
		deadline = c.deadline
	}
	return deadline, !deadline.IsZero()
}

// Expired reports whether the deadline has passed.
func (c *Cycle) Expired() bool {
	d, ok := c.Deadline()
	if !ok {
		return false
	}
	return !c.now().Before(d)
}

// Remaining returns the time left before the deadline, 0 once expired.
// ok is false for unbounded windows.
func (c *Cycle) Remaining() (left time.Duration, ok bool) {
	d, ok := c.Deadline()
	if !ok {
		return 0, false
	}
	if left = d.Sub(c.now()); left < 0 {
		left = 0
	}
	return left, true
}

// Killing reports whether the owning thread was asked to stop.
func (c *Cycle) Killing() bool {
	if c == nil || c.thread == nil {
		return false
	}
	return c.thread.State() == StateKilling
}

// Pause yields to the scheduler: when the deadline has passed, or a pause
// was requested, it blocks until the thread is resumed or killed. Returns
// true if it actually blocked.
func (c *Cycle) Pause() bool {
	if c == nil || c.thread == nil {
		return false
	}
	blocked := c.thread.pauseCheck()
	if blocked {
		c.pauses++
	}
	return blocked
}

// Pauses returns how many times Pause blocked.
func (c *Cycle) Pauses() int {
	if c == nil {
		return 0
	}
	return c.pauses
}

func (c *Cycle) now() time.Time {
	if c.thread != nil {
		return c.thread.now()
	}
	return time.Now()
}
