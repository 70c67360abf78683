// Package vclock is a simulated, monotonic millisecond clock with one-shot timers.
//
// The clock only moves when it is advanced. Timers fire from Advance and
// AdvanceTo in deadline order; while a callback runs, Now returns the
// deadline of the firing timer. A Clock is not safe for concurrent use, all
// calls must come from the goroutine that owns the simulated timeline.
package vclock

import (
	"github.com/pkg/errors"
)

// Unarmed is the expire time of a timer without a pending deadline.
const Unarmed int64 = -1

var (
	// ErrTimerLimit is returned by NewTimer if the clock refuses another timer.
	ErrTimerLimit = errors.New("timer limit reached")
	// ErrClosed is returned by NewTimer after the clock has been closed.
	ErrClosed = errors.New("clock closed")
)

// Clock is the simulated time source.
type Clock struct {
	now    int64
	paused bool
	closed bool
	// limit is the max count of allocated timers, 0 means unlimited.
	limit  int
	timers []*Timer
	// seq orders timers with equal deadlines by arming order.
	seq uint64
}

// Option configures a Clock.
type Option func(c *Clock)

// WithTimerLimit limits the count of timers which can be allocated at the same time.
func WithTimerLimit(n int) Option {
	return func(c *Clock) { c.limit = n }
}

// WithStart sets the initial simulated time (ms).
func WithStart(ms int64) Option {
	return func(c *Clock) { c.now = ms }
}

// WithPaused creates the clock in paused state.
func WithPaused() Option {
	return func(c *Clock) { c.paused = true }
}

// New creates a new clock starting at 0 ms.
func New(opts ...Option) *Clock {
	c := &Clock{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Now returns the current simulated time in ms.
func (c *Clock) Now() int64 {
	return c.now
}

// Pause marks the clock as paused. A paused clock is not moved by a Pacer,
// but explicit calls to Advance still step it.
func (c *Clock) Pause() { c.paused = true }

// Resume clears the paused state.
func (c *Clock) Resume() { c.paused = false }

// Paused reports whether the clock is paused.
func (c *Clock) Paused() bool { return c.paused }

// NewTimer allocates a one-shot timer calling cb when it expires.
// The timer is created unarmed.
func (c *Clock) NewTimer(cb func()) (*Timer, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if cb == nil {
		return nil, errors.New("timer callback is nil")
	}
	if c.limit > 0 && len(c.timers) >= c.limit {
		return nil, errors.Wrapf(ErrTimerLimit, "%d timers allocated", len(c.timers))
	}

	t := &Timer{clock: c, cb: cb, expire: Unarmed}
	c.timers = append(c.timers, t)
	return t, nil
}

// Timers returns the count of allocated timers.
func (c *Clock) Timers() int {
	return len(c.timers)
}

// Next returns the earliest pending deadline.
func (c *Clock) Next() (int64, bool) {
	if t := c.earliest(); t != nil {
		return t.expire, true
	}
	return 0, false
}

// Advance moves the clock forward by ms milliseconds, firing every timer
// that expires on the way. Negative values are ignored.
func (c *Clock) Advance(ms int64) {
	if ms < 0 {
		return
	}
	c.AdvanceTo(c.now + ms)
}

// AdvanceTo moves the clock forward to the absolute time t, firing every
// timer with a deadline at or before t. Timers whose deadline already lies in
// the past fire at the current time. The clock never goes backwards.
func (c *Clock) AdvanceTo(t int64) {
	if t < c.now {
		t = c.now
	}

	for {
		tm := c.earliest()
		if tm == nil || tm.expire > t {
			break
		}

		if tm.expire > c.now {
			c.now = tm.expire
		}
		tm.expire = Unarmed
		tm.cb()
	}

	c.now = t
}

// Close frees every timer and refuses new ones.
func (c *Clock) Close() error {
	for _, t := range c.timers {
		t.expire = Unarmed
		t.freed = true
	}
	c.timers = nil
	c.closed = true
	return nil
}

func (c *Clock) earliest() *Timer {
	var e *Timer
	for _, t := range c.timers {
		if t.expire == Unarmed {
			continue
		}
		if e == nil || t.expire < e.expire || (t.expire == e.expire && t.seq < e.seq) {
			e = t
		}
	}
	return e
}

func (c *Clock) remove(t *Timer) {
	for i, tm := range c.timers {
		if tm == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

// Timer is a one-shot timer bound to a Clock.
type Timer struct {
	clock  *Clock
	cb     func()
	expire int64
	seq    uint64
	freed  bool
}

// Mod arms the timer for the absolute deadline (ms). A pending deadline is
// replaced, the timer never holds more than one.
func (t *Timer) Mod(deadline int64) {
	if t.freed {
		return
	}
	if deadline < 0 {
		deadline = 0
	}
	t.clock.seq++
	t.seq = t.clock.seq
	t.expire = deadline
}

// Del cancels the pending deadline, if any.
func (t *Timer) Del() {
	t.expire = Unarmed
}

// Pending reports whether a deadline is armed.
func (t *Timer) Pending() bool {
	return t.expire != Unarmed
}

// ExpireTime returns the pending deadline or Unarmed.
func (t *Timer) ExpireTime() int64 {
	return t.expire
}

// Free cancels the timer and releases it from its clock.
func (t *Timer) Free() {
	if t.freed {
		return
	}
	t.expire = Unarmed
	t.freed = true
	t.clock.remove(t)
}
