// Package gpiokey emulates a (human) keypress.
//
// When the key is triggered through its input line, the outbound interrupt
// line is raised for Latency simulated milliseconds before being dropped
// again. Triggering the key while the line is raised restarts the countdown,
// so the pulse is extended instead of queued.
//
// The level of the outbound line is never stored. It is derived from the
// key's one-shot timer: the line is High exactly while a deadline is pending.
// Every transition drives the line and (re)arms or cancels the timer together,
// which keeps both in step, and Asserted reports the derived level.
package gpiokey

import (
	"github.com/pkg/errors"
	"github.com/womat/debug"

	"gpiokey/pkg/port"
	"gpiokey/pkg/powerdown"
	"gpiokey/pkg/vclock"
)

// TypeName is the device type name, also used as snapshot name.
const TypeName = "gpio-key"

// Latency is the pulse length in simulated ms.
const Latency = 100

var (
	ErrNoClock     = errors.New("gpio-key: no clock")
	ErrNoOutput    = errors.New("gpio-key: no output line")
	ErrNoPublisher = errors.New("gpio-key: no power-down publisher")
)

// Clock is the simulated time source of the platform.
type Clock interface {
	// Now returns the simulated time in ms.
	Now() int64
	// NewTimer allocates a one-shot timer.
	NewTimer(cb func()) (*vclock.Timer, error)
}

// Notifier publishes the platform power-down event.
type Notifier interface {
	Subscribe(fn func()) powerdown.ID
	Unsubscribe(id powerdown.ID) bool
}

// Options are the device properties. They are fixed once the key is created.
type Options struct {
	// RegisterPowerdownNotifier triggers the key on platform power-down.
	RegisterPowerdownNotifier bool `yaml:"registerpowerdownnotifier"`
}

// Host holds the platform services a key is attached to.
type Host struct {
	Clock  Clock
	Output port.Line
	// Powerdown is only required if Options.RegisterPowerdownNotifier is set.
	Powerdown Notifier
}

// Key is a gpio key device.
type Key struct {
	clock Clock
	irq   port.Line
	timer *vclock.Timer

	powerdown  Notifier
	subscribed bool
	sub        powerdown.ID

	// closed keys ignore every event, their line stays where Close left it.
	closed bool
}

// New creates a key with its output line low and no pending deadline.
// On error nothing is left allocated.
func New(opts Options, host Host) (*Key, error) {
	if host.Clock == nil {
		return nil, ErrNoClock
	}
	if host.Output == nil {
		return nil, ErrNoOutput
	}
	if opts.RegisterPowerdownNotifier && host.Powerdown == nil {
		return nil, ErrNoPublisher
	}

	k := &Key{
		clock: host.Clock,
		irq:   host.Output,
	}

	t, err := host.Clock.NewTimer(k.expired)
	if err != nil {
		return nil, errors.Wrap(err, "gpio-key: can't allocate timer")
	}
	k.timer = t

	if opts.RegisterPowerdownNotifier {
		k.powerdown = host.Powerdown
		k.sub = host.Powerdown.Subscribe(k.notify)
		k.subscribed = true
	}

	k.irq.Set(port.Low)
	return k, nil
}

// SetIRQ is the handler of the input lines. The key has a single input (n = 0);
// any event on it triggers the key, the level isn't evaluated.
func (k *Key) SetIRQ(n int, level int) {
	if n != 0 {
		debug.TraceLog.Printf("gpio-key: ignore event on input %d", n)
		return
	}
	k.Trigger()
}

// Trigger raises the output line and (re)arms the timer for now + Latency.
func (k *Key) Trigger() {
	if k.closed {
		return
	}
	k.irq.Set(port.High)
	k.timer.Mod(k.clock.Now() + Latency)
	debug.TraceLog.Printf("gpio-key: triggered at %d ms, release at %d ms", k.clock.Now(), k.timer.ExpireTime())
}

// expired is the timer callback, it drops the output line.
func (k *Key) expired() {
	k.irq.Set(port.Low)
	k.timer.Del()
	debug.TraceLog.Printf("gpio-key: released at %d ms", k.clock.Now())
}

func (k *Key) notify() {
	debug.DebugLog.Print("gpio-key: power-down event")
	k.Trigger()
}

// Reset cancels a pending deadline and drops the output line.
func (k *Key) Reset() {
	if k.closed {
		return
	}
	k.timer.Del()
	k.irq.Set(port.Low)
}

// Asserted reports whether the output line is High, i.e. a deadline is pending.
func (k *Key) Asserted() bool {
	return k.timer.Pending()
}

// Level returns the output level derived from the timer state.
func (k *Key) Level() port.StateType {
	if k.Asserted() {
		return port.High
	}
	return port.Low
}

// Deadline returns the pending deadline in simulated ms.
func (k *Key) Deadline() (int64, bool) {
	if !k.timer.Pending() {
		return 0, false
	}
	return k.timer.ExpireTime(), true
}

// PowerdownSubscribed reports whether the key listens to the power-down event.
func (k *Key) PowerdownSubscribed() bool {
	return k.subscribed
}

// Close releases the timer and withdraws the power-down subscription.
// The output line is dropped if it was raised.
func (k *Key) Close() error {
	if k.closed {
		return nil
	}
	k.closed = true

	if k.subscribed {
		k.powerdown.Unsubscribe(k.sub)
		k.subscribed = false
	}
	if k.timer != nil {
		if k.timer.Pending() {
			k.irq.Set(port.Low)
		}
		k.timer.Free()
	}
	return nil
}
