// Package raspberry connects the simulated key to physical gpio lines
package raspberry

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/womat/debug"

	"gpiokey/pkg/port"
)

var (
	ErrInvalidParam = fmt.Errorf("invalid parameters")
	// ErrUnsupported is returned if a backend isn't available on this platform.
	ErrUnsupported = errors.New("gpio backend not supported on this platform")
)

// Backend names.
const (
	// Cdev uses the gpio character device (/dev/gpiochipN).
	Cdev = "cdev"
	// Gpiomem uses the memory mapped gpio registers (/dev/gpiomem).
	Gpiomem = "gpiomem"
	// Emu is an in-memory backend, edges are injected with EmuEdge.
	Emu = "emu"
)

// Watcher delivers the debounced edges of an input line on channel C.
type Watcher interface {
	C() <-chan port.Event
	Close() error
}

// Driver drives an output line.
type Driver interface {
	port.Line
	Close() error
}

// Backend requests lines of a gpio chip.
type Backend interface {
	// Watch requests offset as input and watches it for edges.
	// terminator is one of pullup, pulldown or none.
	Watch(offset int, terminator string, debounce time.Duration) (Watcher, error)
	// Drive requests offset as output, initially low.
	Drive(offset int) (Driver, error)
	// Close releases the chip. Requested lines must be closed before.
	Close() error
}

// Open opens the gpio chip with the given backend.
func Open(backend, chip string) (Backend, error) {
	switch backend {
	case Cdev, "":
		return openCdev(chip)
	case Gpiomem:
		return openGpiomem()
	case Emu:
		return NewEmu(), nil
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrInvalidParam, backend)
	}
}

// debouncer ensures that a state change lasts for at least the bounce time
// before it is reported. While a check is running, new edges are ignored.
type debouncer struct {
	bounce time.Duration
	read   func() (int, error)
	c      chan port.Event
	busy   int32
	last   int32
}

func newDebouncer(bounce time.Duration, read func() (int, error)) *debouncer {
	return &debouncer{
		bounce: bounce,
		read:   read,
		c:      make(chan port.Event, 16),
	}
}

// edge is called from the backend's event handler with the event timestamp.
func (d *debouncer) edge(ts time.Duration) {
	if d.bounce == 0 {
		d.report(ts)
		return
	}

	if !atomic.CompareAndSwapInt32(&d.busy, 0, 1) {
		debug.TraceLog.Println("bounce signal detected")
		return
	}

	go func() {
		defer atomic.StoreInt32(&d.busy, 0)
		time.Sleep(d.bounce)
		d.report(ts + d.bounce)
	}()
}

func (d *debouncer) report(ts time.Duration) {
	v, err := d.read()
	if err != nil {
		debug.ErrorLog.Println(err)
		return
	}

	if int32(v) == atomic.LoadInt32(&d.last) {
		debug.TraceLog.Println("no changed value after bounce delay")
		return
	}
	atomic.StoreInt32(&d.last, int32(v))

	evt := port.Event{Timestamp: ts, Type: port.RisingEdge}
	if v == 0 {
		evt.Type = port.FallingEdge
	}

	select {
	case d.c <- evt:
	default:
		debug.ErrorLog.Printf("gpio event queue full, drop %s edge", evt.Type)
	}
}
