//go:build linux

package raspberry

import (
	"fmt"
	"time"

	"github.com/warthog618/gpio"

	"gpiokey/pkg/port"
)

// RpiPin is an input pin of the memory mapped backend.
type RpiPin struct {
	gpioPin *gpio.Pin
	*debouncer
}

// RpiOut is an output pin of the memory mapped backend.
type RpiOut struct {
	gpioPin *gpio.Pin
}

// RpiGPIO is the memory mapped gpio backend.
type RpiGPIO struct {
	// start is the reference of the event timestamps.
	start time.Time
	pins  map[int]bool
}

// openGpiomem maps the GPIO memory range from /dev/gpiomem.
func openGpiomem() (Backend, error) {
	if err := gpio.Open(); err != nil {
		return nil, err
	}
	return &RpiGPIO{start: time.Now(), pins: map[int]bool{}}, nil
}

// Close removes the interrupt handlers and unmaps GPIO memory
func (c *RpiGPIO) Close() (err error) {
	return gpio.Close()
}

func (c *RpiGPIO) request(p int) (*gpio.Pin, error) {
	if c.pins[p] {
		return nil, fmt.Errorf("pin %v already used", p)
	}
	c.pins[p] = true
	return gpio.NewPin(p), nil
}

// Watch the pin for changes to level.
// The pin number provided is the BCM GPIO number.
// There can only be one watcher on the pin at a time.
func (c *RpiGPIO) Watch(p int, terminator string, bounce time.Duration) (Watcher, error) {
	switch terminator {
	case "pullup", "pulldown", "none", "":
	default:
		return nil, ErrInvalidParam
	}

	g, err := c.request(p)
	if err != nil {
		return nil, err
	}

	pin := &RpiPin{gpioPin: g}
	pin.debouncer = newDebouncer(bounce, func() (int, error) {
		if g.Read() {
			return 1, nil
		}
		return 0, nil
	})

	g.Input()
	switch terminator {
	case "pullup":
		g.PullUp()
	case "pulldown":
		g.PullDown()
	}
	if g.Read() {
		pin.last = 1
	}

	err = g.Watch(gpio.EdgeBoth, func(*gpio.Pin) {
		pin.edge(time.Since(c.start))
	})
	if err != nil {
		delete(c.pins, p)
		return nil, err
	}
	return pin, nil
}

// Drive sets pin p as output, initially low.
func (c *RpiGPIO) Drive(p int) (Driver, error) {
	g, err := c.request(p)
	if err != nil {
		return nil, err
	}

	g.Low()
	g.Output()
	return &RpiOut{gpioPin: g}, nil
}

// C returns the channel of the debounced edge events.
func (p *RpiPin) C() <-chan port.Event {
	return p.c
}

// Close removes the watch from the pin.
func (p *RpiPin) Close() error {
	p.gpioPin.Unwatch()
	return nil
}

// Set drives the output pin.
func (p *RpiOut) Set(level port.StateType) {
	if level == port.High {
		p.gpioPin.High()
		return
	}
	p.gpioPin.Low()
}

// Close switches the pin back to input.
func (p *RpiOut) Close() error {
	p.gpioPin.Input()
	return nil
}
