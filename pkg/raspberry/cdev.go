//go:build linux

package raspberry

import (
	"time"

	"github.com/warthog618/gpiod"
	"github.com/womat/debug"

	"gpiokey/pkg/port"
)

// Chip represents a single GPIO chip that controls a set of lines.
type Chip struct {
	gpiodChip *gpiod.Chip
}

// Line represents a single requested input line.
type Line struct {
	gpiodLine *gpiod.Line
	*debouncer
}

// OutLine represents a single requested output line.
type OutLine struct {
	gpiodLine *gpiod.Line
}

// openCdev opens a GPIO character device.
func openCdev(name string) (Backend, error) {
	if name == "" {
		name = "gpiochip0"
	}

	c, err := gpiod.NewChip(name)
	if err != nil {
		return nil, err
	}
	return &Chip{gpiodChip: c}, nil
}

// Watch requests control of a single line on a chip.
//   If granted, control is maintained until the Line is closed.
//   Watch the line for edge changes and send the changes after bounce timeout to channel C.
//   There can only be one watcher on the pin at a time.
func (c *Chip) Watch(offset int, terminator string, bounce time.Duration) (Watcher, error) {
	var err error

	line := &Line{}
	line.debouncer = newDebouncer(bounce, func() (int, error) { return line.gpiodLine.Value() })

	handler := func(evt gpiod.LineEvent) {
		line.edge(evt.Timestamp)
	}

	opts := []gpiod.LineReqOption{gpiod.WithEventHandler(handler), gpiod.WithBothEdges, gpiod.AsInput}
	switch terminator {
	case "pullup":
		opts = append(opts, gpiod.WithPullUp)
	case "pulldown":
		opts = append(opts, gpiod.WithPullDown)
	case "none", "":
	default:
		return nil, ErrInvalidParam
	}

	if line.gpiodLine, err = c.gpiodChip.RequestLine(offset, opts...); err != nil {
		return nil, err
	}

	if v, err := line.gpiodLine.Value(); err == nil {
		line.last = int32(v)
	}
	return line, nil
}

// Drive requests offset as output line, initially low.
func (c *Chip) Drive(offset int) (Driver, error) {
	l, err := c.gpiodChip.RequestLine(offset, gpiod.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &OutLine{gpiodLine: l}, nil
}

// Close releases the Chip.
//
// It does not release any lines which may be requested - they must be closed
// independently.
func (c *Chip) Close() error {
	return c.gpiodChip.Close()
}

// C returns the channel of the debounced edge events.
func (l *Line) C() <-chan port.Event {
	return l.c
}

// Close releases all resources held by the requested line.
//
// Note that this includes waiting for any running event handler to return.
// As a consequence the Close must not be called from the context of the event
// handler - the Close should be called from a different goroutine.
func (l *Line) Close() error {
	return l.gpiodLine.Close()
}

// Set drives the output line.
func (l *OutLine) Set(level port.StateType) {
	v := 0
	if level == port.High {
		v = 1
	}
	if err := l.gpiodLine.SetValue(v); err != nil {
		debug.ErrorLog.Printf("can't set output line: %v", err)
	}
}

// Close releases the output line.
func (l *OutLine) Close() error {
	return l.gpiodLine.Close()
}
