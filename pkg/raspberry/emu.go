package raspberry

import (
	"fmt"
	"sync"
	"time"

	"gpiokey/pkg/port"
)

// EmuChip is an in-memory gpio chip. Input edges are injected with EmuEdge,
// output levels are recorded and can be read with Level.
type EmuChip struct {
	mu    sync.Mutex
	start time.Time
	in    map[int]*EmuPin
	out   map[int]*EmuOut
}

// EmuPin is an emulated input line.
type EmuPin struct {
	chip   *EmuChip
	offset int
	value  int
	*debouncer
}

// EmuOut is an emulated output line.
type EmuOut struct {
	mu    sync.Mutex
	level port.StateType
}

// NewEmu creates an emulated chip.
func NewEmu() *EmuChip {
	return &EmuChip{start: time.Now(), in: map[int]*EmuPin{}, out: map[int]*EmuOut{}}
}

// Watch requests offset as emulated input.
func (c *EmuChip) Watch(offset int, terminator string, bounce time.Duration) (Watcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.in[offset]; ok {
		return nil, fmt.Errorf("pin %v already used", offset)
	}

	p := &EmuPin{chip: c, offset: offset}
	if terminator == "pullup" {
		p.value = 1
	}
	p.debouncer = newDebouncer(bounce, func() (int, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return p.value, nil
	})
	p.last = int32(p.value)

	c.in[offset] = p
	return p, nil
}

// Drive requests offset as emulated output.
func (c *EmuChip) Drive(offset int) (Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.out[offset]; ok {
		return nil, fmt.Errorf("pin %v already used", offset)
	}

	o := &EmuOut{level: port.Low}
	c.out[offset] = o
	return o, nil
}

// EmuEdge emulates a state change of the input line offset.
func (c *EmuChip) EmuEdge(offset int, edge port.EventType) error {
	c.mu.Lock()
	p, ok := c.in[offset]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: pin %v not watched", ErrInvalidParam, offset)
	}

	switch edge {
	case port.RisingEdge:
		p.value = 1
	case port.FallingEdge:
		p.value = 0
	default:
		c.mu.Unlock()
		return ErrInvalidParam
	}
	c.mu.Unlock()

	p.edge(time.Since(c.start))
	return nil
}

// Level returns the level of the output line offset.
func (c *EmuChip) Level(offset int) port.StateType {
	c.mu.Lock()
	o, ok := c.out[offset]
	c.mu.Unlock()
	if !ok {
		return port.Invalid
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

// Close releases the chip.
func (c *EmuChip) Close() error {
	return nil
}

// C returns the channel of the debounced edge events.
func (p *EmuPin) C() <-chan port.Event {
	return p.c
}

// Close releases the line.
func (p *EmuPin) Close() error {
	p.chip.mu.Lock()
	defer p.chip.mu.Unlock()
	delete(p.chip.in, p.offset)
	return nil
}

// Set records the output level.
func (o *EmuOut) Set(level port.StateType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.level = level
}

// Close releases the line.
func (o *EmuOut) Close() error {
	return nil
}
