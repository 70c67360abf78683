// Package port holds the definition of a signal line and its events
package port

import "time"

// EventType indicates the type of change to the line active state.
//
// Note that for active low lines a low line level results in a high active
// state.
type EventType int

const (
	_ EventType = iota
	// RisingEdge indicates an inactive to active event (low to high).
	RisingEdge
	// FallingEdge indicates an active to inactive event (high to low).
	FallingEdge
)

// String returns the name of the edge.
func (e EventType) String() string {
	switch e {
	case RisingEdge:
		return "rising"
	case FallingEdge:
		return "falling"
	default:
		return "none"
	}
}

type Event struct {
	// Timestamp indicates the time the event was detected.
	Timestamp time.Duration
	// The type of state change event this structure represents.
	Type EventType
}

type StateType int

const (
	// High indicates a logical 1.
	High StateType = 1
	// Low indicates a logical 0.
	Low StateType = 0
	// Invalid indicates an unknown or invalid state.
	Invalid StateType = -1
)

// Level converts an integer line level to a StateType.
// Any non zero level is High.
func Level(v int) StateType {
	if v != 0 {
		return High
	}
	return Low
}

// Edge returns the edge a line passes through when it changes from s to next.
// If the level doesn't change, zero is returned.
func (s StateType) Edge(next StateType) EventType {
	switch {
	case s != High && next == High:
		return RisingEdge
	case s == High && next != High:
		return FallingEdge
	default:
		return 0
	}
}

// Line is a sink for an outbound signal level.
type Line interface {
	Set(level StateType)
}

// LineFunc adapts an ordinary function to the Line interface.
type LineFunc func(level StateType)

// Set calls f(level).
func (f LineFunc) Set(level StateType) { f(level) }

// Lines drives several sinks with the same level, in order.
type Lines []Line

// Set sets level on every line.
func (l Lines) Set(level StateType) {
	for _, line := range l {
		line.Set(level)
	}
}
