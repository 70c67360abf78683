package vclock

import (
	"math"
	"time"
)

// Pacer converts elapsed wall clock time into simulated milliseconds.
// Scale is the count of simulated ms per wall ms, fractions are carried
// over to the next call so that no simulated time is lost.
type Pacer struct {
	scale float64
	last  time.Time
	carry float64
}

// NewPacer returns a pacer starting at wall time start.
// A scale <= 0 is treated as 1.
func NewPacer(scale float64, start time.Time) *Pacer {
	if scale <= 0 {
		scale = 1
	}
	return &Pacer{scale: scale, last: start}
}

// Elapsed returns the simulated ms passed since the previous call.
func (p *Pacer) Elapsed(now time.Time) int64 {
	d := now.Sub(p.last)
	p.last = now
	if d <= 0 {
		return 0
	}

	ms := float64(d)/float64(time.Millisecond)*p.scale + p.carry
	whole := math.Floor(ms)
	p.carry = ms - whole
	return int64(whole)
}

// Reset restarts measuring at now and drops any carried fraction.
// It is used after a pause so the paused span is not replayed.
func (p *Pacer) Reset(now time.Time) {
	p.last = now
	p.carry = 0
}
