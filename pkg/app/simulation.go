package app

import (
	"time"

	"github.com/womat/debug"

	"gpiokey/pkg/port"
	"gpiokey/pkg/vclock"
)

// startLoop starts the simulation loop.
// From now on the key and the clock must only be accessed with exec.
func (app *App) startLoop() {
	app.pacer = vclock.NewPacer(app.config.Clock.Scale, time.Now())
	app.running = true
	go app.loop()
}

// loop is the single goroutine owning the simulated timeline.
// It advances the clock with the wall clock and runs the submitted events in order.
func (app *App) loop() {
	defer close(app.done)

	ticker := time.NewTicker(app.config.Clock.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-app.quit:
			return
		case now := <-ticker.C:
			if app.clock.Paused() {
				app.pacer.Reset(now)
			} else {
				app.clock.Advance(app.pacer.Elapsed(now))
			}
			app.checkShutdown()
		case fn := <-app.events:
			fn()
		}
	}
}

// exec runs fn on the simulation loop and waits until it is done.
func (app *App) exec(fn func()) error {
	if !app.running {
		return ErrStopped
	}
	done := make(chan struct{})

	select {
	case app.events <- func() {
		defer close(done)
		fn()
	}:
	case <-app.done:
		return ErrStopped
	}

	<-done
	return nil
}

// watchInput triggers the key on each rising edge of the physical input line.
func (app *App) watchInput() {
	for {
		select {
		case <-app.done:
			return
		case evt := <-app.input.C():
			debug.TraceLog.Printf("input line: %s edge at %v", evt.Type, evt.Timestamp)
			if evt.Type != port.RisingEdge {
				continue
			}
			if err := app.exec(func() { app.key.SetIRQ(0, 1) }); err != nil {
				return
			}
		}
	}
}

// State is the observable state of the simulation.
type State struct {
	// Now is the simulated time (ms).
	Now      int64 `json:"now"`
	Paused   bool  `json:"paused"`
	Asserted bool  `json:"asserted"`
	// Deadline is the pending release time (ms), nil if the key is idle.
	Deadline *int64 `json:"deadline"`
	// Next is the earliest pending timer of the clock (ms), nil if none.
	Next      *int64 `json:"next"`
	Line      int    `json:"line"`
	Pulses    int    `json:"pulses"`
	Powerdown bool   `json:"powerdown"`
}

// state must be called on the simulation loop.
func (app *App) state() State {
	s := State{
		Now:       app.clock.Now(),
		Paused:    app.clock.Paused(),
		Asserted:  app.key.Asserted(),
		Line:      int(app.line),
		Pulses:    app.pulses,
		Powerdown: app.key.PowerdownSubscribed(),
	}
	if d, ok := app.key.Deadline(); ok {
		s.Deadline = &d
	}
	if n, ok := app.clock.Next(); ok {
		s.Next = &n
	}
	return s
}
