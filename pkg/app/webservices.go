package app

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/womat/debug"

	"gpiokey/pkg/gpiokey"
)

// mimeCBOR is the content type of an encoded snapshot.
const mimeCBOR = "application/cbor"

// runWebServer starts the applications web server and listens for web requests.
//  It's designed to run in a separate go function to not block the main go function.
//  e.g.: go runWebServer()
//  See app.Run()
func (app *App) runWebServer() {
	err := app.web.Listen(app.urlParsed.Host)
	debug.ErrorLog.Print(err)
}

// respond runs fn on the simulation loop and answers with the resulting state.
func (app *App) respond(ctx *fiber.Ctx, fn func()) error {
	var s State
	err := app.exec(func() {
		if fn != nil {
			fn()
		}
		s = app.state()
	})
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	return ctx.JSON(s)
}

// HandleState returns the state of the key and the simulated clock.
func (app *App) HandleState() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.TraceLog.Print("web request state")
		return app.respond(ctx, nil)
	}
}

// HandleTrigger triggers the key like an event on its input line.
func (app *App) HandleTrigger() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request trigger")
		return app.respond(ctx, func() { app.key.SetIRQ(0, 1) })
	}
}

// HandleReset resets the key.
func (app *App) HandleReset() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request reset")
		return app.respond(ctx, app.key.Reset)
	}
}

// HandlePowerdown publishes the platform power-down event.
// Unlike a shutdown signal it doesn't stop the application.
func (app *App) HandlePowerdown() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request powerdown")
		return app.respond(ctx, app.powerdown.Notify)
	}
}

// HandleAdvance steps the simulated clock by the query parameter ms.
//  e.g. POST /clock/advance?ms=100
func (app *App) HandleAdvance() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		ms, err := strconv.ParseInt(ctx.Query("ms"), 10, 64)
		if err != nil || ms < 0 {
			return fiber.NewError(http.StatusBadRequest, "invalid query parameter ms")
		}

		debug.InfoLog.Printf("web request advance clock %d ms", ms)
		return app.respond(ctx, func() {
			app.clock.Advance(ms)
			app.checkShutdown()
		})
	}
}

// HandlePause pauses or resumes the simulated clock.
func (app *App) HandlePause(pause bool) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Printf("web request pause clock: %v", pause)
		return app.respond(ctx, func() {
			if pause {
				app.clock.Pause()
				return
			}
			app.clock.Resume()
			app.pacer.Reset(time.Now())
		})
	}
}

// HandleSnapshot returns the encoded key state.
func (app *App) HandleSnapshot() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request snapshot")

		var b []byte
		var err error
		if e := app.exec(func() { b, err = app.key.Save() }); e != nil {
			return fiber.NewError(http.StatusServiceUnavailable, e.Error())
		}
		if err != nil {
			return err
		}

		ctx.Set(fiber.HeaderContentType, mimeCBOR)
		return ctx.Send(b)
	}
}

// HandleRestore restores the key state from the encoded snapshot in the request body.
func (app *App) HandleRestore() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request restore")

		s, err := gpiokey.DecodeSnapshot(ctx.Body())
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, gpiokey.ErrSnapshotName) || errors.Is(err, gpiokey.ErrSnapshotVersion) {
				status = http.StatusUnprocessableEntity
			}
			return fiber.NewError(status, err.Error())
		}

		return app.respond(ctx, func() { app.key.Restore(s) })
	}
}
