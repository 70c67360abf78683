package app

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/womat/debug"

	"gpiokey/pkg/app/config"
	"gpiokey/pkg/gpiokey"
	"gpiokey/pkg/mqtt"
	"gpiokey/pkg/port"
	"gpiokey/pkg/powerdown"
	"gpiokey/pkg/raspberry"
	"gpiokey/pkg/vclock"
)

// ErrStopped is returned if an event is submitted after the simulation loop has stopped.
var ErrStopped = errors.New("simulation stopped")

// App is the main application struct.
// App is where the application is wired up.
type App struct {
	// web is the fiber web framework instance
	web *fiber.App

	// config is the application configuration
	config *config.Config

	// urlParsed contains the parsed Config.Url parameter
	// and makes it easier to get params out of e.g.
	// url: https://0.0.0.0:7844/?minTls=1.2&bodyLimit=50MB
	urlParsed *url.URL

	// mqtt is the handler to the mqtt broker
	mqtt *mqtt.Handler

	// gpio is the handler to the gpio chip, nil if gpio is disabled
	gpio raspberry.Backend
	// input is the physical line triggering the key
	input raspberry.Watcher
	// output is the physical line mirroring the interrupt line
	output raspberry.Driver

	// clock is the simulated timeline, only touched by the simulation loop
	clock *vclock.Clock
	// pacer advances the clock with the wall clock
	pacer *vclock.Pacer
	// powerdown is the platform power-down publisher
	powerdown *powerdown.Publisher
	// key is the simulated device
	key *gpiokey.Key

	// line is the last level of the interrupt line
	line port.StateType
	// pulses counts the rising edges of the interrupt line
	pulses int
	// powerdownAt is the simulated time of the shutdown power-down, -1 if none
	powerdownAt int64

	// events is the queue of the simulation loop
	events chan func()
	// shutdown signals that the power-down grace time has elapsed
	shutdown     chan struct{}
	shutdownOnce sync.Once
	// quit stops the simulation loop, done signals that it has stopped
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
	running  bool
	// closeOnce makes Close idempotent
	closeOnce sync.Once
}

// New checks the Web server URL and initialize the main app structure
func New(config *config.Config) (*App, error) {
	u, err := url.Parse(config.Webserver.URL)
	if err != nil {
		debug.ErrorLog.Printf("Error parsing url %q: %s", config.Webserver.URL, err.Error())
		return &App{}, err
	}
	if config.Clock.Tick <= 0 || config.Clock.Scale <= 0 {
		err = fmt.Errorf("invalid clock tick %v or scale %v", config.Clock.Tick, config.Clock.Scale)
		debug.ErrorLog.Print(err)
		return &App{}, err
	}

	var opts []vclock.Option
	if config.Clock.Paused {
		opts = append(opts, vclock.WithPaused())
	}

	return &App{
		config:    config,
		urlParsed: u,

		web:  fiber.New(fiber.Config{DisableStartupMessage: true}),
		mqtt: mqtt.New(),

		clock:     vclock.New(opts...),
		powerdown: powerdown.New(),

		line:        port.Invalid,
		powerdownAt: -1,
		events:      make(chan func()),
		shutdown:    make(chan struct{}),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Run starts the application.
func (app *App) Run() error {
	if err := app.init(); err != nil {
		return err
	}

	go app.mqtt.Service()
	go app.runWebServer()
	app.startLoop()

	if app.input != nil {
		go app.watchInput()
	}

	return nil
}

// init initializes the application.
func (app *App) init() (err error) {
	lines := port.Lines{port.LineFunc(app.observe)}

	if app.config.Gpio.Enabled {
		if app.gpio, err = raspberry.Open(app.config.Gpio.Backend, app.config.Gpio.Chip); err != nil {
			debug.ErrorLog.Printf("can't open gpio: %v", err)
			return err
		}

		if o := app.config.Gpio.Output; o >= 0 {
			if app.output, err = app.gpio.Drive(o); err != nil {
				debug.ErrorLog.Printf("can't open output line %d: %v", o, err)
				return err
			}
			lines = append(lines, app.output)
		}

		if i := app.config.Gpio.Input; i >= 0 {
			if app.input, err = app.gpio.Watch(i, app.config.Gpio.Terminator, app.config.Gpio.BounceTime); err != nil {
				debug.ErrorLog.Printf("can't open input line %d: %v", i, err)
				return err
			}
		}
	}

	if err = app.mqtt.Connect(app.config.MQTT.Connection, app.config.MQTT.ClientID); err != nil {
		debug.ErrorLog.Printf("can't open mqtt broker %v", err)
		return err
	}
	lines = append(lines, app.mqtt.Line(app.config.MQTT.Topic, app.clock.Now))

	if app.key, err = gpiokey.New(app.config.Key, gpiokey.Host{
		Clock:     app.clock,
		Output:    lines,
		Powerdown: app.powerdown,
	}); err != nil {
		debug.ErrorLog.Printf("can't create %s: %v", gpiokey.TypeName, err)
		return err
	}

	if err = app.restoreSnapshot(); err != nil {
		debug.ErrorLog.Print(err)
		// keep the unreadable file, Close must not overwrite it
		_ = app.key.Close()
		app.key = nil
		return err
	}

	// initDefaultRoutes should be always called last because it may access things like app.key
	// which must be initialized before
	app.initDefaultRoutes()

	return nil
}

// observe follows the interrupt line of the key.
func (app *App) observe(level port.StateType) {
	if app.line.Edge(level) == port.RisingEdge {
		app.pulses++
	}
	if level != app.line {
		debug.DebugLog.Printf("irq line %d at %d ms", level, app.clock.Now())
	}
	app.line = level
}

// Shutdown returns the read only shutdown channel.
// Shutdown is closed once the power-down grace time has elapsed. (see cmd/gpiokey.go)
func (app *App) Shutdown() <-chan struct{} {
	return app.shutdown
}

// PowerDown publishes the power-down event and starts the shutdown grace time.
func (app *App) PowerDown() error {
	return app.exec(func() {
		app.powerdown.Notify()
		if app.powerdownAt < 0 {
			app.powerdownAt = app.clock.Now()
		}
		app.checkShutdown()
	})
}

func (app *App) checkShutdown() {
	if app.powerdownAt < 0 {
		return
	}
	if app.clock.Paused() || app.clock.Now() >= app.powerdownAt+app.config.Clock.ShutdownGrace {
		app.shutdownOnce.Do(func() { close(app.shutdown) })
	}
}

// Close stops the simulation loop, saves the snapshot and releases all resources.
func (app *App) Close() error {
	app.closeOnce.Do(app.close)
	return nil
}

func (app *App) close() {
	if app.running {
		app.quitOnce.Do(func() { close(app.quit) })
		<-app.done
	}

	if app.key != nil {
		app.saveSnapshot()
		_ = app.key.Close()
	}
	if app.clock != nil {
		_ = app.clock.Close()
	}

	if app.input != nil {
		_ = app.input.Close()
	}
	if app.output != nil {
		_ = app.output.Close()
	}
	if app.gpio != nil {
		_ = app.gpio.Close()
	}

	if app.web != nil {
		_ = app.web.Shutdown()
	}
	if app.mqtt != nil {
		_ = app.mqtt.Disconnect()
		_ = app.mqtt.Close()
	}
}
