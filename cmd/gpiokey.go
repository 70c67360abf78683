package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/womat/debug"

	"gpiokey/pkg/app"
	"gpiokey/pkg/app/config"
)

const defaultConfigFile = "/opt/womat/config/" + app.MODULE + ".yaml"

func main() {
	exitCode := 1
	defer func() {
		os.Exit(exitCode)
	}()

	// cfg holds the application configuration
	cfg := config.NewConfig()

	cliApp := &cli.App{
		Name:    app.MODULE,
		Usage:   "Simulated gpio key raising an interrupt line for 100ms per keypress",
		Version: app.VERSION,
		Description: "Run a gpio-key device on a simulated clock." +
			"\n A trigger (web request, physical gpio input or power-down event) raises the interrupt line" +
			"\n which is dropped again 100 simulated ms after the last trigger." +
			"\n The line is mirrored to mqtt and to an optional physical gpio output.",
		UsageText: "gpiokey [--config <file>] [--log standard|debug|trace]" +
			"\n\tgpiokey inspect <snapshot file>" +
			"\n\nEXAMPLE:" +
			"\n\tstart the simulation and use the configuration file gpiokey.yaml" +
			"\n\t\tgpiokey --config /opt/womat/gpiokey.yaml",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Destination: &cfg.Flag.ConfigFile, Value: defaultConfigFile, Usage: "load configuration from `FILE`"},
			&cli.StringFlag{Name: "log", Aliases: []string{"l"}, Destination: &cfg.Flag.Debug, Value: "", Usage: "`LEVEL` defines the log level (standard|debug|trace)"},
		},
		Commands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "print a saved snapshot",
				ArgsUsage: "FILE",
				Action:    inspect,
			},
		},
		Action: func(ctx *cli.Context) error {
			return run(cfg)
		},
	}

	// we expect to have more command line flags in the future - sort them
	sort.Sort(cli.FlagsByName(cliApp.Flags))
	sort.Sort(cli.CommandsByName(cliApp.Commands))

	err := cliApp.Run(os.Args)
	if err != nil {
		debug.FatalLog.Print(err)
		exitCode = 1
		return
	}

	exitCode = 0
}

func run(cfg *config.Config) error {
	if err := cfg.LoadConfig(); err != nil {
		return err
	}

	debug.SetDebug(cfg.Debug.File, cfg.Debug.Flag)
	defer func() {
		debug.InfoLog.Printf("closing debug file %s", cfg.Debug.FileString)
		_ = cfg.Debug.File.Close()
	}()

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		debug.InfoLog.Printf("closing app %s", app.Version())
		_ = a.Close()
	}()

	debug.InfoLog.Printf("starting app %s", app.Version())
	if err = a.Run(); err != nil {
		return err
	}

	// capture exit signals to ensure resources are released on exit.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// the first signal powers the platform down, a second one aborts the grace time
	sig := <-quit
	debug.InfoLog.Printf("Got %s signal. Powering down...", sig)
	if err = a.PowerDown(); err != nil {
		return err
	}

	select {
	case <-a.Shutdown():
	case sig = <-quit:
		debug.InfoLog.Printf("Got %s signal. Aborting...", sig)
	}

	return nil
}

// inspect prints the snapshot file given as first argument.
func inspect(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected one snapshot file, got %d arguments", ctx.NArg())
	}

	b, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}

	s, err := app.DecodeSnapshotFile(b)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(out))
	return err
}
