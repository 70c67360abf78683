package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/womat/debug"
	"gopkg.in/yaml.v2"

	"gpiokey/pkg/gpiokey"
)

// Config holds the application configuration. Attention!
// Config defines the struct of global config and the struct of the configuration file
type Config struct {
	Key       gpiokey.Options `yaml:"key"`
	Clock     ClockConfig     `yaml:"clock"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Gpio      GpioConfig      `yaml:"gpio"`
	Flag      FlagConfig      `yaml:"-"`
	Debug     DebugConfig     `yaml:"debug"`
	Webserver WebserverConfig `yaml:"webserver"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// FlagConfig defines the configured flags (parameters)
type FlagConfig struct {
	Debug      string
	ConfigFile string
}

// ClockConfig defines how the simulated clock follows the wall clock.
type ClockConfig struct {
	// Scale is the count of simulated ms per wall ms.
	Scale float64 `yaml:"scale"`
	// TickInt is the wall time between two clock advances (ms).
	TickInt int           `yaml:"tick"`
	Tick    time.Duration `yaml:"-"`
	Paused  bool          `yaml:"paused"`
	// ShutdownGrace is the simulated time (ms) to run after the power-down event before exiting.
	ShutdownGrace int64 `yaml:"shutdowngrace"`
}

// SnapshotConfig defines where the device state is persisted.
type SnapshotConfig struct {
	File string `yaml:"file"`
}

// GpioConfig defines the physical gpio lines attached to the key.
type GpioConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"`
	Chip    string `yaml:"chip"`
	// Input is the line offset triggering the key, -1 disables it.
	Input int `yaml:"input"`
	// Output is the line offset mirroring the key's interrupt line, -1 disables it.
	Output        int           `yaml:"output"`
	Terminator    string        `yaml:"terminator"`
	BounceTimeInt int           `yaml:"bouncetime"`
	BounceTime    time.Duration `yaml:"-"`
}

// WebserverConfig defines the struct of the webserver and webservice configuration and configuration file
type WebserverConfig struct {
	URL         string          `yaml:"url"`
	Webservices map[string]bool `yaml:"webservices"`
}

// MQTTConfig defines the struct of the mqtt client configuration and configuration file
type MQTTConfig struct {
	Connection string `yaml:"connection"`
	ClientID   string `yaml:"clientid"`
	Topic      string `yaml:"topic"`
}

// DebugConfig defines the struct of the debug configuration and configuration file
type DebugConfig struct {
	File       io.WriteCloser `yaml:"-"`
	Flag       int            `yaml:"-"`
	FlagString string         `yaml:"flag"`
	FileString string         `yaml:"file"`
}

func NewConfig() *Config {
	return &Config{
		Key: gpiokey.Options{RegisterPowerdownNotifier: false},
		Clock: ClockConfig{
			Scale:         1,
			TickInt:       10,
			Tick:          10 * time.Millisecond,
			ShutdownGrace: 2 * gpiokey.Latency,
		},
		Gpio: GpioConfig{
			Backend:       "cdev",
			Chip:          "gpiochip0",
			Input:         -1,
			Output:        -1,
			Terminator:    "pullup",
			BounceTimeInt: 20,
			BounceTime:    20 * time.Millisecond,
		},
		Flag: FlagConfig{},
		Debug: DebugConfig{
			FileString: "stderr",
			FlagString: "standard",
		},
		Webserver: WebserverConfig{
			URL: "http://0.0.0.0:4000",
			Webservices: map[string]bool{
				"version":  true,
				"health":   true,
				"state":    true,
				"control":  true,
				"clock":    true,
				"snapshot": true,
			},
		},
		MQTT: MQTTConfig{
			Topic: "gpiokey/irq",
		},
	}
}

func (c *Config) LoadConfig() error {
	if err := c.readConfigFile(); err != nil {
		return fmt.Errorf("error reading config file %q: %w", c.Flag.ConfigFile, err)
	}

	if c.Flag.Debug != "" {
		c.Debug.FlagString = c.Flag.Debug
	}
	if err := c.setDebugConfig(); err != nil {
		return fmt.Errorf("unable to open debug file %q: %w", c.Debug.FileString, err)
	}

	return nil
}

// normalize derives the runtime values and checks the configured values.
func (c *Config) normalize() error {
	if c.Clock.Scale <= 0 {
		return fmt.Errorf("invalid clock scale %v", c.Clock.Scale)
	}
	if c.Clock.TickInt <= 0 {
		c.Clock.TickInt = 10
	}
	if c.Clock.ShutdownGrace < 0 {
		c.Clock.ShutdownGrace = 0
	}

	c.Clock.Tick = time.Duration(c.Clock.TickInt) * time.Millisecond
	c.Gpio.BounceTime = time.Duration(c.Gpio.BounceTimeInt) * time.Millisecond

	switch c.Gpio.Backend {
	case "cdev", "gpiomem", "emu":
	default:
		return fmt.Errorf("invalid gpio backend %q", c.Gpio.Backend)
	}

	return nil
}

func (c *Config) readConfigFile() error {
	file, err := os.Open(c.Flag.ConfigFile)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	return c.Read(file)
}

// Read decodes the yaml configuration from r over the current values.
func (c *Config) Read(r io.Reader) error {
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(c); err != nil && err != io.EOF {
		return err
	}

	return c.normalize()
}

func (c *Config) setDebugConfig() (err error) {
	// defines Debug section of global.Config
	switch c.Debug.FlagString {
	case "trace", "full":
		c.Debug.Flag = debug.Full
	case "debug":
		c.Debug.Flag = debug.Warning | debug.Info | debug.Error | debug.Fatal | debug.Debug
	case "standard":
		c.Debug.Flag = debug.Standard
	default:
		return fmt.Errorf("invalid log level %q", c.Debug.FlagString)
	}

	switch c.Debug.FileString {
	case "stderr":
		c.Debug.File = os.Stderr
	case "stdout":
		c.Debug.File = os.Stdout
	default:
		if c.Debug.File, err = os.OpenFile(c.Debug.FileString, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666); err != nil {
			return
		}
	}

	return
}
