package app

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpiokey/pkg/app/config"
	"gpiokey/pkg/gpiokey"
	"gpiokey/pkg/port"
	"gpiokey/pkg/raspberry"
)

const (
	inputLine  = 17
	outputLine = 27
)

// newTestApp starts an app on a paused clock with emulated gpio lines and without mqtt broker.
func newTestApp(t *testing.T, mod func(c *config.Config)) *App {
	t.Helper()

	cfg := config.NewConfig()
	require.NoError(t, cfg.Read(strings.NewReader(`
clock:
  paused: true
gpio:
  enabled: true
  backend: emu
  input: 17
  output: 27
  terminator: pulldown
  bouncetime: 0
`)))
	if mod != nil {
		mod(cfg)
	}

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.init())
	a.startLoop()
	if a.input != nil {
		go a.watchInput()
	}

	t.Cleanup(func() { _ = a.Close() })
	return a
}

func call(t *testing.T, a *App, method, target string, body []byte) (int, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	resp, err := a.web.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func state(t *testing.T, a *App, method, target string) State {
	t.Helper()

	code, b := call(t, a, method, target, nil)
	require.Equal(t, http.StatusOK, code, string(b))

	var s State
	require.NoError(t, json.Unmarshal(b, &s))
	return s
}

func TestScenario(t *testing.T) {
	a := newTestApp(t, nil)
	chip := a.gpio.(*raspberry.EmuChip)

	s := state(t, a, http.MethodGet, "/state")
	assert.False(t, s.Asserted)
	assert.Nil(t, s.Deadline)
	assert.Equal(t, 0, s.Line)

	assert.Nil(t, s.Next)

	s = state(t, a, http.MethodPost, "/trigger")
	assert.True(t, s.Asserted)
	require.NotNil(t, s.Deadline)
	assert.Equal(t, int64(100), *s.Deadline)
	require.NotNil(t, s.Next)
	assert.Equal(t, int64(100), *s.Next)
	assert.Equal(t, 1, s.Line)
	assert.Equal(t, port.High, chip.Level(outputLine))

	state(t, a, http.MethodPost, "/clock/advance?ms=50")
	s = state(t, a, http.MethodPost, "/trigger")
	require.NotNil(t, s.Deadline)
	assert.Equal(t, int64(150), *s.Deadline)

	s = state(t, a, http.MethodPost, "/clock/advance?ms=99")
	assert.True(t, s.Asserted)

	s = state(t, a, http.MethodPost, "/clock/advance?ms=1")
	assert.Equal(t, int64(150), s.Now)
	assert.False(t, s.Asserted)
	assert.Nil(t, s.Deadline)
	assert.Equal(t, 0, s.Line)
	assert.Equal(t, 1, s.Pulses)
	assert.Equal(t, port.Low, chip.Level(outputLine))

	s = state(t, a, http.MethodPost, "/clock/advance?ms=50")
	assert.Equal(t, int64(200), s.Now)
	assert.False(t, s.Asserted)
}

func TestReset(t *testing.T) {
	a := newTestApp(t, nil)

	state(t, a, http.MethodPost, "/trigger")
	s := state(t, a, http.MethodPost, "/reset")
	assert.False(t, s.Asserted)
	assert.Equal(t, 0, s.Line)
}

func TestGpioInput(t *testing.T) {
	a := newTestApp(t, nil)
	chip := a.gpio.(*raspberry.EmuChip)

	require.NoError(t, chip.EmuEdge(inputLine, port.RisingEdge))
	assert.Eventually(t, func() bool {
		return state(t, a, http.MethodGet, "/state").Asserted
	}, time.Second, 5*time.Millisecond)

	// the falling edge doesn't trigger again
	require.NoError(t, chip.EmuEdge(inputLine, port.FallingEdge))
	s := state(t, a, http.MethodPost, "/clock/advance?ms=100")
	assert.False(t, s.Asserted)
	assert.Equal(t, 1, s.Pulses)
}

func TestPowerdown(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Key.RegisterPowerdownNotifier = true })

	s := state(t, a, http.MethodPost, "/powerdown")
	assert.True(t, s.Powerdown)
	assert.True(t, s.Asserted)
	require.NotNil(t, s.Deadline)
	assert.Equal(t, int64(gpiokey.Latency), *s.Deadline)
}

func TestPowerdownNotSubscribed(t *testing.T) {
	a := newTestApp(t, nil)

	s := state(t, a, http.MethodPost, "/powerdown")
	assert.False(t, s.Powerdown)
	assert.False(t, s.Asserted)
	assert.Equal(t, 1, a.powerdown.Count())
}

func TestShutdownGrace(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Key.RegisterPowerdownNotifier = true
		c.Clock.Paused = false
		// keep the pacer out of the way
		c.Clock.Tick = time.Hour
	})

	require.NoError(t, a.PowerDown())
	assert.True(t, state(t, a, http.MethodGet, "/state").Asserted)

	state(t, a, http.MethodPost, "/clock/advance?ms=199")
	select {
	case <-a.Shutdown():
		t.Fatal("shutdown before grace time")
	default:
	}

	state(t, a, http.MethodPost, "/clock/advance?ms=1")
	select {
	case <-a.Shutdown():
	default:
		t.Fatal("no shutdown after grace time")
	}
}

func TestShutdownPaused(t *testing.T) {
	a := newTestApp(t, nil)

	require.NoError(t, a.PowerDown())
	select {
	case <-a.Shutdown():
	default:
		t.Fatal("paused clock must shut down right away")
	}
}

func TestPauseResume(t *testing.T) {
	a := newTestApp(t, nil)

	s := state(t, a, http.MethodPost, "/clock/resume")
	assert.False(t, s.Paused)
	s = state(t, a, http.MethodPost, "/clock/pause")
	assert.True(t, s.Paused)
}

func TestAdvanceInvalid(t *testing.T) {
	a := newTestApp(t, nil)

	for _, q := range []string{"", "?ms=x", "?ms=-5"} {
		code, _ := call(t, a, http.MethodPost, "/clock/advance"+q, nil)
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestSnapshotRestore(t *testing.T) {
	src := newTestApp(t, nil)
	state(t, src, http.MethodPost, "/trigger")

	code, b := call(t, src, http.MethodGet, "/snapshot", nil)
	require.Equal(t, http.StatusOK, code)

	dst := newTestApp(t, nil)
	state(t, dst, http.MethodPost, "/clock/advance?ms=30")

	code, body := call(t, dst, http.MethodPost, "/restore", b)
	require.Equal(t, http.StatusOK, code, string(body))

	var s State
	require.NoError(t, json.Unmarshal(body, &s))
	assert.True(t, s.Asserted)
	assert.Equal(t, 1, s.Line)

	s = state(t, dst, http.MethodPost, "/clock/advance?ms=69")
	assert.True(t, s.Asserted)
	s = state(t, dst, http.MethodPost, "/clock/advance?ms=1")
	assert.False(t, s.Asserted)
}

func TestRestoreRejects(t *testing.T) {
	a := newTestApp(t, nil)

	b, err := cbor.Marshal(gpiokey.Snapshot{Name: gpiokey.TypeName, Version: gpiokey.Version + 1})
	require.NoError(t, err)
	code, _ := call(t, a, http.MethodPost, "/restore", b)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = call(t, a, http.MethodPost, "/restore", []byte("garbage"))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSnapshotFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "gpiokey.cbor")
	withFile := func(c *config.Config) { c.Snapshot.File = file }

	a := newTestApp(t, withFile)
	state(t, a, http.MethodPost, "/clock/advance?ms=10000")
	state(t, a, http.MethodPost, "/trigger")
	state(t, a, http.MethodPost, "/clock/advance?ms=40")
	require.NoError(t, a.Close())

	b := newTestApp(t, withFile)
	s := state(t, b, http.MethodGet, "/state")
	assert.Equal(t, int64(10040), s.Now)
	assert.True(t, s.Asserted)
	require.NotNil(t, s.Deadline)
	assert.Equal(t, int64(10100), *s.Deadline)

	// the remaining pulse is kept, not stretched by the restart
	s = state(t, b, http.MethodPost, "/clock/advance?ms=59")
	assert.True(t, s.Asserted)
	s = state(t, b, http.MethodPost, "/clock/advance?ms=1")
	assert.False(t, s.Asserted)
	assert.Equal(t, 0, s.Line)
}

func TestSnapshotFileRejects(t *testing.T) {
	key, err := cbor.Marshal(gpiokey.Snapshot{Name: gpiokey.TypeName, Version: gpiokey.Version, Timer: 100})
	require.NoError(t, err)

	// a bare key snapshot has no simulated time
	_, err = DecodeSnapshotFile(key)
	assert.Error(t, err)

	b, err := cbor.Marshal(map[int]interface{}{2: cbor.RawMessage(key)})
	require.NoError(t, err)
	_, err = DecodeSnapshotFile(b)
	assert.ErrorIs(t, err, ErrSnapshotFile)

	b, err = cbor.Marshal(map[int]interface{}{1: 500})
	require.NoError(t, err)
	_, err = DecodeSnapshotFile(b)
	assert.ErrorIs(t, err, ErrSnapshotFile)

	b, err = cbor.Marshal(map[int]interface{}{1: 500, 2: cbor.RawMessage(key)})
	require.NoError(t, err)
	f, err := DecodeSnapshotFile(b)
	require.NoError(t, err)
	assert.Equal(t, int64(500), f.Now)
	assert.Equal(t, int64(100), f.Key.Timer)
}

func TestSnapshotFileInvalid(t *testing.T) {
	file := filepath.Join(t.TempDir(), "gpiokey.cbor")
	require.NoError(t, os.WriteFile(file, []byte("garbage"), 0o600))

	cfg := config.NewConfig()
	cfg.Snapshot.File = file
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Error(t, a.init())
	require.NoError(t, a.Close())

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(b))
}

func TestNewInvalidClock(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Clock.Tick = 0

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestRoutesDisabled(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Webserver.Webservices["control"] = false })

	code, _ := call(t, a, http.MethodPost, "/trigger", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestVersionAndHealth(t *testing.T) {
	a := newTestApp(t, nil)

	code, b := call(t, a, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(b), VERSION)

	code, b = call(t, a, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(b), `"ClockPaused":true`)
}

func TestExecAfterClose(t *testing.T) {
	a := newTestApp(t, nil)
	require.NoError(t, a.Close())

	assert.Equal(t, ErrStopped, a.exec(func() {}))
}
