package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/womat/debug"

	"gpiokey/pkg/gpiokey"
)

// SnapshotFile is the content of the snapshot file.
// The key deadline is absolute, so the simulated time is saved with it.
type SnapshotFile struct {
	Now int64            `json:"now"`
	Key gpiokey.Snapshot `json:"key"`
}

// snapshotFile is the wire form of SnapshotFile, missing fields decode as nil.
type snapshotFile struct {
	Now *int64          `cbor:"1,keyasint"`
	Key cbor.RawMessage `cbor:"2,keyasint"`
}

// ErrSnapshotFile is returned for a snapshot file without simulated time or key state.
var ErrSnapshotFile = errors.New("incomplete snapshot file")

// DecodeSnapshotFile decodes and validates the content of a snapshot file.
func DecodeSnapshotFile(b []byte) (SnapshotFile, error) {
	var w snapshotFile
	if err := cbor.Unmarshal(b, &w); err != nil {
		return SnapshotFile{}, fmt.Errorf("can't decode snapshot file: %w", err)
	}
	if w.Now == nil || *w.Now < 0 || len(w.Key) == 0 {
		return SnapshotFile{}, ErrSnapshotFile
	}

	s, err := gpiokey.DecodeSnapshot(w.Key)
	if err != nil {
		return SnapshotFile{}, err
	}
	return SnapshotFile{Now: *w.Now, Key: s}, nil
}

// restoreSnapshot loads the clock and the key state from the snapshot file, if one is configured and present.
// It must be called before the simulation loop starts.
func (app *App) restoreSnapshot() error {
	file := app.config.Snapshot.File
	if file == "" {
		return nil
	}

	b, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		debug.InfoLog.Printf("no snapshot %s, start with idle key", file)
		return nil
	}
	if err != nil {
		return fmt.Errorf("can't read snapshot %q: %w", file, err)
	}

	f, err := DecodeSnapshotFile(b)
	if err != nil {
		return fmt.Errorf("can't restore snapshot %q: %w", file, err)
	}

	// the key is still idle, so moving the clock fires nothing
	app.clock.AdvanceTo(f.Now)
	app.key.Restore(f.Key)

	debug.InfoLog.Printf("snapshot %s restored at %d ms, key asserted: %v", file, app.clock.Now(), app.key.Asserted())
	return nil
}

// saveSnapshot writes the clock and the key state to the snapshot file, if one is configured.
// It must not be called while the simulation loop is running.
func (app *App) saveSnapshot() {
	file := app.config.Snapshot.File
	if file == "" {
		return
	}

	key, err := app.key.Save()
	if err != nil {
		debug.ErrorLog.Printf("can't save snapshot: %v", err)
		return
	}

	now := app.clock.Now()
	b, err := cbor.Marshal(snapshotFile{Now: &now, Key: key})
	if err != nil {
		debug.ErrorLog.Printf("can't encode snapshot: %v", err)
		return
	}

	if err = os.WriteFile(file, b, 0o644); err != nil {
		debug.ErrorLog.Printf("can't write snapshot %s: %v", file, err)
		return
	}
	debug.InfoLog.Printf("snapshot saved to %s at %d ms", file, now)
}
