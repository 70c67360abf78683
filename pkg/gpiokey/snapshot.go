package gpiokey

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"gpiokey/pkg/port"
	"gpiokey/pkg/vclock"
)

// Snapshot versions. Load accepts MinimumVersion up to Version.
const (
	Version        = 1
	MinimumVersion = 1
)

var (
	ErrSnapshotName    = errors.New("gpio-key: snapshot of another device")
	ErrSnapshotVersion = errors.New("gpio-key: unsupported snapshot version")
	ErrSnapshotTimer   = errors.New("gpio-key: invalid snapshot timer")
)

// Snapshot is the persisted state of a key.
// The output level isn't part of it, it follows from Timer.
type Snapshot struct {
	Name    string `cbor:"1,keyasint" json:"name"`
	Version int    `cbor:"2,keyasint" json:"version"`
	// Timer is the absolute deadline in simulated ms, vclock.Unarmed if none is pending.
	Timer int64 `cbor:"3,keyasint" json:"timer"`
}

// encoded is the wire form of Snapshot, a missing timer decodes as nil.
type encoded struct {
	Name    string `cbor:"1,keyasint"`
	Version int    `cbor:"2,keyasint"`
	Timer   *int64 `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR decoder mode: %v", err))
	}
}

// Snapshot returns the current state.
func (k *Key) Snapshot() Snapshot {
	return Snapshot{
		Name:    TypeName,
		Version: Version,
		Timer:   k.timer.ExpireTime(),
	}
}

// Save encodes the current state.
func (k *Key) Save() ([]byte, error) {
	b, err := encMode.Marshal(k.Snapshot())
	if err != nil {
		return nil, errors.Wrap(err, "gpio-key: encode snapshot")
	}
	return b, nil
}

// DecodeSnapshot decodes and validates an encoded snapshot.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	var e encoded
	if err := decMode.Unmarshal(b, &e); err != nil {
		return Snapshot{}, errors.Wrap(err, "gpio-key: decode snapshot")
	}

	s := Snapshot{Name: e.Name, Version: e.Version, Timer: vclock.Unarmed}
	if s.Name != TypeName {
		return s, errors.Wrapf(ErrSnapshotName, "got %q", s.Name)
	}
	if s.Version < MinimumVersion || s.Version > Version {
		return s, errors.Wrapf(ErrSnapshotVersion, "got %d, want %d..%d", s.Version, MinimumVersion, Version)
	}
	if e.Timer == nil {
		return s, errors.Wrap(ErrSnapshotTimer, "missing")
	}
	if *e.Timer < 0 && *e.Timer != vclock.Unarmed {
		return s, errors.Wrapf(ErrSnapshotTimer, "got %d", *e.Timer)
	}
	s.Timer = *e.Timer
	return s, nil
}

// Load restores the state saved by Save. The deadline is absolute: on a clock
// that is already past it, the timer fires right away. On error the key is
// left untouched.
func (k *Key) Load(b []byte) error {
	s, err := DecodeSnapshot(b)
	if err != nil {
		return err
	}
	k.Restore(s)
	return nil
}

// Restore applies a validated snapshot. A closed key ignores it.
func (k *Key) Restore(s Snapshot) {
	if k.closed {
		return
	}
	if s.Timer == vclock.Unarmed {
		k.timer.Del()
		k.irq.Set(port.Low)
		return
	}

	k.timer.Mod(s.Timer)
	k.irq.Set(port.High)

	if s.Timer <= k.clock.Now() {
		k.expired()
	}
}
