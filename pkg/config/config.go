// Package config holds the single application settings record (§6
// "Persisted state") and the store abstraction behind it: a
// firmware-variable-style backend on the workstation, non-volatile
// key/value storage on the microcontroller, and an in-memory store for
// tests. Every backend must tolerate a read-from-empty-store by
// reporting initial defaults.
package config

import (
	"encoding/binary"
	"sync"

	"github.com/levkropp/survival/pkg/firmware"
)

// Settings is the persisted record. It starts as a single Boolean flag
// for the UI variant; the on-wire encoding is versioned so fields can
// be appended without invalidating stored records.
type Settings struct {
	UIVariant bool
}

// Defaults returns the initial settings.
func Defaults() Settings { return Settings{} }

const (
	recordVersion = 1
	recordSize    = 4 // version u16 + flags u16
)

// Encode serializes s.
func Encode(s Settings) []byte {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint16(buf[0:2], recordVersion)
	var flags uint16
	if s.UIVariant {
		flags |= 1
	}
	binary.LittleEndian.PutUint16(buf[2:4], flags)
	return buf
}

// Decode deserializes a stored record. An empty record yields defaults
// (the empty-store contract); a truncated one is BadParameter and one
// with an unknown version is Unsupported, so the caller can choose
// between resetting and surfacing it.
func Decode(data []byte) (Settings, error) {
	if len(data) == 0 {
		return Defaults(), nil
	}
	if len(data) < recordSize {
		return Settings{}, firmware.NewError(firmware.BadParameter, "settings: truncated record")
	}
	if v := binary.LittleEndian.Uint16(data[0:2]); v != recordVersion {
		return Settings{}, firmware.NewError(firmware.Unsupported, "settings: unknown record version")
	}
	flags := binary.LittleEndian.Uint16(data[2:4])
	return Settings{UIVariant: flags&1 != 0}, nil
}

// Store persists the settings record.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// VarBackend is the raw variable-store contract a firmware binding
// implements: get returns nil for a variable that has never been set.
type VarBackend interface {
	GetVariable(name string) ([]byte, error)
	SetVariable(name string, data []byte) error
}

// varName is the single settings variable.
const varName = "SurvivalSettings"

// VarStore adapts a VarBackend into a Store.
type VarStore struct {
	Backend VarBackend
}

// Load implements Store, treating an unset variable as defaults.
func (s VarStore) Load() (Settings, error) {
	data, err := s.Backend.GetVariable(varName)
	if err != nil {
		return Settings{}, err
	}
	return Decode(data)
}

// Save implements Store.
func (s VarStore) Save(set Settings) error {
	return s.Backend.SetVariable(varName, Encode(set))
}

// MemStore is the in-memory Store used by the flasher and tests.
type MemStore struct {
	mu   sync.Mutex
	data []byte
}

// Load implements Store.
func (m *MemStore) Load() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Decode(m.data)
}

// Save implements Store.
func (m *MemStore) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = Encode(s)
	return nil
}
