package model

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBackendNotRegistered is returned by [Open] when the manifest names a
// backend no linked package has registered.
var ErrBackendNotRegistered = errors.New("model: backend not registered")

// Factory constructs a [Backend] from a manifest. The factory is responsible
// for reading the weight files; [Open] performs the manifest cross-check
// afterwards.
type Factory func(m *Manifest) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend factory available under name. Typically called
// from an init function of the backend package (see pkg/model/sim).
// Subsequent calls with the same name overwrite the previous registration.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// RegisteredBackends returns the sorted-insertion snapshot of known backend
// names, for error messages and startup logging.
func RegisteredBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func newBackend(m *Manifest) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[m.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotRegistered, m.Backend, RegisteredBackends())
	}
	b, err := f(m)
	if err != nil {
		return nil, fmt.Errorf("model: load backend %q: %w", m.Backend, err)
	}
	return b, nil
}
