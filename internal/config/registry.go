package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/vocalparam/pkg/audio"
)

// ErrBackendNotRegistered is returned by [Registry.CreateBackend] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: audio backend not registered")

// BackendFactory builds an audio backend from the audio section.
type BackendFactory func(AudioConfig) (audio.Backend, error)

// Registry maps audio backend names to their constructors. It is safe for
// concurrent use. Hardware backends are registered by the binary so that
// packages importing config do not link the native driver.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]BackendFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]BackendFactory)}
}

// RegisterBackend registers factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterBackend(name string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// Has reports whether a factory is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[name]
	return ok
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CreateBackend instantiates the backend named by cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateBackend(cfg AudioConfig) (audio.Backend, error) {
	r.mu.RLock()
	factory, ok := r.backends[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	b, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create audio backend %q: %w", cfg.Backend, err)
	}
	return b, nil
}
