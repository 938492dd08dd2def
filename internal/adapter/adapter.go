// Package adapter defines how a device is polled and how the adapter for a
// given device is chosen.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/pkg/models"
)

// ErrNoFactory is returned when no registered factory matches a device.
var ErrNoFactory = errors.New("no adapter factory matched")

// Adapter polls one device. Implementations may also implement io.Closer;
// callers close the adapter after every poll attempt.
type Adapter interface {
	Poll(ctx context.Context) (models.SensorSnapshot, error)
}

// Deps are the collaborators handed to a factory.
type Deps struct {
	Logger *zap.Logger
}

// Factory creates adapters for the devices it matches.
type Factory interface {
	// Kind is the unique name of the adapter family (e.g. "senseair").
	Kind() string

	// Match reports whether this factory can poll device.
	Match(device models.DiscoveredDevice) bool

	// Create builds an adapter bound to device.
	Create(device models.DiscoveredDevice, deps Deps) (Adapter, error)
}

// Registry holds factories in registration order. Lookup scans that order and
// the first match wins.
type Registry struct {
	mu        sync.RWMutex
	factories []Factory
	kinds     map[string]struct{}
}

// NewRegistry returns a registry preloaded with factories, in order.
// It panics on duplicate kinds, which is a wiring error.
func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{kinds: make(map[string]struct{})}
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
	return r
}

// Register appends f after the existing factories.
func (r *Registry) Register(f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := f.Kind()
	if _, exists := r.kinds[kind]; exists {
		return fmt.Errorf("adapter factory %q already registered", kind)
	}
	r.kinds[kind] = struct{}{}
	r.factories = append(r.factories, f)
	return nil
}

// Kinds returns the registered kinds in scan order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f.Kind())
	}
	return out
}

// Lookup returns the first factory whose Match accepts device.
func (r *Registry) Lookup(device models.DiscoveredDevice) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.factories {
		if f.Match(device) {
			return f, true
		}
	}
	return nil, false
}

// Create builds the adapter for device using the first matching factory.
// The adapter receives a child logger tagged with its kind and device id.
func (r *Registry) Create(device models.DiscoveredDevice, deps Deps) (Adapter, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	f, ok := r.Lookup(device)
	if !ok {
		logger.Warn("adapter factory not found",
			zap.String("component", "adapter"),
			zap.String("device_id", device.ID),
			zap.String("kind", device.Kind),
		)
		return nil, fmt.Errorf("%w: device %s (kind %q)", ErrNoFactory, device.ID, device.Kind)
	}

	child := logger.With(
		zap.String("component", "adapter"),
		zap.String("adapter_kind", f.Kind()),
		zap.String("device_id", device.ID),
	)
	a, err := f.Create(device, Deps{Logger: child})
	if err != nil {
		return nil, fmt.Errorf("create %s adapter for %s: %w", f.Kind(), device.ID, err)
	}
	return a, nil
}
