package component

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry starts components in registration order and stops them in
// reverse order.
type Registry struct {
	mu         sync.Mutex
	components map[string]Component
	order      []string
	started    []string
	logger     *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		components: make(map[string]Component),
		logger:     logger,
	}
}

// Register appends c. Names must be unique.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.components[name]; exists {
		return fmt.Errorf("component %q already registered", name)
	}

	r.components[name] = c
	r.order = append(r.order, name)
	r.logger.Debug("component registered", zap.String("name", name))
	return nil
}

// Names returns the registered names in start order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// StartAll starts every component in order. If one fails, the components
// already started are stopped in reverse order before the error is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		c := r.components[name]
		r.logger.Info("starting component", zap.String("name", name))
		if err := c.Start(ctx); err != nil {
			startErr := fmt.Errorf("failed to start component %q: %w", name, err)
			if stopErr := r.stopStartedLocked(ctx); stopErr != nil {
				return errors.Join(startErr, stopErr)
			}
			return startErr
		}
		r.started = append(r.started, name)
	}
	return nil
}

// StopAll stops the started components in reverse order. Every component
// is asked to stop even if an earlier one fails; the errors are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopStartedLocked(ctx)
}

func (r *Registry) stopStartedLocked(ctx context.Context) error {
	var errs []error
	for i := len(r.started) - 1; i >= 0; i-- {
		name := r.started[i]
		r.logger.Info("stopping component", zap.String("name", name))
		if err := r.components[name].Stop(ctx); err != nil {
			r.logger.Error("failed to stop component", zap.String("name", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("stop %q: %w", name, err))
		}
	}
	r.started = nil
	return errors.Join(errs...)
}
