// Package component sequences the start and stop of the process's
// long-lived parts.
package component

import "context"

// Component is one long-lived part of the process.
type Component interface {
	// Name returns the component's unique identifier (e.g. "runner").
	Name() string

	// Start begins the component's background work. It must not block.
	Start(ctx context.Context) error

	// Stop releases the component. It may block until in-flight work ends
	// or ctx expires.
	Stop(ctx context.Context) error
}

// Hooks adapts a pair of functions to Component. Either hook may be nil.
type Hooks struct {
	Label   string
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (h Hooks) Name() string { return h.Label }

func (h Hooks) Start(ctx context.Context) error {
	if h.OnStart == nil {
		return nil
	}
	return h.OnStart(ctx)
}

func (h Hooks) Stop(ctx context.Context) error {
	if h.OnStop == nil {
		return nil
	}
	return h.OnStop(ctx)
}
