// Package devices tracks the sensors currently known to the service.
//
// A record exists for a device id as long as an announce for it was seen
// within the TTL window. Records are created by Upsert, refreshed by later
// announces, and removed only by PurgeExpired.
package devices

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/pkg/models"
)

type record struct {
	device     models.DiscoveredDevice
	lastSeenMs int64
	snapshot   *models.SensorSnapshot
}

// Registry is safe for one writer and many concurrent readers.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*record
	order []string // first-registration order
	ttl   time.Duration
	now   func() time.Time

	logger *zap.Logger

	subMu sync.Mutex
	subs  map[int64]chan struct{}
	subID atomic.Int64
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock replaces time.Now as the registry's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New returns an empty registry expiring devices silent for longer than ttl.
func New(ttl time.Duration, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		byID:   make(map[string]*record),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
		subs:   make(map[int64]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the expiry window.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Upsert inserts or replaces the record for device.ID and stamps it with the
// current time. A prior snapshot is kept. It reports whether the record was
// created.
func (r *Registry) Upsert(device models.DiscoveredDevice) bool {
	nowMs := r.now().UnixMilli()

	r.mu.Lock()
	prev := r.byID[device.ID]
	rec := &record{device: device, lastSeenMs: nowMs}
	if prev != nil {
		rec.snapshot = prev.snapshot
		if prev.lastSeenMs > nowMs {
			rec.lastSeenMs = prev.lastSeenMs
		}
	} else {
		r.order = append(r.order, device.ID)
	}
	r.byID[device.ID] = rec
	r.mu.Unlock()

	if prev == nil {
		r.logger.Info("device registered",
			zap.String("device_id", device.ID),
			zap.String("kind", device.Kind),
			zap.Any("api", device.API),
		)
	} else {
		r.logger.Debug("device updated", zap.String("device_id", device.ID))
	}
	r.notify()
	return prev == nil
}

// PurgeExpired removes every record with now - lastSeen > ttl and returns the
// removed ids in registry order.
func (r *Registry) PurgeExpired(now time.Time) []string {
	nowMs := now.UnixMilli()
	ttlMs := r.ttl.Milliseconds()

	r.mu.Lock()
	var removed []string
	kept := r.order[:0]
	for _, id := range r.order {
		rec := r.byID[id]
		if nowMs-rec.lastSeenMs > ttlMs {
			delete(r.byID, id)
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	r.mu.Unlock()

	for _, id := range removed {
		r.logger.Warn("device ttl expired", zap.String("device_id", id))
	}
	if len(removed) > 0 {
		r.notify()
	}
	return removed
}

// SetSnapshot replaces the last snapshot of id. It is a no-op, returning
// false, when the record no longer exists.
func (r *Registry) SetSnapshot(id string, snap models.SensorSnapshot) bool {
	r.mu.Lock()
	rec := r.byID[id]
	if rec != nil {
		stored := snap.Clone()
		rec.snapshot = &stored
	}
	r.mu.Unlock()

	if rec == nil {
		return false
	}
	r.notify()
	return true
}

// Get returns the current device for id.
func (r *Registry) Get(id string) (models.DiscoveredDevice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.byID[id]
	if rec == nil {
		return models.DiscoveredDevice{}, false
	}
	return rec.device, true
}

// List returns the devices in registry order.
func (r *Registry) List() []models.DiscoveredDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.DiscoveredDevice, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].device)
	}
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// State returns a copy of every record for readers. Snapshot metrics are
// cloned so callers may modify the result freely.
func (r *Registry) State() models.State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := models.State{Devices: make([]models.DeviceState, 0, len(r.order))}
	for _, id := range r.order {
		rec := r.byID[id]
		ds := models.DeviceState{
			ID:         rec.device.ID,
			Kind:       rec.device.Kind,
			LastSeenMs: rec.lastSeenMs,
			API:        rec.device.API.Clone(),
		}
		if rec.snapshot != nil {
			snap := rec.snapshot.Clone()
			ds.Snapshot = &snap
		}
		out.Devices = append(out.Devices, ds)
	}
	return out
}

// Subscribe emits a signal (coalesced) whenever the registry changes. The
// channel is closed when ctx is done.
func (r *Registry) Subscribe(ctx context.Context) <-chan struct{} {
	id := r.subID.Add(1)
	ch := make(chan struct{}, 1)

	r.subMu.Lock()
	r.subs[id] = ch
	r.subMu.Unlock()

	go func() {
		<-ctx.Done()
		r.subMu.Lock()
		delete(r.subs, id)
		close(ch)
		r.subMu.Unlock()
	}()

	return ch
}

func (r *Registry) notify() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
			// coalesce
		}
	}
}
