// Package runner drives the periodic polling of registered devices.
//
// A tick purges expired devices, then polls every remaining device one at a
// time in registry order. Ticks never overlap: a trigger that arrives while a
// tick is running is dropped, not queued.
package runner

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/internal/adapter"
	"github.com/HerbHall/accumulator/internal/devices"
	"github.com/HerbHall/accumulator/internal/history"
	"github.com/HerbHall/accumulator/pkg/models"
)

// stopPollInterval is the step of Stop's wait loop.
const stopPollInterval = 50 * time.Millisecond

// SnapshotSink receives every snapshot after it has been recorded. Publish
// runs inside the tick, so implementations hand slow I/O off and return.
type SnapshotSink interface {
	Publish(ctx context.Context, deviceID string, snap models.SensorSnapshot) error
}

// Options wires a Runner. Devices, Adapters and History are required.
type Options struct {
	Logger   *zap.Logger
	Devices  *devices.Registry
	Adapters *adapter.Registry
	History  history.History
	Sinks    []SnapshotSink
	Metrics  *Metrics

	PollInterval time.Duration
	// PollTimeout bounds one device poll. Zero leaves polls unbounded.
	PollTimeout time.Duration

	Now func() time.Time
}

// Runner owns the scheduler loop. Create one per process with New.
type Runner struct {
	opts   Options
	logger *zap.Logger

	running  atomic.Bool
	inFlight atomic.Bool

	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
}

// New validates opts and returns a stopped Runner.
func New(opts Options) (*Runner, error) {
	if opts.Devices == nil || opts.Adapters == nil || opts.History == nil {
		return nil, fmt.Errorf("runner: devices, adapters and history are required")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("runner: poll interval must be positive, got %v", opts.PollInterval)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		opts:   opts,
		logger: opts.Logger.Named("runner"),
	}, nil
}

// Start begins firing ticks every PollInterval. Calling it twice is a no-op.
func (r *Runner) Start() {
	if r.running.Swap(true) {
		return
	}

	r.mu.Lock()
	r.ticker = time.NewTicker(r.opts.PollInterval)
	r.done = make(chan struct{})
	ticker, done := r.ticker, r.done
	r.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !r.running.Load() {
					return
				}
				go r.Tick(context.Background())
			}
		}
	}()

	r.logger.Info("runner started",
		zap.Duration("poll_interval", r.opts.PollInterval),
		zap.Duration("device_ttl", r.opts.Devices.TTL()),
		zap.Duration("poll_timeout", r.opts.PollTimeout),
	)
}

// Stop prevents further ticks and blocks until the in-flight tick, if any,
// has finished. A running tick is never interrupted.
func (r *Runner) Stop() {
	wasRunning := r.running.Swap(false)

	r.mu.Lock()
	if r.ticker != nil {
		r.ticker.Stop()
		close(r.done)
		r.ticker = nil
	}
	r.mu.Unlock()

	for r.inFlight.Load() {
		time.Sleep(stopPollInterval)
	}

	if wasRunning {
		r.logger.Info("runner stopped")
	}
}

// OnDevice is the discovery callback.
func (r *Runner) OnDevice(device models.DiscoveredDevice) {
	r.opts.Devices.Upsert(device)
	r.opts.Metrics.devices.Set(float64(r.opts.Devices.Len()))
}

// State returns the registry view for the serving layer.
func (r *Runner) State() models.State {
	return r.opts.Devices.State()
}

// Tick runs one polling pass. It returns immediately when the runner is
// stopped or another tick is still in flight.
func (r *Runner) Tick(ctx context.Context) {
	if !r.running.Load() {
		return
	}
	if !r.inFlight.CompareAndSwap(false, true) {
		r.opts.Metrics.ticksSkipped.Inc()
		r.logger.Debug("tick skipped, previous tick still running")
		return
	}
	defer r.inFlight.Store(false)
	// Stop may have run between the two checks above.
	if !r.running.Load() {
		return
	}

	tickID := uuid.NewString()
	logger := r.logger.With(zap.String("tick_id", tickID))
	start := time.Now()
	r.opts.Metrics.ticks.Inc()
	defer func() {
		r.opts.Metrics.tickDuration.Observe(time.Since(start).Seconds())
	}()

	if err := r.runTick(ctx, logger); err != nil {
		r.opts.Metrics.tickErrors.Inc()
		logger.Error("runner tick failed", zap.Error(err))
	}
}

func (r *Runner) runTick(ctx context.Context, logger *zap.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during tick: %v", p)
		}
	}()

	removed := r.opts.Devices.PurgeExpired(r.opts.Now())
	r.opts.Metrics.purged.Add(float64(len(removed)))
	r.opts.Metrics.devices.Set(float64(r.opts.Devices.Len()))

	for _, d := range r.opts.Devices.List() {
		if !d.API.HasHosts() {
			r.opts.Metrics.polls.WithLabelValues(resultSkipped).Inc()
			logger.Warn("skipped, without api endpoint", zap.String("device_id", d.ID))
			continue
		}
		if err := r.pollOne(ctx, logger, d); err != nil {
			return err
		}
	}
	return nil
}

// pollOne polls a single device. Adapter problems are logged and swallowed;
// only history failures are returned, which ends the tick.
func (r *Runner) pollOne(ctx context.Context, logger *zap.Logger, d models.DiscoveredDevice) error {
	a, err := r.opts.Adapters.Create(d, adapter.Deps{Logger: logger})
	if err != nil {
		r.opts.Metrics.polls.WithLabelValues(resultNoAdapter).Inc()
		logger.Warn("device poll failed", zap.String("device_id", d.ID), zap.Error(err))
		return nil
	}
	defer closeAdapter(a, logger, d.ID)

	pollCtx := ctx
	if r.opts.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, r.opts.PollTimeout)
		defer cancel()
	}

	snap, err := a.Poll(pollCtx)
	if err != nil {
		r.opts.Metrics.polls.WithLabelValues(resultError).Inc()
		logger.Warn("device poll failed", zap.String("device_id", d.ID), zap.Error(err))
		return nil
	}

	result := resultOK
	if !snap.OK {
		result = resultFailed
	}
	r.opts.Metrics.polls.WithLabelValues(result).Inc()
	logger.Info("snapshot received",
		zap.String("device_id", d.ID),
		zap.Bool("ok", snap.OK),
		zap.Float64p("age_ms", snap.AgeMs),
		zap.Any("metrics", snap.Metrics),
	)

	r.opts.Devices.SetSnapshot(d.ID, snap)

	for _, nv := range snap.Metrics.Numeric() {
		p := models.MetricPoint{TsMs: snap.TsMs, Value: nv.Value}
		if err := r.opts.History.Push(ctx, d.ID, nv.Name, p); err != nil {
			return fmt.Errorf("push %s/%s: %w", d.ID, nv.Name, err)
		}
		r.opts.Metrics.points.Inc()
	}

	for _, s := range r.opts.Sinks {
		if err := s.Publish(ctx, d.ID, snap); err != nil {
			logger.Warn("snapshot publish failed", zap.String("device_id", d.ID), zap.Error(err))
		}
	}
	return nil
}

func closeAdapter(a adapter.Adapter, logger *zap.Logger, deviceID string) {
	c, ok := a.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("adapter close failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}
