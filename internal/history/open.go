package history

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/internal/store"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Options selects and sizes a backend.
type Options struct {
	Backend            string
	MaxPointsPerSeries int
}

// Open builds the configured backend. db is only used by the sqlite backend
// and may be nil otherwise.
func Open(ctx context.Context, opts Options, db *store.SQLiteStore, logger *zap.Logger) (History, error) {
	switch opts.Backend {
	case "", BackendMemory:
		logger.Info("history backend", zap.String("backend", BackendMemory),
			zap.Int("max_points_per_series", opts.MaxPointsPerSeries))
		return NewMemory(opts.MaxPointsPerSeries), nil
	case BackendSQLite:
		if db == nil {
			return nil, fmt.Errorf("sqlite history requires a store")
		}
		h, err := NewSQLite(ctx, db)
		if err != nil {
			return nil, err
		}
		logger.Info("history backend", zap.String("backend", BackendSQLite))
		return h, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
