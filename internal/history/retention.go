package history

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetentionCutoff returns the oldest timestamp kept for a horizon of days.
func RetentionCutoff(now time.Time, days int) int64 {
	return now.Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
}

// RunRetention deletes points older than the horizon once immediately and
// then on every interval until ctx is done. It returns at once when days is
// not positive or h has no retention support.
func RunRetention(ctx context.Context, h History, days int, interval time.Duration, logger *zap.Logger) {
	r, ok := h.(Retainer)
	if !ok || days <= 0 {
		logger.Debug("history retention disabled", zap.Int("days", days), zap.Bool("supported", ok))
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	sweep := func() {
		cutoff := RetentionCutoff(time.Now(), days)
		n, err := r.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			logger.Error("history retention sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("history retention sweep",
				zap.Int64("deleted", n),
				zap.Int64("cutoff_ms", cutoff),
			)
		}
	}

	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
