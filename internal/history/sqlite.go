package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HerbHall/accumulator/internal/store"
	"github.com/HerbHall/accumulator/pkg/models"
)

// Compile-time interface guards.
var (
	_ History  = (*SQLite)(nil)
	_ Retainer = (*SQLite)(nil)
)

const componentName = "history"

func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create points table",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS points (
						device_id TEXT    NOT NULL,
						metric    TEXT    NOT NULL,
						ts_ms     INTEGER NOT NULL,
						value     REAL    NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_points_device_metric_ts
						ON points(device_id, metric, ts_ms)`,
				}
				for _, s := range stmts {
					if _, err := tx.ExecContext(ctx, s); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

// aggExpr maps an Agg to its SQL aggregate. The value is never user text.
func aggExpr(a Agg) string {
	switch a {
	case AggMin:
		return "MIN(value)"
	case AggMax:
		return "MAX(value)"
	default:
		return "AVG(value)"
	}
}

// SQLite is the durable backend. Each push is written before it returns.
type SQLite struct {
	db *sql.DB
}

// NewSQLite migrates the points table on s and returns the backend.
// A database written by a newer schema is refused.
func NewSQLite(ctx context.Context, s *store.SQLiteStore) (*SQLite, error) {
	migs := migrations()
	if err := s.Migrate(ctx, componentName, migs); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	v, err := s.SchemaVersion(ctx, componentName)
	if err != nil {
		return nil, err
	}
	if known := migs[len(migs)-1].Version; v > known {
		return nil, fmt.Errorf("history schema version %d is newer than supported %d", v, known)
	}
	return &SQLite{db: s.DB()}, nil
}

// Push inserts one row.
func (h *SQLite) Push(ctx context.Context, deviceID, metric string, p models.MetricPoint) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO points (device_id, metric, ts_ms, value) VALUES (?, ?, ?, ?)`,
		deviceID, metric, p.TsMs, p.Value,
	)
	if err != nil {
		return fmt.Errorf("insert point %s/%s: %w", deviceID, metric, err)
	}
	return nil
}

// Prune deletes every row of deviceID.
func (h *SQLite) Prune(ctx context.Context, deviceID string) error {
	if _, err := h.db.ExecContext(ctx, `DELETE FROM points WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("prune %s: %w", deviceID, err)
	}
	return nil
}

// Query buckets and aggregates inside SQLite. The bucket expression floors
// negative timestamps the same way BucketStart does.
func (h *SQLite) Query(ctx context.Context, q Query) ([]models.MetricPoint, error) {
	if err := q.Agg.Validate(); err != nil {
		return nil, err
	}
	if q.BucketMs <= 0 {
		return []models.MetricPoint{}, nil
	}

	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}

	query := `
		SELECT bucket, agg FROM (
			SELECT (ts_ms - (((ts_ms % ?) + ?) % ?)) AS bucket,
			       ` + aggExpr(q.Agg) + ` AS agg
			FROM points
			WHERE device_id = ?
			  AND metric = ?
			  AND ts_ms >= ?
			  AND ts_ms <= ?
			GROUP BY bucket
			ORDER BY bucket DESC
			LIMIT ?
		)
		ORDER BY bucket ASC`

	rows, err := h.db.QueryContext(ctx, query,
		q.BucketMs, q.BucketMs, q.BucketMs,
		q.DeviceID, q.Metric, q.FromMs, q.ToMs,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", q.DeviceID, q.Metric, err)
	}
	defer rows.Close()

	out := []models.MetricPoint{}
	for rows.Next() {
		var p models.MetricPoint
		if err := rows.Scan(&p.TsMs, &p.Value); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes points with ts_ms < cutoffMs and returns the count.
func (h *SQLite) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM points WHERE ts_ms < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("delete points before %d: %w", cutoffMs, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Close is a no-op; the owning store closes the database.
func (h *SQLite) Close() error { return nil }
