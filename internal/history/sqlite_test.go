package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/internal/store"
	"github.com/HerbHall/accumulator/internal/testutil"
	"github.com/HerbHall/accumulator/pkg/models"
)

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.sqlite")

	db, err := store.New(path)
	require.NoError(t, err)
	h, err := NewSQLite(ctx, db)
	require.NoError(t, err)
	require.NoError(t, h.Push(ctx, "D1", "co2ppm", models.MetricPoint{TsMs: 1_000, Value: 450}))
	require.NoError(t, db.Close())

	db, err = store.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	h, err = NewSQLite(ctx, db)
	require.NoError(t, err)

	out, err := h.Query(ctx, Query{DeviceID: "D1", Metric: "co2ppm", FromMs: 0, ToMs: 2_000, BucketMs: 1_000, Agg: AggAvg})
	require.NoError(t, err)
	assert.Equal(t, []models.MetricPoint{{TsMs: 1_000, Value: 450}}, out)
}

func TestNewSQLite_RefusesNewerSchema(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewStore(t)
	_, err := db.DB().ExecContext(ctx,
		`CREATE TABLE _migrations (component TEXT NOT NULL, version INTEGER NOT NULL,
			description TEXT NOT NULL, applied_at_ms INTEGER NOT NULL, PRIMARY KEY (component, version))`)
	require.NoError(t, err)
	_, err = db.DB().ExecContext(ctx,
		`INSERT INTO _migrations VALUES ('history', 99, 'from the future', 0)`)
	require.NoError(t, err)

	_, err = NewSQLite(ctx, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestSQLite_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	h, err := NewSQLite(ctx, testutil.NewStore(t))
	require.NoError(t, err)

	for _, ts := range []int64{100, 200, 300, 400} {
		require.NoError(t, h.Push(ctx, "D1", "co2ppm", models.MetricPoint{TsMs: ts, Value: float64(ts)}))
	}

	n, err := h.DeleteOlderThan(ctx, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	out, err := h.Query(ctx, Query{DeviceID: "D1", Metric: "co2ppm", FromMs: 0, ToMs: 1_000, BucketMs: 100, Agg: AggAvg})
	require.NoError(t, err)
	assert.Equal(t, []models.MetricPoint{{TsMs: 300, Value: 300}, {TsMs: 400, Value: 400}}, out)
}

func TestSQLite_PushFailsOnClosedDB(t *testing.T) {
	ctx := context.Background()
	db, err := store.New(store.MemoryPath)
	require.NoError(t, err)
	h, err := NewSQLite(ctx, db)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = h.Push(ctx, "D1", "co2ppm", models.MetricPoint{TsMs: 1, Value: 1})
	assert.Error(t, err)
}

func TestRunRetention_SweepsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := NewSQLite(ctx, testutil.NewStore(t))
	require.NoError(t, err)

	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	fresh := time.Now().UnixMilli()
	require.NoError(t, h.Push(ctx, "D1", "co2ppm", models.MetricPoint{TsMs: old, Value: 1}))
	require.NoError(t, h.Push(ctx, "D1", "co2ppm", models.MetricPoint{TsMs: fresh, Value: 2}))

	done := make(chan struct{})
	go func() {
		RunRetention(ctx, h, 1, time.Hour, zap.NewNop())
		close(done)
	}()

	require.Eventually(t, func() bool {
		out, err := h.Query(ctx, Query{DeviceID: "D1", Metric: "co2ppm", FromMs: 0, ToMs: fresh, BucketMs: 1, Agg: AggAvg})
		return err == nil && len(out) == 1 && out[0].Value == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunRetention did not return after cancel")
	}
}

func TestRunRetention_DisabledReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		RunRetention(context.Background(), NewMemory(10), 30, time.Hour, zap.NewNop())
		RunRetention(context.Background(), &SQLite{}, 0, time.Hour, zap.NewNop())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunRetention blocked although retention is disabled")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	h, err := Open(ctx, Options{Backend: BackendMemory, MaxPointsPerSeries: 3}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, h)

	h, err = Open(ctx, Options{Backend: BackendSQLite}, testutil.NewStore(t), logger)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, h)

	_, err = Open(ctx, Options{Backend: BackendSQLite}, nil, logger)
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: "influx"}, nil, logger)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
