package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/internal/history"
	"github.com/HerbHall/accumulator/pkg/models"
)

// History query defaults.
const (
	defaultMetric   = "co2ppm"
	defaultWindowMs = int64(60 * 60 * 1000)
	defaultBucketMs = int64(60 * 1000)
)

// historyResponse is the body of GET /api/v1/history.
type historyResponse struct {
	DeviceID string               `json:"deviceId"`
	Metric   string               `json:"metric"`
	FromMs   int64                `json:"from"`
	ToMs     int64                `json:"to"`
	BucketMs int64                `json:"bucket"`
	Agg      history.Agg          `json:"agg"`
	Points   []models.MetricPoint `json:"points"`
}

// handleHistory returns aggregated points for one device series.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseHistoryQuery(r.URL.Query())
	if err != nil {
		BadRequest(w, r, err.Error())
		return
	}

	points, err := s.deps.History.Query(r.Context(), q)
	if err != nil {
		if errors.Is(err, history.ErrInvalidAgg) {
			BadRequest(w, r, err.Error())
			return
		}
		s.logger.Error("history query failed",
			zap.String("device_id", q.DeviceID),
			zap.String("metric", q.Metric),
			zap.Error(err),
		)
		InternalError(w, r, "history query failed")
		return
	}
	if points == nil {
		points = []models.MetricPoint{}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		DeviceID: q.DeviceID,
		Metric:   q.Metric,
		FromMs:   q.FromMs,
		ToMs:     q.ToMs,
		BucketMs: q.BucketMs,
		Agg:      q.Agg,
		Points:   points,
	})
}

func (s *Server) parseHistoryQuery(v url.Values) (history.Query, error) {
	q := history.Query{
		DeviceID: v.Get("deviceId"),
		Metric:   v.Get("metric"),
	}
	if q.DeviceID == "" {
		return q, errors.New("deviceId is required")
	}
	if q.Metric == "" {
		q.Metric = defaultMetric
	}

	var err error
	if q.ToMs, err = intParam(v, "to", s.deps.Now().UnixMilli()); err != nil {
		return q, err
	}
	if q.FromMs, err = intParam(v, "from", q.ToMs-defaultWindowMs); err != nil {
		return q, err
	}
	if q.BucketMs, err = intParam(v, "bucket", defaultBucketMs); err != nil {
		return q, err
	}
	limit, err := intParam(v, "limit", 0)
	if err != nil {
		return q, err
	}
	if limit < 0 {
		return q, fmt.Errorf("limit must not be negative, got %d", limit)
	}
	q.Limit = int(limit)

	q.Agg = history.AggAvg
	if raw := v.Get("agg"); raw != "" {
		if q.Agg, err = history.ParseAgg(raw); err != nil {
			return q, err
		}
	}
	return q, nil
}

func intParam(v url.Values, name string, def int64) (int64, error) {
	raw := v.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}
