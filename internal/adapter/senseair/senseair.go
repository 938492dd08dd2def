// Package senseair polls Senseair CO2 sensors over their HTTP JSON API.
package senseair

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/internal/adapter"
	"github.com/HerbHall/accumulator/internal/version"
	"github.com/HerbHall/accumulator/pkg/models"
)

// Kind is the adapter kind served by this package.
const Kind = models.KindSenseair

// MetricCO2 is the metric name for the CO2 concentration in ppm.
const MetricCO2 = "co2ppm"

const maxBodyBytes = 256 * 1024

// Compile-time interface guards.
var (
	_ adapter.Factory = (*Factory)(nil)
	_ adapter.Adapter = (*Adapter)(nil)
	_ io.Closer       = (*Adapter)(nil)
)

// NewHTTPClient returns a client suited to small embedded web servers:
// keep-alives are off and each request is bounded by timeout (0 = none).
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: -1}).DialContext,
		DisableKeepAlives:   true,
		MaxIdleConns:        0,
		TLSHandshakeTimeout: 3 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Factory builds senseair adapters sharing one HTTP client.
type Factory struct {
	client *http.Client
}

// NewFactory returns a Factory. A nil client selects NewHTTPClient(0).
func NewFactory(client *http.Client) *Factory {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &Factory{client: client}
}

func (f *Factory) Kind() string { return Kind }

func (f *Factory) Match(device models.DiscoveredDevice) bool {
	return device.Kind == Kind
}

func (f *Factory) Create(device models.DiscoveredDevice, deps adapter.Deps) (adapter.Adapter, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		device: device,
		client: f.client,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Adapter polls a single device, failing over across its hosts in order.
type Adapter struct {
	device models.DiscoveredDevice
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// BuildURL renders scheme://host:port/path for one candidate host.
func BuildURL(ep *models.Endpoint, host string) string {
	path := ep.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return ep.SchemeOrDefault() + "://" + net.JoinHostPort(host, strconv.Itoa(ep.Port)) + path
}

// Poll tries each host until one answers with a 2xx JSON body. It never
// returns an error: unreachable devices produce an ok:false snapshot.
func (a *Adapter) Poll(ctx context.Context) (models.SensorSnapshot, error) {
	ep := a.device.API
	if !ep.HasHosts() {
		a.logger.Warn("no api endpoint", zap.String("device_id", a.device.ID))
		return models.FailedSnapshot(a.now().UnixMilli(), "no api endpoint found"), nil
	}

	lastErr := ""
	for _, host := range ep.Hosts {
		url := BuildURL(ep, host)
		body, err := a.fetch(ctx, url)
		if err != nil {
			lastErr = err.Error()
			a.logger.Warn("host failed, trying next", zap.String("url", url), zap.Error(err))
			continue
		}

		r := extractReading(body)
		metrics := models.Metrics{}
		if r.co2ppm != nil {
			metrics[MetricCO2] = *r.co2ppm
		}
		a.logger.Debug("poll ok", zap.String("url", url))
		return models.SensorSnapshot{
			TsMs:      a.now().UnixMilli(),
			OK:        true,
			Metrics:   metrics,
			AgeMs:     r.ageMs,
			LastError: r.lastError,
			Raw:       body,
		}, nil
	}

	if lastErr == "" {
		lastErr = "all hosts failed"
	}
	return models.FailedSnapshot(a.now().UnixMilli(), lastErr), nil
}

func (a *Adapter) fetch(ctx context.Context, url string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("HTTP %s", resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var body any
	if err := json.Unmarshal(b, &body); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return body, nil
}

// Close releases idle connections held by the shared client.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
