package senseair

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/internal/adapter"
	"github.com/HerbHall/accumulator/pkg/models"
)

// hostServer answers per Host header so two host names can share one port.
func hostServer(t *testing.T, byHost map[string]func(w http.ResponseWriter)) (port int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, _ := net.SplitHostPort(r.Host)
		if h, ok := byHost[host]; ok {
			h(w)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	_, p, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err = strconv.Atoi(p)
	require.NoError(t, err)
	return port
}

func jsonBody(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

func newAdapter(t *testing.T, ep *models.Endpoint) *Adapter {
	t.Helper()
	f := NewFactory(NewHTTPClient(5 * time.Second))
	a, err := f.Create(models.DiscoveredDevice{ID: "D1", Kind: Kind, API: ep}, adapter.Deps{Logger: zap.NewNop()})
	require.NoError(t, err)
	return a.(*Adapter)
}

func TestPoll_FailsOverToSecondHost(t *testing.T) {
	port := hostServer(t, map[string]func(http.ResponseWriter){
		"127.0.0.1": status(http.StatusServiceUnavailable),
		"localhost": jsonBody(`{"sensor":{"co2ppm":612,"ageMs":1500,"lastError":null}}`),
	})

	a := newAdapter(t, &models.Endpoint{Hosts: []string{"127.0.0.1", "localhost"}, Port: port, Path: "/api"})
	before := time.Now().UnixMilli()
	snap, err := a.Poll(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.OK)
	assert.Equal(t, models.Metrics{"co2ppm": 612.0}, snap.Metrics)
	require.NotNil(t, snap.AgeMs)
	assert.Equal(t, 1500.0, *snap.AgeMs)
	assert.Nil(t, snap.LastError)
	assert.NotNil(t, snap.Raw)
	assert.GreaterOrEqual(t, snap.TsMs, before)
}

func TestPoll_StopsAtFirstSuccess(t *testing.T) {
	var secondHit bool
	port := hostServer(t, map[string]func(http.ResponseWriter){
		"127.0.0.1": jsonBody(`{"sensor":{"co2ppm":400}}`),
		"localhost": func(w http.ResponseWriter) {
			secondHit = true
			jsonBody(`{"sensor":{"co2ppm":999}}`)(w)
		},
	})

	a := newAdapter(t, &models.Endpoint{Hosts: []string{"127.0.0.1", "localhost"}, Port: port, Path: "/api"})
	snap, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 400.0, snap.Metrics["co2ppm"])
	assert.False(t, secondHit, "second host polled after first succeeded")
}

func TestPoll_AllHostsFail(t *testing.T) {
	port := hostServer(t, map[string]func(http.ResponseWriter){
		"127.0.0.1": status(http.StatusInternalServerError),
		"localhost": status(http.StatusServiceUnavailable),
	})

	a := newAdapter(t, &models.Endpoint{Hosts: []string{"127.0.0.1", "localhost"}, Port: port, Path: "/api"})
	snap, err := a.Poll(context.Background())
	require.NoError(t, err)

	assert.False(t, snap.OK)
	assert.Empty(t, snap.Metrics)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, "HTTP 503 Service Unavailable", *snap.LastError)
}

func TestPoll_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	_, p, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	port, _ := strconv.Atoi(p)
	srv.Close()

	a := newAdapter(t, &models.Endpoint{Hosts: []string{"127.0.0.1"}, Port: port, Path: "/api"})
	snap, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.OK)
	require.NotNil(t, snap.LastError)
	assert.NotEmpty(t, *snap.LastError)
}

func TestPoll_NoHosts(t *testing.T) {
	for _, ep := range []*models.Endpoint{nil, {Port: 80, Path: "/"}} {
		a := newAdapter(t, ep)
		snap, err := a.Poll(context.Background())
		require.NoError(t, err)
		assert.False(t, snap.OK)
		assert.Empty(t, snap.Metrics)
		require.NotNil(t, snap.LastError)
		assert.Equal(t, "no api endpoint found", *snap.LastError)
	}
}

func TestPoll_MalformedFieldsAreAbsent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantCO2 bool
		wantAge bool
	}{
		{name: "no sensor object", body: `{"other":1}`},
		{name: "sensor is a string", body: `{"sensor":"broken"}`},
		{name: "co2 is a string", body: `{"sensor":{"co2ppm":"612","ageMs":10}}`, wantAge: true},
		{name: "age wrong type", body: `{"sensor":{"co2ppm":612,"ageMs":"old"}}`, wantCO2: true},
		{name: "top-level array", body: `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := hostServer(t, map[string]func(http.ResponseWriter){
				"127.0.0.1": jsonBody(tt.body),
			})
			a := newAdapter(t, &models.Endpoint{Hosts: []string{"127.0.0.1"}, Port: port, Path: "api"})
			snap, err := a.Poll(context.Background())
			require.NoError(t, err)

			assert.True(t, snap.OK, "a 2xx JSON response is a successful poll")
			_, hasCO2 := snap.Metrics["co2ppm"]
			assert.Equal(t, tt.wantCO2, hasCO2)
			assert.Equal(t, tt.wantAge, snap.AgeMs != nil)
		})
	}
}

func TestPoll_NonJSONBodyFailsHost(t *testing.T) {
	port := hostServer(t, map[string]func(http.ResponseWriter){
		"127.0.0.1": jsonBody(`<html>setup page</html>`),
	})
	a := newAdapter(t, &models.Endpoint{Hosts: []string{"127.0.0.1"}, Port: port, Path: "/"})
	snap, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.OK)
	require.NotNil(t, snap.LastError)
	assert.Contains(t, *snap.LastError, "decode body")
}

func TestPoll_SensorLastErrorCopied(t *testing.T) {
	port := hostServer(t, map[string]func(http.ResponseWriter){
		"127.0.0.1": jsonBody(`{"sensor":{"co2ppm":500,"lastError":"checksum mismatch"}}`),
	})
	a := newAdapter(t, &models.Endpoint{Hosts: []string{"127.0.0.1"}, Port: port, Path: "/"})
	snap, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.OK)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, "checksum mismatch", *snap.LastError)
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		ep   models.Endpoint
		host string
		want string
	}{
		{ep: models.Endpoint{Port: 80, Path: "/api/v1"}, host: "10.0.0.5", want: "http://10.0.0.5:80/api/v1"},
		{ep: models.Endpoint{Port: 8443, Path: "status", Scheme: "https"}, host: "sensor.local", want: "https://sensor.local:8443/status"},
		{ep: models.Endpoint{Port: 80, Path: "/"}, host: "fe80::1", want: "http://[fe80::1]:80/"},
	}
	for _, tt := range tests {
		ep := tt.ep
		if got := BuildURL(&ep, tt.host); got != tt.want {
			t.Errorf("BuildURL(%+v, %q) = %q, want %q", tt.ep, tt.host, got, tt.want)
		}
	}
}

func TestFactory_Match(t *testing.T) {
	f := NewFactory(nil)
	assert.Equal(t, "senseair", f.Kind())
	assert.True(t, f.Match(models.DiscoveredDevice{Kind: "senseair"}))
	assert.False(t, f.Match(models.DiscoveredDevice{Kind: "aranet"}))
	assert.False(t, f.Match(models.DiscoveredDevice{}))
}
