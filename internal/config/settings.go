package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ACCUMULATOR_SERVER_PORT.
const EnvPrefix = "ACCUMULATOR"

// legacyEnv maps keys to the unprefixed variable names older deployments set.
var legacyEnv = map[string]string{
	"listener.bind_host":      "BIND_HOST",
	"listener.port":           "CAPTURE_PORT",
	"runner.poll_interval_ms": "POLLING_INTERVAL_MS",
	"runner.device_ttl_ms":    "DEVICE_TTL_MS",
	"server.port":             "WEB_PORT",
	"history.backend":         "HISTORY_BACKEND",
	"history.path":            "HISTORY_DB",
	"history.retention_days":  "HISTORY_DAYS",
	"log.level":               "LOG_LEVEL",
}

// Settings is the full process configuration.
type Settings struct {
	Log      LogSettings      `mapstructure:"log"`
	Listener ListenerSettings `mapstructure:"listener"`
	Server   ServerSettings   `mapstructure:"server"`
	Runner   RunnerSettings   `mapstructure:"runner"`
	History  HistorySettings  `mapstructure:"history"`
	MDNS     MDNSSettings     `mapstructure:"mdns"`
	MQTT     MQTTSettings     `mapstructure:"mqtt"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ListenerSettings struct {
	BindHost string `mapstructure:"bind_host"`
	Port     int    `mapstructure:"port"`
}

type ServerSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type RunnerSettings struct {
	PollIntervalMs int64 `mapstructure:"poll_interval_ms"`
	DeviceTTLMs    int64 `mapstructure:"device_ttl_ms"`
	PollTimeoutMs  int64 `mapstructure:"poll_timeout_ms"`
}

func (r RunnerSettings) PollInterval() time.Duration { return ms(r.PollIntervalMs) }
func (r RunnerSettings) DeviceTTL() time.Duration    { return ms(r.DeviceTTLMs) }
func (r RunnerSettings) PollTimeout() time.Duration  { return ms(r.PollTimeoutMs) }

type HistorySettings struct {
	Backend             string `mapstructure:"backend"`
	Path                string `mapstructure:"path"`
	RetentionDays       int    `mapstructure:"retention_days"`
	RetentionIntervalMs int64  `mapstructure:"retention_interval_ms"`
	MaxPointsPerSeries  int    `mapstructure:"max_points_per_series"`
}

func (h HistorySettings) RetentionInterval() time.Duration { return ms(h.RetentionIntervalMs) }

type MDNSSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	Service    string `mapstructure:"service"`
	IntervalMs int64  `mapstructure:"interval_ms"`
}

func (m MDNSSettings) Interval() time.Duration { return ms(m.IntervalMs) }

type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
	Retain      bool   `mapstructure:"retain"`
	QueueSize   int    `mapstructure:"queue_size"`
}

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("listener.bind_host", "0.0.0.0")
	v.SetDefault("listener.port", 45454)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("runner.poll_interval_ms", 5000)
	v.SetDefault("runner.device_ttl_ms", 60000)
	v.SetDefault("runner.poll_timeout_ms", 10000)

	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.path", "./history.sqlite")
	v.SetDefault("history.retention_days", 30)
	v.SetDefault("history.retention_interval_ms", 3600000)
	v.SetDefault("history.max_points_per_series", 10000)

	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.service", "_senseair._tcp")
	v.SetDefault("mdns.interval_ms", 20000)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://127.0.0.1:1883")
	v.SetDefault("mqtt.client_id", "accumulator")
	v.SetDefault("mqtt.topic_prefix", "accumulator")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.queue_size", 64)
}

// NewViper returns a viper instance with defaults and environment binding
// applied. When path is empty it looks for accumulator.{yaml,toml,json} in
// the working directory and /etc/accumulator, and a missing file is fine.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("accumulator")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/accumulator")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load builds validated Settings from path (optional), defaults and env.
func Load(path string) (*Settings, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := New(v).Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the service cannot run with.
func (s Settings) Validate() error {
	var errs []error
	if s.Runner.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("runner.poll_interval_ms must be positive, got %d", s.Runner.PollIntervalMs))
	}
	if s.Runner.DeviceTTLMs <= 0 {
		errs = append(errs, fmt.Errorf("runner.device_ttl_ms must be positive, got %d", s.Runner.DeviceTTLMs))
	}
	if s.Runner.PollTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("runner.poll_timeout_ms must not be negative, got %d", s.Runner.PollTimeoutMs))
	}
	switch s.History.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("history.backend must be memory or sqlite, got %q", s.History.Backend))
	}
	if s.History.Backend == "sqlite" && s.History.Path == "" {
		errs = append(errs, errors.New("history.path is required for the sqlite backend"))
	}
	if s.History.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("history.retention_days must not be negative, got %d", s.History.RetentionDays))
	}
	if err := validPort("listener.port", s.Listener.Port); err != nil {
		errs = append(errs, err)
	}
	if err := validPort("server.port", s.Server.Port); err != nil {
		errs = append(errs, err)
	}
	if s.MDNS.Enabled && s.MDNS.IntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("mdns.interval_ms must be positive, got %d", s.MDNS.IntervalMs))
	}
	if s.MQTT.Enabled && (s.MQTT.QoS < 0 || s.MQTT.QoS > 2) {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", s.MQTT.QoS))
	}
	return errors.Join(errs...)
}

func validPort(key string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s out of range: %d", key, port)
	}
	return nil
}
