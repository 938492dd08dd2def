// Package publish forwards device snapshots to external consumers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/HerbHall/accumulator/pkg/models"
)

const (
	disconnectQuiesceMs = 250
	defaultQueueSize    = 64
)

var (
	// ErrQueueFull is returned by Publish when the broker is not keeping up.
	ErrQueueFull = errors.New("mqtt: publish queue full")
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("mqtt: sink closed")
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Retain      bool
	// Timeout bounds connect, each publish, and the drain on Close.
	Timeout time.Duration
	// QueueSize is the number of snapshots buffered for the broker.
	QueueSize int
}

// Validate checks the configuration.
func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// mqttClient is the part of mqtt.Client the sink uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// SnapshotMessage is the JSON payload published per snapshot.
type SnapshotMessage struct {
	DeviceID string                `json:"deviceId"`
	Snapshot models.SensorSnapshot `json:"snapshot"`
}

// MQTTSink publishes each snapshot to <prefix>/<deviceId>/snapshot.
// Publish only enqueues; a single worker talks to the broker.
type MQTTSink struct {
	client mqttClient
	cfg    MQTTConfig
	logger *zap.Logger

	queue  chan outbound
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

type outbound struct {
	topic   string
	payload []byte
}

// NewMQTT connects to the broker. The client reconnects on its own after
// the first successful connect.
func NewMQTT(cfg MQTTConfig, logger *zap.Logger) (*MQTTSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	logger = logger.Named("mqtt")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	return newMQTTSink(client, cfg, logger), nil
}

func newMQTTSink(client mqttClient, cfg MQTTConfig, logger *zap.Logger) *MQTTSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &MQTTSink{
		client: client,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan outbound, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish encodes snap and queues it for the broker. It never waits on the
// network; a full queue drops the snapshot and returns ErrQueueFull.
func (s *MQTTSink) Publish(_ context.Context, deviceID string, snap models.SensorSnapshot) error {
	payload, err := json.Marshal(SnapshotMessage{DeviceID: deviceID, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", deviceID, err)
	}
	msg := outbound{topic: Topic(s.cfg.TopicPrefix, deviceID), payload: payload}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return fmt.Errorf("%w: dropped snapshot for %s", ErrQueueFull, deviceID)
	}
}

func (s *MQTTSink) run() {
	defer close(s.done)
	for msg := range s.queue {
		if err := s.send(s.ctx, msg); err != nil {
			s.logger.Warn("snapshot publish failed", zap.String("topic", msg.topic), zap.Error(err))
		}
	}
}

// send publishes one message and waits for the acknowledgement required by
// the configured QoS.
func (s *MQTTSink) send(ctx context.Context, msg outbound) error {
	tok := s.client.Publish(msg.topic, s.cfg.QoS, s.cfg.Retain, msg.payload)

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish %s: timed out after %v", msg.topic, s.cfg.Timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	s.logger.Debug("snapshot published", zap.String("topic", msg.topic), zap.Int("bytes", len(msg.payload)))
	return nil
}

// Close stops accepting snapshots, gives queued ones up to Timeout to reach
// the broker, then disconnects.
func (s *MQTTSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()

		timer := time.NewTimer(s.cfg.Timeout)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			s.logger.Warn("mqtt drain timed out", zap.Int("dropped", len(s.queue)))
			s.cancel()
			<-s.done
		}
		s.cancel()
		s.client.Disconnect(disconnectQuiesceMs)
	})
	return nil
}

// topicReplacer neutralises characters with meaning in MQTT topics.
var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Topic builds the snapshot topic for a device.
func Topic(prefix, deviceID string) string {
	id := topicReplacer.Replace(deviceID)
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return id + "/snapshot"
	}
	return prefix + "/" + id + "/snapshot"
}
