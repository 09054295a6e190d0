package mqtt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/colindt/wall-display/internal/config"
	"github.com/colindt/wall-display/internal/record"
	"github.com/colindt/wall-display/internal/recordlog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RecordHandler receives each record decoded from an ingest message.
type RecordHandler func(stationID string, r record.Reading) error

// Subscriber archives raw records published by stations.
type Subscriber struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	handler RecordHandler
}

func NewSubscriber(cfg config.Config, logger *slog.Logger, handler RecordHandler) *Subscriber {
	s := &Subscriber{
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		handler: handler,
	}
	opts := newClientOptions(cfg, logger, s.setConnected)
	// Subscriptions are lost with a clean session, so renew them on reconnect.
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		go func() {
			if err := s.subscribe(); err != nil {
				logger.Error("mqtt subscribe failed", "topic", cfg.MQTTIngestTopic, "error", err)
			}
		}()
	})
	s.client = mqtt.NewClient(opts)
	return s
}

// Connect waits for the initial connection. Subscribing happens from the
// connect handler.
func (s *Subscriber) Connect(ctx context.Context) error {
	return connect(ctx, s.client, s.stopCh, s.IsConnected)
}

func (s *Subscriber) subscribe() error {
	topic := s.cfg.MQTTIngestTopic
	const qos = byte(1)

	token := s.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}

	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

// StationFromTopic extracts the station id from stations/<id>/<kind>.
func StationFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "stations" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// handleMessage decodes every record in payload. A malformed record stops
// processing of the message; earlier records have already been handled.
func (s *Subscriber) handleMessage(topic string, payload []byte) int {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	stationID, ok := StationFromTopic(topic)
	if !ok {
		s.logger.Warn("ignoring message on unexpected topic", "topic", topic)
		return 0
	}

	n := 0
	for r, err := range recordlog.Scan(bytes.NewReader(payload)) {
		if err != nil {
			s.logger.Warn("invalid record message",
				"topic", topic,
				"station_id", stationID,
				"record", n,
				"error", err,
			)
			return n
		}
		if s.handler != nil {
			if err := s.handler(stationID, r); err != nil {
				s.logger.Error("record handler failed",
					"topic", topic,
					"station_id", stationID,
					"error", err,
				)
				return n
			}
		}
		n++
	}
	s.logger.Debug("processed record message", "station_id", stationID, "records", n)
	return n
}

func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect unsubscribes and closes the connection. It is idempotent.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.cfg.MQTTIngestTopic)
		token.WaitTimeout(2 * time.Second)
	}

	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
