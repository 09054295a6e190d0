package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/colindt/wall-display/internal/config"
	"github.com/colindt/wall-display/internal/record"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

// Client publishes station readings.
type Client struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Telemetry is the JSON form of a reading published on the telemetry topic.
type Telemetry struct {
	StationID      string    `json:"station_id"`
	Timestamp      time.Time `json:"timestamp"`
	PressureHPa    float32   `json:"pressure_hpa"`
	PressureTempC  float32   `json:"pressure_temperature_c"`
	CO2PPM         int       `json:"co2_ppm"`
	CO2TempC       float64   `json:"co2_temperature_c"`
	CO2HumidityPct float64   `json:"co2_humidity_pct"`
	AuxTempC       *float64  `json:"aux_temperature_c,omitempty"`
	AuxHumidityPct *float64  `json:"aux_humidity_pct,omitempty"`
}

// TelemetryFromReading flattens r for stationID.
func TelemetryFromReading(stationID string, r record.Reading) Telemetry {
	return Telemetry{
		StationID:      stationID,
		Timestamp:      r.Time.UTC(),
		PressureHPa:    r.PressureHPa,
		PressureTempC:  r.PressureTempC,
		CO2PPM:         r.CO2PPM,
		CO2TempC:       r.CO2TempC,
		CO2HumidityPct: r.CO2HumidityPct,
		AuxTempC:       r.AuxTempC,
		AuxHumidityPct: r.AuxHumidityPct,
	}
}

func TelemetryTopic(stationID string) string {
	return fmt.Sprintf("stations/%s/telemetry", stationID)
}

func RecordTopic(stationID string) string {
	return fmt.Sprintf("stations/%s/record", stationID)
}

func newClientOptions(cfg config.Config, logger *slog.Logger, setConnected func(bool)) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})
	return opts
}

func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	c.client = mqtt.NewClient(newClientOptions(cfg, logger, c.setConnected))
	return c
}

// Connect waits for the initial connection, respecting ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	return connect(ctx, c.client, c.stopCh, c.IsConnected)
}

func connect(ctx context.Context, client mqtt.Client, stopCh <-chan struct{}, isConnected func() bool) error {
	select {
	case <-stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	if isConnected() {
		return nil
	}

	// With ConnectRetry the token may stay pending while paho retries.
	token := client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			client.Disconnect(0)
			return ctx.Err()
		case <-stopCh:
			client.Disconnect(0)
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

// PublishReading publishes r as JSON telemetry.
func (c *Client) PublishReading(r record.Reading) error {
	data, err := json.Marshal(TelemetryFromReading(c.cfg.StationID, r))
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	return c.publish(TelemetryTopic(c.cfg.StationID), data, "telemetry")
}

// PublishRecord publishes the encoded record bytes unchanged.
func (c *Client) PublishRecord(b []byte) error {
	if len(b) == 0 || len(b)%record.Size != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of records", record.ErrMalformedRecord, len(b))
	}
	return c.publish(RecordTopic(c.cfg.StationID), b, "record")
}

func (c *Client) publish(topic string, payload []byte, kind string) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	token := c.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if token.Error() != nil {
		c.logger.Error("failed to publish "+kind, "topic", topic, "error", token.Error())
		return fmt.Errorf("publish %s: %w", kind, token.Error())
	}

	c.logger.Debug("published "+kind, "topic", topic, "bytes", len(payload))
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client. It is idempotent; Connect fails afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	// paho quiesces in-flight work for the given ms.
	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
