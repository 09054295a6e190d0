package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv    string
	LogLevel  slog.Level
	StationID string

	SampleInterval time.Duration
	LogInterval    time.Duration

	// LogDir receives the daily JSON line files.
	LogDir        string
	RecordLogPath string
	RecordLogSync bool

	I2CBus            string
	BarometerAddress  uint16
	HygrometerAddress uint16 // 0 disables the hygrometer
	SCD4xAddress      uint16

	DisplayEnabled bool
	DisplayAddress uint16

	MQTTBroker   string // empty disables publishing
	MQTTPort     int
	MQTTClientID string
	// MQTTIngestTopic is the record filter the serve command archives.
	MQTTIngestTopic string

	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteConnMaxLifetime time.Duration

	HTTPAddr string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	stationID := envOr("STATION_ID", "home")

	sampleInterval, err := parsePositiveDuration("SAMPLE_INTERVAL", envOr("SAMPLE_INTERVAL", "5s"))
	if err != nil {
		return Config{}, err
	}
	logInterval, err := parsePositiveDuration("LOG_INTERVAL", envOr("LOG_INTERVAL", "60s"))
	if err != nil {
		return Config{}, err
	}
	if logInterval < sampleInterval {
		return Config{}, fmt.Errorf("LOG_INTERVAL (%v) must not be shorter than SAMPLE_INTERVAL (%v)", logInterval, sampleInterval)
	}

	logDir := envOr("LOG_DIR", "logs")
	recordLogPath := envOr("RECORD_LOG_PATH", filepath.Join(logDir, "records.dat"))

	recordLogSync, err := parseBool("RECORD_LOG_SYNC", envOr("RECORD_LOG_SYNC", "false"))
	if err != nil {
		return Config{}, err
	}

	barometerAddress, err := parseAddress("BAROMETER_ADDRESS", envOr("BAROMETER_ADDRESS", "0x77"))
	if err != nil {
		return Config{}, err
	}

	// An explicitly empty HYGROMETER_ADDRESS disables the sensor.
	var hygrometerAddress uint16
	hygStr, hygSet := os.LookupEnv("HYGROMETER_ADDRESS")
	if !hygSet {
		hygStr = "0x76"
	}
	if strings.TrimSpace(hygStr) != "" {
		hygrometerAddress, err = parseAddress("HYGROMETER_ADDRESS", hygStr)
		if err != nil {
			return Config{}, err
		}
	}

	scd4xAddress, err := parseAddress("SCD4X_ADDRESS", envOr("SCD4X_ADDRESS", "0x62"))
	if err != nil {
		return Config{}, err
	}

	displayEnabled, err := parseBool("DISPLAY_ENABLED", envOr("DISPLAY_ENABLED", "false"))
	if err != nil {
		return Config{}, err
	}
	displayAddress, err := parseAddress("DISPLAY_ADDRESS", envOr("DISPLAY_ADDRESS", "0x3C"))
	if err != nil {
		return Config{}, err
	}

	mqttPortStr := envOr("MQTT_PORT", "1883")
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	maxOpenConnsStr := envOr("SQLITE_MAX_OPEN_CONNS", "1")
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SQLITE_MAX_OPEN_CONNS %q: %w", maxOpenConnsStr, err)
	}

	connMaxLifetimeStr := envOr("SQLITE_CONN_MAX_LIFETIME", "0s")
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SQLITE_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	return Config{
		AppEnv:                appEnv,
		LogLevel:              level,
		StationID:             stationID,
		SampleInterval:        sampleInterval,
		LogInterval:           logInterval,
		LogDir:                logDir,
		RecordLogPath:         recordLogPath,
		RecordLogSync:         recordLogSync,
		I2CBus:                strings.TrimSpace(os.Getenv("I2C_BUS")),
		BarometerAddress:      barometerAddress,
		HygrometerAddress:     hygrometerAddress,
		SCD4xAddress:          scd4xAddress,
		DisplayEnabled:        displayEnabled,
		DisplayAddress:        displayAddress,
		MQTTBroker:            strings.TrimSpace(os.Getenv("MQTT_BROKER")),
		MQTTPort:              mqttPort,
		MQTTClientID:          envOr("MQTT_CLIENT_ID", "wall-display-"+stationID),
		MQTTIngestTopic:       envOr("MQTT_INGEST_TOPIC", "stations/+/record"),
		SQLitePath:            envOr("SQLITE_PATH", filepath.Join(logDir, "archive.db")),
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
		HTTPAddr:              envOr("HTTP_ADDR", ":8080"),
	}, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func parsePositiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseAddress(key, s string) (uint16, error) {
	addr, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if addr > 0x7F {
		return 0, fmt.Errorf("%s %q is not a 7-bit I2C address", key, s)
	}
	return uint16(addr), nil
}

func parseBool(key, s string) (bool, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}
