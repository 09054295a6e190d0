package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/colindt/wall-display/internal/config"
	"github.com/colindt/wall-display/internal/display"
	"github.com/colindt/wall-display/internal/jsonlog"
	"github.com/colindt/wall-display/internal/mqtt"
	"github.com/colindt/wall-display/internal/recordlog"
	"github.com/colindt/wall-display/internal/sensor"
)

// RunStation opens the hardware and logs and runs the station until ctx ends.
func RunStation(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("initializing station",
		"station_id", cfg.StationID,
		"i2c_bus", cfg.I2CBus,
		"sample_interval", cfg.SampleInterval,
		"log_interval", cfg.LogInterval,
		"log_dir", cfg.LogDir,
		"record_log", cfg.RecordLogPath,
		"mqtt_broker", cfg.MQTTBroker,
		"display", cfg.DisplayEnabled,
	)

	bus, err := sensor.OpenBus(cfg.I2CBus)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("close i2c bus", "error", err)
		}
	}()

	baro, err := sensor.NewBMxx80(bus, cfg.BarometerAddress)
	if err != nil {
		return fmt.Errorf("barometer: %w", err)
	}

	deps := StationDeps{
		Barometer: baro,
		CO2:       sensor.NewSCD4x(bus, cfg.SCD4xAddress, logger),
		Lines:     jsonlog.NewWriter(cfg.LogDir, time.Local),
		Location:  time.Local,
	}

	if cfg.HygrometerAddress != 0 {
		hygro, err := sensor.NewBMxx80(bus, cfg.HygrometerAddress)
		if err != nil {
			// The station runs without auxiliary readings, as it does when
			// the hygrometer fails mid-run.
			logger.Warn("hygrometer unavailable", "address", cfg.HygrometerAddress, "error", err)
		} else {
			deps.Hygrometer = hygro
		}
	}

	if cfg.DisplayEnabled {
		oled, err := display.NewOLED(bus, cfg.DisplayAddress)
		if err != nil {
			logger.Warn("display unavailable", "address", cfg.DisplayAddress, "error", err)
		} else {
			deps.Screen = oled
		}
	}

	rlog, err := recordlog.Open(cfg.RecordLogPath, recordlog.Options{SyncWrites: cfg.RecordLogSync})
	if err != nil {
		return err
	}
	defer func() {
		if err := rlog.Close(); err != nil {
			logger.Error("close record log", "error", err)
		}
	}()
	deps.Records = rlog

	if cfg.MQTTBroker != "" {
		client := mqtt.NewClient(cfg, logger)
		go func() {
			if err := client.Connect(ctx); err != nil {
				logger.Warn("mqtt connect failed; publishing disabled until reconnect", "error", err)
			}
		}()
		defer client.Disconnect()
		deps.Publisher = client
	}

	st, err := NewStation(cfg, logger, deps)
	if err != nil {
		return err
	}
	return st.Run(ctx)
}

// RunCalibration opens the barometer and CO2 meter and calibrates the meter.
func RunCalibration(ctx context.Context, cfg config.Config, opts CalibrateOptions, logger *slog.Logger) (CalibrationResult, error) {
	bus, err := sensor.OpenBus(cfg.I2CBus)
	if err != nil {
		return CalibrationResult{}, err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("close i2c bus", "error", err)
		}
	}()

	baro, err := sensor.NewBMxx80(bus, cfg.BarometerAddress)
	if err != nil {
		return CalibrationResult{}, fmt.Errorf("barometer: %w", err)
	}
	defer func() { _ = baro.Halt() }()

	return Calibrate(ctx, baro, sensor.NewSCD4x(bus, cfg.SCD4xAddress, logger), opts, logger)
}
