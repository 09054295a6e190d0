// Package app wires sensors, logs, the archive and transports into the
// wall-display commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/colindt/wall-display/internal/config"
	"github.com/colindt/wall-display/internal/display"
	"github.com/colindt/wall-display/internal/record"
	"github.com/colindt/wall-display/internal/sensor"
	"github.com/colindt/wall-display/internal/utils"
)

const readyPoll = 100 * time.Millisecond

// LineWriter receives the human-readable JSON line log.
type LineWriter interface {
	Write(r record.Reading) (string, error)
}

// RecordWriter receives encoded binary records.
type RecordWriter interface {
	AppendRaw(b []byte) error
}

type Publisher interface {
	PublishReading(r record.Reading) error
	PublishRecord(b []byte) error
}

type Screen interface {
	Show(f display.Frame) error
	Columns() int
	Halt() error
}

// StationDeps are the station's collaborators. Hygrometer, Publisher and
// Screen are optional.
type StationDeps struct {
	Barometer  sensor.Barometer
	CO2        sensor.CO2Meter
	Hygrometer sensor.Hygrometer
	Lines      LineWriter
	Records    RecordWriter
	Publisher  Publisher
	Screen     Screen
	Location   *time.Location
	Now        func() time.Time
}

// Station samples the sensors on a fixed interval, logs a reading roughly
// every LogInterval and keeps the display current.
type Station struct {
	cfg    config.Config
	logger *slog.Logger
	deps   StationDeps

	lastLog time.Time
	lastCO2 *sensor.CO2Sample
}

func NewStation(cfg config.Config, logger *slog.Logger, deps StationDeps) (*Station, error) {
	if deps.Barometer == nil || deps.CO2 == nil {
		return nil, errors.New("station needs a barometer and a CO2 meter")
	}
	if deps.Lines == nil || deps.Records == nil {
		return nil, errors.New("station needs a line log and a record log")
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Station{cfg: cfg, logger: logger, deps: deps}, nil
}

// Run starts periodic CO2 measurement, waits for the first sample and ticks
// until ctx ends. Sensors and the screen are idled on the way out.
func (s *Station) Run(ctx context.Context) error {
	if sc, ok := s.deps.CO2.(interface{ SelfCalibration() (bool, error) }); ok {
		if on, err := sc.SelfCalibration(); err != nil {
			s.logger.Warn("could not read CO2 self calibration state", "error", err)
		} else if on {
			s.logger.Warn("CO2 self calibration is enabled; readings may drift. Run the calibrate command to calibrate manually.")
		}
	}

	if err := s.deps.CO2.Start(); err != nil {
		return fmt.Errorf("start co2 measurement: %w", err)
	}
	defer s.shutdown()

	s.logger.Info("waiting for CO2 sensor to start")
	if err := sensor.WaitReady(ctx, s.deps.CO2, readyPoll); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(); err != nil {
			s.logger.Error("sample failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Station) shutdown() {
	if err := s.deps.CO2.Stop(); err != nil {
		s.logger.Warn("stop co2 measurement", "error", err)
	}
	if err := s.deps.Barometer.Halt(); err != nil {
		s.logger.Warn("halt barometer", "error", err)
	}
	if s.deps.Hygrometer != nil {
		if err := s.deps.Hygrometer.Halt(); err != nil {
			s.logger.Warn("halt hygrometer", "error", err)
		}
	}
	if s.deps.Screen != nil {
		if err := s.deps.Screen.Halt(); err != nil {
			s.logger.Warn("halt screen", "error", err)
		}
	}
	s.logger.Info("station stopped")
}

// Sample reads every sensor once. A failing hygrometer leaves the auxiliary
// fields absent; the barometer and CO2 meter are required.
func (s *Station) Sample() (record.Reading, error) {
	p, err := s.deps.Barometer.ReadPressure()
	if err != nil {
		return record.Reading{}, fmt.Errorf("barometer: %w", err)
	}

	if err := s.deps.CO2.SetAmbientPressure(ambientPressure(p.PressureHPa)); err != nil {
		s.logger.Warn("set co2 ambient pressure", "error", err)
	}

	c, err := s.deps.CO2.ReadMeasurement()
	switch {
	case err == nil:
		s.lastCO2 = &c
	case errors.Is(err, sensor.ErrNotReady) && s.lastCO2 != nil:
		c = *s.lastCO2
	default:
		return record.Reading{}, fmt.Errorf("co2 meter: %w", err)
	}

	r := record.Reading{
		Time:           s.deps.Now().Truncate(time.Second),
		PressureHPa:    float32(p.PressureHPa),
		PressureTempC:  float32(p.TempC),
		CO2PPM:         c.CO2PPM,
		CO2TempC:       c.TempC,
		CO2HumidityPct: c.HumidityPct,
	}

	if s.deps.Hygrometer != nil {
		h, err := s.deps.Hygrometer.ReadHumidity()
		if err != nil {
			s.logger.Warn("hygrometer error", "error", err)
		} else {
			r.AuxTempC = record.Float(h.TempC)
			r.AuxHumidityPct = record.Float(h.HumidityPct)
		}
	}
	return r, nil
}

// ambientPressure rounds to whole hPa within the sensor's accepted range.
func ambientPressure(hPa float64) uint16 {
	return uint16(math.Max(0, math.Min(math.Round(hPa), math.MaxUint16)))
}

// logDue reports whether a reading at t should be logged. One sample
// interval of slack keeps the cadence from slipping a whole tick.
func (s *Station) logDue(t time.Time) bool {
	return s.lastLog.IsZero() || t.Sub(s.lastLog) >= s.cfg.LogInterval-s.cfg.SampleInterval
}

// Tick takes one sample, logs and publishes it when due and refreshes the
// screen.
func (s *Station) Tick() error {
	r, err := s.Sample()
	if err != nil {
		return err
	}
	s.logger.Debug("reading", "summary", display.Summary(r))

	if s.logDue(r.Time) {
		s.lastLog = r.Time
		s.log(r)
	}

	if s.deps.Screen != nil {
		if err := s.deps.Screen.Show(display.Layout(r, s.deps.Location, s.deps.Screen.Columns())); err != nil {
			s.logger.Warn("display update failed", "error", err)
		}
	}
	return nil
}

func (s *Station) log(r record.Reading) {
	if path, err := s.deps.Lines.Write(r); err != nil {
		s.logger.Error("json line log failed", "error", err)
	} else {
		s.logger.Debug("logged reading", "path", path)
	}

	raw, encErr := record.Encode(r)
	if encErr != nil {
		s.logger.Error("reading cannot be encoded; binary record skipped", "error", encErr)
	} else if err := s.deps.Records.AppendRaw(raw); err != nil {
		s.logger.Error("record log append failed", "error", err)
	} else {
		s.logger.Debug("appended record", "hex", utils.GroupedHex(raw, record.FieldWidths...))
	}

	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.PublishReading(r); err != nil {
		s.logger.Warn("publish reading failed", "error", err)
	}
	if encErr == nil {
		if err := s.deps.Publisher.PublishRecord(raw); err != nil {
			s.logger.Warn("publish record failed", "error", err)
		}
	}
}
