package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/colindt/wall-display/internal/sensor"
)

// ErrCalibrationDeclined is returned when the operator does not confirm.
var ErrCalibrationDeclined = errors.New("calibration declined")

// Calibrator is a CO2 meter that supports forced recalibration.
type Calibrator interface {
	sensor.CO2Meter
	SetSelfCalibration(enabled bool) error
	ForceRecalibration(ppm uint16) (int, error)
	PersistSettings() error
}

type CalibrateOptions struct {
	PressureSamples int
	SampleDelay     time.Duration
	WarmUp          time.Duration
	TargetPPM       uint16
	// Confirm is asked once warm-up ends; false aborts without writing.
	Confirm func() bool
}

func DefaultCalibrateOptions() CalibrateOptions {
	return CalibrateOptions{
		PressureSamples: 10,
		SampleDelay:     time.Second,
		WarmUp:          5 * time.Minute,
		TargetPPM:       400,
	}
}

type CalibrationResult struct {
	AmbientHPa uint16
	LastPPM    int
	Correction int
}

// Calibrate disables self calibration, feeds the averaged ambient pressure,
// warms the sensor up in periodic mode and then forces the current
// concentration to opts.TargetPPM, persisting the result.
func Calibrate(ctx context.Context, baro sensor.Barometer, meter Calibrator, opts CalibrateOptions, logger *slog.Logger) (CalibrationResult, error) {
	var res CalibrationResult
	if opts.PressureSamples <= 0 {
		return res, errors.New("calibrate: need at least one pressure sample")
	}

	if err := meter.SetSelfCalibration(false); err != nil {
		return res, fmt.Errorf("disable self calibration: %w", err)
	}

	logger.Info("measuring ambient pressure", "samples", opts.PressureSamples)
	var sum float64
	for i := range opts.PressureSamples {
		p, err := baro.ReadPressure()
		if err != nil {
			return res, fmt.Errorf("pressure sample %d: %w", i, err)
		}
		logger.Info("pressure sample", "n", i+1, "hpa", p.PressureHPa)
		sum += p.PressureHPa
		if err := sleepCtx(ctx, opts.SampleDelay); err != nil {
			return res, err
		}
	}
	res.AmbientHPa = ambientPressure(sum / float64(opts.PressureSamples))
	logger.Info("ambient pressure", "hpa", res.AmbientHPa)

	if err := meter.SetAmbientPressure(res.AmbientHPa); err != nil {
		return res, fmt.Errorf("set ambient pressure: %w", err)
	}

	logger.Info("warming up CO2 sensor", "duration", opts.WarmUp)
	if err := meter.Start(); err != nil {
		return res, fmt.Errorf("start co2 measurement: %w", err)
	}
	start := time.Now()
	for time.Since(start) < opts.WarmUp {
		ready, err := meter.DataReady()
		if err != nil {
			_ = meter.Stop()
			return res, err
		}
		if ready {
			c, err := meter.ReadMeasurement()
			if err == nil {
				res.LastPPM = c.CO2PPM
				logger.Info("warm-up", "elapsed", time.Since(start).Round(time.Second), "ppm", c.CO2PPM)
			}
		}
		if err := sleepCtx(ctx, readyPoll); err != nil {
			_ = meter.Stop()
			return res, err
		}
	}
	// Forced recalibration is only accepted in idle mode.
	if err := meter.Stop(); err != nil {
		return res, fmt.Errorf("stop co2 measurement: %w", err)
	}

	if opts.Confirm != nil && !opts.Confirm() {
		logger.Info("not calibrated")
		return res, ErrCalibrationDeclined
	}

	corr, err := meter.ForceRecalibration(opts.TargetPPM)
	if err != nil {
		return res, err
	}
	res.Correction = corr
	if err := meter.PersistSettings(); err != nil {
		return res, fmt.Errorf("persist settings: %w", err)
	}
	logger.Info("calibrated", "target_ppm", opts.TargetPPM, "correction_ppm", corr)
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
