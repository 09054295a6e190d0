// Package sensor reads the station's I²C sensors: a barometer, a CO2
// meter and an optional hygrometer.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var (
	// ErrCRC is returned when a sensor word fails its checksum.
	ErrCRC = errors.New("sensor: crc mismatch")
	// ErrNotReady is returned when a measurement is requested before the
	// sensor has one available.
	ErrNotReady = errors.New("sensor: data not ready")
)

// PressureSample is one barometer reading.
type PressureSample struct {
	PressureHPa float64
	TempC       float64
}

// CO2Sample is one CO2 meter reading. TempRaw and HumidityRaw are the words
// reported by the sensor.
type CO2Sample struct {
	CO2PPM      int
	TempC       float64
	HumidityPct float64
	TempRaw     uint16
	HumidityRaw uint16
}

// HygroSample is one hygrometer reading.
type HygroSample struct {
	TempC       float64
	HumidityPct float64
}

type Barometer interface {
	ReadPressure() (PressureSample, error)
	Halt() error
}

type CO2Meter interface {
	Start() error
	DataReady() (bool, error)
	ReadMeasurement() (CO2Sample, error)
	SetAmbientPressure(hPa uint16) error
	Stop() error
}

type Hygrometer interface {
	ReadHumidity() (HygroSample, error)
	Halt() error
}

// OpenBus initializes the periph host drivers and opens the named I²C bus.
// An empty name selects the first available bus.
func OpenBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host.Init: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("i2creg.Open(%q): %w", name, err)
	}
	return bus, nil
}

// Poller is satisfied by anything that can report whether a fresh sample is
// waiting.
type Poller interface {
	DataReady() (bool, error)
}

// WaitReady polls p every interval until it reports data or ctx ends.
func WaitReady(ctx context.Context, p Poller, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		ok, err := p.DataReady()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
