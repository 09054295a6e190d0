package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

// senser is the subset of *bmxx80.Dev the wrappers use.
type senser interface {
	Sense(env *physic.Env) error
	Halt() error
}

// BMxx80 adapts a Bosch BMP280/BME280 to Barometer and Hygrometer.
type BMxx80 struct {
	dev senser
}

// NewBMxx80 opens a BMP280 or BME280 at addr on bus.
func NewBMxx80(bus i2c.Bus, addr uint16) (*BMxx80, error) {
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("bmxx80.NewI2C(0x%02X): %w", addr, err)
	}
	return &BMxx80{dev: dev}, nil
}

func (b *BMxx80) sense() (physic.Env, error) {
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return env, fmt.Errorf("sense: %w", err)
	}
	return env, nil
}

func (b *BMxx80) ReadPressure() (PressureSample, error) {
	env, err := b.sense()
	if err != nil {
		return PressureSample{}, err
	}
	return PressureSample{
		PressureHPa: pressureHPa(env.Pressure),
		TempC:       env.Temperature.Celsius(),
	}, nil
}

func (b *BMxx80) ReadHumidity() (HygroSample, error) {
	env, err := b.sense()
	if err != nil {
		return HygroSample{}, err
	}
	return HygroSample{
		TempC:       env.Temperature.Celsius(),
		HumidityPct: humidityPct(env.Humidity),
	}, nil
}

func (b *BMxx80) Halt() error {
	return b.dev.Halt()
}

// physic.Pressure is nano pascal.
func pressureHPa(p physic.Pressure) float64 {
	return float64(p) / float64(100*physic.Pascal)
}

// physic.RelativeHumidity is fixed point at 1e-5 %rH.
func humidityPct(h physic.RelativeHumidity) float64 {
	return float64(h) / float64(physic.PercentRH)
}
