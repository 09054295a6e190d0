// Package jsonlog writes and reads the human-readable station log: one
// JSON object per line, one file per local calendar day.
package jsonlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/colindt/wall-display/internal/record"
)

// Sensor names and reading keys of the line format. They name the parts
// the station was first built with and are kept so old files stay
// readable.
const (
	SensorBarometer  = "dps310"
	SensorCO2        = "scd40"
	SensorHygrometer = "dht22"

	KeyPressure    = "pressure"
	KeyTemperature = "temperature"
	KeyHumidity    = "humidity"
	KeyCO2         = "CO2"
)

// TimeLayout is the local wall-clock timestamp format of a line.
const TimeLayout = "2006-01-02 15:04:05"

var timeLayouts = []string{TimeLayout, "2006-01-02T15:04:05", time.RFC3339}

var ErrMissingReading = errors.New("missing reading")

type Document struct {
	Time    string   `json:"time"`
	Sensors []Sensor `json:"sensors"`
}

type Sensor struct {
	Name     string                 `json:"name"`
	Readings map[string]Measurement `json:"readings"`
}

// Measurement is a value with units. A nil Value is written as null and
// marks a failed read.
type Measurement struct {
	Value *float64 `json:"value"`
	Units string   `json:"units"`
}

// FromReading builds the line document for r, formatting its time in loc
// (time.Local when nil).
func FromReading(r record.Reading, loc *time.Location) Document {
	if loc == nil {
		loc = time.Local
	}
	pressure := float64(r.PressureHPa)
	pressureTemp := float64(r.PressureTempC)
	co2 := float64(r.CO2PPM)
	co2Temp := r.CO2TempC
	co2Hum := r.CO2HumidityPct

	return Document{
		Time: r.Time.In(loc).Format(TimeLayout),
		Sensors: []Sensor{
			{
				Name: SensorBarometer,
				Readings: map[string]Measurement{
					KeyPressure:    {Value: &pressure, Units: "hPa"},
					KeyTemperature: {Value: &pressureTemp, Units: "C"},
				},
			},
			{
				Name: SensorCO2,
				Readings: map[string]Measurement{
					KeyCO2:         {Value: &co2, Units: "ppm"},
					KeyTemperature: {Value: &co2Temp, Units: "C"},
					KeyHumidity:    {Value: &co2Hum, Units: "%rH"},
				},
			},
			{
				Name: SensorHygrometer,
				Readings: map[string]Measurement{
					KeyTemperature: {Value: r.AuxTempC, Units: "C"},
					KeyHumidity:    {Value: r.AuxHumidityPct, Units: "%rH"},
				},
			},
		},
	}
}

// Reading converts the document back, interpreting its time in loc
// (time.Local when nil). Barometer and CO2 values are required; hygrometer
// values may be null.
func (d Document) Reading(loc *time.Location) (record.Reading, error) {
	if loc == nil {
		loc = time.Local
	}
	ts, err := parseTime(d.Time, loc)
	if err != nil {
		return record.Reading{}, err
	}

	var r record.Reading
	r.Time = ts

	pressure, err := d.required(SensorBarometer, KeyPressure)
	if err != nil {
		return record.Reading{}, err
	}
	pressureTemp, err := d.required(SensorBarometer, KeyTemperature)
	if err != nil {
		return record.Reading{}, err
	}
	co2, err := d.required(SensorCO2, KeyCO2)
	if err != nil {
		return record.Reading{}, err
	}
	co2Temp, err := d.required(SensorCO2, KeyTemperature)
	if err != nil {
		return record.Reading{}, err
	}
	co2Hum, err := d.required(SensorCO2, KeyHumidity)
	if err != nil {
		return record.Reading{}, err
	}

	r.PressureHPa = float32(pressure)
	r.PressureTempC = float32(pressureTemp)
	r.CO2PPM = int(co2)
	r.CO2TempC = co2Temp
	r.CO2HumidityPct = co2Hum
	r.AuxTempC = d.optional(SensorHygrometer, KeyTemperature)
	r.AuxHumidityPct = d.optional(SensorHygrometer, KeyHumidity)
	return r, nil
}

func (d Document) find(sensor, key string) (Measurement, bool) {
	for _, s := range d.Sensors {
		if s.Name != sensor {
			continue
		}
		m, ok := s.Readings[key]
		return m, ok
	}
	return Measurement{}, false
}

func (d Document) required(sensor, key string) (float64, error) {
	m, ok := d.find(sensor, key)
	if !ok || m.Value == nil {
		return 0, fmt.Errorf("%w: %s %s", ErrMissingReading, sensor, key)
	}
	return *m.Value, nil
}

func (d Document) optional(sensor, key string) *float64 {
	m, ok := d.find(sensor, key)
	if !ok || m.Value == nil {
		return nil
	}
	v := *m.Value
	return &v
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: %w", s, firstErr)
}
