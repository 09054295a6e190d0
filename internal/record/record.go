// Package record implements the fixed-width binary encoding of one
// station sample.
//
// Layout (big-endian, 22 bytes, no header or separators):
//
//	0  uint32  timestamp, seconds since epoch
//	4  float32 barometer pressure, hPa
//	8  float32 barometer temperature, °C
//	12 int16   CO2, ppm
//	14 uint16  CO2 sensor temperature bin over [-45, 130] °C
//	16 uint16  CO2 sensor humidity bin over [0, 100] %rH
//	18 int16   hygrometer temperature ×10, or 0x7FFF when absent
//	20 int16   hygrometer humidity ×10, or 0x7FFF when absent
package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Size is the encoded width of a Reading.
const Size = 22

const (
	offTime         = 0
	offPressure     = 4
	offPressureTemp = 8
	offCO2          = 12
	offCO2Temp      = 14
	offCO2Humidity  = 16
	offAuxTemp      = 18
	offAuxHumidity  = 20
)

// FieldWidths lists the byte width of each field in layout order.
var FieldWidths = []int{4, 4, 4, 2, 2, 2, 2, 2}

// Reading is one sampling cycle across all sensors.
type Reading struct {
	Time           time.Time
	PressureHPa    float32
	PressureTempC  float32
	CO2PPM         int
	CO2TempC       float64
	CO2HumidityPct float64

	// Hygrometer values are nil when the sensor failed to report.
	AuxTempC       *float64
	AuxHumidityPct *float64
}

// Float returns a pointer to v, for populating optional fields.
func Float(v float64) *float64 {
	return &v
}

// Encode returns the binary form of r. Out-of-domain or unrepresentable
// values are rejected rather than wrapped, and the result is then nil.
func Encode(r Reading) ([]byte, error) {
	b, err := AppendEncode(make([]byte, 0, Size), r)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// MustEncode is like Encode but panics on error.
func MustEncode(r Reading) []byte {
	b, err := Encode(r)
	if err != nil {
		panic(err)
	}
	return b
}

// AppendEncode appends the binary form of r to dst. dst is returned
// unchanged on error.
func AppendEncode(dst []byte, r Reading) ([]byte, error) {
	var buf [Size]byte

	ts := r.Time.Unix()
	if ts < 0 || ts > math.MaxUint32 {
		return dst, fmt.Errorf("timestamp %d: %w", ts, ErrEncodingOverflow)
	}
	binary.BigEndian.PutUint32(buf[offTime:], uint32(ts))

	binary.BigEndian.PutUint32(buf[offPressure:], math.Float32bits(r.PressureHPa))
	binary.BigEndian.PutUint32(buf[offPressureTemp:], math.Float32bits(r.PressureTempC))

	if r.CO2PPM < math.MinInt16 || r.CO2PPM > math.MaxInt16 {
		return dst, fmt.Errorf("co2 %d ppm: %w", r.CO2PPM, ErrEncodingOverflow)
	}
	binary.BigEndian.PutUint16(buf[offCO2:], uint16(int16(r.CO2PPM)))

	tempBin, err := CO2TempRange.Bin(r.CO2TempC)
	if err != nil {
		return dst, fmt.Errorf("co2 sensor temperature: %w", err)
	}
	binary.BigEndian.PutUint16(buf[offCO2Temp:], tempBin)

	humBin, err := CO2HumidityRange.Bin(r.CO2HumidityPct)
	if err != nil {
		return dst, fmt.Errorf("co2 sensor humidity: %w", err)
	}
	binary.BigEndian.PutUint16(buf[offCO2Humidity:], humBin)

	auxTemp, err := EncodeTenths(r.AuxTempC)
	if err != nil {
		return dst, fmt.Errorf("hygrometer temperature: %w", err)
	}
	binary.BigEndian.PutUint16(buf[offAuxTemp:], uint16(auxTemp))

	auxHum, err := EncodeTenths(r.AuxHumidityPct)
	if err != nil {
		return dst, fmt.Errorf("hygrometer humidity: %w", err)
	}
	binary.BigEndian.PutUint16(buf[offAuxHumidity:], uint16(auxHum))

	return append(dst, buf[:]...), nil
}

// Decode parses exactly one record.
func Decode(b []byte) (Reading, error) {
	if len(b) != Size {
		return Reading{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedRecord, len(b), Size)
	}
	return Reading{
		Time:           time.Unix(int64(binary.BigEndian.Uint32(b[offTime:])), 0).UTC(),
		PressureHPa:    math.Float32frombits(binary.BigEndian.Uint32(b[offPressure:])),
		PressureTempC:  math.Float32frombits(binary.BigEndian.Uint32(b[offPressureTemp:])),
		CO2PPM:         int(int16(binary.BigEndian.Uint16(b[offCO2:]))),
		CO2TempC:       CO2TempRange.Value(binary.BigEndian.Uint16(b[offCO2Temp:])),
		CO2HumidityPct: CO2HumidityRange.Value(binary.BigEndian.Uint16(b[offCO2Humidity:])),
		AuxTempC:       DecodeTenths(int16(binary.BigEndian.Uint16(b[offAuxTemp:]))),
		AuxHumidityPct: DecodeTenths(int16(binary.BigEndian.Uint16(b[offAuxHumidity:]))),
	}, nil
}
