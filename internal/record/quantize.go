package record

import (
	"fmt"
	"math"
)

// binCount is the number of quantization steps in a uint16 bin field.
const binCount = 1 << 16

// Sentinel marks an absent optional measurement in a tenths field.
const Sentinel int16 = 0x7FFF

// Range is the closed interval a quantized field can represent.
type Range struct {
	Min float64
	Max float64
}

var (
	// CO2TempRange is the SCD4x temperature span.
	CO2TempRange = Range{Min: -45, Max: 130}
	// CO2HumidityRange is the SCD4x relative humidity span.
	CO2HumidityRange = Range{Min: 0, Max: 100}
)

func (r Range) span() float64 { return r.Max - r.Min }

// Contains reports whether v lies inside r. NaN is never contained.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Resolution is the width of one bin.
func (r Range) Resolution() float64 {
	return r.span() / binCount
}

// Bin quantizes v to a uint16 fraction of r, truncating toward the lower
// bin edge. Max itself maps to the last bin.
func (r Range) Bin(v float64) (uint16, error) {
	if !r.Contains(v) {
		return 0, fmt.Errorf("%w: %v not in [%v, %v]", ErrDomainViolation, v, r.Min, r.Max)
	}
	b := math.Floor(binCount * ((v - r.Min) / r.span()))
	if b > binCount-1 {
		b = binCount - 1
	}
	return uint16(b), nil
}

// Value returns the lower edge of bin b.
func (r Range) Value(b uint16) float64 {
	return r.Min + r.span()*(float64(b)/binCount)
}

// EncodeTenths scales an optional value to one-decimal fixed point.
// nil encodes as Sentinel.
func EncodeTenths(v *float64) (int16, error) {
	if v == nil {
		return Sentinel, nil
	}
	if math.IsNaN(*v) {
		return 0, fmt.Errorf("%w: NaN", ErrDomainViolation)
	}
	scaled := math.Round(10 * *v)
	if scaled < math.MinInt16 || scaled > math.MaxInt16 {
		return 0, fmt.Errorf("%w: %v does not fit int16 tenths", ErrEncodingOverflow, *v)
	}
	if int16(scaled) == Sentinel {
		return 0, fmt.Errorf("%w: %v collides with the absent marker", ErrDomainViolation, *v)
	}
	return int16(scaled), nil
}

// DecodeTenths is the inverse of EncodeTenths.
func DecodeTenths(n int16) *float64 {
	if n == Sentinel {
		return nil
	}
	v := float64(n) / 10
	return &v
}
