package units

import (
	"math"
	"testing"
)

func TestConversions(t *testing.T) {
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{name: "freezing", got: CToF(0), want: 32},
		{name: "boiling", got: CToF(100), want: 212},
		{name: "minus forty", got: FToC(-40), want: -40},
		{name: "body", got: FToC(98.6), want: 37},
		{name: "sea level to inHg", got: HPaToInHg(1013.25), want: 29.92},
		{name: "sea level to hPa", got: InHgToHPa(29.92), want: 1013.25},
		{name: "meters", got: MToFt(0.3048), want: 1},
		{name: "feet", got: FtToM(10), want: 3.048},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if math.Abs(tt.got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestCToFOpt(t *testing.T) {
	if got := CToFOpt(nil); got != nil {
		t.Errorf("CToFOpt(nil) = %v, want nil", *got)
	}
	c := 20.0
	got := CToFOpt(&c)
	if got == nil || *got != 68 {
		t.Errorf("CToFOpt(20) = %v, want 68", got)
	}
}
