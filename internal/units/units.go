// Package units converts between the metric values the sensors report and
// the imperial values shown on the display.
package units

// Standard sea level pressure in both units.
const (
	seaLevelHPa  = 1013.25
	seaLevelInHg = 29.92
	metersPerFt  = 0.3048
)

func CToF(c float64) float64 { return c*9/5 + 32 }

func FToC(f float64) float64 { return (f - 32) * 5 / 9 }

// CToFOpt converts an optional temperature, keeping nil as nil.
func CToFOpt(c *float64) *float64 {
	if c == nil {
		return nil
	}
	f := CToF(*c)
	return &f
}

func HPaToInHg(p float64) float64 { return p * seaLevelInHg / seaLevelHPa }

func InHgToHPa(p float64) float64 { return p * seaLevelHPa / seaLevelInHg }

func MToFt(m float64) float64 { return m / metersPerFt }

func FtToM(ft float64) float64 { return ft * metersPerFt }
