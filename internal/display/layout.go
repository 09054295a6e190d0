// Package display lays out a reading for a small character display and
// drives an SSD1306 OLED.
package display

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/colindt/wall-display/internal/record"
	"github.com/colindt/wall-display/internal/units"
)

// Rows is the number of lines in a frame.
const Rows = 4

// Frame is one screenful of text.
type Frame [Rows]string

// Average returns the mean of the present values and false when all are absent.
func Average(values ...*float64) (float64, bool) {
	var sum float64
	n := 0
	for _, v := range values {
		if v == nil {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Line right-aligns right against left within width runes. Text that does
// not fit is not truncated.
func Line(left, right string, width int) string {
	pad := width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if pad < 0 {
		pad = 0
	}
	return left + strings.Repeat(" ", pad) + right
}

// Layout builds the frame for r in loc:
//
//	Tue 14 Nov 2023    *
//	10:13 PM    45.2%rH
//	72.1°F   29.92 inHg
//	22.3°C      812 ppm
//
// The asterisk flags a missing auxiliary reading.
func Layout(r record.Reading, loc *time.Location, width int) Frame {
	if loc == nil {
		loc = time.Local
	}
	now := r.Time.In(loc)

	pressureTemp := float64(r.PressureTempC)
	avgC, _ := Average(&pressureTemp, &r.CO2TempC, r.AuxTempC)
	avgRH, _ := Average(&r.CO2HumidityPct, r.AuxHumidityPct)

	errFlag := ""
	if r.AuxTempC == nil {
		errFlag = "*"
	}

	return Frame{
		Line(now.Format("Mon 02 Jan 2006"), errFlag, width),
		Line(now.Format("03:04 PM"), fmt.Sprintf("%.1f%%rH", avgRH), width),
		Line(fmt.Sprintf("%.1f°F", units.CToF(avgC)), fmt.Sprintf("%.2f inHg", units.HPaToInHg(float64(r.PressureHPa))), width),
		Line(fmt.Sprintf("%.1f°C", avgC), fmt.Sprintf("%d ppm", r.CO2PPM), width),
	}
}

// Summary is a one-line rendition with every sensor's value, for logs.
func Summary(r record.Reading) string {
	pressureTemp := float64(r.PressureTempC)
	avgC, _ := Average(&pressureTemp, &r.CO2TempC, r.AuxTempC)
	avgRH, _ := Average(&r.CO2HumidityPct, r.AuxHumidityPct)
	return fmt.Sprintf("%.1f°F (%.1f/%.1f/%s)   %.1f%%rH (%.1f/%s)   %.2finHg   %dppm",
		units.CToF(avgC),
		units.CToF(pressureTemp), units.CToF(r.CO2TempC), opt(units.CToFOpt(r.AuxTempC)),
		avgRH, r.CO2HumidityPct, opt(r.AuxHumidityPct),
		units.HPaToInHg(float64(r.PressureHPa)),
		r.CO2PPM,
	)
}

func opt(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}
