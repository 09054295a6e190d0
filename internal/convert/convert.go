// Package convert moves readings between the JSON line log and the
// binary record log.
package convert

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"time"

	"github.com/colindt/wall-display/internal/jsonlog"
	"github.com/colindt/wall-display/internal/record"
	"github.com/colindt/wall-display/internal/utils"
)

// pressureTolerance matches the precision float32 keeps for hPa values.
const pressureTolerance = 1e-4

// Pack encodes every JSON line of in as a record written to out. It stops
// at the first line that cannot be converted and reports its number.
func Pack(in io.Reader, out io.Writer, loc *time.Location, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := 0
	buf := make([]byte, 0, record.Size)
	for doc, err := range jsonlog.Read(in) {
		if err != nil {
			return n, err
		}
		r, err := doc.Reading(loc)
		if err != nil {
			return n, fmt.Errorf("entry %d: %w", n+1, err)
		}
		buf, err = record.AppendEncode(buf[:0], r)
		if err != nil {
			return n, fmt.Errorf("entry %d: %w", n+1, err)
		}
		if _, err := out.Write(buf); err != nil {
			return n, fmt.Errorf("write record %d: %w", n+1, err)
		}
		n++
		logger.Debug("packed",
			"entry", n,
			"hex", utils.BytesToHex(buf),
			"fields", utils.GroupedHex(buf, record.FieldWidths...),
		)
	}
	return n, nil
}

// Dump writes each record as a JSON line document.
func Dump(records iter.Seq2[record.Reading, error], out io.Writer, loc *time.Location) (int, error) {
	enc := json.NewEncoder(out)
	n := 0
	for r, err := range records {
		if err != nil {
			return n, err
		}
		if err := enc.Encode(jsonlog.FromReading(r, loc)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type Mismatch struct {
	Entry int
	Field string
	JSON  string
	Log   string
}

type Report struct {
	Lines      int
	Records    int
	Mismatches []Mismatch
}

// OK reports whether every line has a matching record.
func (r Report) OK() bool {
	return r.Lines == r.Records && len(r.Mismatches) == 0
}

// Verify checks a binary log against the JSON lines it was packed from.
// Exact fields must match exactly, quantized fields within one bin and
// hygrometer values after rounding to tenths.
func Verify(lines io.Reader, records iter.Seq2[record.Reading, error], loc *time.Location) (Report, error) {
	var rep Report
	next, stop := iter.Pull2(records)
	defer stop()

	for doc, err := range jsonlog.Read(lines) {
		if err != nil {
			return rep, err
		}
		rep.Lines++
		want, err := doc.Reading(loc)
		if err != nil {
			return rep, fmt.Errorf("entry %d: %w", rep.Lines, err)
		}
		got, err, ok := next()
		if !ok {
			continue
		}
		if err != nil {
			return rep, fmt.Errorf("record %d: %w", rep.Records+1, err)
		}
		rep.Records++
		rep.Mismatches = append(rep.Mismatches, Compare(rep.Lines, want, got)...)
	}
	for {
		_, err, ok := next()
		if !ok {
			break
		}
		if err != nil {
			return rep, fmt.Errorf("record %d: %w", rep.Records+1, err)
		}
		rep.Records++
	}
	return rep, nil
}

// Compare lists the fields in which got is not an acceptable decoding of
// want.
func Compare(entry int, want, got record.Reading) []Mismatch {
	var out []Mismatch
	add := func(field string, w, g any) {
		out = append(out, Mismatch{Entry: entry, Field: field, JSON: fmt.Sprint(w), Log: fmt.Sprint(g)})
	}

	if want.Time.Unix() != got.Time.Unix() {
		add("time", want.Time.Unix(), got.Time.Unix())
	}
	if math.Abs(float64(want.PressureHPa-got.PressureHPa)) >= pressureTolerance {
		add("pressure_hpa", want.PressureHPa, got.PressureHPa)
	}
	if math.Abs(float64(want.PressureTempC-got.PressureTempC)) >= pressureTolerance {
		add("pressure_temp_c", want.PressureTempC, got.PressureTempC)
	}
	if want.CO2PPM != got.CO2PPM {
		add("co2_ppm", want.CO2PPM, got.CO2PPM)
	}
	if math.Abs(want.CO2TempC-got.CO2TempC) >= record.CO2TempRange.Resolution() {
		add("co2_temp_c", want.CO2TempC, got.CO2TempC)
	}
	if math.Abs(want.CO2HumidityPct-got.CO2HumidityPct) >= record.CO2HumidityRange.Resolution() {
		add("co2_humidity_pct", want.CO2HumidityPct, got.CO2HumidityPct)
	}
	if !sameTenths(want.AuxTempC, got.AuxTempC) {
		add("aux_temp_c", optString(want.AuxTempC), optString(got.AuxTempC))
	}
	if !sameTenths(want.AuxHumidityPct, got.AuxHumidityPct) {
		add("aux_humidity_pct", optString(want.AuxHumidityPct), optString(got.AuxHumidityPct))
	}
	return out
}

func sameTenths(want, got *float64) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	return math.Abs(math.Round(10**want)/10-*got) < 1e-9
}

func optString(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(*v)
}
