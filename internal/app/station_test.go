package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/colindt/wall-display/internal/config"
	"github.com/colindt/wall-display/internal/display"
	"github.com/colindt/wall-display/internal/record"
	"github.com/colindt/wall-display/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBaro struct {
	samples []sensor.PressureSample
	err     error
	reads   int
	halted  bool
}

func (f *fakeBaro) ReadPressure() (sensor.PressureSample, error) {
	if f.err != nil {
		return sensor.PressureSample{}, f.err
	}
	s := f.samples[f.reads%len(f.samples)]
	f.reads++
	return s, nil
}

func (f *fakeBaro) Halt() error {
	f.halted = true
	return nil
}

type fakeCO2 struct {
	mu         sync.Mutex
	sample     sensor.CO2Sample
	readErr    error
	ready      bool
	started    bool
	stopped    bool
	ambient    []uint16
	selfCal    bool
	forced     []uint16
	correction int
	persisted  bool
}

func (f *fakeCO2) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeCO2) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeCO2) DataReady() (bool, error) { return f.ready, nil }

func (f *fakeCO2) ReadMeasurement() (sensor.CO2Sample, error) {
	if f.readErr != nil {
		return sensor.CO2Sample{}, f.readErr
	}
	return f.sample, nil
}

func (f *fakeCO2) SetAmbientPressure(hPa uint16) error {
	f.ambient = append(f.ambient, hPa)
	return nil
}

func (f *fakeCO2) SelfCalibration() (bool, error) { return f.selfCal, nil }

func (f *fakeCO2) SetSelfCalibration(on bool) error {
	f.selfCal = on
	return nil
}

func (f *fakeCO2) ForceRecalibration(ppm uint16) (int, error) {
	f.forced = append(f.forced, ppm)
	return f.correction, nil
}

func (f *fakeCO2) PersistSettings() error {
	f.persisted = true
	return nil
}

type fakeHygro struct {
	sample sensor.HygroSample
	err    error
}

func (f *fakeHygro) ReadHumidity() (sensor.HygroSample, error) { return f.sample, f.err }
func (f *fakeHygro) Halt() error                               { return nil }

type sinks struct {
	lines    []record.Reading
	records  [][]byte
	readings []record.Reading
	pubRecs  [][]byte
	frames   []display.Frame
	halted   bool
	onShow   func(n int)
}

func (s *sinks) Write(r record.Reading) (string, error) {
	s.lines = append(s.lines, r)
	return "logs/x.jsonl", nil
}

func (s *sinks) AppendRaw(b []byte) error {
	s.records = append(s.records, b)
	return nil
}

func (s *sinks) PublishReading(r record.Reading) error {
	s.readings = append(s.readings, r)
	return nil
}

func (s *sinks) PublishRecord(b []byte) error {
	s.pubRecs = append(s.pubRecs, b)
	return nil
}

func (s *sinks) Show(f display.Frame) error {
	s.frames = append(s.frames, f)
	if s.onShow != nil {
		s.onShow(len(s.frames))
	}
	return nil
}

func (s *sinks) Columns() int { return 20 }

func (s *sinks) Halt() error {
	s.halted = true
	return nil
}

type clock struct {
	t    time.Time
	step time.Duration
}

func (c *clock) now() time.Time {
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func stationConfig() config.Config {
	return config.Config{
		StationID:      "kitchen",
		SampleInterval: 5 * time.Second,
		LogInterval:    60 * time.Second,
	}
}

func co2Sample() sensor.CO2Sample {
	return sensor.CO2Sample{CO2PPM: 812, TempC: 22.3, HumidityPct: 45.2}
}

type fixture struct {
	baro  *fakeBaro
	co2   *fakeCO2
	hygro *fakeHygro
	sinks *sinks
	clock *clock
	st    *Station
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		baro:  &fakeBaro{samples: []sensor.PressureSample{{PressureHPa: 1013.6, TempC: 21.5}}},
		co2:   &fakeCO2{sample: co2Sample(), ready: true},
		hygro: &fakeHygro{sample: sensor.HygroSample{TempC: 21.0, HumidityPct: 47.5}},
		sinks: &sinks{},
		clock: &clock{t: time.Unix(1700000000, 250_000_000).UTC(), step: 5 * time.Second},
	}
	st, err := NewStation(stationConfig(), discard(), StationDeps{
		Barometer:  f.baro,
		CO2:        f.co2,
		Hygrometer: f.hygro,
		Lines:      f.sinks,
		Records:    f.sinks,
		Publisher:  f.sinks,
		Screen:     f.sinks,
		Location:   time.UTC,
		Now:        f.clock.now,
	})
	require.NoError(t, err)
	f.st = st
	return f
}

func TestNewStation_RequiresCoreDeps(t *testing.T) {
	s := &sinks{}
	_, err := NewStation(stationConfig(), discard(), StationDeps{CO2: &fakeCO2{}, Lines: s, Records: s})
	assert.Error(t, err)
	_, err = NewStation(stationConfig(), discard(), StationDeps{Barometer: &fakeBaro{}, CO2: &fakeCO2{}})
	assert.Error(t, err)
}

func TestSample(t *testing.T) {
	f := newFixture(t)

	r, err := f.st.Sample()
	require.NoError(t, err)

	assert.Equal(t, time.Unix(1700000000, 0).UTC(), r.Time, "truncated to the second")
	assert.Equal(t, float32(1013.6), r.PressureHPa)
	assert.Equal(t, float32(21.5), r.PressureTempC)
	assert.Equal(t, 812, r.CO2PPM)
	require.NotNil(t, r.AuxTempC)
	assert.Equal(t, 21.0, *r.AuxTempC)
	assert.Equal(t, 47.5, *r.AuxHumidityPct)
	assert.Equal(t, []uint16{1014}, f.co2.ambient)
}

func TestSample_HygrometerFailure(t *testing.T) {
	f := newFixture(t)
	f.hygro.err = errors.New("checksum did not validate")

	r, err := f.st.Sample()
	require.NoError(t, err)
	assert.Nil(t, r.AuxTempC)
	assert.Nil(t, r.AuxHumidityPct)
}

func TestSample_RequiredSensorFailures(t *testing.T) {
	f := newFixture(t)
	f.baro.err = errors.New("nack")
	_, err := f.st.Sample()
	assert.ErrorContains(t, err, "barometer")

	f = newFixture(t)
	f.co2.readErr = errors.New("crc")
	_, err = f.st.Sample()
	assert.ErrorContains(t, err, "co2 meter")
}

func TestSample_CO2NotReadyReusesLast(t *testing.T) {
	f := newFixture(t)
	f.co2.readErr = sensor.ErrNotReady
	_, err := f.st.Sample()
	assert.ErrorIs(t, err, sensor.ErrNotReady, "nothing to reuse yet")

	f.co2.readErr = nil
	_, err = f.st.Sample()
	require.NoError(t, err)

	f.co2.readErr = sensor.ErrNotReady
	r, err := f.st.Sample()
	require.NoError(t, err)
	assert.Equal(t, 812, r.CO2PPM)
}

func TestTick_LogCadence(t *testing.T) {
	f := newFixture(t)

	// 13 ticks five seconds apart span 0s..60s.
	for range 13 {
		require.NoError(t, f.st.Tick())
	}

	require.Len(t, f.sinks.lines, 2)
	assert.Equal(t, int64(1700000000), f.sinks.lines[0].Time.Unix())
	assert.Equal(t, int64(1700000055), f.sinks.lines[1].Time.Unix())
	assert.Len(t, f.sinks.records, 2)
	assert.Len(t, f.sinks.readings, 2)
	assert.Len(t, f.sinks.pubRecs, 2)
	assert.Len(t, f.sinks.frames, 13, "screen refreshes every tick")

	got, err := record.Decode(f.sinks.records[1])
	require.NoError(t, err)
	assert.Equal(t, int64(1700000055), got.Time.Unix())
	assert.Equal(t, f.sinks.records[1], f.sinks.pubRecs[1])
}

func TestTick_UnencodableReadingStillLogsLine(t *testing.T) {
	f := newFixture(t)
	f.co2.sample.TempC = 150

	require.NoError(t, f.st.Tick())

	assert.Len(t, f.sinks.lines, 1)
	assert.Empty(t, f.sinks.records)
	assert.Len(t, f.sinks.readings, 1)
	assert.Empty(t, f.sinks.pubRecs)
}

func TestTick_Frame(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.st.Tick())
	require.Len(t, f.sinks.frames, 1)
	assert.Equal(t, "Tue 14 Nov 2023     ", f.sinks.frames[0][0])
	assert.Equal(t, "21.6°C       812 ppm", f.sinks.frames[0][3])
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	cfg := stationConfig()
	cfg.SampleInterval = time.Millisecond
	cfg.LogInterval = time.Millisecond
	f.st.cfg = cfg
	f.co2.selfCal = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sinks.onShow = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	err := f.st.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.co2.started)
	assert.True(t, f.co2.stopped)
	assert.True(t, f.baro.halted)
	assert.True(t, f.sinks.halted)
	assert.GreaterOrEqual(t, len(f.sinks.frames), 3)
}

func TestRun_CancelledWhileWaiting(t *testing.T) {
	f := newFixture(t)
	f.co2.ready = false

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := f.st.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, f.co2.stopped)
	assert.Empty(t, f.sinks.frames)
}

func TestAmbientPressure(t *testing.T) {
	assert.Equal(t, uint16(1013), ambientPressure(1013.49))
	assert.Equal(t, uint16(1014), ambientPressure(1013.5))
	assert.Equal(t, uint16(0), ambientPressure(-3))
	assert.Equal(t, uint16(65535), ambientPressure(1e9))
}
