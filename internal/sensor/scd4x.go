package sensor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/colindt/wall-display/internal/record"
	"github.com/colindt/wall-display/internal/utils"
	"periph.io/x/conn/v3/i2c"
)

// SCD4xAddress is the fixed I²C address of the Sensirion SCD40/SCD41.
const SCD4xAddress = 0x62

// SCD4x commands.
const (
	cmdStartPeriodic      uint16 = 0x21B1
	cmdReadMeasurement    uint16 = 0xEC05
	cmdStopPeriodic       uint16 = 0x3F86
	cmdDataReady          uint16 = 0xE4B8
	cmdSetAmbientPressure uint16 = 0xE000
	cmdForcedRecal        uint16 = 0x362F
	cmdPersistSettings    uint16 = 0x3615
	cmdGetASC             uint16 = 0x2313
	cmdSetASC             uint16 = 0x2416
)

// ErrRecalibration is returned when the sensor rejects a forced recalibration.
var ErrRecalibration = errors.New("scd4x: forced recalibration failed")

// SCD4x drives a Sensirion SCD4x CO2 sensor.
type SCD4x struct {
	dev    *i2c.Dev
	logger *slog.Logger
	sleep  func(time.Duration)
}

// NewSCD4x returns a driver for the sensor at addr. It does not touch the bus.
func NewSCD4x(bus i2c.Bus, addr uint16, logger *slog.Logger) *SCD4x {
	return &SCD4x{
		dev:    &i2c.Dev{Bus: bus, Addr: addr},
		logger: logger,
		sleep:  time.Sleep,
	}
}

func (s *SCD4x) String() string {
	return "scd4x@" + s.dev.String()
}

func (s *SCD4x) Start() error {
	return s.command(cmdStartPeriodic, 0)
}

// Stop leaves periodic mode. The sensor ignores other commands for 500ms.
func (s *SCD4x) Stop() error {
	return s.command(cmdStopPeriodic, 500*time.Millisecond)
}

func (s *SCD4x) DataReady() (bool, error) {
	w, err := s.readWords(cmdDataReady, time.Millisecond, 1)
	if err != nil {
		return false, err
	}
	return w[0]&0x07FF != 0, nil
}

// ReadMeasurement fetches the latest periodic sample. It returns ErrNotReady
// when no new sample has been produced since the previous read.
func (s *SCD4x) ReadMeasurement() (CO2Sample, error) {
	ready, err := s.DataReady()
	if err != nil {
		return CO2Sample{}, err
	}
	if !ready {
		return CO2Sample{}, ErrNotReady
	}
	w, err := s.readWords(cmdReadMeasurement, time.Millisecond, 3)
	if err != nil {
		return CO2Sample{}, err
	}
	return CO2Sample{
		CO2PPM:      int(w[0]),
		TempC:       record.CO2TempRange.Value(w[1]),
		HumidityPct: record.CO2HumidityRange.Value(w[2]),
		TempRaw:     w[1],
		HumidityRaw: w[2],
	}, nil
}

// SetAmbientPressure feeds barometric compensation in hPa.
func (s *SCD4x) SetAmbientPressure(hPa uint16) error {
	return s.write(cmdSetAmbientPressure, hPa, time.Millisecond)
}

// ForceRecalibration tells the sensor the current concentration is ppm and
// returns the correction it applied. Periodic measurement must be stopped.
func (s *SCD4x) ForceRecalibration(ppm uint16) (int, error) {
	if err := s.write(cmdForcedRecal, ppm, 0); err != nil {
		return 0, err
	}
	s.sleep(400 * time.Millisecond)
	w, err := s.readRaw(1)
	if err != nil {
		return 0, err
	}
	if w[0] == 0xFFFF {
		return 0, ErrRecalibration
	}
	return int(w[0]) - 0x8000, nil
}

// PersistSettings stores the configuration in the sensor's EEPROM.
func (s *SCD4x) PersistSettings() error {
	return s.command(cmdPersistSettings, 800*time.Millisecond)
}

func (s *SCD4x) SelfCalibration() (bool, error) {
	w, err := s.readWords(cmdGetASC, time.Millisecond, 1)
	if err != nil {
		return false, err
	}
	return w[0] != 0, nil
}

func (s *SCD4x) SetSelfCalibration(enabled bool) error {
	var v uint16
	if enabled {
		v = 1
	}
	return s.write(cmdSetASC, v, time.Millisecond)
}

func (s *SCD4x) command(cmd uint16, wait time.Duration) error {
	s.logger.Debug("scd4x command", "cmd", utils.Hex4(cmd))
	if err := s.dev.Tx([]byte{byte(cmd >> 8), byte(cmd)}, nil); err != nil {
		return fmt.Errorf("scd4x %s: %w", utils.Hex4(cmd), err)
	}
	if wait > 0 {
		s.sleep(wait)
	}
	return nil
}

func (s *SCD4x) write(cmd, arg uint16, wait time.Duration) error {
	s.logger.Debug("scd4x write", "cmd", utils.Hex4(cmd), "arg", utils.Hex4(arg))
	hi, lo := byte(arg>>8), byte(arg)
	buf := []byte{byte(cmd >> 8), byte(cmd), hi, lo, crc8(hi, lo)}
	if err := s.dev.Tx(buf, nil); err != nil {
		return fmt.Errorf("scd4x %s: %w", utils.Hex4(cmd), err)
	}
	if wait > 0 {
		s.sleep(wait)
	}
	return nil
}

func (s *SCD4x) readWords(cmd uint16, wait time.Duration, n int) ([]uint16, error) {
	if err := s.command(cmd, wait); err != nil {
		return nil, err
	}
	w, err := s.readRaw(n)
	if err != nil {
		return nil, fmt.Errorf("scd4x %s: %w", utils.Hex4(cmd), err)
	}
	return w, nil
}

// readRaw reads n CRC-protected words.
func (s *SCD4x) readRaw(n int) ([]uint16, error) {
	buf := make([]byte, 3*n)
	if err := s.dev.Tx(nil, buf); err != nil {
		return nil, err
	}
	words := make([]uint16, n)
	for i := range words {
		b := buf[3*i : 3*i+3]
		if got := crc8(b[0], b[1]); got != b[2] {
			return nil, fmt.Errorf("%w: word %d got %02X want %02X", ErrCRC, i, b[2], got)
		}
		words[i] = uint16(b[0])<<8 | uint16(b[1])
	}
	return words, nil
}

// crc8 is the Sensirion checksum: polynomial 0x31, init 0xFF.
func crc8(data ...byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for range 8 {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
