package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/colindt/wall-display/internal/config"
	"github.com/colindt/wall-display/internal/record"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		StationID:       "kitchen",
		MQTTBroker:      "127.0.0.1",
		MQTTPort:        1,
		MQTTClientID:    "test",
		MQTTIngestTopic: "stations/+/record",
	}
}

func reading(sec int64, co2 int) record.Reading {
	return record.Reading{
		Time:           time.Unix(sec, 0).UTC(),
		PressureHPa:    1013.25,
		PressureTempC:  21.5,
		CO2PPM:         co2,
		CO2TempC:       22.3,
		CO2HumidityPct: 45.2,
	}
}

func TestTopics(t *testing.T) {
	if got := TelemetryTopic("kitchen"); got != "stations/kitchen/telemetry" {
		t.Errorf("TelemetryTopic = %q", got)
	}
	if got := RecordTopic("kitchen"); got != "stations/kitchen/record" {
		t.Errorf("RecordTopic = %q", got)
	}
}

func TestStationFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"stations/kitchen/record", "kitchen", true},
		{"stations//record", "", false},
		{"stations/kitchen", "", false},
		{"other/kitchen/record", "", false},
		{"stations/a/b/record", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := StationFromTopic(tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("StationFromTopic(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTelemetryFromReading(t *testing.T) {
	r := reading(1700000000, 812)
	r.AuxTempC = record.Float(19.5)

	data, err := json.Marshal(TelemetryFromReading("kitchen", r))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got["station_id"] != "kitchen" {
		t.Errorf("station_id = %v", got["station_id"])
	}
	if got["timestamp"] != "2023-11-14T22:13:20Z" {
		t.Errorf("timestamp = %v", got["timestamp"])
	}
	if got["co2_ppm"] != float64(812) {
		t.Errorf("co2_ppm = %v", got["co2_ppm"])
	}
	if got["aux_temperature_c"] != 19.5 {
		t.Errorf("aux_temperature_c = %v", got["aux_temperature_c"])
	}
	if _, ok := got["aux_humidity_pct"]; ok {
		t.Errorf("absent aux_humidity_pct should be omitted: %s", data)
	}
}

func TestPublishRecordRejectsPartialRecords(t *testing.T) {
	c := NewClient(testConfig(), testLogger())
	for _, b := range [][]byte{make([]byte, record.Size+3), {}, nil} {
		err := c.PublishRecord(b)
		if !errors.Is(err, record.ErrMalformedRecord) {
			t.Fatalf("%d bytes: err = %v, want ErrMalformedRecord", len(b), err)
		}
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	c := NewClient(testConfig(), testLogger())
	err := c.PublishReading(reading(1700000000, 812))
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("err = %v, want not connected", err)
	}
}

func TestConnectAfterDisconnect(t *testing.T) {
	c := NewClient(testConfig(), testLogger())
	c.Disconnect()
	c.Disconnect()

	err := c.Connect(context.Background())
	if err == nil || err.Error() != "client stopped" {
		t.Fatalf("err = %v, want client stopped", err)
	}
}

func TestHandleMessage(t *testing.T) {
	type got struct {
		station string
		co2     int
	}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		handler error
		want    int
	}{
		{
			name:    "single record",
			topic:   "stations/kitchen/record",
			payload: record.MustEncode(reading(1700000000, 812)),
			want:    1,
		},
		{
			name:  "batched records",
			topic: "stations/kitchen/record",
			payload: append(record.MustEncode(reading(1700000000, 812)),
				record.MustEncode(reading(1700000060, 815))...),
			want: 2,
		},
		{
			name:  "trailing partial record",
			topic: "stations/kitchen/record",
			payload: append(record.MustEncode(reading(1700000000, 812)),
				0x01, 0x02, 0x03),
			want: 1,
		},
		{
			name:    "bad topic",
			topic:   "stations/kitchen",
			payload: record.MustEncode(reading(1700000000, 812)),
			want:    0,
		},
		{
			name:    "handler failure",
			topic:   "stations/kitchen/record",
			payload: record.MustEncode(reading(1700000000, 812)),
			handler: errors.New("disk full"),
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []got
			s := NewSubscriber(testConfig(), testLogger(), func(station string, r record.Reading) error {
				if tt.handler != nil {
					return tt.handler
				}
				seen = append(seen, got{station, r.CO2PPM})
				return nil
			})

			n := s.handleMessage(tt.topic, tt.payload)
			if n != tt.want {
				t.Fatalf("handled %d records, want %d", n, tt.want)
			}
			if len(seen) != n {
				t.Fatalf("handler saw %d records, want %d", len(seen), n)
			}
			for _, g := range seen {
				if g.station != "kitchen" {
					t.Errorf("station = %q, want kitchen", g.station)
				}
			}
			if n > 0 && seen[0].co2 != 812 {
				t.Errorf("first co2 = %d, want 812", seen[0].co2)
			}
		})
	}
}
