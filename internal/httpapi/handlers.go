package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/colindt/wall-display/internal/record"
	"github.com/colindt/wall-display/internal/repository"
	"github.com/colindt/wall-display/internal/utils"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// endOfRecordTime is one past the last second a record timestamp can hold.
var endOfRecordTime = time.Unix(1<<32, 0).UTC()

// Reading is the JSON shape of an archived reading.
type Reading struct {
	Time           time.Time `json:"time"`
	PressureHPa    float32   `json:"pressure_hpa"`
	PressureTempC  float32   `json:"pressure_temperature_c"`
	CO2PPM         int       `json:"co2_ppm"`
	CO2TempC       float64   `json:"co2_temperature_c"`
	CO2HumidityPct float64   `json:"co2_humidity_pct"`
	AuxTempC       *float64  `json:"aux_temperature_c"`
	AuxHumidityPct *float64  `json:"aux_humidity_pct"`
}

func toReadings(rs []record.Reading) []Reading {
	out := make([]Reading, len(rs))
	for i, r := range rs {
		out[i] = Reading{
			Time:           r.Time.UTC(),
			PressureHPa:    r.PressureHPa,
			PressureTempC:  r.PressureTempC,
			CO2PPM:         r.CO2PPM,
			CO2TempC:       r.CO2TempC,
			CO2HumidityPct: r.CO2HumidityPct,
			AuxTempC:       r.AuxTempC,
			AuxHumidityPct: r.AuxHumidityPct,
		}
	}
	return out
}

type readingsAPI struct {
	repo   repository.ReadingRepository
	hub    *Hub
	logger *slog.Logger
}

func registerReadings(mux *http.ServeMux, repo repository.ReadingRepository, hub *Hub, logger *slog.Logger) {
	api := &readingsAPI{repo: repo, hub: hub, logger: logger}
	mux.HandleFunc("GET /api/stations", api.handleStations)
	mux.HandleFunc("GET /api/stations/{id}/latest", api.handleLatest)
	mux.HandleFunc("GET /api/stations/{id}/readings", api.handleReadings)
	mux.HandleFunc("GET /api/stations/{id}/records", api.handleRecords)
	if hub != nil {
		mux.HandleFunc("GET /api/stations/{id}/live", api.handleLive)
	}
}

func (a *readingsAPI) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := a.repo.GetStations(r.Context())
	if err != nil {
		a.logger.Error("failed to list stations", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to list stations")
		return
	}
	if stations == nil {
		stations = []repository.Station{}
	}
	utils.WriteJSON(w, http.StatusOK, stations)
}

func (a *readingsAPI) handleLatest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, err := parseLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rs, err := a.repo.GetLatestReadings(r.Context(), id, limit)
	if err != nil {
		a.logger.Error("failed to load latest readings", "station_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"station_id": id,
		"limit":      limit,
		"items":      toReadings(rs),
	})
}

func (a *readingsAPI) handleReadings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	from, to, limit, err := parseReadingsQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rs, err := a.repo.GetReadings(r.Context(), id, from, to, limit)
	if err != nil {
		a.logger.Error("failed to load readings", "station_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	total, err := a.repo.CountReadings(r.Context(), id, from, to)
	if err != nil {
		a.logger.Error("failed to count readings", "station_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to count readings")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"station_id": id,
		"from":       from,
		"to":         to,
		"limit":      limit,
		"total":      total,
		"items":      toReadings(rs),
	})
}

// handleRecords streams the window as concatenated binary records, the same
// bytes the station log holds.
func (a *readingsAPI) handleRecords(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	from, to, limit, err := parseReadingsQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rs, err := a.repo.GetReadings(r.Context(), id, from, to, limit)
	if err != nil {
		a.logger.Error("failed to load records", "station_id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load records")
		return
	}

	buf := make([]byte, 0, len(rs)*record.Size)
	for _, rd := range rs {
		buf, err = record.AppendEncode(buf, rd)
		if err != nil {
			a.logger.Error("failed to encode record", "station_id", id, "error", err)
			utils.WriteError(w, http.StatusInternalServerError, "failed to encode records")
			return
		}
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.Header().Set("X-Record-Size", strconv.Itoa(record.Size))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf); err != nil {
		a.logger.Warn("failed to write records", "station_id", id, "error", err)
	}
}

func parseReadingsQuery(r *http.Request) (from time.Time, to time.Time, limit int, err error) {
	q := r.URL.Query()

	from = time.Unix(0, 0).UTC()
	to = endOfRecordTime
	if s := q.Get("from"); s != "" {
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'from' (expected RFC3339)")
		}
	}
	if s := q.Get("to"); s != "" {
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'to' (expected RFC3339)")
		}
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, 0, errors.New("'from' must be <= 'to'")
	}

	limit, err = parseLimit(r)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	return from, to, limit, nil
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > maxLimit {
		return 0, errors.New("'limit' must be <= 1000")
	}
	return n, nil
}
