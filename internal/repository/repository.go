// Package repository stores readings in the SQLite archive. Each row keeps
// the encoded record alongside queryable columns; reads decode the record.
package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/colindt/wall-display/internal/record"
)

//go:embed sql/get-stations.sql
var getStationsSQL string

//go:embed sql/ensure-station.sql
var ensureStationSQL string

//go:embed sql/get-station-id-by-name.sql
var getStationIDByNameSQL string

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-readings.sql
var getLatestReadingsSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

//go:embed sql/get-readings-count.sql
var getReadingsCountSQL string

// ErrStationNotFound is returned when a station name has no row.
var ErrStationNotFound = errors.New("station not found")

// Station summarizes one station's archive.
type Station struct {
	Name     string     `json:"name"`
	Readings int        `json:"readings"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// ReadingRepository is the archive as the HTTP API and importers see it.
type ReadingRepository interface {
	GetStations(ctx context.Context) ([]Station, error)
	GetLatestReadings(ctx context.Context, station string, limit int) ([]record.Reading, error)
	GetReadings(ctx context.Context, station string, from, to time.Time, limit int) ([]record.Reading, error)
	CountReadings(ctx context.Context, station string, from, to time.Time) (int, error)
	InsertReading(ctx context.Context, station string, r record.Reading) (bool, error)
	InsertReadings(ctx context.Context, station string, rs []record.Reading) (int, error)
}

// SQLRepository implements ReadingRepository on database/sql.
type SQLRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRepository(db *sql.DB, logger *slog.Logger) *SQLRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLRepository{db: db, logger: logger}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLRepository) GetStations(ctx context.Context) ([]Station, error) {
	rows, err := r.db.QueryContext(ctx, getStationsSQL)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows, "stations")

	var out []Station
	for rows.Next() {
		var (
			s    Station
			last sql.NullInt64
		)
		if err := rows.Scan(&s.Name, &s.Readings, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			t := time.Unix(last.Int64, 0).UTC()
			s.LastSeen = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLRepository) GetLatestReadings(ctx context.Context, station string, limit int) ([]record.Reading, error) {
	rows, err := r.db.QueryContext(ctx, getLatestReadingsSQL, station, limit)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows, "latest readings")
	return scanReadings(rows)
}

// GetReadings returns readings in [from, to) oldest first.
func (r *SQLRepository) GetReadings(ctx context.Context, station string, from, to time.Time, limit int) ([]record.Reading, error) {
	rows, err := r.db.QueryContext(ctx, getReadingsSQL, station, from.Unix(), to.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer r.closeRows(rows, "readings")
	return scanReadings(rows)
}

func (r *SQLRepository) CountReadings(ctx context.Context, station string, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, getReadingsCountSQL, station, from.Unix(), to.Unix()).Scan(&n)
	return n, err
}

// InsertReading archives rd, creating the station on first use. It reports
// false when a reading with the same timestamp already exists.
func (r *SQLRepository) InsertReading(ctx context.Context, station string, rd record.Reading) (bool, error) {
	return insert(ctx, r.db, station, rd)
}

// InsertReadings archives rs in one transaction and returns how many were
// new. Any invalid reading aborts the whole batch.
func (r *SQLRepository) InsertReadings(ctx context.Context, station string, rs []record.Reading) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	n := 0
	for i, rd := range rs {
		ok, err := insert(ctx, tx, station, rd)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("reading %d: %w", i, err)
		}
		if ok {
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func insert(ctx context.Context, ex execer, station string, rd record.Reading) (bool, error) {
	if station == "" {
		return false, errors.New("station name is required")
	}
	// Encoding validates every field against the record domain.
	raw, err := record.Encode(rd)
	if err != nil {
		return false, err
	}
	id, err := ensureStation(ctx, ex, station)
	if err != nil {
		return false, err
	}

	res, err := ex.ExecContext(ctx, insertReadingSQL,
		id, rd.Time.Unix(),
		rd.PressureHPa, rd.PressureTempC,
		rd.CO2PPM, rd.CO2TempC, rd.CO2HumidityPct,
		nullable(rd.AuxTempC), nullable(rd.AuxHumidityPct),
		raw,
	)
	if err != nil {
		return false, fmt.Errorf("insert reading: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert reading: %w", err)
	}
	return n == 1, nil
}

func ensureStation(ctx context.Context, ex execer, name string) (int64, error) {
	if _, err := ex.ExecContext(ctx, ensureStationSQL, name); err != nil {
		return 0, fmt.Errorf("ensure station %q: %w", name, err)
	}
	var id int64
	if err := ex.QueryRowContext(ctx, getStationIDByNameSQL, name).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %q", ErrStationNotFound, name)
		}
		return 0, fmt.Errorf("lookup station %q: %w", name, err)
	}
	return id, nil
}

func scanReadings(rows *sql.Rows) ([]record.Reading, error) {
	out := []record.Reading{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rd, err := record.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("stored record: %w", err)
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

func (r *SQLRepository) closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		r.logger.Error("close "+what+" rows", "error", err)
	}
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
