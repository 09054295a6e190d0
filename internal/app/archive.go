package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/colindt/wall-display/internal/config"
	"github.com/colindt/wall-display/internal/db"
	"github.com/colindt/wall-display/internal/httpapi"
	"github.com/colindt/wall-display/internal/migrate"
	"github.com/colindt/wall-display/internal/mqtt"
	"github.com/colindt/wall-display/internal/record"
	"github.com/colindt/wall-display/internal/repository"
)

const importBatch = 500

// Inserter is the write side of the archive.
type Inserter interface {
	InsertReadings(ctx context.Context, station string, rs []record.Reading) (int, error)
}

type ImportStats struct {
	Read     int
	Inserted int
}

// Import copies records into the archive in batches. Records already archived
// are skipped. A malformed record stops the import after the preceding
// batches have been committed.
func Import(ctx context.Context, repo Inserter, station string, records iter.Seq2[record.Reading, error]) (ImportStats, error) {
	var st ImportStats
	batch := make([]record.Reading, 0, importBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := repo.InsertReadings(ctx, station, batch)
		if err != nil {
			return err
		}
		st.Inserted += n
		batch = batch[:0]
		return nil
	}

	for r, err := range records {
		if err != nil {
			if ferr := flush(); ferr != nil {
				return st, ferr
			}
			return st, fmt.Errorf("record %d: %w", st.Read, err)
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Read++
		batch = append(batch, r)
		if len(batch) == importBatch {
			if err := flush(); err != nil {
				return st, err
			}
		}
	}
	return st, flush()
}

// OpenArchive opens and migrates the SQLite archive.
func OpenArchive(cfg config.Config, logger *slog.Logger) (*repository.SQLRepository, func(), error) {
	conn, err := db.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := db.Close(conn); err != nil {
			logger.Error("db close", "error", err)
		}
	}
	n, err := migrate.Run(conn, logger)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	logger.Info("archive ready", "path", cfg.SQLitePath, "migrations_applied", n)
	return repository.NewRepository(conn, logger), closeFn, nil
}

// Serve runs the HTTP API over the archive and, when a broker is configured,
// archives records that stations publish.
func Serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"httpAddr", cfg.HTTPAddr,
		"sqlitePath", cfg.SQLitePath,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttIngestTopic", cfg.MQTTIngestTopic,
	)

	conn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(conn); err != nil {
			logger.Error("db close", "error", err)
		}
	}()
	if _, err := migrate.Run(conn, logger); err != nil {
		return err
	}
	repo := repository.NewRepository(conn, logger)
	hub := httpapi.NewHub(logger)

	var sub *mqtt.Subscriber
	if cfg.MQTTBroker != "" {
		sub = mqtt.NewSubscriber(cfg, logger, func(station string, r record.Reading) error {
			added, err := repo.InsertReading(ctx, station, r)
			if added {
				hub.Publish(station, r)
			}
			return err
		})
		// A short connect timeout keeps the API up while the broker is down;
		// paho keeps retrying in the background.
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := sub.Connect(connectCtx)
		cancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing without ingest)", "error", err)
		}
	}

	srv := httpapi.NewServer(cfg, httpapi.NewMux(conn, repo, hub, logger), logger)
	srv.RegisterOnShutdown(hub.Close)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if sub != nil {
			sub.Disconnect()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sub != nil {
		sub.Disconnect()
	}

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
