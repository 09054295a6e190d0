package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/colindt/wall-display/internal/app"
	"github.com/colindt/wall-display/internal/config"
	"github.com/colindt/wall-display/internal/convert"
	"github.com/colindt/wall-display/internal/logging"
	"github.com/colindt/wall-display/internal/recordlog"
)

var version = "dev"
var appName = "wall-display"

const usage = `usage: wall-display <command> [flags] [args]

commands:
  run                     sample the sensors and log readings
  calibrate               force-calibrate the CO2 sensor
  pack <file.jsonl>       encode a JSON line log as <file.jsonl>.dat
  verify <file.jsonl>     check <file.jsonl>.dat against its JSON lines
  dump <file.dat>         print records as JSON lines (-from, -to select a window)
  import <file.dat>       load records into the SQLite archive
  serve                   serve the archive over HTTP
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"command", cmd,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, cfg, logger, cmd, args); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}

func dispatch(ctx context.Context, cfg config.Config, logger *slog.Logger, cmd string, args []string) error {
	switch cmd {
	case "run":
		return app.RunStation(ctx, cfg, logger)
	case "calibrate":
		return calibrate(ctx, cfg, logger, args)
	case "pack":
		return pack(logger, args)
	case "verify":
		return verify(args)
	case "dump":
		return dump(args)
	case "import":
		return importRecords(ctx, cfg, logger, args)
	case "serve":
		return app.Serve(ctx, cfg, logger)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func oneFile(name string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s takes exactly one file", name)
	}
	return args[0], nil
}

func pack(logger *slog.Logger, args []string) error {
	in, err := oneFile("pack", args)
	if err != nil {
		return err
	}
	src, err := os.Open(in)
	if err != nil {
		return err
	}
	defer src.Close()

	outPath := in + ".dat"
	dst, err := os.Create(outPath)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(dst)

	n, err := convert.Pack(src, bw, time.Local, logger)
	if ferr := bw.Flush(); err == nil {
		err = ferr
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	logger.Info("packed", "records", n, "out", outPath)
	return nil
}

func verify(args []string) error {
	in, err := oneFile("verify", args)
	if err != nil {
		return err
	}
	lines, err := os.Open(in)
	if err != nil {
		return err
	}
	defer lines.Close()

	rep, err := convert.Verify(lines, recordlog.ReadAll(in+".dat"), time.Local)
	if err != nil {
		return err
	}
	for _, m := range rep.Mismatches {
		fmt.Printf("entry %d: %s: json %s, record %s\n", m.Entry, m.Field, m.JSON, m.Log)
	}
	fmt.Printf("%d lines, %d records, %d mismatches\n", rep.Lines, rep.Records, len(rep.Mismatches))
	if !rep.OK() {
		return errors.New("verification failed")
	}
	return nil
}

func dump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	from := fs.String("from", "", "first timestamp to print (RFC 3339)")
	to := fs.String("to", "", "stop before this timestamp (RFC 3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	in, err := oneFile("dump", fs.Args())
	if err != nil {
		return err
	}

	records := recordlog.ReadAll(in)
	if *from != "" || *to != "" {
		lo, err := parseBound("from", *from)
		if err != nil {
			return err
		}
		hi, err := parseBound("to", *to)
		if err != nil {
			return err
		}
		ix, err := recordlog.BuildIndex(in)
		if err != nil {
			return err
		}
		records = ix.Range(lo, hi)
	}

	bw := bufio.NewWriter(os.Stdout)
	_, err = convert.Dump(records, bw, time.Local)
	if ferr := bw.Flush(); err == nil {
		err = ferr
	}
	return err
}

func parseBound(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -%s: %w", name, err)
	}
	return t, nil
}

func importRecords(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	station := fs.String("station", cfg.StationID, "station the records belong to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	in, err := oneFile("import", fs.Args())
	if err != nil {
		return err
	}

	repo, closeFn, err := app.OpenArchive(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	st, err := app.Import(ctx, repo, *station, recordlog.ReadAll(in))
	logger.Info("import finished", "station", *station, "read", st.Read, "inserted", st.Inserted)
	return err
}

func calibrate(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	opts := app.DefaultCalibrateOptions()
	fs := flag.NewFlagSet("calibrate", flag.ContinueOnError)
	fs.IntVar(&opts.PressureSamples, "samples", opts.PressureSamples, "pressure samples to average")
	fs.DurationVar(&opts.WarmUp, "warm-up", opts.WarmUp, "periodic measurement time before calibrating")
	target := fs.Uint("ppm", uint(opts.TargetPPM), "reference CO2 concentration")
	yes := fs.Bool("yes", false, "calibrate without asking")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == 0 || *target > 0xFFFF {
		return fmt.Errorf("invalid -ppm %d", *target)
	}
	opts.TargetPPM = uint16(*target)
	if !*yes {
		opts.Confirm = func() bool { return confirm(os.Stdin, os.Stdout, opts.TargetPPM) }
	}

	res, err := app.RunCalibration(ctx, cfg, opts, logger)
	if errors.Is(err, app.ErrCalibrationDeclined) {
		fmt.Println("not calibrated")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("calibrated to %d ppm at %d hPa, correction %+d ppm\n", opts.TargetPPM, res.AmbientHPa, res.Correction)
	return nil
}

func confirm(in io.Reader, out io.Writer, ppm uint16) bool {
	fmt.Fprintf(out, "Calibrate to %d ppm? [y/N] ", ppm)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
