package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"gtfs-matcher/internal/batch"
	"gtfs-matcher/internal/config"
	"gtfs-matcher/internal/db"
	"gtfs-matcher/internal/gtfs"
	"gtfs-matcher/internal/logging"
	"gtfs-matcher/internal/match"
	"gtfs-matcher/internal/metrics"
	"gtfs-matcher/internal/publisher"
	"gtfs-matcher/internal/schedule"
	"gtfs-matcher/internal/tables"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	fs := pflag.NewFlagSet("matcher", pflag.ExitOnError)
	bindFlags(fs, cfg)
	_ = fs.Parse(os.Args[1:])
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	logger := logging.NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	if err := run(ctx, cfg, logger); err != nil {
		logging.LogError(logger, "matcher failed", err)
		stop()
		os.Exit(1)
	}
}

// bindFlags lets command-line flags override the environment.
func bindFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.FixesPath, "fixes", cfg.FixesPath, "fix table CSV (may be .gz)")
	fs.StringVar(&cfg.SchedulePath, "schedule", cfg.SchedulePath, "schedule CSV or GTFS .zip; empty reads the GTFS tables of the database")
	fs.StringVarP(&cfg.OutputPath, "output", "o", cfg.OutputPath, "result CSV (.gz compresses)")
	fs.StringVar(&cfg.GeoJSONPath, "geojson", cfg.GeoJSONPath, "optional GeoJSON output")
	fs.StringVar(&cfg.SQLitePath, "sqlite", cfg.SQLitePath, "optional SQLite result database")
	fs.StringVar(&cfg.AreaPath, "area", cfg.AreaPath, "GeoJSON polygons; fixes outside are dropped")
	fs.StringVar(&cfg.RouteShortName, "route", cfg.RouteShortName, "schedule route short name")
	fs.StringVar(&cfg.Line, "line", cfg.Line, "keep fixes of this line")
	fs.StringVar(&cfg.ServiceDay, "day", cfg.ServiceDay, "keep fixes of this service day (YYYY-MM-DD)")
	fs.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "worker pool size (0 = NumCPU-1)")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var sqlDB *sql.DB
	if cfg.NeedsDB() {
		var err error
		sqlDB, err = openDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer logging.SafeCloseWithLogging(sqlDB, logger, "postgres")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = batch.DefaultWorkers()
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.MatchDistanceM, cfg.LookaheadStops, workers)
		srv := mcol.Serve(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	stops, err := loadSchedule(ctx, cfg, sqlDB, logger)
	if err != nil {
		return err
	}
	ix, err := schedule.Build(stops)
	if err != nil {
		return err
	}
	total, indexed := ix.StopCount()
	logger.Info("schedule loaded",
		slog.Int("trips", ix.TripCount()),
		slog.Int("stops", total),
		slog.Int("indexed_stops", indexed))
	if mcol != nil {
		mcol.SetSchedule(ix.TripCount(), indexed)
	}

	fixes, err := loadFixes(ctx, cfg, sqlDB, logger)
	if err != nil {
		return err
	}

	matcher, err := match.NewMatcher(ix, cfg.MatchParams())
	if err != nil {
		return err
	}
	d := batch.NewDispatcher(matcher, workers, cfg.VehicleTimeout, wrapBatchMetrics(mcol))

	start := time.Now()
	res, err := d.Run(ctx, batch.GroupByVehicle(fixes))
	if err != nil {
		return err
	}
	logOutcome(logger, res, time.Since(start))

	// outputs are written even when the batch was interrupted
	writeCtx := context.WithoutCancel(ctx)
	if err := writeOutputs(writeCtx, cfg, sqlDB, res.Records, logger); err != nil {
		return err
	}

	if cfg.NATSURL != "" {
		if err := publishTrips(ctx, cfg, res.Records, mcol, logger); err != nil {
			logging.LogError(logger, "trip fan-out incomplete", err)
		}
	}

	if ctx.Err() != nil {
		logger.Warn("batch interrupted; results are partial")
	}
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	dsn := cfg.DatabaseURL
	if cfg.City != "" {
		resolved, name, err := db.ResolveCityDSN(ctx, cfg.DatabaseURL, cfg.City)
		if err != nil {
			return nil, fmt.Errorf("resolve latest import for city %q: %w", cfg.City, err)
		}
		logger.Info("using city database", slog.String("db", name), slog.String("city", cfg.City))
		dsn = resolved
	}
	sqlDB, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return sqlDB, nil
}

func writeOutputs(ctx context.Context, cfg *config.Config, pg *sql.DB, records []gtfs.MatchRecord, logger *slog.Logger) error {
	if err := tables.WriteResultsFile(cfg.OutputPath, records); err != nil {
		return err
	}
	logging.LogOperation(logger, "results written", slog.String("path", cfg.OutputPath), slog.Int("rows", len(records)))

	if cfg.GeoJSONPath != "" {
		if err := tables.WriteGeoJSONFile(cfg.GeoJSONPath, records); err != nil {
			return err
		}
		logging.LogOperation(logger, "geojson written", slog.String("path", cfg.GeoJSONPath))
	}

	if cfg.SQLitePath != "" {
		lite, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer logging.SafeCloseWithLogging(lite, logger, "sqlite")
		if err := db.EnsureResultsTable(ctx, lite, db.SQLite, "matches"); err != nil {
			return err
		}
		if err := db.WriteMatchRecords(ctx, lite, db.SQLite, "matches", records); err != nil {
			return err
		}
	}

	if cfg.ResultsTable != "" {
		if err := db.EnsureResultsTable(ctx, pg, db.Postgres, cfg.ResultsTable); err != nil {
			return err
		}
		if err := db.WriteMatchRecords(ctx, pg, db.Postgres, cfg.ResultsTable, records); err != nil {
			return err
		}
	}
	return nil
}

func publishTrips(ctx context.Context, cfg *config.Config, records []gtfs.MatchRecord, mcol *metrics.Collector, logger *slog.Logger) error {
	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.PublishRate, wrapPublisherMetrics(mcol), logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	msgs := publisher.BuildTripMessages(records)
	sent, err := pub.PublishTrips(ctx, msgs)
	logging.LogOperation(logger, "trips published", slog.Int("sent", sent), slog.Int("trips", len(msgs)))
	return err
}

// logOutcome writes the batch summary with failure counts per reason.
func logOutcome(logger *slog.Logger, res *batch.Result, elapsed time.Duration) {
	byReason := make(map[batch.Reason]int)
	for _, f := range res.Failures {
		byReason[f.Reason]++
	}
	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	attrs := []slog.Attr{
		slog.Int("vehicles", len(res.Vehicles)),
		slog.Int("failures", len(res.Failures)),
		slog.Int("records", len(res.Records)),
		slog.Duration("duration", elapsed),
	}
	for _, r := range reasons {
		attrs = append(attrs, slog.Int("failed_"+r, byReason[batch.Reason(r)]))
	}
	logging.LogOperation(logger, "batch complete", attrs...)
}
