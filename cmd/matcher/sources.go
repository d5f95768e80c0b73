package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gtfs-matcher/internal/batch"
	"gtfs-matcher/internal/config"
	"gtfs-matcher/internal/db"
	"gtfs-matcher/internal/gtfs"
	"gtfs-matcher/internal/match"
	"gtfs-matcher/internal/metrics"
	"gtfs-matcher/internal/publisher"
	"gtfs-matcher/internal/tables"
)

// loadSchedule reads the schedule from a GTFS zip, a flat CSV or the GTFS
// tables of the database, in that order of preference.
func loadSchedule(ctx context.Context, cfg *config.Config, sqlDB *sql.DB, logger *slog.Logger) ([]gtfs.StopTime, error) {
	logger = logger.With(slog.String("component", "schedule"))
	switch {
	case cfg.ScheduleFromDB():
		stops, err := db.FetchScheduleStops(ctx, sqlDB, cfg.RouteShortName)
		if err != nil {
			return nil, fmt.Errorf("fetch schedule: %w", err)
		}
		logger.Info("schedule read from database", slog.String("route", cfg.RouteShortName), slog.Int("rows", len(stops)))
		return stops, nil
	case strings.HasSuffix(strings.ToLower(cfg.SchedulePath), ".zip"):
		stops, err := gtfs.LoadStaticFeed(cfg.SchedulePath, cfg.RouteShortName)
		if err != nil {
			return nil, err
		}
		logger.Info("schedule read from GTFS feed", slog.String("path", cfg.SchedulePath), slog.Int("rows", len(stops)))
		return stops, nil
	default:
		stops, stats, err := tables.ReadScheduleFile(cfg.SchedulePath, cfg.RouteShortName)
		if err != nil {
			return nil, err
		}
		logger.Info("schedule read from table",
			slog.String("path", cfg.SchedulePath),
			slog.Int("rows", stats.Rows),
			slog.Int("other_route", stats.OtherRoute),
			slog.Int("bad_offset", stats.BadOffset),
			slog.Int("bad_sequence", stats.BadSequence),
			slog.Int("bad_coordinate", stats.BadCoordinate))
		return stops, nil
	}
}

func loadFixes(ctx context.Context, cfg *config.Config, sqlDB *sql.DB, logger *slog.Logger) ([]gtfs.Fix, error) {
	logger = logger.With(slog.String("component", "fixes"))
	filter := tables.FixFilter{
		Line:       cfg.Line,
		ServiceDay: cfg.ServiceDay,
		Location:   cfg.Location,
	}
	if cfg.AreaPath != "" {
		area, err := tables.ReadAreaFile(cfg.AreaPath)
		if err != nil {
			return nil, err
		}
		filter.Area = area
	}

	var (
		fixes  []gtfs.Fix
		stats  tables.FixStats
		err    error
		source string
	)
	if cfg.FixesTable != "" {
		source = cfg.FixesTable
		fixes, stats, err = db.FetchFixes(ctx, sqlDB, cfg.FixesTable, filter)
	} else {
		source = cfg.FixesPath
		fixes, stats, err = tables.ReadFixesFile(cfg.FixesPath, filter)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("fixes loaded",
		slog.String("source", source),
		slog.Int("rows", stats.Rows),
		slog.Int("kept", stats.Kept),
		slog.Int("bad_timestamp", stats.BadTimestamp),
		slog.Int("bad_coordinates", stats.BadCoordinates),
		slog.Int("other_line", stats.OtherLine),
		slog.Int("other_day", stats.OtherDay),
		slog.Int("outside_area", stats.OutsideArea))
	return fixes, nil
}

// wrapBatchMetrics adapts our Collector to the batch.Metrics interface.
func wrapBatchMetrics(c *metrics.Collector) batch.Metrics {
	if c == nil {
		return nil
	}
	return &batchMetrics{c: c}
}

type batchMetrics struct{ c *metrics.Collector }

func (b *batchMetrics) VehicleMatched(res *match.VehicleResult, d time.Duration) {
	var matched, unmatched int
	for _, ep := range res.Episodes {
		matched += ep.Matched
		unmatched += ep.Stops - ep.Matched
	}
	b.c.ObserveVehicle(d, len(res.Episodes), matched, unmatched, res.DroppedFixes)
}

func (b *batchMetrics) VehicleFailed(reason string) {
	b.c.VehicleFailures.WithLabelValues(reason).Inc()
}

func (b *batchMetrics) WorkersBusy(n int) { b.c.WorkersBusy.Set(float64(n)) }

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
