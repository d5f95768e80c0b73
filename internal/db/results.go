package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gtfs-matcher/internal/gtfs"
	"gtfs-matcher/internal/logging"
	"gtfs-matcher/internal/tables"
)

// EnsureResultsTable creates the match table if it does not exist. Column
// names follow the CSV result header.
func EnsureResultsTable(ctx context.Context, db *sql.DB, d Dialect, table string) error {
	quoted, err := quoteIdent(table)
	if err != nil {
		return err
	}
	ts := d.timestampType()
	q := `CREATE TABLE IF NOT EXISTS ` + quoted + ` (
    vehicle_id          TEXT NOT NULL,
    trip_id             TEXT NOT NULL,
    stop_sequence       INTEGER NOT NULL,
    stop_id             TEXT NOT NULL,
    stop_lat            DOUBLE PRECISION,
    stop_lon            DOUBLE PRECISION,
    arrival_predicted   ` + ts + `,
    arrival_observed    ` + ts + `,
    observed_lat        DOUBLE PRECISION,
    observed_lon        DOUBLE PRECISION,
    delay_min           DOUBLE PRECISION,
    matched_distance_m  DOUBLE PRECISION,
    trip_match_pct      DOUBLE PRECISION NOT NULL,
    trip_avg_distance_m DOUBLE PRECISION
)`
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

func insertStatement(d Dialect, quoted string) string {
	ph := make([]string, len(tables.ResultColumns))
	for i := range ph {
		ph[i] = d.placeholder(i + 1)
	}
	return `INSERT INTO ` + quoted + ` (` + strings.Join(tables.ResultColumns, ", ") +
		`) VALUES (` + strings.Join(ph, ", ") + `)`
}

// WriteMatchRecords inserts records in one transaction. Absent values are
// stored as NULL.
func WriteMatchRecords(ctx context.Context, db *sql.DB, d Dialect, table string, records []gtfs.MatchRecord) error {
	quoted, err := quoteIdent(table)
	if err != nil {
		return err
	}
	logger := logging.FromContext(ctx).With(slog.String("component", "db"), slog.String("table", table))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "write_match_records")

	stmt, err := tx.PrepareContext(ctx, insertStatement(d, quoted))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer logging.SafeCloseWithLogging(stmt, logger, "insert_statement")

	for i, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.VehicleID,
			r.TripID,
			r.StopSequence,
			r.StopID,
			r.StopLat,
			r.StopLon,
			nullTime(r.PredictedArrival),
			nullTime(r.ObservedArrival),
			nullFloat(r.ObservedLat),
			nullFloat(r.ObservedLon),
			nullFloat(r.DelayMinutes),
			nullFloat(r.MatchedDistanceM),
			r.TripMatchFraction,
			nullFloat(r.TripAvgDistanceM),
		)
		if err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logging.LogOperation(logger, "match_records_written", slog.Int("rows", len(records)))
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
