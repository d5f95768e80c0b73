package db

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-matcher/internal/gtfs"
	"gtfs-matcher/internal/tables"
)

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := OpenSQLite(filepath.Join(t.TempDir(), "matches.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Ping(context.Background(), sqlDB))
	return sqlDB
}

func TestWithDBName(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		db   string
		want string
	}{
		{"replace path", "postgres://u:p@host:5432/old?sslmode=disable", "rio", "postgres://u:p@host:5432/rio?sslmode=disable"},
		{"leading slash", "postgresql://host/old", "/rio", "postgresql://host/rio"},
		{"no scheme", "u@host:5432/old", "postgres", "postgres://u@host:5432/postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WithDBName(tt.dsn, tt.db)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := WithDBName("", "x")
	assert.Error(t, err)
	_, err = WithDBName("mysql://host/db", "x")
	assert.Error(t, err)
}

func TestQuoteIdent(t *testing.T) {
	q, err := quoteIdent("public.matches")
	require.NoError(t, err)
	assert.Equal(t, `"public"."matches"`, q)

	for _, bad := range []string{"", "matches; DROP TABLE x", "a.b.c", "1abc", `ma"tches`} {
		_, err := quoteIdent(bad)
		assert.Error(t, err, bad)
	}
}

func TestInsertStatement(t *testing.T) {
	pg := insertStatement(Postgres, `"m"`)
	assert.Contains(t, pg, "$1, $2")
	assert.Contains(t, pg, "$14)")

	lite := insertStatement(SQLite, `"m"`)
	assert.Contains(t, lite, "VALUES (?, ?")
	assert.NotContains(t, lite, "$")

	assert.Equal(t, "sqlite", SQLite.String())
	assert.Equal(t, "Dialect(7)", Dialect(7).String())
}

func TestWriteMatchRecordsSQLite(t *testing.T) {
	sqlDB := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, EnsureResultsTable(ctx, sqlDB, SQLite, "matches"))
	// idempotent
	require.NoError(t, EnsureResultsTable(ctx, sqlDB, SQLite, "matches"))

	predicted := time.Date(2019, 1, 25, 8, 0, 0, 0, time.UTC)
	observed := predicted.Add(2 * time.Minute)
	delay, dist, avg := 2.0, 10.5, 10.5
	lat, lon := -22.9, -43.2
	records := []gtfs.MatchRecord{
		{
			VehicleID: "V1", TripID: "T1", StopSequence: 1, StopID: "S1",
			StopLat: -22.9, StopLon: -43.2,
			PredictedArrival: &predicted, ObservedArrival: &observed,
			ObservedLat: &lat, ObservedLon: &lon,
			DelayMinutes: &delay, MatchedDistanceM: &dist,
			TripMatchFraction: 0.5, TripAvgDistanceM: &avg,
		},
		{
			VehicleID: "V1", TripID: "T1", StopSequence: 2, StopID: "S2",
			StopLat: -22.91, StopLon: -43.21,
			TripMatchFraction: 0.5, TripAvgDistanceM: &avg,
		},
	}
	require.NoError(t, WriteMatchRecords(ctx, sqlDB, SQLite, "matches", records))

	var n int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM matches`).Scan(&n))
	assert.Equal(t, 2, n)

	var unmatched int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM matches WHERE arrival_observed IS NULL AND delay_min IS NULL`).Scan(&unmatched))
	assert.Equal(t, 1, unmatched)

	var gotDelay float64
	require.NoError(t, sqlDB.QueryRow(`SELECT delay_min FROM matches WHERE stop_sequence = 1`).Scan(&gotDelay))
	assert.Equal(t, 2.0, gotDelay)

	assert.Error(t, WriteMatchRecords(ctx, sqlDB, SQLite, "bad name", records))
}

func TestFetchFixesSQLite(t *testing.T) {
	sqlDB := openTestSQLite(t)
	ctx := context.Background()

	_, err := sqlDB.Exec(`CREATE TABLE gps ("order" TEXT, line TEXT, latitude REAL, longitude REAL, datetime TEXT)`)
	require.NoError(t, err)
	_, err = sqlDB.Exec(`INSERT INTO gps VALUES
		('A1', '371.0', -22.9, -43.2, '2019-01-25 08:00:00'),
		('A1', '371', -22.91, -43.2, '2019-01-25 08:01:00'),
		('A1', '100', -22.91, -43.2, '2019-01-25 08:02:00'),
		('B2', '371', NULL, -43.2, 'not a time')`)
	require.NoError(t, err)

	fixes, stats, err := FetchFixes(ctx, sqlDB, "gps", tables.FixFilter{Line: "371", Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, fixes, 3)
	assert.Equal(t, 4, stats.Rows)
	assert.Equal(t, 1, stats.OtherLine)
	assert.Equal(t, 1, stats.BadTimestamp)
	assert.Equal(t, 1, stats.BadCoordinates)

	assert.Equal(t, "A1", fixes[0].VehicleID)
	assert.Equal(t, time.Date(2019, 1, 25, 8, 0, 0, 0, time.UTC), fixes[0].Time)
	assert.True(t, math.IsNaN(fixes[2].Lat))
	assert.True(t, fixes[2].Time.IsZero())

	_, err = sqlDB.Exec(`CREATE TABLE nocols (x TEXT)`)
	require.NoError(t, err)
	_, _, err = FetchFixes(ctx, sqlDB, "nocols", tables.FixFilter{})
	assert.Error(t, err)
}
