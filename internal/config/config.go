package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gtfs-matcher/internal/logging"
	"gtfs-matcher/internal/match"
)

type Config struct {
	// inputs
	FixesPath      string
	FixesTable     string
	SchedulePath   string
	AreaPath       string
	RouteShortName string
	Line           string
	ServiceDay     string

	// outputs
	OutputPath   string
	GeoJSONPath  string
	SQLitePath   string
	ResultsTable string

	DatabaseURL string
	City        string

	MatchDistanceM         float64
	CandidateDistanceM     float64
	SequenceDistanceFactor float64
	LookaheadStops         int
	LookaheadTolerance     time.Duration
	InitialTolerance       time.Duration
	MaxTolerance           time.Duration
	ToleranceStep          time.Duration
	ReclaimAfter           time.Duration

	Workers        int // 0 picks the default pool size
	VehicleTimeout time.Duration

	NATSURL           string
	NATSSubjectPrefix string
	PublishRate       float64 // messages per second, 0 = unlimited

	MetricsAddr string
	LogLevel    slog.Level
	LogFormat   string
	Location    *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	def := match.DefaultParams()
	cfg := &Config{
		FixesPath:      os.Getenv("FIXES_PATH"),
		FixesTable:     os.Getenv("FIXES_TABLE"),
		SchedulePath:   os.Getenv("SCHEDULE_PATH"),
		AreaPath:       os.Getenv("AREA_PATH"),
		RouteShortName: strings.TrimSpace(os.Getenv("ROUTE_SHORT_NAME")),
		Line:           strings.TrimSpace(os.Getenv("LINE")),
		ServiceDay:     strings.TrimSpace(os.Getenv("SERVICE_DAY")),

		OutputPath:   getenvDefault("OUTPUT_PATH", "matches.csv"),
		GeoJSONPath:  os.Getenv("GEOJSON_PATH"),
		SQLitePath:   os.Getenv("SQLITE_PATH"),
		ResultsTable: os.Getenv("RESULTS_TABLE"),

		City: firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME")),

		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: getenvDefault("NATS_SUBJECT_PREFIX", "matches"),

		// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		LogFormat:   strings.ToLower(getenvDefault("LOG_FORMAT", "json")),
	}

	var err error
	if cfg.DatabaseURL, err = databaseURL(cfg.City); err != nil {
		return nil, err
	}

	if cfg.MatchDistanceM, err = floatEnv("MATCH_DISTANCE_M", def.MatchDistanceM, true); err != nil {
		return nil, err
	}
	if cfg.CandidateDistanceM, err = floatEnv("CANDIDATE_DISTANCE_M", 0, true); err != nil {
		return nil, err
	}
	if cfg.SequenceDistanceFactor, err = floatEnv("SEQUENCE_DISTANCE_FACTOR", def.SequenceDistanceFactor, true); err != nil {
		return nil, err
	}
	if cfg.LookaheadStops, err = intEnv("LOOKAHEAD_STOPS", def.LookaheadStops); err != nil {
		return nil, err
	}
	if cfg.LookaheadTolerance, err = minutesEnv("LOOKAHEAD_TOLERANCE_MIN", def.LookaheadTolerance); err != nil {
		return nil, err
	}
	if cfg.InitialTolerance, err = minutesEnv("STOP_TOLERANCE_MIN", def.InitialTolerance); err != nil {
		return nil, err
	}
	if cfg.MaxTolerance, err = minutesEnv("STOP_TOLERANCE_MAX_MIN", def.MaxTolerance); err != nil {
		return nil, err
	}
	if cfg.ToleranceStep, err = minutesEnv("STOP_TOLERANCE_STEP_MIN", def.ToleranceStep); err != nil {
		return nil, err
	}
	if cfg.ReclaimAfter, err = minutesEnv("RECLAIM_AFTER_MIN", def.ReclaimAfter); err != nil {
		return nil, err
	}

	if cfg.Workers, err = intEnv("WORKERS", 0); err != nil {
		return nil, err
	}
	if v := os.Getenv("VEHICLE_TIMEOUT_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			return nil, fmt.Errorf("invalid VEHICLE_TIMEOUT_SEC: %q", v)
		}
		cfg.VehicleTimeout = time.Duration(sec) * time.Second
	} else {
		cfg.VehicleTimeout = 5 * time.Minute
	}

	if cfg.PublishRate, err = floatEnv("PUBLISH_RATE", 0, false); err != nil {
		return nil, err
	}

	if cfg.LogLevel, err = logging.ParseLevel(os.Getenv("LOG_LEVEL")); err != nil {
		return nil, err
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q", cfg.LogFormat)
	}

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

// databaseURL returns DATABASE_URL / PG_DSN, or a DSN built from the PG*
// variables when PGDATABASE or CITY is set. Empty means no database.
func databaseURL(city string) (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	db := os.Getenv("PGDATABASE")
	// If CITY is provided, default base DB to 'postgres' when PGDATABASE is not set.
	if db == "" && city != "" {
		db = "postgres"
	}
	if db == "" {
		return "", nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid PGPORT: %q", port)
	}
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

// ScheduleFromDB reports whether the schedule is read from the GTFS tables
// of the database instead of a file.
func (c *Config) ScheduleFromDB() bool { return c.SchedulePath == "" }

// NeedsDB reports whether any input or output goes through Postgres.
func (c *Config) NeedsDB() bool {
	return c.FixesTable != "" || c.ResultsTable != "" || c.ScheduleFromDB() || c.City != ""
}

// Validate checks the combination of settings, after command-line overrides
// have been applied.
func (c *Config) Validate() error {
	if c.FixesPath == "" && c.FixesTable == "" {
		return errors.New("FIXES_PATH or FIXES_TABLE must be set")
	}
	if c.OutputPath == "" {
		return errors.New("OUTPUT_PATH must not be empty")
	}
	if c.NeedsDB() && c.DatabaseURL == "" {
		return errors.New("PGDATABASE or DATABASE_URL must be set when reading the schedule or fixes from Postgres or writing RESULTS_TABLE (or set SCHEDULE_PATH)")
	}
	if c.ServiceDay != "" {
		if _, err := time.Parse("2006-01-02", c.ServiceDay); err != nil {
			return fmt.Errorf("invalid SERVICE_DAY: %q", c.ServiceDay)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("invalid WORKERS: %d", c.Workers)
	}
	if err := c.MatchParams().Validate(); err != nil {
		return fmt.Errorf("match parameters: %w", err)
	}
	return nil
}

// MatchParams returns the matcher tuning carried by the config.
func (c *Config) MatchParams() match.Params {
	return match.Params{
		MatchDistanceM:         c.MatchDistanceM,
		CandidateDistanceM:     c.CandidateDistanceM,
		SequenceDistanceFactor: c.SequenceDistanceFactor,
		LookaheadStops:         c.LookaheadStops,
		LookaheadTolerance:     c.LookaheadTolerance,
		InitialTolerance:       c.InitialTolerance,
		MaxTolerance:           c.MaxTolerance,
		ToleranceStep:          c.ToleranceStep,
		ReclaimAfter:           c.ReclaimAfter,
	}
}

func floatEnv(k string, def float64, positive bool) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || !finite(f) || f < 0 || (positive && f == 0) {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func minutesEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	m, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	// a day is far beyond any useful stop window
	if err != nil || !finite(m) || m < 0 || m > 24*60 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(m * float64(time.Minute)), nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
