package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/geomonitor/prodes-ingest/internal/geometry"
	"github.com/geomonitor/prodes-ingest/internal/wfs"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

const (
	DefaultSchema     = "raw_data"
	DefaultTable      = "desmatamento"
	DefaultYearWindow = 2
	DefaultRateEvery  = time.Second
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrInvalidIdentifier  = errors.New("schema and table must be plain lower-case identifiers")
	ErrInvalidNumber      = errors.New("invalid numeric setting")
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config holds process settings shared by every job.
type Config struct {
	DatabaseURL string
	WFSBaseURL  string

	Schema     string
	Table      string
	PageSize   int
	YearWindow int

	RetryAttempts int
	RetryDelay    time.Duration
	RateEvery     time.Duration
	HTTPTimeout   time.Duration

	RepairMode geometry.Mode

	LogLevel string
	LogJSON  bool
}

// LoadDotEnv reads .env.local when present. A missing file is fine.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env.local"}
	}
	_ = godotenv.Load(paths...)
}

// LoadFromEnv loads configuration from environment variables.
//
// Environment variables:
//   - DATABASE_URL: PostgreSQL/PostGIS connection string (required unless dry run)
//   - PRODES_WFS_URL: GeoServer base URL (default: https://terrabrasilis.dpi.inpe.br/geoserver)
//   - PRODES_SCHEMA, PRODES_TABLE: target table (default: raw_data.desmatamento)
//   - PRODES_PAGE_SIZE: features per request (default: 10000)
//   - PRODES_YEAR_WINDOW: years per window (default: 2)
//   - PRODES_RETRY_ATTEMPTS, PRODES_RETRY_DELAY: per-page retry budget (default: 10, 60s)
//   - PRODES_RATE_EVERY: minimum spacing between requests (default: 1s, 0 disables)
//   - PRODES_HTTP_TIMEOUT: per-request timeout (default: 5m)
//   - PRODES_REPAIR_MODE: "local" or "postgis" (default: local)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_FORMAT: "json" for JSON logs
func LoadFromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		WFSBaseURL:  envOr("PRODES_WFS_URL", wfs.DefaultBaseURL),
		Schema:      envOr("PRODES_SCHEMA", DefaultSchema),
		Table:       envOr("PRODES_TABLE", DefaultTable),
		RepairMode:  geometry.Mode(strings.ToLower(envOr("PRODES_REPAIR_MODE", string(geometry.ModeLocal)))),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogJSON:     strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
	}

	var err error
	if cfg.PageSize, err = envInt("PRODES_PAGE_SIZE", wfs.DefaultPageSize); err != nil {
		return cfg, err
	}
	if cfg.YearWindow, err = envInt("PRODES_YEAR_WINDOW", DefaultYearWindow); err != nil {
		return cfg, err
	}
	if cfg.RetryAttempts, err = envInt("PRODES_RETRY_ATTEMPTS", wfs.DefaultAttempts); err != nil {
		return cfg, err
	}
	if cfg.RetryDelay, err = envDuration("PRODES_RETRY_DELAY", wfs.DefaultRetryDelay); err != nil {
		return cfg, err
	}
	if cfg.RateEvery, err = envDuration("PRODES_RATE_EVERY", DefaultRateEvery); err != nil {
		return cfg, err
	}
	if cfg.HTTPTimeout, err = envDuration("PRODES_HTTP_TIMEOUT", wfs.DefaultTimeout); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings needed to write. Dry runs skip the
// database checks.
func (c Config) Validate(dryRun bool) error {
	if !dryRun && c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if !identRe.MatchString(c.Schema) || !identRe.MatchString(c.Table) {
		return fmt.Errorf("%w: %q.%q", ErrInvalidIdentifier, c.Schema, c.Table)
	}
	if c.PageSize <= 0 || c.YearWindow <= 0 || c.RetryAttempts <= 0 {
		return fmt.Errorf("%w: page size, year window and retry attempts must be positive", ErrInvalidNumber)
	}
	switch c.RepairMode {
	case geometry.ModeLocal, geometry.ModePostGIS:
	default:
		return fmt.Errorf("%w: %s", geometry.ErrUnknownMode, c.RepairMode)
	}
	return nil
}

// RetryPolicy is the fixed-delay per-page policy described by c.
func (c Config) RetryPolicy() wfs.RetryPolicy {
	return wfs.RetryPolicy{Attempts: c.RetryAttempts, Delay: c.RetryDelay}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidNumber, key, v)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidNumber, key, v)
	}
	return d, nil
}
