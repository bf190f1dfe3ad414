// Package config loads and validates loader configuration from environment
// variables, an optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for the loader.
// Values are populated by Load. Precedence is environment, then the YAML
// file named by CONFIG_FILE, then defaults.
type Config struct {
	// DatabaseURL is the Postgres connection string. Required.
	// Read from DATABASE_URL, or DB_CONN when DATABASE_URL is unset. A driver
	// suffix on the scheme (postgresql+psycopg2://) is dropped.
	DatabaseURL string `yaml:"database_url"`

	// RawDir is the root of the extracted input files. Defaults to "data/raw".
	RawDir string `yaml:"raw_dir"`

	// ChunkSize bounds the trip rows held in memory per chunk. Defaults to 200000.
	ChunkSize int `yaml:"chunk_size"`

	// IngestWorkers is the number of chunks merged concurrently per file.
	// Defaults to 1.
	IngestWorkers int `yaml:"ingest_workers"`

	// TripDirs are the RawDir subdirectories searched for trip CSVs. An empty
	// entry means RawDir itself. Defaults to ",citibike".
	TripDirs []string `yaml:"trip_dirs"`

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MetricsAddr, when set, serves /metrics, /healthz and /status for the
	// duration of the run.
	MetricsAddr string `yaml:"metrics_addr"`

	// OpsLinger keeps the MetricsAddr server up this long after the run so
	// /status can report it. Zero shuts it down as soon as the run ends.
	// Read from OPS_LINGER as a Go duration ("5m").
	OpsLinger time.Duration `yaml:"ops_linger"`

	// MetricsPushURL, when set, is a Pushgateway that receives the run's
	// metrics once it finishes.
	MetricsPushURL string `yaml:"metrics_push_url"`

	// CORSOrigins is the list of browser origins allowed to read the ops
	// endpoints. Empty disables CORS. Set CORS_ORIGINS to a comma-separated
	// list.
	CORSOrigins []string `yaml:"cors_origins"`

	// NATSURL, when set, enables the run-completed notification.
	NATSURL string `yaml:"nats_url"`

	// NATSSubject is the subject run reports are published on.
	// Defaults to "bikeshare.etl.runs".
	NATSSubject string `yaml:"nats_subject"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		RawDir:        "data/raw",
		ChunkSize:     200_000,
		IngestWorkers: 1,
		TripDirs:      []string{"", "citibike"},
		LogLevel:      "info",
		NATSSubject:   "bikeshare.etl.runs",
	}
}

// Load reads configuration and returns a Config.
// Returns an error listing any required variables that are not set, or naming
// the first variable that could not be parsed.
func Load() (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.DatabaseURL = pgDSN(firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("DB_CONN"), cfg.DatabaseURL))
	cfg.RawDir = getEnv("RAW_DIR", cfg.RawDir)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.MetricsPushURL = getEnv("METRICS_PUSH_URL", cfg.MetricsPushURL)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = getEnv("NATS_SUBJECT", cfg.NATSSubject)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v, ok := os.LookupEnv("TRIP_DIRS"); ok {
		cfg.TripDirs = splitDirs(v)
	}

	var err error
	if cfg.ChunkSize, err = getEnvInt("CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return Config{}, err
	}
	if cfg.IngestWorkers, err = getEnvInt("INGEST_WORKERS", cfg.IngestWorkers); err != nil {
		return Config{}, err
	}
	if cfg.OpsLinger, err = getEnvDuration("OPS_LINGER", cfg.OpsLinger); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports missing or out-of-range values.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("required environment variables not set: DATABASE_URL (or DB_CONN)")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.IngestWorkers <= 0 {
		return fmt.Errorf("INGEST_WORKERS must be positive, got %d", c.IngestWorkers)
	}
	if c.OpsLinger < 0 {
		return fmt.Errorf("OPS_LINGER must not be negative, got %s", c.OpsLinger)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}

// overlayFile applies the non-zero fields of a YAML file on top of c.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(v, "_", ""))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

// pgDSN drops a SQLAlchemy-style driver suffix from a URL scheme, so
// postgresql+psycopg2://u:p@h/db becomes postgresql://u:p@h/db. Key/value
// DSNs pass through untouched.
func pgDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if base, _, found := strings.Cut(scheme, "+"); found {
		return base + "://" + rest
	}
	return dsn
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// splitDirs splits a comma-separated directory list. Unlike most lists, empty
// entries are kept: they name the raw root itself.
func splitDirs(s string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		t := strings.TrimSpace(part)
		if t == "." {
			t = ""
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
