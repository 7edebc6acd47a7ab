package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string // empty runs without Postgres
	HTTPAddr    string
	MetricsAddr string

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisPositionTTL time.Duration

	PublishInterval     time.Duration
	SpeedMultiplier     float64
	MaxSpeedMultiplier  float64
	SchedulerResolution time.Duration
	SessionRetention    time.Duration
	PublishQueueSize    int
	JitterSeed          int64
	DensifyMeters       float64
	RateLimitPerMinute  int

	Location  *time.Location
	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars when PGDATABASE is set
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = strings.Trim(getenvDefault("NATS_SUBJECT_PREFIX", "vehicles"), ".")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisDB, err = intVar("REDIS_DB", 0, 0); err != nil {
		return nil, err
	}
	ttl, err := intVar("REDIS_POSITION_TTL_SEC", 300, 1)
	if err != nil {
		return nil, err
	}
	cfg.RedisPositionTTL = time.Duration(ttl) * time.Second

	ms, err := intVar("PUBLISH_INTERVAL_MS", 1000, 1)
	if err != nil {
		return nil, err
	}
	cfg.PublishInterval = time.Duration(ms) * time.Millisecond

	if cfg.SpeedMultiplier, err = floatVar("SPEED_MULTIPLIER", 1); err != nil {
		return nil, err
	}
	if cfg.MaxSpeedMultiplier, err = floatVar("MAX_SPEED_MULTIPLIER", 1000); err != nil {
		return nil, err
	}
	if cfg.SpeedMultiplier > cfg.MaxSpeedMultiplier {
		return nil, fmt.Errorf("SPEED_MULTIPLIER %g exceeds MAX_SPEED_MULTIPLIER %g", cfg.SpeedMultiplier, cfg.MaxSpeedMultiplier)
	}

	if ms, err = intVar("SCHEDULER_RESOLUTION_MS", 100, 1); err != nil {
		return nil, err
	}
	cfg.SchedulerResolution = time.Duration(ms) * time.Millisecond
	if cfg.PublishInterval < cfg.SchedulerResolution {
		return nil, fmt.Errorf("PUBLISH_INTERVAL_MS %d is below SCHEDULER_RESOLUTION_MS %d", cfg.PublishInterval.Milliseconds(), ms)
	}

	// 0 keeps finished sessions forever
	sec, err := intVar("SESSION_RETENTION_SEC", 3600, 0)
	if err != nil {
		return nil, err
	}
	cfg.SessionRetention = time.Duration(sec) * time.Second

	if cfg.PublishQueueSize, err = intVar("PUBLISH_QUEUE_SIZE", 1024, 1); err != nil {
		return nil, err
	}
	if v := os.Getenv("JITTER_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid JITTER_SEED: %q", v)
		}
		cfg.JitterSeed = seed
	}
	if v := os.Getenv("DENSIFY_METERS"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid DENSIFY_METERS: %q", v)
		}
		cfg.DensifyMeters = f
	}
	if cfg.RateLimitPerMinute, err = intVar("RATE_LIMIT_PER_MINUTE", 120, 1); err != nil {
		return nil, err
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

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "json")

	return cfg, nil
}

// intVar reads an integer variable that must be at least min.
func intVar(k string, def, min int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < min {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

// floatVar reads a positive float variable.
func floatVar(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

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
