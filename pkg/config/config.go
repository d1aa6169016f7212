package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// DSN returns the lib/pq connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// FeedConfig holds the upstream sensor feed endpoints
type FeedConfig struct {
	SnapshotURL string
	// SensorURL is a format string taking the external sensor id
	SensorURL string
	Timeout   time.Duration
	UserAgent string
}

// RedisConfig holds the optional cache connection. Empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// InfluxConfig holds the optional reading mirror. Empty URL disables it.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Config is the full service configuration
type Config struct {
	Database DatabaseConfig
	Feed     FeedConfig
	Redis    RedisConfig
	Influx   InfluxConfig

	Server struct {
		Port           string
		AllowedOrigins []string
		JWTSecret      string
	}

	Schedule struct {
		PollInterval  time.Duration
		AggregationAt string
		Timezone      string
		WeekStart     string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "noise_user")
	cfg.Database.Password = getEnv("DB_PASSWORD", "noise_pass")
	cfg.Database.Database = getEnv("DB_NAME", "noisesensor")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 25)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Feed.SnapshotURL = getEnv("FEED_SNAPSHOT_URL", "https://data.sensor.community/static/v2/data.1h.json")
	cfg.Feed.SensorURL = getEnv("FEED_SENSOR_URL", "https://data.sensor.community/airrohr/v1/sensor/%d/")
	cfg.Feed.UserAgent = getEnv("FEED_USER_AGENT", "NoiseSensor/1.0")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Influx.URL = getEnv("INFLUX_URL", "")
	cfg.Influx.Token = getEnv("INFLUX_TOKEN", "")
	cfg.Influx.Org = getEnv("INFLUX_ORG", "")
	cfg.Influx.Bucket = getEnv("INFLUX_BUCKET", "noise")

	cfg.Server.Port = getEnv("SERVER_PORT", "8080")
	cfg.Server.JWTSecret = getEnv("JWT_SECRET", "")
	if origins := getEnv("SERVER_ALLOWED_ORIGINS", ""); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, strings.TrimSpace(origin))
		}
	} else {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	cfg.Schedule.AggregationAt = getEnv("AGGREGATION_AT", "01:00")
	cfg.Schedule.Timezone = getEnv("TIMEZONE", "UTC")
	cfg.Schedule.WeekStart = strings.ToLower(getEnv("WEEK_START", "monday"))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	var err error
	if cfg.Feed.Timeout, err = getEnvDuration("FEED_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Redis.TTL, err = getEnvDuration("RECENT_CACHE_TTL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Schedule.PollInterval, err = getEnvDuration("POLL_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values that cannot be defaulted silently
func (c *Config) Validate() error {
	if c.Schedule.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	if c.Feed.Timeout <= 0 {
		return errors.New("FEED_TIMEOUT must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, _, err := c.AggregationTime(); err != nil {
		return err
	}
	if _, err := c.FirstWeekday(); err != nil {
		return err
	}
	return nil
}

// Location returns the time zone used for calendar days
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

// AggregationTime parses AGGREGATION_AT (HH:MM)
func (c *Config) AggregationTime() (hour, minute int, err error) {
	t, err := time.Parse("15:04", c.Schedule.AggregationAt)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid AGGREGATION_AT %q (expected HH:MM): %w", c.Schedule.AggregationAt, err)
	}
	return t.Hour(), t.Minute(), nil
}

// FirstWeekday returns the configured first day of the week
func (c *Config) FirstWeekday() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.Schedule.WeekStart) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid WEEK_START %q", c.Schedule.WeekStart)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
