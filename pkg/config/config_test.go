package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"DB_HOST", "DB_PORT", "SERVER_PORT", "POLL_INTERVAL", "AGGREGATION_AT",
		"TIMEZONE", "WEEK_START", "FEED_TIMEOUT", "REDIS_ADDR", "INFLUX_URL",
		"SERVER_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Schedule.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.Feed.Timeout)
	assert.Equal(t, "", cfg.Redis.Addr)
	assert.Len(t, cfg.Server.AllowedOrigins, 2)

	hour, minute, err := cfg.AggregationTime()
	require.NoError(t, err)
	assert.Equal(t, 1, hour)
	assert.Equal(t, 0, minute)

	day, err := cfg.FirstWeekday()
	require.NoError(t, err)
	assert.Equal(t, time.Monday, day)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_PORT", "6543")
	t.Setenv("POLL_INTERVAL", "15m")
	t.Setenv("AGGREGATION_AT", "00:05")
	t.Setenv("WEEK_START", "Sunday")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.PollInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)

	hour, minute, err := cfg.AggregationTime()
	require.NoError(t, err)
	assert.Equal(t, 0, hour)
	assert.Equal(t, 5, minute)

	day, err := cfg.FirstWeekday()
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, day)
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{"Bad duration", "POLL_INTERVAL", "hourly"},
		{"Negative duration", "POLL_INTERVAL", "-1h"},
		{"Bad aggregation time", "AGGREGATION_AT", "25:99"},
		{"Bad week start", "WEEK_START", "someday"},
		{"Bad timezone", "TIMEZONE", "Mars/Olympus_Mons"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", Database: "n", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", c.DSN())
}
