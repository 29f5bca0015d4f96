package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD", "DB_SCHEMA",
		"READINGS_TABLE", "PORT", "API_PORT", "API_DEFAULT_LIMIT", "API_DEFAULT_DAYS",
		"API_BEARER_TOKEN", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/airq")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/airq", cfg.DatabaseURL)
	assert.Equal(t, "thierry_sandbox", cfg.Schema)
	assert.Equal(t, "purpleair_readings", cfg.ReadingsTable)
	assert.Equal(t, ":8080", cfg.ListenAddr())
	assert.Equal(t, 200, cfg.DefaultLimit)
	assert.Equal(t, 7, cfg.DefaultDays)
}

func TestLoadBuildsURLFromParts(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "reader")
	t.Setenv("DB_PASSWORD", "s3cr@t")
	t.Setenv("DB_NAME", "airq")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://reader:s3cr%40t@db:5432/airq", cfg.DatabaseURL)
}

func TestLoadRequiresDatabase(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadPorts(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("API_PORT", "9090")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)

	t.Setenv("PORT", "7000")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)

	t.Setenv("PORT", "zero")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadInvalidLimits(t *testing.T) {
	for _, key := range []string{"API_DEFAULT_LIMIT", "API_DEFAULT_DAYS", "DB_PORT"} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			if key != "DB_PORT" {
				t.Setenv("DATABASE_URL", "postgres://x")
			} else {
				t.Setenv("DB_PASSWORD", "p")
			}
			t.Setenv(key, "-1x")
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
