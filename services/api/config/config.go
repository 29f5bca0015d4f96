package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the REST API.
type Config struct {
	DatabaseURL   string
	Schema        string
	ReadingsTable string
	Port          int
	BearerToken   string
	DefaultLimit  int
	DefaultDays   int
	LogLevel      string
}

// Load reads configuration from environment variables (optionally .env).
// DATABASE_URL wins over the DB_* parts the ETL also reads.
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		Schema:        "thierry_sandbox",
		ReadingsTable: "purpleair_readings",
		Port:          8080,
		DefaultLimit:  200,
		DefaultDays:   7,
		LogLevel:      "info",
	}

	if v := env("DB_SCHEMA"); v != "" {
		cfg.Schema = v
	}
	if v := env("READINGS_TABLE"); v != "" {
		cfg.ReadingsTable = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.DatabaseURL = env("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		dbURL, err := urlFromParts()
		if err != nil {
			return cfg, err
		}
		cfg.DatabaseURL = dbURL
	}

	if portStr := env("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := env("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	if limitStr := env("API_DEFAULT_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			cfg.DefaultLimit = limit
		} else {
			return cfg, fmt.Errorf("invalid API_DEFAULT_LIMIT: %s", limitStr)
		}
	}

	if daysStr := env("API_DEFAULT_DAYS"); daysStr != "" {
		if days, err := strconv.Atoi(daysStr); err == nil && days > 0 {
			cfg.DefaultDays = days
		} else {
			return cfg, fmt.Errorf("invalid API_DEFAULT_DAYS: %s", daysStr)
		}
	}

	cfg.BearerToken = env("API_BEARER_TOKEN")

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func urlFromParts() (string, error) {
	password := env("DB_PASSWORD")
	if password == "" {
		return "", fmt.Errorf("DATABASE_URL or DB_PASSWORD is required")
	}
	port := env("DB_PORT")
	if port == "" {
		port = "5432"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid DB_PORT: %s", port)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(envOr("DB_USER", "postgres"), password),
		Host:   net.JoinHostPort(envOr("DB_HOST", "localhost"), port),
		Path:   "/" + envOr("DB_NAME", "airspectrum_dev"),
	}
	return u.String(), nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envOr(key, fallback string) string {
	if v := env(key); v != "" {
		return v
	}
	return fallback
}
