package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/etlerr"
)

const (
	defaultDBHost          = "localhost"
	defaultDBPort          = 5432
	defaultDBName          = "airspectrum_dev"
	defaultDBUser          = "postgres"
	defaultDBSchema        = "thierry_sandbox"
	defaultPurpleAirURL    = "https://api.purpleair.com/v1/sensors"
	defaultSensorsFile     = "PA_sensors.json"
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
	defaultLogDir          = "logs"
	defaultDataDir         = "data"
	defaultRequestTimeout  = 30 * time.Second
	defaultTimezone        = "Africa/Kigali"
	defaultEnvironment     = "development"
	noSensorsConfiguredMsg = "No sensors configured - set PURPLEAIR_PRIVATE_SENSORS in .env or create PA_sensors.json"
)

// DefaultFields are the PurpleAir fields requested when PURPLEAIR_FIELDS is unset.
var DefaultFields = []string{
	"sensor_index", "name", "latitude", "longitude", "last_seen",
	"humidity", "temperature", "pressure",
	"pm1.0", "pm1.0_cf_1", "pm2.5", "pm2.5_cf_1", "pm10.0", "pm10.0_cf_1",
}

// DB holds the connection parts used when DATABASE_URL is not set.
type DB struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	Schema   string
}

// PurpleAir configures the primary source.
type PurpleAir struct {
	APIKey          string
	BaseURL         string
	Fields          []string
	SensorsFile     string
	PrivateSensors  string
	ConflictColumns []string
}

// REMA configures the secondary source.
type REMA struct {
	URL      string
	APIKey   string
	Username string
	Password string
}

// Log configures the process logger.
type Log struct {
	Level    string
	Encoding string
	Dir      string
}

// Config holds runtime configuration for the ETL service.
type Config struct {
	DatabaseURL    string
	DB             DB
	PurpleAir      PurpleAir
	REMA           REMA
	Log            Log
	RequestTimeout time.Duration
	SaveRawData    bool
	DataDir        string
	Timezone       string
	Environment    string
	PushgatewayURL string
}

// Load reads configuration from environment variables, after loading
// envFile when it exists. An empty envFile means ".env".
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	cfg := Config{
		DatabaseURL: env("DATABASE_URL"),
		DB: DB{
			Host:     envOr("DB_HOST", defaultDBHost),
			Port:     defaultDBPort,
			Name:     envOr("DB_NAME", defaultDBName),
			User:     envOr("DB_USER", defaultDBUser),
			Password: env("DB_PASSWORD"),
			Schema:   envOr("DB_SCHEMA", defaultDBSchema),
		},
		PurpleAir: PurpleAir{
			APIKey:          env("PURPLEAIR_API_KEY"),
			BaseURL:         envOr("PURPLEAIR_BASE_URL", defaultPurpleAirURL),
			Fields:          DefaultFields,
			SensorsFile:     envOr("PURPLEAIR_SENSORS_FILE", defaultSensorsFile),
			PrivateSensors:  env("PURPLEAIR_PRIVATE_SENSORS"),
			ConflictColumns: splitList(env("PURPLEAIR_CONFLICT_COLUMNS")),
		},
		REMA: REMA{
			URL:      env("REMA_API_URL"),
			APIKey:   env("REMA_API_KEY"),
			Username: env("REMA_USERNAME"),
			Password: env("REMA_PASSWORD"),
		},
		Log: Log{
			Level:    strings.ToLower(envOr("LOG_LEVEL", defaultLogLevel)),
			Encoding: strings.ToLower(envOr("LOG_FORMAT", defaultLogFormat)),
			Dir:      envOr("LOG_DIR", defaultLogDir),
		},
		RequestTimeout: defaultRequestTimeout,
		SaveRawData:    true,
		DataDir:        envOr("DATA_DIR", defaultDataDir),
		Timezone:       envOr("TIMEZONE", defaultTimezone),
		Environment:    envOr("ENVIRONMENT", defaultEnvironment),
		PushgatewayURL: env("PUSHGATEWAY_URL"),
	}

	if v := env("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return cfg, fmt.Errorf("invalid DB_PORT: %s", v)
		}
		cfg.DB.Port = port
	}

	if v := env("PURPLEAIR_FIELDS"); v != "" {
		cfg.PurpleAir.Fields = splitList(v)
	}

	if v := env("REQUEST_TIMEOUT"); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}

	if v := env("SAVE_RAW_DATA"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SAVE_RAW_DATA: %w", err)
		}
		cfg.SaveRawData = b
	}

	switch cfg.Log.Encoding {
	case "console", "json":
	default:
		return cfg, fmt.Errorf("invalid LOG_FORMAT: %s", cfg.Log.Encoding)
	}

	return cfg, nil
}

// Validate reports every missing required setting as one configuration error.
// Sensors are resolved the same way the run resolves them.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" && c.DB.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD not set"))
	}
	if c.PurpleAir.APIKey == "" {
		errs = append(errs, errors.New("PURPLEAIR_API_KEY not set"))
	}
	if sensors, _ := c.Sensors(); len(sensors) == 0 {
		errs = append(errs, errors.New(noSensorsConfiguredMsg))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err))
	}
	if len(errs) == 0 {
		return nil
	}
	return etlerr.Wrap(errors.Join(errs...), etlerr.KindConfig, "configuration validation failed")
}

// ConnString returns DATABASE_URL, or a postgres URL built from the DB parts.
func (c Config) ConnString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DB.User, c.DB.Password),
		Host:   net.JoinHostPort(c.DB.Host, strconv.Itoa(c.DB.Port)),
		Path:   "/" + c.DB.Name,
	}
	return u.String()
}

// Location returns the display time zone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RawDataDir is where raw payloads are archived.
func (c Config) RawDataDir() string { return filepath.Join(c.DataDir, "raw") }

// ProcessedDataDir is reserved for processed exports.
func (c Config) ProcessedDataDir() string { return filepath.Join(c.DataDir, "processed") }

// EnsureDirs creates the log and data directories.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.Log.Dir, c.RawDataDir(), c.ProcessedDataDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Print writes a human readable summary with secrets omitted.
func (c Config) Print(w io.Writer) {
	sensors, _ := c.Sensors()
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, "Air Quality ETL Configuration")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Environment: %s\n", c.Environment)
	if c.DatabaseURL != "" {
		fmt.Fprintln(w, "Database: DATABASE_URL")
	} else {
		fmt.Fprintf(w, "Database: %s:%d/%s\n", c.DB.Host, c.DB.Port, c.DB.Name)
	}
	fmt.Fprintf(w, "Schema: %s\n", c.DB.Schema)
	fmt.Fprintf(w, "PurpleAir API: %s\n", configured(c.PurpleAir.APIKey != ""))
	fmt.Fprintf(w, "PurpleAir sensors: %d\n", len(sensors))
	fmt.Fprintf(w, "REMA API: %s\n", configured(c.REMA.URL != ""))
	fmt.Fprintf(w, "Save raw data: %t\n", c.SaveRawData)
	fmt.Fprintf(w, "Timezone: %s\n", c.Timezone)
	fmt.Fprintf(w, "Log level: %s\n", c.Log.Level)
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

// CheckWritable probes each directory by creating and removing a temp file.
func CheckWritable(dirs ...string) []error {
	var errs []error
	for _, dir := range dirs {
		f, err := os.CreateTemp(dir, ".write-check-*")
		if err != nil {
			errs = append(errs, fmt.Errorf("%s not writable: %w", dir, err))
			continue
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
	}
	return errs
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
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

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseTimeout accepts whole seconds ("30") or a Go duration ("45s").
func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("must be positive: %s", v)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive: %s", v)
	}
	return d, nil
}
