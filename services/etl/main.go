package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/config"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/db"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/logger"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/metrics"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/pipeline"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/purpleair"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/rawdata"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/rema"
)

const pushJob = "airquality_etl"

type cliOptions struct {
	envFile  string
	logLevel string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	code := 0
	root := newRootCmd(&code)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return code
}

func newRootCmd(code *int) *cobra.Command {
	opts := &cliOptions{}

	runETL := func(cmd *cobra.Command, _ []string) error {
		*code = runPipeline(cmd.Context(), opts, cmd.ErrOrStderr())
		return nil
	}

	root := &cobra.Command{
		Use:           "airquality-etl",
		Short:         "Air quality ETL for Rwanda sensor networks",
		Long:          "Pulls current PurpleAir readings, validates them and stores them idempotently in PostgreSQL.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runETL,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the ETL for every configured source",
		RunE:  runETL,
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the configuration and check it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			*code = checkConfig(opts, cmd.OutOrStdout())
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Summarise the PurpleAir readings table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			*code = verifyTable(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return nil
		},
	})

	return root
}

func loadConfig(opts *cliOptions) (config.Config, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return cfg, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		Dir:         cfg.Log.Dir,
		Development: cfg.Environment == "development",
	})
}

func runPipeline(ctx context.Context, opts *cliOptions, stderr io.Writer) int {
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(stderr, "setup error: %v\n", err)
		return 1
	}
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Error("Configuration validation failed", zap.Error(err))
		return 1
	}

	sensors, err := cfg.Sensors()
	if err != nil {
		log.Warn("could not read sensors file, using PURPLEAIR_PRIVATE_SENSORS", zap.Error(err))
	}

	rec := metrics.New()
	dial := db.Dialer(cfg.ConnString())

	runner := pipeline.New(pipeline.Options{
		Schema:          cfg.DB.Schema,
		PurpleAirKey:    cfg.PurpleAir.APIKey,
		Sensors:         sensors,
		Fields:          cfg.PurpleAir.Fields,
		ConflictColumns: cfg.PurpleAir.ConflictColumns,
		Location:        cfg.Location(),
		SaveRawData:     cfg.SaveRawData,
	}, pipeline.Deps{
		PurpleAir: purpleair.NewClient(purpleair.Options{
			BaseURL:    cfg.PurpleAir.BaseURL,
			APIKey:     cfg.PurpleAir.APIKey,
			HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
			Logger:     log.Named("purpleair"),
			Metrics:    rec,
		}),
		REMA: rema.NewClient(rema.Options{
			URL:      cfg.REMA.URL,
			APIKey:   cfg.REMA.APIKey,
			Username: cfg.REMA.Username,
			Password: cfg.REMA.Password,
			Logger:   log.Named("rema"),
		}),
		Loader:   &db.Loader{Dial: dial, Schema: cfg.DB.Schema, Logger: log.Named("db"), Metrics: rec},
		Verifier: &db.Verifier{Dial: dial, Schema: cfg.DB.Schema, Logger: log.Named("db"), Metrics: rec},
		Archive:  &rawdata.Archive{Dir: cfg.RawDataDir()},
		Logger:   log.Named("etl"),
		Metrics:  rec,
	})

	stats := runner.Run(ctx)

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := rec.Push(pushCtx, cfg.PushgatewayURL, pushJob); err != nil {
			log.Warn("could not push metrics", zap.String("url", cfg.PushgatewayURL), zap.Error(err))
		}
		cancel()
	}

	return stats.ExitCode()
}

func checkConfig(opts *cliOptions, out io.Writer) int {
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(out, "config error: %v\n", err)
		return 1
	}
	cfg.Print(out)

	code := 0
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Configuration invalid: %v\n", err)
		code = 1
	} else {
		fmt.Fprintln(out, "Configuration valid")
	}
	if _, err := cfg.Sensors(); err != nil {
		fmt.Fprintf(out, "Warning: %v\n", err)
	}

	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(out, "Directory setup failed: %v\n", err)
		return 1
	}
	for _, err := range config.CheckWritable(cfg.Log.Dir, cfg.RawDataDir(), cfg.ProcessedDataDir()) {
		fmt.Fprintf(out, "Write check failed: %v\n", err)
		code = 1
	}
	return code
}

func verifyTable(ctx context.Context, opts *cliOptions, out, stderr io.Writer) int {
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		fmt.Fprintf(stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	verifier := &db.Verifier{Dial: db.Dialer(cfg.ConnString()), Schema: cfg.DB.Schema, Logger: log.Named("db")}
	summary, err := verifier.Verify(ctx, pipeline.TableName(pipeline.SourcePurpleAir))
	if err != nil {
		log.Error("Error verifying data", zap.Error(err))
		return 1
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(stderr, "encode summary: %v\n", err)
		return 1
	}
	return 0
}
