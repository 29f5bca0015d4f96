// Package pipeline runs extract, transform, validate and load for every
// configured source and accounts for the outcome.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/db"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/metrics"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/models"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/quality"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/transform"
)

const (
	SourcePurpleAir = "purpleair"
	SourceREMA      = "rema"
)

// TableName is the destination table for a source.
func TableName(source string) string {
	return source + "_readings"
}

// Extractor fetches the primary source.
type Extractor interface {
	Extract(ctx context.Context, sensors map[string]string, fields []string) (models.RawPayload, error)
}

// SecondarySource is a source that is only read when configured and is
// never loaded.
type SecondarySource interface {
	Configured() bool
	Extract(ctx context.Context) ([]map[string]any, error)
}

// Loader persists a table.
type Loader interface {
	Load(ctx context.Context, tbl models.Table, table string, conflictColumns []string) (int64, error)
}

// Verifier summarises a table after a run.
type Verifier interface {
	Verify(ctx context.Context, table string) (db.Summary, error)
}

// Archiver stores raw payloads.
type Archiver interface {
	Save(source string, payload models.RawPayload) (string, error)
}

// Options are the plain values a run needs.
type Options struct {
	Schema          string
	PurpleAirKey    string
	Sensors         map[string]string
	Fields          []string
	ConflictColumns []string
	Location        *time.Location
	SaveRawData     bool
}

// Deps are the collaborators of a run. PurpleAir and Loader are required;
// the rest may be nil.
type Deps struct {
	PurpleAir Extractor
	REMA      SecondarySource
	Loader    Loader
	Verifier  Verifier
	Archive   Archiver
	Logger    *zap.Logger
	Metrics   *metrics.Recorder
	Now       func() time.Time
}

// Runner executes runs. It is not safe for concurrent use.
type Runner struct {
	opts Options
	deps Deps
	log  *zap.Logger
}

// New creates a Runner.
func New(opts Options, deps Deps) *Runner {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{opts: opts, deps: deps, log: log}
}

// Run processes every source in turn. A failing source is logged and
// counted; the run always reaches reporting. Verification only happens
// when no hard error was recorded and never affects the result.
func (r *Runner) Run(ctx context.Context) *RunStats {
	stats := newRunStats()
	stats.State = StateRunning
	stats.Start = r.deps.Now()

	r.log.Info(strings.Repeat("=", 60))
	r.log.Info("Starting ETL run",
		zap.String("start", stats.Start.In(r.opts.Location).Format(time.RFC3339)),
		zap.String("schema", r.opts.Schema))
	r.log.Info(strings.Repeat("=", 60))

	if r.opts.PurpleAirKey == "" {
		r.log.Warn("PurpleAir API key not configured, skipping")
		stats.source(SourcePurpleAir).Skipped = true
	} else {
		r.runSource(ctx, stats, SourcePurpleAir, r.purpleAir)
	}

	if r.deps.REMA != nil && r.deps.REMA.Configured() {
		r.rema(ctx, stats)
	}

	stats.End = r.deps.Now()
	if stats.Errors == 0 {
		stats.State = StateCompleted
	} else {
		stats.State = StatePartialFailure
	}
	r.report(stats)

	if stats.Errors == 0 && r.deps.Verifier != nil {
		r.verify(ctx, stats)
	}

	r.deps.Metrics.RunFinished(stats.Succeeded(), stats.Duration())
	return stats
}

type sourceRun struct {
	name  string
	stage Stage
	stats *SourceStats
	log   *zap.Logger
}

func (s *sourceRun) enter(stage Stage) {
	s.stage = stage
	s.log.Debug("stage", zap.String("stage", string(stage)))
}

// runSource is the per-source failure boundary. Errors and panics from
// step are logged once, counted, and stop only this source.
func (r *Runner) runSource(ctx context.Context, stats *RunStats, name string, step func(context.Context, *sourceRun) error) {
	run := &sourceRun{
		name:  name,
		stats: stats.source(name),
		log:   r.log.With(zap.String("source", name)),
	}
	run.log.Info("Starting source ETL")

	if err := guard(ctx, run, step); err != nil {
		stats.Errors++
		run.stats.FailedAt = run.stage
		r.deps.Metrics.Error(name, string(run.stage))
		run.log.Error("source ETL failed", zap.String("stage", string(run.stage)), zap.Error(err))
	}
	stats.Issues += run.stats.Issues
}

func guard(ctx context.Context, run *sourceRun, step func(context.Context, *sourceRun) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return step(ctx, run)
}

func (r *Runner) purpleAir(ctx context.Context, run *sourceRun) error {
	run.enter(StageExtracting)
	payload, err := r.deps.PurpleAir.Extract(ctx, r.opts.Sensors, r.opts.Fields)
	if err != nil {
		return err
	}
	r.archive(run, payload)

	run.enter(StageTransforming)
	tbl, err := transform.Transform(payload)
	if err != nil {
		return err
	}
	run.stats.Extracted = tbl.Len()
	r.deps.Metrics.RowsExtracted(run.name, tbl.Len())

	if tbl.Empty() {
		run.log.Warn("No PurpleAir data to load")
		return nil
	}

	run.enter(StageValidating)
	issues := quality.Validate(tbl)
	for _, issue := range issues {
		run.log.Warn("data quality issue", zap.String("issue", issue))
	}
	run.stats.Issues = len(issues)
	r.deps.Metrics.QualityIssues(run.name, len(issues))

	run.enter(StageLoading)
	table := TableName(run.name)
	inserted, err := r.deps.Loader.Load(ctx, tbl, table, r.opts.ConflictColumns)
	if err != nil {
		return err
	}
	run.stats.Loaded = tbl.Len()
	run.stats.Inserted = inserted
	r.deps.Metrics.RowsLoaded(run.name, tbl.Len())

	run.log.Info(fmt.Sprintf("Loaded %d PurpleAir readings to %s.%s", tbl.Len(), r.opts.Schema, table),
		zap.Int64("new_rows", inserted))
	return nil
}

// rema reads the secondary source for visibility only. It is never loaded
// and never counts as an error.
func (r *Runner) rema(ctx context.Context, stats *RunStats) {
	src := stats.source(SourceREMA)
	log := r.log.With(zap.String("source", SourceREMA))

	rows, err := r.deps.REMA.Extract(ctx)
	if err != nil {
		log.Warn("REMA extraction failed", zap.Error(err))
		return
	}
	tbl, err := transform.Records(rows)
	if err != nil {
		log.Warn("REMA transform failed", zap.Error(err))
		return
	}
	src.Extracted = tbl.Len()
	r.deps.Metrics.RowsExtracted(SourceREMA, tbl.Len())
}

func (r *Runner) archive(run *sourceRun, payload models.RawPayload) {
	if !r.opts.SaveRawData || r.deps.Archive == nil || payload.Empty() {
		return
	}
	path, err := r.deps.Archive.Save(run.name, payload)
	if err != nil {
		run.log.Warn("could not archive raw payload", zap.Error(err))
		return
	}
	run.log.Debug("raw payload archived", zap.String("path", path))
}

func (r *Runner) verify(ctx context.Context, stats *RunStats) {
	r.log.Info("Verifying loaded data...")
	summary, err := r.deps.Verifier.Verify(ctx, TableName(SourcePurpleAir))
	if err != nil {
		r.log.Error("Error verifying data", zap.Error(err))
		return
	}
	stats.Verification = &summary
}

func (r *Runner) report(stats *RunStats) {
	r.log.Info(strings.Repeat("=", 60))
	r.log.Info("ETL Run Complete",
		zap.String("state", string(stats.State)),
		zap.String("duration", fmt.Sprintf("%.2f seconds", stats.Duration().Seconds())))
	for _, name := range stats.SourceNames() {
		src := stats.Sources[name]
		if src.Skipped {
			r.log.Info(fmt.Sprintf("%s: skipped", name))
			continue
		}
		r.log.Info(fmt.Sprintf("%s: %d extracted, %d loaded", name, src.Extracted, src.Loaded),
			zap.Int("quality_issues", src.Issues))
	}
	r.log.Info(fmt.Sprintf("Quality issues: %d", stats.Issues))
	r.log.Info(fmt.Sprintf("Errors: %d", stats.Errors))
	r.log.Info(strings.Repeat("=", 60))
}
