package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/db"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/etlerr"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/metrics"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/models"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/purpleair"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/rema"
)

type stubExtractor struct {
	payload models.RawPayload
	err     error
	panics  bool
	calls   int
}

func (s *stubExtractor) Extract(context.Context, map[string]string, []string) (models.RawPayload, error) {
	s.calls++
	if s.panics {
		panic("nil map")
	}
	return s.payload, s.err
}

type capturingLoader struct {
	tables   []models.Table
	names    []string
	conflict []string
	err      error
}

func (l *capturingLoader) Load(_ context.Context, tbl models.Table, table string, conflict []string) (int64, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.tables = append(l.tables, tbl)
	l.names = append(l.names, table)
	l.conflict = conflict
	return int64(tbl.Len()), nil
}

type stubVerifier struct {
	summary db.Summary
	err     error
	tables  []string
}

func (v *stubVerifier) Verify(_ context.Context, table string) (db.Summary, error) {
	v.tables = append(v.tables, table)
	return v.summary, v.err
}

type stubArchive struct {
	saved []string
	err   error
}

func (a *stubArchive) Save(source string, _ models.RawPayload) (string, error) {
	a.saved = append(a.saved, source)
	return "/tmp/" + source + ".json", a.err
}

// clock returns start, then start+step, start+2*step, ...
func clock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

var start = time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)

var onePayload = models.RawPayload{
	Fields: []string{"sensor_id", "last_seen", "pm2.5_atm"},
	Data:   [][]any{{int64(7), int64(1717221600), 3.5}},
}

func baseOptions() Options {
	return Options{
		Schema:       "thierry_sandbox",
		PurpleAirKey: "key",
		Sensors:      map[string]string{"7": "k"},
		Fields:       []string{"sensor_id", "last_seen", "pm2.5_atm"},
	}
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestRunEndToEnd(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "keyA", r.URL.Query().Get("read_keys"))
		fmt.Fprint(w, `{"fields":["sensor_index","last_seen","pm2.5"],"data":[[101,1700000000,12.3]]}`)
	}))
	defer api.Close()

	client := purpleair.NewClient(purpleair.Options{BaseURL: api.URL, APIKey: "secret", HTTPClient: api.Client()})
	client.Sleep = func(context.Context, time.Duration) error { return nil }

	loader := &capturingLoader{}
	verifier := &stubVerifier{summary: db.Summary{TotalRows: 1}}
	log, logs := observed()

	opts := baseOptions()
	opts.Sensors = map[string]string{"101": "keyA"}
	opts.Fields = []string{"sensor_index", "last_seen", "pm2.5"}
	opts.ConflictColumns = []string{"sensor_index", "time_stamp"}

	r := New(opts, Deps{
		PurpleAir: client,
		Loader:    loader,
		Verifier:  verifier,
		Logger:    log,
		Metrics:   metrics.New(),
		Now:       clock(start, 2*time.Second),
	})
	stats := r.Run(context.Background())

	require.Len(t, loader.tables, 1)
	tbl := loader.tables[0]
	assert.Equal(t, []string{"purpleair_readings"}, loader.names)
	assert.Equal(t, []string{"sensor_index", "time_stamp"}, loader.conflict)
	assert.Equal(t, map[string]any{
		"sensor_index": int64(101),
		"pm2_5":        12.3,
		"time_stamp":   time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
	}, tbl.Record(0))

	src := stats.Sources[SourcePurpleAir]
	assert.Equal(t, 1, src.Extracted)
	assert.Equal(t, 1, src.Loaded)
	assert.Equal(t, int64(1), src.Inserted)
	// the upstream key column is sensor_index, so the sensor_id rule fires
	assert.Equal(t, 1, src.Issues)
	assert.Equal(t, 1, logs.FilterMessage("data quality issue").FilterField(zap.String("issue", "Missing column: sensor_id")).Len())

	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, StateCompleted, stats.State)
	assert.Equal(t, 0, stats.ExitCode())
	assert.Equal(t, 2*time.Second, stats.Duration())
	assert.Equal(t, []string{"purpleair_readings"}, verifier.tables)
	require.NotNil(t, stats.Verification)
	assert.Equal(t, int64(1), stats.Verification.TotalRows)
}

func TestRunExtractionFailure(t *testing.T) {
	ext := &stubExtractor{err: etlerr.New(etlerr.KindExtraction, "unexpected status 500")}
	loader := &capturingLoader{}
	verifier := &stubVerifier{}
	log, logs := observed()

	stats := New(baseOptions(), Deps{PurpleAir: ext, Loader: loader, Verifier: verifier, Logger: log}).Run(context.Background())

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, StatePartialFailure, stats.State)
	assert.Equal(t, 1, stats.ExitCode())
	assert.Equal(t, StageExtracting, stats.Sources[SourcePurpleAir].FailedAt)
	assert.Empty(t, loader.tables)
	assert.Empty(t, verifier.tables, "verification only runs without hard errors")
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), "hard error logged exactly once")
}

func TestRunTransformFailure(t *testing.T) {
	ext := &stubExtractor{payload: models.RawPayload{Fields: []string{"last_seen"}, Data: [][]any{{"later"}}}}
	loader := &capturingLoader{}

	stats := New(baseOptions(), Deps{PurpleAir: ext, Loader: loader}).Run(context.Background())

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, StageTransforming, stats.Sources[SourcePurpleAir].FailedAt)
	assert.Empty(t, loader.tables)
}

func TestRunLoadFailure(t *testing.T) {
	ext := &stubExtractor{payload: onePayload}
	loader := &capturingLoader{err: etlerr.Wrap(errors.New("relation does not exist"), etlerr.KindPersistence, "load")}
	rec := metrics.New()

	stats := New(baseOptions(), Deps{PurpleAir: ext, Loader: loader, Metrics: rec}).Run(context.Background())

	src := stats.Sources[SourcePurpleAir]
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, StageLoading, src.FailedAt)
	assert.Equal(t, 1, src.Extracted)
	assert.Zero(t, src.Loaded)
	assert.Equal(t, 1, stats.ExitCode())
}

func TestRunRecoversPanics(t *testing.T) {
	ext := &stubExtractor{panics: true}
	log, logs := observed()

	stats := New(baseOptions(), Deps{PurpleAir: ext, Loader: &capturingLoader{}, Logger: log}).Run(context.Background())

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, StatePartialFailure, stats.State)
	errs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].ContextMap()["error"], "panic")
}

func TestRunSkipsPurpleAirWithoutKey(t *testing.T) {
	ext := &stubExtractor{}
	opts := baseOptions()
	opts.PurpleAirKey = ""

	stats := New(opts, Deps{PurpleAir: ext, Loader: &capturingLoader{}}).Run(context.Background())

	assert.Zero(t, ext.calls)
	assert.True(t, stats.Sources[SourcePurpleAir].Skipped)
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, StateCompleted, stats.State)
}

func TestRunEmptyPayloadLoadsNothing(t *testing.T) {
	loader := &capturingLoader{}
	stats := New(baseOptions(), Deps{PurpleAir: &stubExtractor{}, Loader: loader}).Run(context.Background())

	assert.Empty(t, loader.tables)
	assert.Zero(t, stats.Sources[SourcePurpleAir].Extracted)
	assert.Equal(t, 0, stats.ExitCode())
}

func TestRunQualityIssuesDoNotBlock(t *testing.T) {
	ext := &stubExtractor{payload: models.RawPayload{
		Fields: []string{"sensor_id", "last_seen", "pm2.5_atm"},
		Data: [][]any{
			{int64(7), int64(1717221600), -3.5},
			{int64(7), int64(1717221600), 3.5},
		},
	}}
	loader := &capturingLoader{}

	stats := New(baseOptions(), Deps{PurpleAir: ext, Loader: loader}).Run(context.Background())

	require.Len(t, loader.tables, 1)
	assert.Equal(t, 2, loader.tables[0].Len())
	assert.Equal(t, 2, stats.Issues)
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, 0, stats.ExitCode())
}

func TestRunREMAIsNeverLoaded(t *testing.T) {
	loader := &capturingLoader{}
	stats := New(baseOptions(), Deps{
		PurpleAir: &stubExtractor{payload: onePayload},
		REMA:      rema.NewClient(rema.Options{URL: "https://rema.example"}),
		Loader:    loader,
	}).Run(context.Background())

	require.Contains(t, stats.Sources, SourceREMA)
	assert.Zero(t, stats.Sources[SourceREMA].Extracted)
	assert.Equal(t, []string{"purpleair_readings"}, loader.names)
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, []string{SourcePurpleAir, SourceREMA}, stats.SourceNames())
}

func TestRunUnconfiguredREMAIsSkipped(t *testing.T) {
	stats := New(baseOptions(), Deps{
		PurpleAir: &stubExtractor{payload: onePayload},
		REMA:      rema.NewClient(rema.Options{}),
		Loader:    &capturingLoader{},
	}).Run(context.Background())

	assert.NotContains(t, stats.Sources, SourceREMA)
}

func TestRunVerificationFailureKeepsSuccess(t *testing.T) {
	verifier := &stubVerifier{err: etlerr.New(etlerr.KindVerification, "table missing")}
	log, logs := observed()

	stats := New(baseOptions(), Deps{
		PurpleAir: &stubExtractor{payload: onePayload},
		Loader:    &capturingLoader{},
		Verifier:  verifier,
		Logger:    log,
	}).Run(context.Background())

	assert.Equal(t, 0, stats.ExitCode())
	assert.Equal(t, StateCompleted, stats.State)
	assert.Nil(t, stats.Verification)
	assert.Equal(t, 1, logs.FilterMessage("Error verifying data").Len())
}

func TestRunArchivesRawPayload(t *testing.T) {
	archive := &stubArchive{err: errors.New("disk full")}
	opts := baseOptions()
	opts.SaveRawData = true

	stats := New(opts, Deps{PurpleAir: &stubExtractor{payload: onePayload}, Loader: &capturingLoader{}, Archive: archive}).Run(context.Background())

	assert.Equal(t, []string{SourcePurpleAir}, archive.saved)
	assert.Equal(t, 0, stats.Errors, "archive failures are warnings")

	archive = &stubArchive{}
	opts.SaveRawData = false
	New(opts, Deps{PurpleAir: &stubExtractor{payload: onePayload}, Loader: &capturingLoader{}, Archive: archive}).Run(context.Background())
	assert.Empty(t, archive.saved)
}

func TestRunStatsHelpers(t *testing.T) {
	s := newRunStats()
	assert.Equal(t, StateNotStarted, s.State)
	assert.Zero(t, s.Duration())

	s.source("a").Extracted = 3
	s.source("a").Loaded = 2
	s.source("b").Extracted = 1
	assert.Equal(t, 4, s.Extracted())
	assert.Equal(t, 2, s.Loaded())
	assert.True(t, s.Succeeded())

	s.Errors = 2
	assert.Equal(t, 1, s.ExitCode())
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "purpleair_readings", TableName(SourcePurpleAir))
}
