package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder holds the run metrics on a private registry. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	rowsExtracted   *prometheus.CounterVec
	rowsLoaded      *prometheus.CounterVec
	qualityIssues   *prometheus.CounterVec
	errors          *prometheus.CounterVec
	apiRequests     *prometheus.CounterVec
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	lastRunSuccess  prometheus.Gauge
	lastRunDuration prometheus.Gauge
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rowsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airquality_etl_rows_extracted_total",
			Help: "Rows extracted per source",
		}, []string{"source"}),
		rowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airquality_etl_rows_loaded_total",
			Help: "Rows submitted to the database per source",
		}, []string{"source"}),
		qualityIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airquality_etl_quality_issues_total",
			Help: "Data quality issues found per source",
		}, []string{"source"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airquality_etl_errors_total",
			Help: "Hard errors per source and stage",
		}, []string{"source", "stage"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airquality_etl_api_requests_total",
			Help: "Upstream API attempts by HTTP status",
		}, []string{"status"}),
		dbQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airquality_etl_db_queries_total",
			Help: "Database operations executed",
		}, []string{"query_type", "table", "status"}),
		dbQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airquality_etl_db_query_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"query_type", "table"}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airquality_etl_last_run_success",
			Help: "1 if the last run finished without hard errors",
		}),
		lastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airquality_etl_last_run_duration_seconds",
			Help: "Wall clock duration of the last run",
		}),
	}
	r.registry.MustRegister(
		r.rowsExtracted, r.rowsLoaded, r.qualityIssues, r.errors, r.apiRequests,
		r.dbQueries, r.dbQueryDuration, r.lastRunSuccess, r.lastRunDuration,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RowsExtracted(source string, n int) {
	if r == nil {
		return
	}
	r.rowsExtracted.WithLabelValues(source).Add(float64(n))
}

func (r *Recorder) RowsLoaded(source string, n int) {
	if r == nil {
		return
	}
	r.rowsLoaded.WithLabelValues(source).Add(float64(n))
}

func (r *Recorder) QualityIssues(source string, n int) {
	if r == nil {
		return
	}
	r.qualityIssues.WithLabelValues(source).Add(float64(n))
}

// Error counts one hard error for source at stage.
func (r *Recorder) Error(source, stage string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(source, stage).Inc()
}

// APIRequest counts one upstream attempt. A zero status means no response.
func (r *Recorder) APIRequest(status int) {
	if r == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	r.apiRequests.WithLabelValues(label).Inc()
}

// ObserveQuery records a database operation execution
func (r *Recorder) ObserveQuery(queryType, table string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.dbQueries.WithLabelValues(queryType, table, status).Inc()
	r.dbQueryDuration.WithLabelValues(queryType, table).Observe(duration.Seconds())
}

// RunFinished records the outcome of a run.
func (r *Recorder) RunFinished(success bool, duration time.Duration) {
	if r == nil {
		return
	}
	if success {
		r.lastRunSuccess.Set(1)
	} else {
		r.lastRunSuccess.Set(0)
	}
	r.lastRunDuration.Set(duration.Seconds())
}

// Push sends every collected metric to a Pushgateway.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(r.registry).PushContext(ctx)
}
