package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	r := New()

	r.RowsExtracted("purpleair", 3)
	r.RowsLoaded("purpleair", 2)
	r.QualityIssues("purpleair", 1)
	r.Error("purpleair", "load")
	r.APIRequest(429)
	r.APIRequest(429)
	r.APIRequest(0)
	r.ObserveQuery("insert", "purpleair_readings", 20*time.Millisecond, nil)
	r.ObserveQuery("insert", "purpleair_readings", time.Millisecond, errors.New("boom"))
	r.RunFinished(true, 3*time.Second)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.rowsExtracted.WithLabelValues("purpleair")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.rowsLoaded.WithLabelValues("purpleair")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.qualityIssues.WithLabelValues("purpleair")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errors.WithLabelValues("purpleair", "load")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.apiRequests.WithLabelValues("429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.apiRequests.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.dbQueries.WithLabelValues("insert", "purpleair_readings", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lastRunSuccess))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.lastRunDuration))

	count, err := testutil.GatherAndCount(r.Registry(), "airquality_etl_db_query_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RowsExtracted("x", 1)
		r.RowsLoaded("x", 1)
		r.QualityIssues("x", 1)
		r.Error("x", "extract")
		r.APIRequest(200)
		r.ObserveQuery("insert", "t", time.Second, nil)
		r.RunFinished(false, time.Second)
	})
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.Push(context.Background(), "http://unused", "job"))
}

func TestPush(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotBody, _ = io.ReadAll(req.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New()
	r.RowsLoaded("purpleair", 5)

	require.NoError(t, r.Push(context.Background(), srv.URL, "airquality_etl"))
	assert.Equal(t, "/metrics/job/airquality_etl", gotPath)
	assert.NotEmpty(t, gotBody)

	assert.NoError(t, r.Push(context.Background(), "", "airquality_etl"))
}
