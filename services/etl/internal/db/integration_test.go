package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set AIRQUALITY_TEST_DATABASE_URL to run against a real server.
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("AIRQUALITY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AIRQUALITY_TEST_DATABASE_URL not set")
	}
	return url
}

func TestLoadIsIdempotent(t *testing.T) {
	url := testDatabaseURL(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := fmt.Sprintf("airq_test_%d", time.Now().UnixNano())
	admin, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	defer admin.Close(ctx)

	_, err = admin.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA %s`, pgx.Identifier{schema}.Sanitize()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), fmt.Sprintf(`DROP SCHEMA %s CASCADE`, pgx.Identifier{schema}.Sanitize()))
	})
	_, err = admin.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (
		sensor_index bigint NOT NULL,
		pm2_5 double precision,
		time_stamp timestamptz NOT NULL,
		PRIMARY KEY (sensor_index, time_stamp)
	)`, pgx.Identifier{schema, "purpleair_readings"}.Sanitize()))
	require.NoError(t, err)

	loader := &Loader{Dial: Dialer(url), Schema: schema}
	conflict := []string{"sensor_index", "time_stamp"}

	inserted, err := loader.Load(ctx, readings(), "purpleair_readings", conflict)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	inserted, err = loader.Load(ctx, readings(), "purpleair_readings", conflict)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	var count int64
	require.NoError(t, admin.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`,
		pgx.Identifier{schema, "purpleair_readings"}.Sanitize())).Scan(&count))
	assert.Equal(t, int64(2), count)

	summary, err := (&Verifier{Dial: Dialer(url), Schema: schema}).Verify(ctx, "purpleair_readings")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalRows)
	assert.Equal(t, int64(2), summary.UniqueSensors)
	require.NotNil(t, summary.Oldest)
	assert.True(t, summary.Oldest.Equal(ts))
}
