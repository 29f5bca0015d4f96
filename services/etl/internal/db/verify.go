package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/etlerr"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/metrics"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/quality"
)

const columnsSQL = `
SELECT COALESCE(array_agg(column_name::text ORDER BY ordinal_position), '{}')
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2`

// sensorKeyColumns are tried in order to identify a sensor.
var sensorKeyColumns = []string{"sensor_id", "sensor_index"}

// Summary is the post-load view of a readings table.
type Summary struct {
	Table           string     `json:"table"`
	TotalRows       int64      `json:"total_records"`
	UniqueSensors   int64      `json:"unique_sensors"`
	Oldest          *time.Time `json:"oldest_reading,omitempty"`
	Newest          *time.Time `json:"newest_reading,omitempty"`
	NegativeRows    int64      `json:"negative_rows"`
	DuplicateGroups int64      `json:"duplicate_groups"`
}

// SummaryColumns names the columns a summary query reads. Empty names are
// left out of the query.
type SummaryColumns struct {
	Sensor      string
	Timestamp   string
	NonNegative []string
}

// Verifier reads summaries from tables in one schema.
type Verifier struct {
	Dial    DialFunc
	Schema  string
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Verify runs read-only aggregate queries against Schema.table.
func (v *Verifier) Verify(ctx context.Context, table string) (Summary, error) {
	start := time.Now()
	summary := Summary{Table: v.Schema + "." + table}

	err := WithConn(ctx, v.Dial, func(conn Conn) error {
		var existing []string
		if err := conn.QueryRow(ctx, columnsSQL, v.Schema, table).Scan(&existing); err != nil {
			return fmt.Errorf("read columns: %w", err)
		}
		if len(existing) == 0 {
			return fmt.Errorf("table %s not found", summary.Table)
		}

		cols := ResolveSummaryColumns(existing)
		row := conn.QueryRow(ctx, BuildSummarySQL(v.Schema, table, cols))
		if err := row.Scan(
			&summary.TotalRows,
			&summary.UniqueSensors,
			&summary.Oldest,
			&summary.Newest,
			&summary.NegativeRows,
			&summary.DuplicateGroups,
		); err != nil {
			return fmt.Errorf("summary query: %w", err)
		}
		return nil
	})
	v.Metrics.ObserveQuery("verify", table, time.Since(start), err)
	if err != nil {
		return Summary{}, etlerr.Wrap(err, etlerr.KindVerification, "verify "+summary.Table)
	}

	log := logger(v.Logger)
	log.Info("database verification",
		zap.String("table", summary.Table),
		zap.Int64("total_records", summary.TotalRows),
		zap.Int64("unique_sensors", summary.UniqueSensors),
		zap.Timep("oldest_reading", summary.Oldest),
		zap.Timep("newest_reading", summary.Newest),
		zap.Int64("negative_rows", summary.NegativeRows),
		zap.Int64("duplicate_groups", summary.DuplicateGroups),
	)
	return summary, nil
}

// ResolveSummaryColumns picks the sensor key, the timestamp and the checked
// non-negative columns present in existing.
func ResolveSummaryColumns(existing []string) SummaryColumns {
	has := make(map[string]bool, len(existing))
	for _, c := range existing {
		has[c] = true
	}

	var cols SummaryColumns
	for _, c := range sensorKeyColumns {
		if has[c] {
			cols.Sensor = c
			break
		}
	}
	if has["time_stamp"] {
		cols.Timestamp = "time_stamp"
	}
	for _, c := range quality.NonNegativeColumns {
		if has[c] {
			cols.NonNegative = append(cols.NonNegative, c)
		}
	}
	return cols
}

// BuildSummarySQL returns a single-row query yielding total rows, distinct
// sensors, oldest and newest timestamp, rows with a negative checked value,
// and duplicate (sensor, timestamp) groups.
func BuildSummarySQL(schema, table string, cols SummaryColumns) string {
	from := qualified(schema, table)

	selects := []string{"COUNT(*) AS total_records"}

	if cols.Sensor != "" {
		selects = append(selects, fmt.Sprintf("COUNT(DISTINCT %s) AS unique_sensors", identList([]string{cols.Sensor})))
	} else {
		selects = append(selects, "0::bigint AS unique_sensors")
	}

	if cols.Timestamp != "" {
		ts := identList([]string{cols.Timestamp})
		selects = append(selects,
			fmt.Sprintf("MIN(%s)::timestamptz AS oldest_reading", ts),
			fmt.Sprintf("MAX(%s)::timestamptz AS newest_reading", ts),
		)
	} else {
		selects = append(selects, "NULL::timestamptz AS oldest_reading", "NULL::timestamptz AS newest_reading")
	}

	if len(cols.NonNegative) > 0 {
		conds := make([]string, len(cols.NonNegative))
		for i, c := range cols.NonNegative {
			conds[i] = identList([]string{c}) + " < 0"
		}
		selects = append(selects, fmt.Sprintf("COUNT(*) FILTER (WHERE %s) AS negative_rows", strings.Join(conds, " OR ")))
	} else {
		selects = append(selects, "0::bigint AS negative_rows")
	}

	if cols.Sensor != "" && cols.Timestamp != "" {
		key := identList([]string{cols.Sensor, cols.Timestamp})
		selects = append(selects, fmt.Sprintf(
			"(SELECT COUNT(*) FROM (SELECT 1 FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS dupes) AS duplicate_groups",
			from, key))
	} else {
		selects = append(selects, "0::bigint AS duplicate_groups")
	}

	return "SELECT " + strings.Join(selects, ", ") + " FROM " + from
}
