// Package quality checks canonical tables for data problems. Findings are
// advisory: they are reported to the caller and never block a load.
package quality

import (
	"fmt"
	"math"
	"time"

	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/models"
)

var (
	// RequiredColumns must exist and be fully populated.
	RequiredColumns = []string{"sensor_id", "time_stamp"}
	// NonNegativeColumns must not hold negative values when present.
	NonNegativeColumns = []string{"pm1_0_atm", "pm2_5_atm", "pm10_0_atm"}
)

// Validate returns one message per finding, in rule order. An empty table
// has no findings.
func Validate(tbl models.Table) []string {
	issues := make([]string, 0)
	if tbl.Empty() {
		return issues
	}

	for _, col := range RequiredColumns {
		if !tbl.Has(col) {
			issues = append(issues, fmt.Sprintf("Missing column: %s", col))
			continue
		}
		if hasNull(tbl.Column(col)) {
			issues = append(issues, fmt.Sprintf("Null values found in column: %s", col))
		}
	}

	for _, col := range NonNegativeColumns {
		if tbl.Has(col) && hasNegative(tbl.Column(col)) {
			issues = append(issues, fmt.Sprintf("Negative values found in column: %s", col))
		}
	}

	if n := DuplicateRows(tbl); n > 0 {
		issues = append(issues, fmt.Sprintf("%d duplicate sensor/time_stamp rows", n))
	}

	return issues
}

// DuplicateRows counts rows whose (sensor_id, time_stamp) pair was already
// seen earlier in the table. Three copies of a pair count as two.
func DuplicateRows(tbl models.Table) int {
	sensorIdx, tsIdx := tbl.Index("sensor_id"), tbl.Index("time_stamp")
	if sensorIdx < 0 || tsIdx < 0 {
		return 0
	}

	type key struct{ sensor, ts any }
	seen := make(map[key]struct{}, len(tbl.Rows))
	dupes := 0
	for _, row := range tbl.Rows {
		k := key{keyValue(row[sensorIdx]), keyValue(row[tsIdx])}
		if _, ok := seen[k]; ok {
			dupes++
			continue
		}
		seen[k] = struct{}{}
	}
	return dupes
}

func hasNull(values []any) bool {
	for _, v := range values {
		if v == nil {
			return true
		}
		if f, ok := toFloat(v); ok && math.IsNaN(f) {
			return true
		}
	}
	return false
}

func hasNegative(values []any) bool {
	for _, v := range values {
		if f, ok := toFloat(v); ok && f < 0 {
			return true
		}
	}
	return false
}

// keyValue makes values comparable by meaning: numbers by value and times
// by instant.
func keyValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UnixNano()
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UnixNano()
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	switch v.(type) {
	case nil, string, bool:
		return v
	}
	return fmt.Sprint(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
