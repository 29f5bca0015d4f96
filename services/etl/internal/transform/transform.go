// Package transform reshapes upstream payloads into the canonical table.
package transform

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/etlerr"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/models"
)

const (
	lastSeenColumn  = "last_seen"
	timestampColumn = "time_stamp"
)

// NormalizeColumn replaces every dot with an underscore.
func NormalizeColumn(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

// Transform builds a table from either payload shape. Column names are
// normalized and last_seen (epoch seconds) becomes a UTC time_stamp. The
// payload is not modified.
func Transform(p models.RawPayload) (models.Table, error) {
	if p.Empty() {
		return models.Table{}, nil
	}

	var (
		tbl models.Table
		err error
	)
	if p.Tabular() {
		tbl, err = fromTabular(p)
	} else {
		tbl = fromRecords(p.Records)
	}
	if err != nil {
		return models.Table{}, err
	}

	for i, c := range tbl.Columns {
		tbl.Columns[i] = NormalizeColumn(c)
	}

	if err := deriveTimestamp(&tbl); err != nil {
		return models.Table{}, err
	}
	return tbl, nil
}

// Records converts loosely typed rows from sources without a positional
// payload, such as REMA.
func Records(rows []map[string]any) (models.Table, error) {
	return Transform(models.RawPayload{Records: rows})
}

func fromTabular(p models.RawPayload) (models.Table, error) {
	tbl := models.Table{
		Columns: append([]string(nil), p.Fields...),
		Rows:    make([][]any, 0, len(p.Data)),
	}
	for i, values := range p.Data {
		if len(values) != len(p.Fields) {
			return models.Table{}, etlerr.Newf(etlerr.KindTransform,
				"row %d has %d values for %d fields", i, len(values), len(p.Fields))
		}
		tbl.Rows = append(tbl.Rows, append([]any(nil), values...))
	}
	return tbl, nil
}

// fromRecords uses the sorted union of record keys as columns. Keys absent
// from a record are null.
func fromRecords(records []map[string]any) models.Table {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			seen[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = rec[c]
		}
		rows = append(rows, row)
	}
	return models.Table{Columns: columns, Rows: rows}
}

func deriveTimestamp(tbl *models.Table) error {
	src := tbl.Index(lastSeenColumn)
	if src < 0 {
		return nil
	}

	stamps := make([]any, len(tbl.Rows))
	for i, row := range tbl.Rows {
		ts, err := epochToUTC(row[src])
		if err != nil {
			return etlerr.Wrap(err, etlerr.KindTransform, fmt.Sprintf("row %d: %s", i, lastSeenColumn))
		}
		stamps[i] = ts
	}

	dst := tbl.Index(timestampColumn)
	columns := make([]string, 0, len(tbl.Columns))
	for i, c := range tbl.Columns {
		if i != src {
			columns = append(columns, c)
		}
	}
	if dst < 0 {
		columns = append(columns, timestampColumn)
	}

	for r, row := range tbl.Rows {
		out := make([]any, 0, len(columns))
		for i, v := range row {
			switch i {
			case src:
				continue
			case dst:
				out = append(out, stamps[r])
			default:
				out = append(out, v)
			}
		}
		if dst < 0 {
			out = append(out, stamps[r])
		}
		tbl.Rows[r] = out
	}
	tbl.Columns = columns
	return nil
}

func epochToUTC(v any) (any, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return time.Unix(n, 0).UTC(), nil
	case int:
		return time.Unix(int64(n), 0).UTC(), nil
	case int32:
		return time.Unix(int64(n), 0).UTC(), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("invalid epoch %v", n)
		}
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case time.Time:
		return n.UTC(), nil
	default:
		return nil, fmt.Errorf("unsupported epoch type %T", v)
	}
}
