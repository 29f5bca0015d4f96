package models

// Table is the canonical row-oriented form of one source's readings. Every
// row has exactly one value per column, in column order; nil is a null.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Empty reports whether the table has no rows.
func (t Table) Empty() bool { return len(t.Rows) == 0 }

// Index returns the position of col, or -1.
func (t Table) Index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Has reports whether col is one of the table's columns.
func (t Table) Has(col string) bool { return t.Index(col) >= 0 }

// Column returns the values of col in row order, or nil when col is absent.
func (t Table) Column(col string) []any {
	idx := t.Index(col)
	if idx < 0 {
		return nil
	}
	out := make([]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		out = append(out, row[idx])
	}
	return out
}

// Record returns row i as a column-to-value map.
func (t Table) Record(i int) map[string]any {
	rec := make(map[string]any, len(t.Columns))
	for j, c := range t.Columns {
		rec[c] = t.Rows[i][j]
	}
	return rec
}
