package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/etlerr"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/metrics"
	"github.com/Trugira-ctrl/airquality-rwanda/services/etl/internal/models"
)

// BuildInsertSQL returns one parameterized insert for columns. Rows that
// conflict on conflictColumns, or on any constraint when none are given,
// are skipped.
func BuildInsertSQL(schema, table string, columns, conflictColumns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(qualified(schema, table))
	b.WriteString(" (")
	b.WriteString(identList(columns))
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$")
		b.WriteString(strconv.Itoa(i + 1))
	}
	b.WriteString(") ON CONFLICT ")
	if len(conflictColumns) > 0 {
		b.WriteString("(")
		b.WriteString(identList(conflictColumns))
		b.WriteString(") ")
	}
	b.WriteString("DO NOTHING")
	return b.String()
}

// UpsertTable inserts every row of tbl inside one transaction. The rows are
// queued in a single batch and sent in one round trip; the transaction is
// committed only if every statement succeeds. It returns how many rows were
// actually inserted.
func UpsertTable(ctx context.Context, conn Conn, tbl models.Table, schema, table string, conflictColumns []string) (int64, error) {
	if tbl.Empty() {
		return 0, nil
	}

	query := BuildInsertSQL(schema, table, tbl.Columns, conflictColumns)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, row := range tbl.Rows {
		batch.Queue(query, row...)
	}

	res := tx.SendBatch(ctx, batch)
	var inserted int64
	for i := range tbl.Rows {
		tag, err := res.Exec()
		if err != nil {
			_ = res.Close()
			return 0, fmt.Errorf("insert row %d into %s: %w", i, qualified(schema, table), err)
		}
		inserted += tag.RowsAffected()
	}
	if err := res.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// Loader writes tables into one schema.
type Loader struct {
	Dial    DialFunc
	Schema  string
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Load upserts tbl into Schema.table on a connection of its own. Empty
// tables never open a connection.
func (l *Loader) Load(ctx context.Context, tbl models.Table, table string, conflictColumns []string) (int64, error) {
	if tbl.Empty() {
		return 0, nil
	}

	start := time.Now()
	var inserted int64
	err := WithConn(ctx, l.Dial, func(conn Conn) error {
		var err error
		inserted, err = UpsertTable(ctx, conn, tbl, l.Schema, table, conflictColumns)
		return err
	})
	l.Metrics.ObserveQuery("insert", table, time.Since(start), err)
	if err != nil {
		return 0, etlerr.Wrap(err, etlerr.KindPersistence, "load "+l.Schema+"."+table)
	}

	logger(l.Logger).Debug("batch committed",
		zap.String("table", l.Schema+"."+table),
		zap.Int("rows", tbl.Len()),
		zap.Int64("inserted", inserted),
		zap.Int64("skipped", int64(tbl.Len())-inserted),
	)
	return inserted, nil
}

func qualified(schema, table string) string {
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func identList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pgx.Identifier{n}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
