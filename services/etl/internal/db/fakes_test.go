package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeConn records the lifecycle of one connection.
type fakeConn struct {
	tx       *fakeTx
	beginErr error
	rows     []fakeRow
	queries  []string
	args     [][]any
	closed   int
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	if c.tx == nil {
		c.tx = &fakeTx{}
	}
	return c.tx, nil
}

func (c *fakeConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	c.queries = append(c.queries, sql)
	c.args = append(c.args, args)
	if len(c.rows) == 0 {
		return fakeRow{err: errors.New("unexpected query")}
	}
	row := c.rows[0]
	c.rows = c.rows[1:]
	return row
}

func (c *fakeConn) Close(context.Context) error {
	c.closed++
	return nil
}

// fakeTx embeds pgx.Tx so only the methods the loader calls need bodies.
type fakeTx struct {
	pgx.Tx

	batch      *pgx.Batch
	execErrAt  int // 1-based statement index that fails; 0 means none
	tags       []string
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	t.batch = b
	return &fakeBatchResults{tx: t}
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

type fakeBatchResults struct {
	pgx.BatchResults

	tx     *fakeTx
	read   int
	closed bool
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	r.read++
	if r.tx.execErrAt == r.read {
		return pgconn.CommandTag{}, errors.New(`duplicate key value violates unique constraint "readings_pkey"`)
	}
	tag := "INSERT 0 1"
	if i := r.read - 1; i < len(r.tx.tags) {
		tag = r.tx.tags[i]
	}
	return pgconn.NewCommandTag(tag), nil
}

func (r *fakeBatchResults) Close() error {
	r.closed = true
	return nil
}

type fakeRow struct {
	scan func(dest ...any) error
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.scan(dest...)
}

// dialer hands out conn and counts dials.
type dialer struct {
	conn  *fakeConn
	err   error
	dials int
}

func (d *dialer) dial(context.Context) (Conn, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}
