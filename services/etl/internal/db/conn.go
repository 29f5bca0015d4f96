// Package db writes canonical tables to PostgreSQL and reads back run
// summaries. Every operation dials its own connection and closes it before
// returning; nothing is pooled.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Conn is the part of *pgx.Conn the loader and verifier use.
type Conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// DialFunc opens a fresh connection.
type DialFunc func(ctx context.Context) (Conn, error)

// Dialer returns a DialFunc that connects to connString with pgx.
func Dialer(connString string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// WithConn dials, runs fn and closes the connection on every path,
// including panics inside fn.
func WithConn(ctx context.Context, dial DialFunc, fn func(Conn) error) error {
	conn, err := dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		_ = conn.Close(context.WithoutCancel(ctx))
	}()
	return fn(conn)
}
