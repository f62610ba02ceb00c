package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a pgx pool. Transactions are carried on the context so a
// single InTransaction block can span calls into multiple repositories:
// any repository query issued with the transactional context runs on
// the open transaction, everything else runs on the pool.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a DB over an established pool.
func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// Pool exposes the underlying pool for health checks and shutdown.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

type txKey struct{}

// InTransaction runs fn inside a transaction. The transaction commits if
// fn returns nil and rolls back otherwise. Nested calls join the
// transaction already open on the context.
func (db *DB) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) q(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db.pool
}

// Exec runs a statement on the transaction bound to ctx, or the pool.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.q(ctx).Exec(ctx, sql, args...)
}

// Query runs a query on the transaction bound to ctx, or the pool.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.q(ctx).Query(ctx, sql, args...)
}

// QueryRow runs a single-row query on the transaction bound to ctx, or the pool.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.q(ctx).QueryRow(ctx, sql, args...)
}
