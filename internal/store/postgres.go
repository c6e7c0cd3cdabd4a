/**
 * @description
 * This file implements the Store interface on PostgreSQL using a pgx connection pool.
 * All buckets share a single table keyed by (bucket, key); transactions map onto SERIALIZABLE
 * database transactions, so replicas sharing the database cannot both pass a
 * read-then-write check such as "proof not stored yet".
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)


const createTableSQL = `
CREATE TABLE IF NOT EXISTS daosign_kv (
	bucket     TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	value      BYTEA       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (bucket, key)
)`

const (
	selectValueSQL = `SELECT value FROM daosign_kv WHERE bucket = $1 AND key = $2`
	upsertValueSQL = `
INSERT INTO daosign_kv (bucket, key, value) VALUES ($1, $2, $3)
ON CONFLICT (bucket, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists buckets in the daosign_kv table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

/**
 * @description
 * NewPostgresStore connects to PostgreSQL, pings it and makes sure the table exists.
 *
 * @param ctx The context for the connection attempt.
 * @param databaseURL A libpq-style connection string.
 * @returns A ready PostgresStore or an error.
 */
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Get reads a value outside of any transaction.
func (s *PostgresStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	return getValue(ctx, s.pool, bucket, key)
}

// Update runs fn inside a SERIALIZABLE transaction, running it again when PostgreSQL
// aborts the transaction because a concurrent one conflicted with it.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
			return fn(&postgresTx{tx: tx})
		})
		if !serializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("postgres transaction conflicted %d times: %w", maxTxAttempts, err)
}

// serializationFailure reports whether err is a serialization_failure or deadlock_detected
// abort, after which the transaction may simply be run again.
func serializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	return getValue(ctx, t.tx, bucket, key)
}

func (t *postgresTx) Put(ctx context.Context, bucket, key string, value []byte) error {
	if _, err := t.tx.Exec(ctx, upsertValueSQL, bucket, key, value); err != nil {
		return fmt.Errorf("postgres upsert %s: %w", bucket, err)
	}
	return nil
}

func getValue(ctx context.Context, q querier, bucket, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRow(ctx, selectValueSQL, bucket, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres select %s: %w", bucket, err)
	}
	return value, nil
}
