package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createStateTableSQL = `
CREATE TABLE IF NOT EXISTS kv_state (
    namespace TEXT NOT NULL,
    key BYTEA NOT NULL,
    value BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (namespace, key)
);
`

// DefaultPostgresTimeout bounds every statement issued by PostgresDB
const DefaultPostgresTimeout = 5 * time.Second

// PostgresDB keeps a chain's state in one namespace of a shared table,
// so several chains can share a database.
type PostgresDB struct {
	pool      *pgxpool.Pool
	namespace string
	timeout   time.Duration
}

// NewPostgresDB connects using the DSN and ensures the table exists.
func NewPostgresDB(ctx context.Context, dsn, namespace string) (*PostgresDB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	if namespace == "" {
		return nil, errors.New("postgres namespace is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, createStateTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}

	return &PostgresDB{pool: pool, namespace: namespace, timeout: DefaultPostgresTimeout}, nil
}

func (p *PostgresDB) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.timeout)
}

func (p *PostgresDB) Get(key []byte) ([]byte, error) {
	ctx, cancel := p.ctx()
	defer cancel()

	var value []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM kv_state WHERE namespace = $1 AND key = $2`, p.namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (p *PostgresDB) Put(key []byte, value []byte) error {
	ctx, cancel := p.ctx()
	defer cancel()
	_, err := p.pool.Exec(ctx, upsertSQL, p.namespace, key, value)
	return err
}

func (p *PostgresDB) Delete(key []byte) error {
	ctx, cancel := p.ctx()
	defer cancel()
	_, err := p.pool.Exec(ctx, deleteSQL, p.namespace, key)
	return err
}

func (p *PostgresDB) NewBatch() Batch {
	return &pgBatch{db: p}
}

func (p *PostgresDB) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

const (
	upsertSQL = `
INSERT INTO kv_state (namespace, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE
SET value = EXCLUDED.value,
    updated_at = EXCLUDED.updated_at
`
	deleteSQL = `DELETE FROM kv_state WHERE namespace = $1 AND key = $2`
)

type pgBatch struct {
	db    *PostgresDB
	batch pgx.Batch
}

func (b *pgBatch) Put(key []byte, value []byte) {
	b.batch.Queue(upsertSQL, b.db.namespace, append([]byte(nil), key...), append([]byte(nil), value...))
}

func (b *pgBatch) Delete(key []byte) {
	b.batch.Queue(deleteSQL, b.db.namespace, append([]byte(nil), key...))
}

func (b *pgBatch) Len() int {
	return b.batch.Len()
}

// Write applies the queued statements in one transaction
func (b *pgBatch) Write() error {
	if b.batch.Len() == 0 {
		return nil
	}
	ctx, cancel := b.db.ctx()
	defer cancel()

	tx, err := b.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin state batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, &b.batch).Close(); err != nil {
		return fmt.Errorf("failed to apply state batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit state batch: %w", err)
	}
	b.batch = pgx.Batch{}
	return nil
}
