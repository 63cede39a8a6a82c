package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"listingwatch/models"
)

// PostgresKV persists keys in a single key/value table.
type PostgresKV struct {
	db *sql.DB
}

// NewPostgresKV opens a connection to PostgreSQL, runs the schema migration,
// and returns a ready-to-use PostgresKV.
func NewPostgresKV(dsn string) (*PostgresKV, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return initPostgresKV(db, 10, 2*time.Second)
}

// initPostgresKV waits for the database and migrates it. db is closed on
// failure.
func initPostgresKV(db *sql.DB, attempts int, delay time.Duration) (*PostgresKV, error) {
	var err error
	for i := 0; i < attempts; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	kv := NewPostgresKVFromDB(db)
	if err := kv.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return kv, nil
}

// NewPostgresKVFromDB wraps an already opened database without migrating.
func NewPostgresKVFromDB(db *sql.DB) *PostgresKV {
	return &PostgresKV{db: db}
}

func (p *PostgresKV) migrate() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_store (
			key        TEXT        PRIMARY KEY,
			value      BYTEA       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_kv_store_key_prefix ON kv_store (key text_pattern_ops);
	`)
	return err
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %q: %w", key, err)
	}
	return value, nil
}

func (p *PostgresKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("postgres: put %q: %w", key, err)
	}
	return nil
}

func (p *PostgresKV) PutNew(ctx context.Context, key string, value []byte) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO NOTHING
	`, key, value)
	if err != nil {
		return fmt.Errorf("postgres: put new %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: put new %q: %w", key, err)
	}
	if n == 0 {
		return models.ErrKeyExists
	}
	return nil
}

func (p *PostgresKV) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key FROM kv_store WHERE key LIKE $1 ESCAPE '\' ORDER BY key`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("postgres: list %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres: scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (p *PostgresKV) Close() error {
	return p.db.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
