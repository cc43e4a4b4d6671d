// Package localdb is the terminal's on-disk state: the write outbox and small
// key/value slots such as the guest session.
package localdb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - initial schema
// 1 - at most one queued create per client ref
const currentSchemaVersion = 1

type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite file at path, applying pragmas and
// migrations. Safe to call on an existing file.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// SQL returns the underlying handle for packages that own their own tables.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Get returns the value stored under key; ok is false when the slot is empty.
func (d *DB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := d.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return v, true, nil
}

func (d *DB) Put(ctx context.Context, key string, value []byte) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 keeps a double-tapped submit from queueing the same order twice.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_create_ref
		ON outbox(client_ref) WHERE kind = 'create'`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
