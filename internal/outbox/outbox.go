// Package outbox is the durable FIFO of order writes that could not reach the
// server yet. Entries survive restarts and are removed only after the server
// accepted them, or moved to the dead-letter table after repeated rejection.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/localdb"
	"github.com/ariefcatur/go-restaurant-orders/internal/telemetry"
	"github.com/hashicorp/go-metrics"
	"github.com/mattn/go-sqlite3"
)

type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
)

func (k Kind) valid() bool { return k == KindCreate || k == KindUpdate }

var (
	ErrInvalidEntry = errors.New("outbox: invalid entry")
	ErrNotFound     = errors.New("outbox: entry not found")
)

// Entry is one pending write. Payload is the JSON body the server expects for
// Kind; TempID is the client-only id of the synthetic order shown meanwhile.
type Entry struct {
	Seq       int64
	Kind      Kind
	OrderID   int64
	TempID    int64
	ClientRef string
	Payload   []byte
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// DeadEntry is an entry the server kept rejecting.
type DeadEntry struct {
	Entry
	Reason string
	DeadAt time.Time
}

type Queue struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *localdb.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db.SQL(), logger: logger}
}

// Enqueue appends e and returns it with Seq assigned. Queueing a create whose
// ClientRef is already queued returns the existing entry.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (Entry, error) {
	if !e.Kind.valid() || e.ClientRef == "" || !json.Valid(e.Payload) {
		return Entry{}, ErrInvalidEntry
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO outbox (kind, order_id, temp_id, client_ref, payload, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?)`,
		string(e.Kind), e.OrderID, e.TempID, e.ClientRef, e.Payload, e.CreatedAt.UnixMilli())
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return q.byClientRef(ctx, e.ClientRef)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("enqueue %s: %w", e.Kind, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Entry{}, err
	}
	e.Seq = seq
	e.Attempts = 0
	e.LastError = ""
	q.gauge(ctx)
	return e, nil
}

// List returns every pending entry in ascending Seq. Rows that can no longer
// be decoded are deleted and skipped.
func (q *Queue) List(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT seq, kind, order_id, temp_id, client_ref, payload, attempts, last_error, created_at
		FROM outbox ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var (
		out     []Entry
		corrupt []int64
	)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if !e.Kind.valid() || !json.Valid(e.Payload) {
			corrupt = append(corrupt, e.Seq)
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, seq := range corrupt {
		q.logger.Warn("dropping corrupted outbox entry", telemetry.LabelSeq.L(seq))
		metrics.IncrCounter(telemetry.MetricOutboxCorruptCount, 1)
		if err := q.Delete(ctx, seq); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Delete removes an entry. Call only after the server accepted it.
func (q *Queue) Delete(ctx context.Context, seq int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("delete outbox %d: %w", seq, err)
	}
	q.gauge(ctx)
	return nil
}

// MarkFailed records a rejection and returns the new attempt count.
func (q *Queue) MarkFailed(ctx context.Context, seq int64, cause error) (int, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	var attempts int
	err := q.db.QueryRowContext(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = ?
		WHERE seq = ? RETURNING attempts`, msg, seq).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("mark outbox %d: %w", seq, err)
	}
	return attempts, nil
}

// DeadLetter moves an entry to the dead-letter table.
func (q *Queue) DeadLetter(ctx context.Context, seq int64, reason string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_dead (seq, kind, order_id, temp_id, client_ref, payload, attempts, reason, created_at, dead_at)
		SELECT seq, kind, order_id, temp_id, client_ref, payload, attempts, ?, created_at, ?
		FROM outbox WHERE seq = ?`, reason, time.Now().UnixMilli(), seq)
	if err != nil {
		return fmt.Errorf("dead-letter %d: %w", seq, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("dead-letter %d: %w", seq, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	metrics.IncrCounter(telemetry.MetricOutboxDeadCount, 1)
	q.gauge(ctx)
	return nil
}

func (q *Queue) ListDead(ctx context.Context) ([]DeadEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT seq, kind, order_id, temp_id, client_ref, payload, attempts, reason, created_at, dead_at
		FROM outbox_dead ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list dead: %w", err)
	}
	defer rows.Close()

	var out []DeadEntry
	for rows.Next() {
		var (
			d             DeadEntry
			kind          string
			created, dead int64
		)
		if err := rows.Scan(&d.Seq, &kind, &d.OrderID, &d.TempID, &d.ClientRef, &d.Payload,
			&d.Attempts, &d.Reason, &created, &dead); err != nil {
			return nil, err
		}
		d.Kind = Kind(kind)
		d.CreatedAt = time.UnixMilli(created)
		d.DeadAt = time.UnixMilli(dead)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

func (q *Queue) byClientRef(ctx context.Context, ref string) (Entry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT seq, kind, order_id, temp_id, client_ref, payload, attempts, last_error, created_at
		FROM outbox WHERE client_ref = ? AND kind = 'create'`, ref)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (q *Queue) gauge(ctx context.Context) {
	if n, err := q.Len(ctx); err == nil {
		metrics.SetGauge(telemetry.MetricOutboxDepth, float32(n))
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e       Entry
		kind    string
		created int64
	)
	if err := s.Scan(&e.Seq, &kind, &e.OrderID, &e.TempID, &e.ClientRef, &e.Payload,
		&e.Attempts, &e.LastError, &created); err != nil {
		return Entry{}, err
	}
	e.Kind = Kind(kind)
	e.CreatedAt = time.UnixMilli(created)
	return e, nil
}
