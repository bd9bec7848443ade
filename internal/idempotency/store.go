package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ismaiel54/table-order-gateway/internal/msg"
	_ "modernc.org/sqlite"
)

// Store records processed commands and the outbox of events to publish
type Store struct {
	db *sql.DB
}

// ProcessResult is the outcome of processing one command
type ProcessResult struct {
	Duplicate   bool
	Status      string
	Reason      string
	ClientID    int64
	OutboxEvent *OutboxEvent
}

// OutboxEvent represents an event waiting to be published
type OutboxEvent struct {
	ID                  int64
	EventID             string
	Topic               string
	Key                 string
	PayloadJSON         string
	CreatedUnixMillis   int64
	PublishedUnixMillis sql.NullInt64
}

// Executor runs a command against the engine and describes the outcome. An
// error means the command did not run and may be retried.
type Executor func(ctx context.Context, cmd msg.CommandMsg) (msg.OrderEventMsg, error)

const statusPending = "PENDING"

// Open creates or opens the idempotency store
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the necessary tables
func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS processed_commands (
			command_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			first_seen_unix_millis INTEGER NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			client_id INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			key TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL,
			published_unix_millis INTEGER NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
			ON outbox_events(published_unix_millis)
			WHERE published_unix_millis IS NULL`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// ProcessCommand runs exec at most once per command id. The command is
// claimed before exec runs, so a crash between the claim and the outcome
// leaves it PENDING and it is never executed again. A failed exec releases
// the claim.
func (s *Store) ProcessCommand(ctx context.Context, cmd msg.CommandMsg, exec Executor) (ProcessResult, error) {
	claimed, existing, err := s.claim(ctx, cmd)
	if err != nil {
		return ProcessResult{}, err
	}
	if !claimed {
		return existing, nil
	}

	ev, err := exec(ctx, cmd)
	if err != nil {
		if _, derr := s.db.ExecContext(context.WithoutCancel(ctx),
			"DELETE FROM processed_commands WHERE command_id = ? AND status = ?", cmd.CommandID, statusPending,
		); derr != nil {
			return ProcessResult{}, fmt.Errorf("failed to release command %s: %w", cmd.CommandID, derr)
		}
		return ProcessResult{}, fmt.Errorf("command %s not executed: %w", cmd.CommandID, err)
	}
	now := time.Now().UnixMilli()
	ev.EventID = "cmd-" + cmd.CommandID
	ev.CommandID = cmd.CommandID
	if ev.TsUnixMillis == 0 {
		ev.TsUnixMillis = now
	}
	status := msg.StatusAccepted
	if ev.State == msg.StatusRejected {
		status = msg.StatusRejected
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("failed to marshal order event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE processed_commands SET status = ?, reason = ?, client_id = ? WHERE command_id = ?`,
		status, ev.Reason, ev.ClientID, cmd.CommandID,
	); err != nil {
		return ProcessResult{}, fmt.Errorf("failed to record command outcome: %w", err)
	}

	out := &OutboxEvent{
		EventID:           ev.EventID,
		Topic:             msg.TopicOrders,
		Key:               cmd.Account,
		PayloadJSON:       string(payload),
		CreatedUnixMillis: now,
	}
	if err := insertOutbox(ctx, tx, out); err != nil {
		return ProcessResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ProcessResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return ProcessResult{
		Status:      status,
		Reason:      ev.Reason,
		ClientID:    ev.ClientID,
		OutboxEvent: out,
	}, nil
}

// claim inserts the command as PENDING or returns the earlier outcome
func (s *Store) claim(ctx context.Context, cmd msg.CommandMsg) (bool, ProcessResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, ProcessResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev := ProcessResult{Duplicate: true}
	err = tx.QueryRowContext(ctx,
		"SELECT status, reason, client_id FROM processed_commands WHERE command_id = ?",
		cmd.CommandID,
	).Scan(&prev.Status, &prev.Reason, &prev.ClientID)
	if err == nil {
		return false, prev, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, ProcessResult{}, fmt.Errorf("failed to check existing command: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO processed_commands (command_id, kind, first_seen_unix_millis, status, reason)
		 VALUES (?, ?, ?, ?, '')`,
		cmd.CommandID, cmd.Kind, time.Now().UnixMilli(), statusPending,
	); err != nil {
		return false, ProcessResult{}, fmt.Errorf("failed to insert processed command: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, ProcessResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, ProcessResult{}, nil
}

// EnqueueEvent adds an event to the outbox. Enqueueing an event id twice is
// a no-op and reports false.
func (s *Store) EnqueueEvent(ctx context.Context, eventID, topic, key string, payload any) (bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal event %s: %w", eventID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO outbox_events (event_id, topic, key, payload_json, created_unix_millis, published_unix_millis)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		eventID, topic, key, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert outbox event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return n == 1, nil
}

func insertOutbox(ctx context.Context, tx *sql.Tx, e *OutboxEvent) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_events (event_id, topic, key, payload_json, created_unix_millis, published_unix_millis)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		e.EventID, e.Topic, e.Key, e.PayloadJSON, e.CreatedUnixMillis,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// ListUnpublished returns unpublished outbox events in insertion order
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, topic, key, payload_json, created_unix_millis, published_unix_millis
		 FROM outbox_events
		 WHERE published_unix_millis IS NULL
		 ORDER BY id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(
			&e.ID, &e.EventID, &e.Topic, &e.Key,
			&e.PayloadJSON, &e.CreatedUnixMillis, &e.PublishedUnixMillis,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// MarkPublished marks an event as published
func (s *Store) MarkPublished(ctx context.Context, eventID string, nowMillis int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_events SET published_unix_millis = ? WHERE event_id = ?",
		nowMillis, eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
