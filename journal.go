package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var gooseMu sync.Mutex

// JournalEntry is the last known position of one checkout attempt.
type JournalEntry struct {
	AttemptID string
	Account   string
	Flow      string
	TransID   string
	CartID    string
	State     CheckoutState
	Step      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Journal records checkout transitions in SQLite. A nil *Journal is valid and
// records nothing.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens path and applies the embedded migrations. An empty path
// disables the journal.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

func migrate(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Begin(ctx context.Context, attemptID, account, flow string) error {
	if j == nil {
		return nil
	}
	now := time.Now().UTC()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO attempts (attempt_id, account, flow, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		attemptID, account, flow, StateIdle.String(), now, now)
	if err != nil {
		return fmt.Errorf("journal begin %s: %w", attemptID, err)
	}
	return nil
}

// Record stores the latest state of an attempt. Empty transID or cartID keep
// the stored values.
func (j *Journal) Record(ctx context.Context, attemptID string, state CheckoutState, step, transID, cartID string) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE attempts SET
		   state = ?,
		   step = ?,
		   trans_id = CASE WHEN ? = '' THEN trans_id ELSE ? END,
		   cart_id = CASE WHEN ? = '' THEN cart_id ELSE ? END,
		   updated_at = ?
		 WHERE attempt_id = ?`,
		state.String(), step, transID, transID, cartID, cartID, time.Now().UTC(), attemptID)
	if err != nil {
		return fmt.Errorf("journal record %s: %w", attemptID, err)
	}
	return nil
}

// MarkCancelled closes every attempt of account that carries transID.
func (j *Journal) MarkCancelled(ctx context.Context, account, transID string) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE attempts SET state = ?, step = ?, updated_at = ?
		 WHERE account = ? AND trans_id = ?`,
		StateCancelled.String(), stepCancel, time.Now().UTC(), account, transID)
	if err != nil {
		return fmt.Errorf("journal cancel %s: %w", transID, err)
	}
	return nil
}

// Pending lists attempts of account that obtained a transaction id but never
// completed or were cancelled, newest first.
func (j *Journal) Pending(ctx context.Context, account string) ([]JournalEntry, error) {
	if j == nil {
		return nil, errors.New("journal disabled")
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT attempt_id, account, flow, trans_id, cart_id, state, step, created_at, updated_at
		 FROM attempts
		 WHERE account = ? AND trans_id <> '' AND state NOT IN (?, ?)
		 ORDER BY updated_at DESC`,
		account, StateComplete.String(), StateCancelled.String())
	if err != nil {
		return nil, fmt.Errorf("journal pending: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var state string
		if err := rows.Scan(&e.AttemptID, &e.Account, &e.Flow, &e.TransID, &e.CartID, &state, &e.Step, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.State = parseCheckoutState(state)
		out = append(out, e)
	}
	return out, rows.Err()
}
