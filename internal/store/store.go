// Package store is the Postgres backing for depthwatch entities and events.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const defaultTimeout = 10 * time.Second

// Store wraps the database handle. It is shared but serialized: the
// orchestrator's flush task and the snapshot generator never write
// concurrently with each other.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to the database at dbURL and verifies the connection.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, timeout: defaultTimeout}, nil
}

// NewWithDB wraps an existing handle. Used by tests with sqlmock.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db, timeout: defaultTimeout}
}

// Close releases the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx is a single store transaction. Actions execute against it in buffer
// order; nothing is visible until Commit.
type Tx struct {
	tx *sqlx.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
