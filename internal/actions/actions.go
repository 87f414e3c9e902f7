// Package actions is the persistence algebra emitted by exchange listeners.
// An action is an intent (insert, update, cancel) decoupled from when it is
// committed; parsers never touch the store directly.
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/depthwatch/depthwatch/internal/models"
	"github.com/depthwatch/depthwatch/internal/store"
)

// Action applies one persistence intent within the caller's transaction.
// Actions carry no I/O of their own.
type Action interface {
	Execute(ctx context.Context, tx *store.Tx) error
}

// Insert adds entities to the pending transaction. Duplicates by primary key
// merge, last write wins within a batch.
type Insert struct {
	Entities []models.Entity
}

// NewInsert builds an Insert over the given entities.
func NewInsert(entities ...models.Entity) *Insert {
	return &Insert{Entities: entities}
}

func (a *Insert) Execute(ctx context.Context, tx *store.Tx) error {
	for _, e := range a.Entities {
		if err := tx.Upsert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Update mutates fields of the addressed order. A missing row is a no-op.
type Update struct {
	Ref    models.OrderRef
	Fields map[string]any
}

func (a *Update) Execute(ctx context.Context, tx *store.Tx) error {
	return tx.UpdateOrder(ctx, a.Ref, a.Fields)
}

// Cancel records the cancellation timestamp on the addressed order.
type Cancel struct {
	Ref         models.OrderRef
	CancelledAt time.Time
}

func (a *Cancel) Execute(ctx context.Context, tx *store.Tx) error {
	return tx.CancelOrder(ctx, a.Ref, a.CancelledAt)
}

// Commit executes the buffered actions in order inside a single transaction.
// On failure the batch is retried once with per-action isolation: each action
// commits in its own transaction, offending actions are skipped and reported.
// The returned error is nil if the batch, or its retry, persisted.
func Commit(ctx context.Context, st *store.Store, acts []Action) error {
	if len(acts) == 0 {
		return nil
	}
	if err := commitOnce(ctx, st, acts); err == nil {
		return nil
	}
	return commitIsolated(ctx, st, acts)
}

func commitOnce(ctx context.Context, st *store.Store, acts []Action) error {
	tx, err := st.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, a := range acts {
		if err := a.Execute(ctx, tx); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// commitIsolated persists each action on its own so one malformed record does
// not sink the rest of the batch.
func commitIsolated(ctx context.Context, st *store.Store, acts []Action) error {
	var skipped int
	var lastErr error
	for _, a := range acts {
		tx, err := st.Begin(ctx)
		if err != nil {
			return err
		}
		if err := a.Execute(ctx, tx); err != nil {
			_ = tx.Rollback()
			skipped++
			lastErr = err
			continue
		}
		if err := tx.Commit(); err != nil {
			skipped++
			lastErr = err
		}
	}
	if skipped > 0 {
		return &PartialCommitError{Skipped: skipped, Total: len(acts), Err: lastErr}
	}
	return nil
}

// PartialCommitError reports a batch that committed with some actions skipped.
type PartialCommitError struct {
	Skipped int
	Total   int
	Err     error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("batch committed with %d/%d actions skipped: %v", e.Skipped, e.Total, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }
