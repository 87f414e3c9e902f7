package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthwatch/depthwatch/internal/models"
	"github.com/depthwatch/depthwatch/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestCommitExecutesBatchInOneTransaction(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO coins`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO markets`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	market := models.NewMarket("ETH", "BTC")
	err := Commit(context.Background(), st, []Action{
		NewInsert(&models.Coin{Symbol: "ETH"}),
		NewInsert(&market),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitEmptyBatchIsNoop(t *testing.T) {
	st, mock := newMockStore(t)
	require.NoError(t, Commit(context.Background(), st, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRetriesWithPerActionIsolation(t *testing.T) {
	st, mock := newMockStore(t)
	boom := errors.New("constraint violation")

	// First pass: the whole batch in one transaction, second action fails.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO coins`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO trades`).WillReturnError(boom)
	mock.ExpectRollback()

	// Retry: each action in its own transaction, the offender skipped.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO coins`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO trades`).WillReturnError(boom)
	mock.ExpectRollback()

	err := Commit(context.Background(), st, []Action{
		NewInsert(&models.Coin{Symbol: "ETH"}),
		NewInsert(&models.Trade{ID: "hitbtc-1", BuySym: "ETH", SellSym: "BTC", ExchangeID: 1}),
	})

	var partial *PartialCommitError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Skipped)
	assert.Equal(t, 2, partial.Total)
	assert.ErrorIs(t, partial, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitInsertStopsAtFirstFailure(t *testing.T) {
	st, mock := newMockStore(t)
	boom := errors.New("bad row")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO coins`).WillReturnError(boom)
	mock.ExpectRollback()

	// Isolated retry fails the same way.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO coins`).WillReturnError(boom)
	mock.ExpectRollback()

	err := Commit(context.Background(), st, []Action{NewInsert(&models.Coin{Symbol: "ETH"})})
	var partial *PartialCommitError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}
