package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthwatch/depthwatch/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func beginTx(t *testing.T, st *Store, mock sqlmock.Sqlmock) *Tx {
	t.Helper()
	mock.ExpectBegin()
	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func TestUpsertCoinMergesOnConflict(t *testing.T) {
	st, mock := newMockStore(t)
	tx := beginTx(t, st, mock)

	price := 135.4
	now := time.Now().UTC()
	mock.ExpectExec(`INSERT INTO coins .+ ON CONFLICT \(symbol\) DO UPDATE SET`).
		WithArgs("ETH", nil, price, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := tx.Upsert(context.Background(), &models.Coin{Symbol: "ETH", PriceUSD: &price, LastPriceUpdated: &now})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMarketIgnoresDuplicates(t *testing.T) {
	st, mock := newMockStore(t)
	tx := beginTx(t, st, mock)

	mock.ExpectExec(`INSERT INTO markets .+ ON CONFLICT \(first_coin_id, second_coin_id\) DO NOTHING`).
		WithArgs("BTC", "LTC").
		WillReturnResult(sqlmock.NewResult(0, 1))

	market := models.NewMarket("LTC", "BTC")
	require.NoError(t, tx.Upsert(context.Background(), &market))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAggOrderIsAppendOnly(t *testing.T) {
	st, mock := newMockStore(t)
	tx := beginTx(t, st, mock)

	ts := time.Now().UTC()
	mock.ExpectExec(`INSERT INTO aggregate_orders`).
		WithArgs(int64(42), ts, "ETH", "BTC", int64(1), models.SideBid, 0.033, 1.5).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := tx.Upsert(context.Background(), &models.AggOrder{
		LastUpdateID: 42, Timestamp: ts, BuySym: "ETH", SellSym: "BTC",
		ExchangeID: 1, OrderType: models.SideBid, Price: 0.033, Size: 1.5,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSnapshotOverwritesOnRerun(t *testing.T) {
	st, mock := newMockStore(t)
	tx := beginTx(t, st, mock)

	mock.ExpectExec(`INSERT INTO order_book_snapshots .+ ON CONFLICT \(exchange_id, buy_sym_id, sell_sym_id, timestamp\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := tx.Upsert(context.Background(), &models.OrderBookSnapshot{
		ExchangeID: 1, BuySym: "ETH", SellSym: "BTC", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderBuildsDeterministicSet(t *testing.T) {
	st, mock := newMockStore(t)
	tx := beginTx(t, st, mock)

	// Field names are sorted, so filled_at binds before price.
	mock.ExpectExec(`UPDATE orders SET filled_at = \$1, price = \$2 WHERE exchange_id = \$3 AND exchange_order_id = \$4`).
		WithArgs(sqlmock.AnyArg(), 0.5, int64(1), "abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := tx.UpdateOrder(context.Background(), models.OrderRef{ExchangeID: 1, ExchangeOrderID: "abc"}, map[string]any{
		"price":     0.5,
		"filled_at": time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderRejectsUnknownField(t *testing.T) {
	st, mock := newMockStore(t)
	tx := beginTx(t, st, mock)

	err := tx.UpdateOrder(context.Background(), models.OrderRef{ExchangeID: 1, ExchangeOrderID: "abc"}, map[string]any{
		"exchange_id": int64(9),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestUpdateOrderNoFieldsIsNoop(t *testing.T) {
	st, mock := newMockStore(t)
	tx := beginTx(t, st, mock)

	require.NoError(t, tx.UpdateOrder(context.Background(), models.OrderRef{ExchangeID: 1, ExchangeOrderID: "abc"}, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelOrderSetsTimestamp(t *testing.T) {
	st, mock := newMockStore(t)
	tx := beginTx(t, st, mock)

	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE orders SET cancelled_at = \$1 WHERE exchange_id = \$2 AND exchange_order_id = \$3`).
		WithArgs(at, int64(1), "abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tx.CancelOrder(context.Background(), models.OrderRef{ExchangeID: 1, ExchangeOrderID: "abc"}, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}
