package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/depthwatch/depthwatch/internal/models"
)

// MarketWindow identifies a (venue, market) with aggregate-order history and
// the timestamp of its earliest event, which is where the snapshot walk
// starts.
type MarketWindow struct {
	Exchange   string    `db:"exchange"`
	ExchangeID int64     `db:"exchange_id"`
	BuySym     string    `db:"buy_sym_id"`
	SellSym    string    `db:"sell_sym_id"`
	Start      time.Time `db:"start_time"`
}

// BookLevel is one reconstructed price level of a point-in-time book.
type BookLevel struct {
	OrderType string  `db:"order_type"`
	Price     float64 `db:"price"`
	Size      float64 `db:"size"`
}

// MarketWindows lists every (venue, market) pair with aggregate-order events
// for the named venues.
func (s *Store) MarketWindows(ctx context.Context, venues []string) ([]MarketWindow, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var windows []MarketWindow
	err := s.db.SelectContext(ctx, &windows, `
		SELECT e.name AS exchange,
		       a.exchange_id,
		       a.buy_sym_id,
		       a.sell_sym_id,
		       MIN(a.timestamp) AS start_time
		FROM aggregate_orders a
		INNER JOIN exchanges e ON a.exchange_id = e.id
		WHERE e.name = ANY($1)
		GROUP BY e.name, a.exchange_id, a.buy_sym_id, a.sell_sym_id
		ORDER BY e.name, a.buy_sym_id, a.sell_sym_id`,
		pq.Array(venues))
	if err != nil {
		return nil, fmt.Errorf("query market windows: %w", err)
	}
	return windows, nil
}

// BookAt reconstructs the order book of a (venue, market) at time t: per
// (order_type, price) the row with the greatest last_update_id among rows
// with timestamp <= t, dropping removed (size = 0) levels.
func (s *Store) BookAt(ctx context.Context, w MarketWindow, t time.Time) ([]BookLevel, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var levels []BookLevel
	err := s.db.SelectContext(ctx, &levels, `
		SELECT a.order_type, a.price, a.size
		FROM aggregate_orders a
		INNER JOIN (
			SELECT order_type, price, MAX(last_update_id) AS max_update_id
			FROM aggregate_orders
			WHERE exchange_id = $1 AND buy_sym_id = $2 AND sell_sym_id = $3 AND timestamp <= $4
			GROUP BY order_type, price
		) latest
			ON a.order_type = latest.order_type
			AND a.price = latest.price
			AND a.last_update_id = latest.max_update_id
		WHERE a.exchange_id = $1 AND a.buy_sym_id = $2 AND a.sell_sym_id = $3
			AND a.timestamp <= $4 AND a.size > 0
		ORDER BY a.order_type, a.price`,
		w.ExchangeID, w.BuySym, w.SellSym, t)
	if err != nil {
		return nil, fmt.Errorf("query book at %s for %s-%s@%s: %w", t, w.BuySym, w.SellSym, w.Exchange, err)
	}
	return levels, nil
}

// Exchanges lists all known venues.
func (s *Store) Exchanges(ctx context.Context) ([]models.Exchange, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var exchanges []models.Exchange
	if err := s.db.SelectContext(ctx, &exchanges, `SELECT id, name FROM exchanges ORDER BY id`); err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	return exchanges, nil
}

// ExchangeByName resolves a venue record by its unique name.
func (s *Store) ExchangeByName(ctx context.Context, name string) (models.Exchange, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var exchange models.Exchange
	if err := s.db.GetContext(ctx, &exchange, `SELECT id, name FROM exchanges WHERE name = $1`, name); err != nil {
		return models.Exchange{}, fmt.Errorf("query exchange %q: %w", name, err)
	}
	return exchange, nil
}

// Coins lists all known coins.
func (s *Store) Coins(ctx context.Context) ([]models.Coin, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var coins []models.Coin
	if err := s.db.SelectContext(ctx, &coins,
		`SELECT symbol, name, price_usd, last_price_updated FROM coins ORDER BY symbol`); err != nil {
		return nil, fmt.Errorf("query coins: %w", err)
	}
	return coins, nil
}

// ExchangeMarkets lists the per-venue markets of one exchange.
func (s *Store) ExchangeMarkets(ctx context.Context, exchangeID int64) ([]models.ExchangeMarket, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var markets []models.ExchangeMarket
	if err := s.db.SelectContext(ctx, &markets, `
		SELECT first_coin_id, second_coin_id, exchange_id, quoted_volume, quoted_volume_id,
		       quoted_vol_timestamp, volume_usd, vol_usd_timestamp
		FROM exchange_markets
		WHERE exchange_id = $1
		ORDER BY first_coin_id, second_coin_id`, exchangeID); err != nil {
		return nil, fmt.Errorf("query exchange markets for %d: %w", exchangeID, err)
	}
	return markets, nil
}
