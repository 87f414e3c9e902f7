package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/depthwatch/depthwatch/internal/models"
)

//go:embed fixtures/*.json
var fixtureFS embed.FS

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS coins (
		symbol TEXT PRIMARY KEY,
		name TEXT,
		price_usd DOUBLE PRECISION,
		last_price_updated TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS exchanges (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS markets (
		first_coin_id TEXT NOT NULL REFERENCES coins(symbol),
		second_coin_id TEXT NOT NULL REFERENCES coins(symbol),
		PRIMARY KEY (first_coin_id, second_coin_id)
	)`,
	`CREATE TABLE IF NOT EXISTS exchange_markets (
		first_coin_id TEXT NOT NULL,
		second_coin_id TEXT NOT NULL,
		exchange_id BIGINT NOT NULL REFERENCES exchanges(id),
		quoted_volume DOUBLE PRECISION NOT NULL,
		quoted_volume_id TEXT NOT NULL REFERENCES coins(symbol),
		quoted_vol_timestamp TIMESTAMPTZ,
		volume_usd DOUBLE PRECISION,
		vol_usd_timestamp TIMESTAMPTZ,
		PRIMARY KEY (first_coin_id, second_coin_id, exchange_id),
		FOREIGN KEY (first_coin_id, second_coin_id) REFERENCES markets(first_coin_id, second_coin_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		exchange_id BIGINT NOT NULL REFERENCES exchanges(id),
		exchange_order_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ,
		filled_at TIMESTAMPTZ,
		expiry TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		buy_sym_id TEXT NOT NULL REFERENCES coins(symbol),
		sell_sym_id TEXT NOT NULL REFERENCES coins(symbol),
		user_id TEXT,
		side TEXT,
		price DOUBLE PRECISION NOT NULL,
		last_updated TIMESTAMPTZ,
		order_type TEXT,
		gas_fee DOUBLE PRECISION,
		PRIMARY KEY (exchange_id, exchange_order_id)
	)`,
	`CREATE INDEX IF NOT EXISTS orders_timestamp_idx ON orders (timestamp)`,
	`CREATE INDEX IF NOT EXISTS orders_cancelled_at_idx ON orders (cancelled_at)`,
	`CREATE TABLE IF NOT EXISTS order_sizes (
		id BIGSERIAL PRIMARY KEY,
		exchange_id BIGINT NOT NULL,
		exchange_order_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		FOREIGN KEY (exchange_id, exchange_order_id) REFERENCES orders(exchange_id, exchange_order_id)
	)`,
	`CREATE INDEX IF NOT EXISTS order_sizes_order_idx ON order_sizes (exchange_id, exchange_order_id)`,
	`CREATE TABLE IF NOT EXISTS market_order_funds (
		id BIGSERIAL PRIMARY KEY,
		exchange_id BIGINT NOT NULL,
		exchange_order_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		funds DOUBLE PRECISION NOT NULL,
		FOREIGN KEY (exchange_id, exchange_order_id) REFERENCES orders(exchange_id, exchange_order_id)
	)`,
	`CREATE INDEX IF NOT EXISTS market_order_funds_order_idx ON market_order_funds (exchange_id, exchange_order_id)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		trade_type TEXT,
		buy_sym_id TEXT NOT NULL REFERENCES coins(symbol),
		sell_sym_id TEXT NOT NULL REFERENCES coins(symbol),
		exchange_id BIGINT NOT NULL REFERENCES exchanges(id),
		maker TEXT,
		taker TEXT,
		price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		total DOUBLE PRECISION,
		buyer_fee DOUBLE PRECISION,
		seller_fee DOUBLE PRECISION,
		gas_fee DOUBLE PRECISION,
		exchange_order_id TEXT,
		maker_order_id TEXT,
		taker_order_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS trades_timestamp_idx ON trades (timestamp)`,
	`CREATE TABLE IF NOT EXISTS aggregate_orders (
		id BIGSERIAL PRIMARY KEY,
		last_update_id BIGINT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		buy_sym_id TEXT NOT NULL REFERENCES coins(symbol),
		sell_sym_id TEXT NOT NULL REFERENCES coins(symbol),
		exchange_id BIGINT NOT NULL REFERENCES exchanges(id),
		order_type TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS aggregate_orders_market_idx
		ON aggregate_orders (exchange_id, buy_sym_id, sell_sym_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS order_book_snapshots (
		id BIGSERIAL PRIMARY KEY,
		exchange_id BIGINT NOT NULL REFERENCES exchanges(id),
		buy_sym_id TEXT NOT NULL REFERENCES coins(symbol),
		sell_sym_id TEXT NOT NULL REFERENCES coins(symbol),
		timestamp TIMESTAMPTZ NOT NULL,
		spread DOUBLE PRECISION NOT NULL,
		bids_volume DOUBLE PRECISION NOT NULL,
		asks_volume DOUBLE PRECISION NOT NULL,
		bids_count BIGINT NOT NULL,
		asks_count BIGINT NOT NULL,
		bids_price_stddev DOUBLE PRECISION NOT NULL,
		asks_price_stddev DOUBLE PRECISION NOT NULL,
		bids_price_mean DOUBLE PRECISION NOT NULL,
		asks_price_mean DOUBLE PRECISION NOT NULL,
		min_ask_price DOUBLE PRECISION NOT NULL,
		min_ask_size DOUBLE PRECISION NOT NULL,
		max_bid_price DOUBLE PRECISION NOT NULL,
		max_bid_size DOUBLE PRECISION NOT NULL,
		bid_price_median DOUBLE PRECISION NOT NULL,
		ask_price_median DOUBLE PRECISION NOT NULL,
		bid_price_upper_quartile DOUBLE PRECISION NOT NULL,
		ask_price_lower_quartile DOUBLE PRECISION NOT NULL,
		bids_volume_upper_quartile DOUBLE PRECISION NOT NULL,
		asks_volume_lower_quartile DOUBLE PRECISION NOT NULL,
		bids_count_upper_quartile BIGINT NOT NULL,
		asks_count_lower_quartile BIGINT NOT NULL,
		bids_price_stddev_upper_quartile DOUBLE PRECISION NOT NULL,
		asks_price_stddev_lower_quartile DOUBLE PRECISION NOT NULL,
		bids_price_mean_upper_quartile DOUBLE PRECISION NOT NULL,
		asks_price_mean_lower_quartile DOUBLE PRECISION NOT NULL,
		UNIQUE (exchange_id, buy_sym_id, sell_sym_id, timestamp)
	)`,
}

// Migrate creates the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}

type coinFixture struct {
	Symbol string  `json:"symbol"`
	Name   *string `json:"name"`
}

type exchangeFixture struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// LoadFixtures inserts the bundled coins and exchanges, skipping rows that
// already exist.
func (s *Store) LoadFixtures(ctx context.Context) error {
	coins, err := loadFixture[coinFixture]("fixtures/coins.json")
	if err != nil {
		return err
	}
	exchanges, err := loadFixture[exchangeFixture]("fixtures/exchanges.json")
	if err != nil {
		return err
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range coins {
		coin := models.Coin{Symbol: models.NormalizeSymbol(c.Symbol), Name: c.Name}
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT INTO coins (symbol, name) VALUES ($1, $2) ON CONFLICT (symbol) DO NOTHING`,
			coin.Symbol, coin.Name); err != nil {
			return fmt.Errorf("load coin fixture %s: %w", coin.Symbol, err)
		}
	}
	for _, e := range exchanges {
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT INTO exchanges (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
			e.ID, e.Name); err != nil {
			return fmt.Errorf("load exchange fixture %s: %w", e.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Info().Int("coins", len(coins)).Int("exchanges", len(exchanges)).Msg("fixtures loaded")
	return nil
}

func loadFixture[T any](name string) ([]T, error) {
	raw, err := fixtureFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", name, err)
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", name, err)
	}
	return out, nil
}
