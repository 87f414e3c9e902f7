package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/depthwatch/depthwatch/internal/models"
)

// Upsert writes one entity inside the transaction. A primary-key collision
// merges the new entity into the existing row: only fields present (non-nil)
// in the new entity overwrite. Event entities (AggOrder, OrderSize,
// MarketOrderFunds) are append-only plain inserts.
func (t *Tx) Upsert(ctx context.Context, e models.Entity) error {
	switch v := e.(type) {
	case *models.Coin:
		return t.upsertCoin(ctx, v)
	case models.Coin:
		return t.upsertCoin(ctx, &v)
	case *models.Exchange:
		return t.upsertExchange(ctx, v)
	case models.Exchange:
		return t.upsertExchange(ctx, &v)
	case *models.Market:
		return t.upsertMarket(ctx, v)
	case models.Market:
		return t.upsertMarket(ctx, &v)
	case *models.ExchangeMarket:
		return t.upsertExchangeMarket(ctx, v)
	case models.ExchangeMarket:
		return t.upsertExchangeMarket(ctx, &v)
	case *models.Order:
		return t.upsertOrder(ctx, v)
	case models.Order:
		return t.upsertOrder(ctx, &v)
	case *models.OrderSize:
		return t.insertOrderSize(ctx, v)
	case models.OrderSize:
		return t.insertOrderSize(ctx, &v)
	case *models.MarketOrderFunds:
		return t.insertMarketOrderFunds(ctx, v)
	case models.MarketOrderFunds:
		return t.insertMarketOrderFunds(ctx, &v)
	case *models.Trade:
		return t.upsertTrade(ctx, v)
	case models.Trade:
		return t.upsertTrade(ctx, &v)
	case *models.AggOrder:
		return t.insertAggOrder(ctx, v)
	case models.AggOrder:
		return t.insertAggOrder(ctx, &v)
	case *models.OrderBookSnapshot:
		return t.upsertSnapshot(ctx, v)
	case models.OrderBookSnapshot:
		return t.upsertSnapshot(ctx, &v)
	default:
		return fmt.Errorf("unsupported entity type %T", e)
	}
}

func (t *Tx) upsertCoin(ctx context.Context, c *models.Coin) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO coins (symbol, name, price_usd, last_price_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE SET
			name = COALESCE(EXCLUDED.name, coins.name),
			price_usd = COALESCE(EXCLUDED.price_usd, coins.price_usd),
			last_price_updated = COALESCE(EXCLUDED.last_price_updated, coins.last_price_updated)`,
		c.Symbol, c.Name, c.PriceUSD, c.LastPriceUpdated)
	if err != nil {
		return fmt.Errorf("upsert coin %s: %w", c.Symbol, err)
	}
	return nil
}

func (t *Tx) upsertExchange(ctx context.Context, e *models.Exchange) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO exchanges (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		e.ID, e.Name)
	if err != nil {
		return fmt.Errorf("upsert exchange %s: %w", e.Name, err)
	}
	return nil
}

func (t *Tx) upsertMarket(ctx context.Context, m *models.Market) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO markets (first_coin_id, second_coin_id) VALUES ($1, $2)
		ON CONFLICT (first_coin_id, second_coin_id) DO NOTHING`,
		m.FirstCoin, m.SecondCoin)
	if err != nil {
		return fmt.Errorf("upsert market %s-%s: %w", m.FirstCoin, m.SecondCoin, err)
	}
	return nil
}

func (t *Tx) upsertExchangeMarket(ctx context.Context, em *models.ExchangeMarket) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO exchange_markets
			(first_coin_id, second_coin_id, exchange_id, quoted_volume, quoted_volume_id,
			 quoted_vol_timestamp, volume_usd, vol_usd_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (first_coin_id, second_coin_id, exchange_id) DO UPDATE SET
			quoted_volume = EXCLUDED.quoted_volume,
			quoted_volume_id = EXCLUDED.quoted_volume_id,
			quoted_vol_timestamp = COALESCE(EXCLUDED.quoted_vol_timestamp, exchange_markets.quoted_vol_timestamp),
			volume_usd = COALESCE(EXCLUDED.volume_usd, exchange_markets.volume_usd),
			vol_usd_timestamp = COALESCE(EXCLUDED.vol_usd_timestamp, exchange_markets.vol_usd_timestamp)`,
		em.FirstCoin, em.SecondCoin, em.ExchangeID, em.QuotedVolume, em.QuotedVolumeID,
		em.QuotedVolTimestamp, em.VolumeUSD, em.VolUSDTimestamp)
	if err != nil {
		return fmt.Errorf("upsert exchange market %s-%s@%d: %w", em.FirstCoin, em.SecondCoin, em.ExchangeID, err)
	}
	return nil
}

func (t *Tx) upsertOrder(ctx context.Context, o *models.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders
			(exchange_id, exchange_order_id, timestamp, filled_at, expiry, cancelled_at,
			 buy_sym_id, sell_sym_id, user_id, side, price, last_updated, order_type, gas_fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (exchange_id, exchange_order_id) DO UPDATE SET
			timestamp = COALESCE(EXCLUDED.timestamp, orders.timestamp),
			filled_at = COALESCE(EXCLUDED.filled_at, orders.filled_at),
			expiry = COALESCE(EXCLUDED.expiry, orders.expiry),
			cancelled_at = COALESCE(EXCLUDED.cancelled_at, orders.cancelled_at),
			buy_sym_id = EXCLUDED.buy_sym_id,
			sell_sym_id = EXCLUDED.sell_sym_id,
			user_id = COALESCE(EXCLUDED.user_id, orders.user_id),
			side = COALESCE(EXCLUDED.side, orders.side),
			price = EXCLUDED.price,
			last_updated = COALESCE(EXCLUDED.last_updated, orders.last_updated),
			order_type = COALESCE(EXCLUDED.order_type, orders.order_type),
			gas_fee = COALESCE(EXCLUDED.gas_fee, orders.gas_fee)`,
		o.ExchangeID, o.ExchangeOrderID, o.Timestamp, o.FilledAt, o.Expiry, o.CancelledAt,
		o.BuySym, o.SellSym, o.User, o.Side, o.Price, o.LastUpdated, o.OrderType, o.GasFee)
	if err != nil {
		return fmt.Errorf("upsert order %d/%s: %w", o.ExchangeID, o.ExchangeOrderID, err)
	}
	return nil
}

func (t *Tx) insertOrderSize(ctx context.Context, s *models.OrderSize) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_sizes (exchange_id, exchange_order_id, timestamp, size)
		VALUES ($1, $2, $3, $4)`,
		s.ExchangeID, s.ExchangeOrderID, s.Timestamp, s.Size)
	if err != nil {
		return fmt.Errorf("insert order size %d/%s: %w", s.ExchangeID, s.ExchangeOrderID, err)
	}
	return nil
}

func (t *Tx) insertMarketOrderFunds(ctx context.Context, f *models.MarketOrderFunds) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO market_order_funds (exchange_id, exchange_order_id, timestamp, funds)
		VALUES ($1, $2, $3, $4)`,
		f.ExchangeID, f.ExchangeOrderID, f.Timestamp, f.Funds)
	if err != nil {
		return fmt.Errorf("insert market order funds %d/%s: %w", f.ExchangeID, f.ExchangeOrderID, err)
	}
	return nil
}

func (t *Tx) upsertTrade(ctx context.Context, tr *models.Trade) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO trades
			(id, timestamp, trade_type, buy_sym_id, sell_sym_id, exchange_id, maker, taker,
			 price, size, total, buyer_fee, seller_fee, gas_fee,
			 exchange_order_id, maker_order_id, taker_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			timestamp = EXCLUDED.timestamp,
			trade_type = COALESCE(EXCLUDED.trade_type, trades.trade_type),
			maker = COALESCE(EXCLUDED.maker, trades.maker),
			taker = COALESCE(EXCLUDED.taker, trades.taker),
			price = EXCLUDED.price,
			size = EXCLUDED.size,
			total = COALESCE(EXCLUDED.total, trades.total),
			buyer_fee = COALESCE(EXCLUDED.buyer_fee, trades.buyer_fee),
			seller_fee = COALESCE(EXCLUDED.seller_fee, trades.seller_fee),
			gas_fee = COALESCE(EXCLUDED.gas_fee, trades.gas_fee),
			exchange_order_id = COALESCE(EXCLUDED.exchange_order_id, trades.exchange_order_id),
			maker_order_id = COALESCE(EXCLUDED.maker_order_id, trades.maker_order_id),
			taker_order_id = COALESCE(EXCLUDED.taker_order_id, trades.taker_order_id)`,
		tr.ID, tr.Timestamp, nullIfEmpty(tr.TradeType), tr.BuySym, tr.SellSym, tr.ExchangeID,
		tr.Maker, tr.Taker, tr.Price, tr.Size, tr.Total, tr.BuyerFee, tr.SellerFee, tr.GasFee,
		tr.ExchangeOrderID, tr.MakerOrderID, tr.TakerOrderID)
	if err != nil {
		return fmt.Errorf("upsert trade %s: %w", tr.ID, err)
	}
	return nil
}

func (t *Tx) insertAggOrder(ctx context.Context, a *models.AggOrder) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO aggregate_orders
			(last_update_id, timestamp, buy_sym_id, sell_sym_id, exchange_id, order_type, price, size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.LastUpdateID, a.Timestamp, a.BuySym, a.SellSym, a.ExchangeID, a.OrderType, a.Price, a.Size)
	if err != nil {
		return fmt.Errorf("insert aggregate order %s/%s-%s: %w", a.OrderType, a.BuySym, a.SellSym, err)
	}
	return nil
}

func (t *Tx) upsertSnapshot(ctx context.Context, s *models.OrderBookSnapshot) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_book_snapshots
			(exchange_id, buy_sym_id, sell_sym_id, timestamp,
			 spread, bids_volume, asks_volume, bids_count, asks_count,
			 bids_price_stddev, asks_price_stddev, bids_price_mean, asks_price_mean,
			 min_ask_price, min_ask_size, max_bid_price, max_bid_size,
			 bid_price_median, ask_price_median,
			 bid_price_upper_quartile, ask_price_lower_quartile,
			 bids_volume_upper_quartile, asks_volume_lower_quartile,
			 bids_count_upper_quartile, asks_count_lower_quartile,
			 bids_price_stddev_upper_quartile, asks_price_stddev_lower_quartile,
			 bids_price_mean_upper_quartile, asks_price_mean_lower_quartile)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)
		ON CONFLICT (exchange_id, buy_sym_id, sell_sym_id, timestamp) DO UPDATE SET
			spread = EXCLUDED.spread,
			bids_volume = EXCLUDED.bids_volume,
			asks_volume = EXCLUDED.asks_volume,
			bids_count = EXCLUDED.bids_count,
			asks_count = EXCLUDED.asks_count,
			bids_price_stddev = EXCLUDED.bids_price_stddev,
			asks_price_stddev = EXCLUDED.asks_price_stddev,
			bids_price_mean = EXCLUDED.bids_price_mean,
			asks_price_mean = EXCLUDED.asks_price_mean,
			min_ask_price = EXCLUDED.min_ask_price,
			min_ask_size = EXCLUDED.min_ask_size,
			max_bid_price = EXCLUDED.max_bid_price,
			max_bid_size = EXCLUDED.max_bid_size,
			bid_price_median = EXCLUDED.bid_price_median,
			ask_price_median = EXCLUDED.ask_price_median,
			bid_price_upper_quartile = EXCLUDED.bid_price_upper_quartile,
			ask_price_lower_quartile = EXCLUDED.ask_price_lower_quartile,
			bids_volume_upper_quartile = EXCLUDED.bids_volume_upper_quartile,
			asks_volume_lower_quartile = EXCLUDED.asks_volume_lower_quartile,
			bids_count_upper_quartile = EXCLUDED.bids_count_upper_quartile,
			asks_count_lower_quartile = EXCLUDED.asks_count_lower_quartile,
			bids_price_stddev_upper_quartile = EXCLUDED.bids_price_stddev_upper_quartile,
			asks_price_stddev_lower_quartile = EXCLUDED.asks_price_stddev_lower_quartile,
			bids_price_mean_upper_quartile = EXCLUDED.bids_price_mean_upper_quartile,
			asks_price_mean_lower_quartile = EXCLUDED.asks_price_mean_lower_quartile`,
		s.ExchangeID, s.BuySym, s.SellSym, s.Timestamp,
		s.Spread, s.BidsVolume, s.AsksVolume, s.BidsCount, s.AsksCount,
		s.BidsPriceStddev, s.AsksPriceStddev, s.BidsPriceMean, s.AsksPriceMean,
		s.MinAskPrice, s.MinAskSize, s.MaxBidPrice, s.MaxBidSize,
		s.BidPriceMedian, s.AskPriceMedian,
		s.BidPriceUpperQuartile, s.AskPriceLowerQuartile,
		s.BidsVolumeUpperQuartile, s.AsksVolumeLowerQuartile,
		s.BidsCountUpperQuartile, s.AsksCountLowerQuartile,
		s.BidsPriceStddevUpperQuartile, s.AsksPriceStddevLowerQuartile,
		s.BidsPriceMeanUpperQuartile, s.AsksPriceMeanLowerQuartile)
	if err != nil {
		return fmt.Errorf("upsert snapshot %d/%s-%s@%s: %w", s.ExchangeID, s.BuySym, s.SellSym, s.Timestamp, err)
	}
	return nil
}

// allowedOrderFields guards UpdateOrder against injecting arbitrary SQL
// through field names.
var allowedOrderFields = map[string]struct{}{
	"timestamp": {}, "filled_at": {}, "expiry": {}, "cancelled_at": {},
	"user_id": {}, "side": {}, "price": {}, "last_updated": {},
	"order_type": {}, "gas_fee": {},
}

// UpdateOrder mutates the given fields of the addressed order. A missing row
// is a no-op.
func (t *Tx) UpdateOrder(ctx context.Context, ref models.OrderRef, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		if _, ok := allowedOrderFields[name]; !ok {
			return fmt.Errorf("update order: unknown field %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	set := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+2)
	i := 1
	for _, name := range names {
		set = append(set, fmt.Sprintf("%s = $%d", name, i))
		args = append(args, fields[name])
		i++
	}
	args = append(args, ref.ExchangeID, ref.ExchangeOrderID)
	query := fmt.Sprintf(`UPDATE orders SET %s WHERE exchange_id = $%d AND exchange_order_id = $%d`,
		strings.Join(set, ", "), i, i+1)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update order %d/%s: %w", ref.ExchangeID, ref.ExchangeOrderID, err)
	}
	return nil
}

// CancelOrder sets cancelled_at on the addressed order.
func (t *Tx) CancelOrder(ctx context.Context, ref models.OrderRef, at time.Time) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE orders SET cancelled_at = $1 WHERE exchange_id = $2 AND exchange_order_id = $3`,
		at, ref.ExchangeID, ref.ExchangeOrderID); err != nil {
		return fmt.Errorf("cancel order %d/%s: %w", ref.ExchangeID, ref.ExchangeOrderID, err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
