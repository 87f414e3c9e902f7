// Package models defines the domain entities persisted by depthwatch.
package models

import (
	"sort"
	"strings"
	"time"
)

// Order book side values used on AggOrder and OrderBookSnapshot rows.
const (
	SideBid = "bid"
	SideAsk = "ask"
)

// Entity is the closed set of persistable domain types. Only types in this
// package implement it; the store type-switches over them.
type Entity interface {
	isEntity()
}

// NormalizeSymbol upper-cases a venue currency symbol. Symbols are stored
// uppercase everywhere.
func NormalizeSymbol(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}

// CanonicalPair orders two coin symbols lexicographically. Markets are stored
// in canonical order regardless of which side the venue quotes.
func CanonicalPair(a, b string) (first, second string) {
	pair := []string{NormalizeSymbol(a), NormalizeSymbol(b)}
	sort.Strings(pair)
	return pair[0], pair[1]
}

// Coin is a currency known to the system. Symbol is the natural key.
type Coin struct {
	Symbol           string     `db:"symbol"`
	Name             *string    `db:"name"`
	PriceUSD         *float64   `db:"price_usd"`
	LastPriceUpdated *time.Time `db:"last_price_updated"`
}

func (Coin) isEntity() {}

// Exchange is a trading venue.
type Exchange struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

func (Exchange) isEntity() {}

// Market is a venue-agnostic coin pair in canonical (lexicographic) order.
type Market struct {
	FirstCoin  string `db:"first_coin_id"`
	SecondCoin string `db:"second_coin_id"`
}

// NewMarket builds a canonical market from an arbitrarily ordered pair.
func NewMarket(a, b string) Market {
	first, second := CanonicalPair(a, b)
	return Market{FirstCoin: first, SecondCoin: second}
}

func (Market) isEntity() {}

// ExchangeMarket is the per-venue instance of a market, carrying the venue's
// reported quoted volume and the USD volume derived from it.
type ExchangeMarket struct {
	FirstCoin          string     `db:"first_coin_id"`
	SecondCoin         string     `db:"second_coin_id"`
	ExchangeID         int64      `db:"exchange_id"`
	QuotedVolume       float64    `db:"quoted_volume"`
	QuotedVolumeID     string     `db:"quoted_volume_id"`
	QuotedVolTimestamp *time.Time `db:"quoted_vol_timestamp"`
	VolumeUSD          *float64   `db:"volume_usd"`
	VolUSDTimestamp    *time.Time `db:"vol_usd_timestamp"`
}

func (ExchangeMarket) isEntity() {}

// OrderRef is the composite key addressing an Order: the venue plus the
// venue's own order id. OrderSize and MarketOrderFunds embed it by value
// rather than inheriting order columns.
type OrderRef struct {
	ExchangeID      int64  `db:"exchange_id"`
	ExchangeOrderID string `db:"exchange_order_id"`
}

// Order is an individual limit or market order observed on a venue.
type Order struct {
	OrderRef
	Timestamp   *time.Time `db:"timestamp"`
	FilledAt    *time.Time `db:"filled_at"`
	Expiry      *time.Time `db:"expiry"`
	CancelledAt *time.Time `db:"cancelled_at"`
	BuySym      string     `db:"buy_sym_id"`
	SellSym     string     `db:"sell_sym_id"`
	User        *string    `db:"user_id"`
	Side        *string    `db:"side"`
	Price       float64    `db:"price"`
	LastUpdated *time.Time `db:"last_updated"`
	OrderType   *string    `db:"order_type"`
	GasFee      *float64   `db:"gas_fee"`
}

func (Order) isEntity() {}

// OrderSize is a timestamped amendment of a live order's size.
type OrderSize struct {
	ID int64 `db:"id"`
	OrderRef
	Timestamp time.Time `db:"timestamp"`
	Size      float64   `db:"size"`
}

func (OrderSize) isEntity() {}

// MarketOrderFunds is a timestamped amendment of a market order's funds.
type MarketOrderFunds struct {
	ID int64 `db:"id"`
	OrderRef
	Timestamp time.Time `db:"timestamp"`
	Funds     float64   `db:"funds"`
}

func (MarketOrderFunds) isEntity() {}

// Trade is an execution record. ID is the venue-assigned identifier, prefixed
// with the venue name by parsers so ids never collide across venues.
type Trade struct {
	ID              string    `db:"id"`
	Timestamp       time.Time `db:"timestamp"`
	TradeType       string    `db:"trade_type"`
	BuySym          string    `db:"buy_sym_id"`
	SellSym         string    `db:"sell_sym_id"`
	ExchangeID      int64     `db:"exchange_id"`
	Maker           *string   `db:"maker"`
	Taker           *string   `db:"taker"`
	Price           float64   `db:"price"`
	Size            float64   `db:"size"`
	Total           *float64  `db:"total"`
	BuyerFee        *float64  `db:"buyer_fee"`
	SellerFee       *float64  `db:"seller_fee"`
	GasFee          *float64  `db:"gas_fee"`
	ExchangeOrderID *string   `db:"exchange_order_id"`
	MakerOrderID    *string   `db:"maker_order_id"`
	TakerOrderID    *string   `db:"taker_order_id"`
}

func (Trade) isEntity() {}

// AggOrder is one price-level point in a venue's level-2 book history.
// Rows are append-only: the state of a level at time t is the row with the
// greatest LastUpdateID among rows with Timestamp <= t, and Size = 0 on that
// row means the level was removed.
type AggOrder struct {
	ID           int64     `db:"id"`
	LastUpdateID int64     `db:"last_update_id"`
	Timestamp    time.Time `db:"timestamp"`
	BuySym       string    `db:"buy_sym_id"`
	SellSym      string    `db:"sell_sym_id"`
	ExchangeID   int64     `db:"exchange_id"`
	OrderType    string    `db:"order_type"`
	Price        float64   `db:"price"`
	Size         float64   `db:"size"`
}

func (AggOrder) isEntity() {}

// OrderBookSnapshot is the derived per-instant statistical digest of a
// reconstructed book. Primary fields cover the full book; *_upper_quartile /
// *_lower_quartile fields cover the quartile sub-book.
type OrderBookSnapshot struct {
	ID         int64     `db:"id"`
	ExchangeID int64     `db:"exchange_id"`
	BuySym     string    `db:"buy_sym_id"`
	SellSym    string    `db:"sell_sym_id"`
	Timestamp  time.Time `db:"timestamp"`

	Spread          float64 `db:"spread"`
	BidsVolume      float64 `db:"bids_volume"`
	AsksVolume      float64 `db:"asks_volume"`
	BidsCount       int64   `db:"bids_count"`
	AsksCount       int64   `db:"asks_count"`
	BidsPriceStddev float64 `db:"bids_price_stddev"`
	AsksPriceStddev float64 `db:"asks_price_stddev"`
	BidsPriceMean   float64 `db:"bids_price_mean"`
	AsksPriceMean   float64 `db:"asks_price_mean"`
	MinAskPrice     float64 `db:"min_ask_price"`
	MinAskSize      float64 `db:"min_ask_size"`
	MaxBidPrice     float64 `db:"max_bid_price"`
	MaxBidSize      float64 `db:"max_bid_size"`
	BidPriceMedian  float64 `db:"bid_price_median"`
	AskPriceMedian  float64 `db:"ask_price_median"`

	BidPriceUpperQuartile        float64 `db:"bid_price_upper_quartile"`
	AskPriceLowerQuartile        float64 `db:"ask_price_lower_quartile"`
	BidsVolumeUpperQuartile      float64 `db:"bids_volume_upper_quartile"`
	AsksVolumeLowerQuartile      float64 `db:"asks_volume_lower_quartile"`
	BidsCountUpperQuartile       int64   `db:"bids_count_upper_quartile"`
	AsksCountLowerQuartile       int64   `db:"asks_count_lower_quartile"`
	BidsPriceStddevUpperQuartile float64 `db:"bids_price_stddev_upper_quartile"`
	AsksPriceStddevLowerQuartile float64 `db:"asks_price_stddev_lower_quartile"`
	BidsPriceMeanUpperQuartile   float64 `db:"bids_price_mean_upper_quartile"`
	AsksPriceMeanLowerQuartile   float64 `db:"asks_price_mean_lower_quartile"`
}

func (OrderBookSnapshot) isEntity() {}
