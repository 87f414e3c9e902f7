// Package binance implements the Binance exchange listener. Events are
// dispatched by their "e" field through an explicit parser table.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/depthwatch/depthwatch/internal/actions"
	"github.com/depthwatch/depthwatch/internal/config"
	"github.com/depthwatch/depthwatch/internal/listener"
	"github.com/depthwatch/depthwatch/internal/metrics"
	"github.com/depthwatch/depthwatch/internal/models"
)

const venueName = "binance"

func init() {
	listener.Register(venueName, New)
}

type symbolInfo struct {
	Symbol string `json:"symbol"`
	Base   string `json:"baseAsset"`
	Quote  string `json:"quoteAsset"`
}

type parseFunc func(json.RawMessage) ([]actions.Action, error)

// Listener streams Binance depth and trade channels.
type Listener struct {
	exchange models.Exchange
	emit     listener.Emit
	cfg      config.Venue

	httpc   *http.Client
	limiter *rate.Limiter
	session *listener.Session
	parsers map[string]parseFunc

	mu      sync.RWMutex
	symbols map[string]symbolInfo
}

// New builds the Binance listener. Registered under "binance".
func New(ex models.Exchange, emit listener.Emit, cfg config.Venue) (listener.Listener, error) {
	if cfg.WSURL == "" || cfg.APIURL == "" {
		return nil, fmt.Errorf("binance: ws_url and api endpoint are required")
	}
	l := &Listener{
		exchange: ex,
		emit:     emit,
		cfg:      cfg,
		httpc:    &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(10), 10),
		symbols:  make(map[string]symbolInfo),
	}
	l.parsers = map[string]parseFunc{
		"depthUpdate": l.parseDepthUpdate,
		"trade":       l.parseTrade,
		"aggTrade":    l.parseTrade,
	}
	l.session = listener.NewSession(venueName, cfg.WSURL, l, func(acts []actions.Action) {
		emit(l, acts)
	})
	return l, nil
}

func (l *Listener) Exchange() models.Exchange { return l.exchange }

func (l *Listener) Listen(ctx context.Context) error { return l.session.Run(ctx) }

func (l *Listener) Close() { l.session.Close() }

// Prepare refreshes the symbol catalog from exchangeInfo.
func (l *Listener) Prepare(ctx context.Context) error {
	var info struct {
		Symbols []symbolInfo `json:"symbols"`
	}
	if err := l.getJSON(ctx, "/api/v3/exchangeInfo", &info); err != nil {
		return err
	}
	symbols := make(map[string]symbolInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		symbols[strings.ToUpper(s.Symbol)] = s
	}
	l.mu.Lock()
	l.symbols = symbols
	l.mu.Unlock()
	log.Debug().Str("venue", venueName).Int("symbols", len(symbols)).Msg("symbol catalog refreshed")
	return nil
}

// Subscribe sends one combined SUBSCRIBE frame covering the depth and trade
// streams of every configured market.
func (l *Listener) Subscribe(_ context.Context, conn *listener.Conn) error {
	streams := make([]string, 0, 2*len(l.cfg.Markets))
	for _, pair := range l.cfg.Markets {
		symbol := strings.ToLower(strings.ReplaceAll(pair, "_", ""))
		streams = append(streams, symbol+"@depth", symbol+"@trade")
	}
	if len(streams) == 0 {
		return nil
	}
	return conn.SendJSON(map[string]any{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     1,
	})
}

// Handle dispatches one inbound frame through the parser table.
func (l *Listener) Handle(msg []byte) []actions.Action {
	var env struct {
		Event string `json:"e"`
		// encoding/json matches tags case-insensitively, so without an
		// exact-case field the numeric "E" (event time) key would also be
		// decoded into Event and fail.
		EventTime int64 `json:"E"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		metrics.Default().MessagesDropped.WithLabelValues(venueName, "malformed").Inc()
		log.Warn().Err(err).Str("venue", venueName).Msg("dropping undecodable frame")
		return nil
	}
	if env.Event == "" {
		// Subscription acks carry {"result":null,"id":n}.
		log.Debug().Str("venue", venueName).RawJSON("frame", msg).Msg("non-event frame")
		return nil
	}
	fn, ok := l.parsers[env.Event]
	if !ok {
		metrics.Default().MessagesDropped.WithLabelValues(venueName, "unknown_method").Inc()
		log.Warn().Str("venue", venueName).Str("event", env.Event).Msg("dropping unknown event type")
		return nil
	}
	acts, err := fn(msg)
	if err != nil {
		metrics.Default().MessagesDropped.WithLabelValues(venueName, "malformed").Inc()
		log.Warn().Err(err).Str("venue", venueName).Str("event", env.Event).Msg("dropping malformed payload")
		return nil
	}
	return acts
}

type depthUpdate struct {
	// Event absorbs the exact-case "e" key so it is not case-insensitively
	// matched into EventTime.
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// parseDepthUpdate maps a depth delta to one AggOrder per level, with the
// final update id as last_update_id.
func (l *Listener) parseDepthUpdate(raw json.RawMessage) ([]actions.Action, error) {
	var payload depthUpdate
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode depth update: %w", err)
	}
	base, quote, ok := l.lookupSymbol(payload.Symbol)
	if !ok {
		l.dropUnknownSymbol(payload.Symbol)
		return nil, nil
	}
	ts := time.UnixMilli(payload.EventTime).UTC()

	entities := make([]models.Entity, 0, len(payload.Bids)+len(payload.Asks))
	appendLevels := func(levels [][]string, orderType string) error {
		for _, lvl := range levels {
			if len(lvl) < 2 {
				return fmt.Errorf("depth level with %d fields", len(lvl))
			}
			price, err := listener.ParseFloat(lvl[0])
			if err != nil {
				return err
			}
			size, err := listener.ParseFloat(lvl[1])
			if err != nil {
				return err
			}
			entities = append(entities, &models.AggOrder{
				LastUpdateID: payload.FinalUpdateID,
				Timestamp:    ts,
				BuySym:       base,
				SellSym:      quote,
				ExchangeID:   l.exchange.ID,
				OrderType:    orderType,
				Price:        price,
				Size:         size,
			})
		}
		return nil
	}
	if err := appendLevels(payload.Bids, models.SideBid); err != nil {
		return nil, err
	}
	if err := appendLevels(payload.Asks, models.SideAsk); err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return []actions.Action{actions.NewInsert(entities...)}, nil
}

type tradeEvent struct {
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// parseTrade maps trade / aggTrade events to a single Trade. The taker side
// is the trade type: buyer-maker means the taker sold.
func (l *Listener) parseTrade(raw json.RawMessage) ([]actions.Action, error) {
	var payload tradeEvent
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode trade: %w", err)
	}
	base, quote, ok := l.lookupSymbol(payload.Symbol)
	if !ok {
		l.dropUnknownSymbol(payload.Symbol)
		return nil, nil
	}
	price, err := listener.ParseFloat(payload.Price)
	if err != nil {
		return nil, err
	}
	size, err := listener.ParseFloat(payload.Quantity)
	if err != nil {
		return nil, err
	}
	side := "buy"
	if payload.IsBuyerMaker {
		side = "sell"
	}
	trade := &models.Trade{
		ID:         fmt.Sprintf("%s-%d", venueName, payload.TradeID),
		Timestamp:  time.UnixMilli(payload.TradeTime).UTC(),
		TradeType:  side,
		BuySym:     base,
		SellSym:    quote,
		ExchangeID: l.exchange.ID,
		Price:      price,
		Size:       size,
	}
	return []actions.Action{actions.NewInsert(trade)}, nil
}

type ticker24h struct {
	Symbol    string `json:"symbol"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"closeTime"`
}

// GetMarkets fetches the symbol catalog and 24h tickers, returning coins,
// canonical markets, and per-venue exchange markets.
func (l *Listener) GetMarkets(ctx context.Context) ([]actions.Action, error) {
	if err := l.Prepare(ctx); err != nil {
		return nil, err
	}
	var tickers []ticker24h
	if err := l.getJSON(ctx, "/api/v3/ticker/24hr", &tickers); err != nil {
		return nil, err
	}

	var coins, markets, exchangeMarkets []models.Entity
	for _, tk := range tickers {
		base, quote, ok := l.lookupSymbol(tk.Symbol)
		if !ok {
			l.dropUnknownSymbol(tk.Symbol)
			continue
		}
		volume, err := listener.ParseFloat(tk.Volume)
		if err != nil {
			log.Warn().Err(err).Str("venue", venueName).Str("symbol", tk.Symbol).Msg("dropping ticker with bad volume")
			continue
		}
		volTS := time.UnixMilli(tk.CloseTime).UTC()

		coins = append(coins, &models.Coin{Symbol: base}, &models.Coin{Symbol: quote})
		market := models.NewMarket(base, quote)
		markets = append(markets, &market)
		exchangeMarkets = append(exchangeMarkets, &models.ExchangeMarket{
			FirstCoin:          market.FirstCoin,
			SecondCoin:         market.SecondCoin,
			ExchangeID:         l.exchange.ID,
			QuotedVolume:       volume,
			QuotedVolumeID:     base,
			QuotedVolTimestamp: &volTS,
		})
	}
	return []actions.Action{
		actions.NewInsert(coins...),
		actions.NewInsert(markets...),
		actions.NewInsert(exchangeMarkets...),
	}, nil
}

func (l *Listener) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	url := strings.TrimRight(l.cfg.APIURL, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", url, err)
	}
	resp, err := l.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func (l *Listener) lookupSymbol(symbol string) (base, quote string, ok bool) {
	l.mu.RLock()
	info, ok := l.symbols[strings.ToUpper(symbol)]
	l.mu.RUnlock()
	if !ok {
		return "", "", false
	}
	return models.NormalizeSymbol(info.Base), models.NormalizeSymbol(info.Quote), true
}

func (l *Listener) dropUnknownSymbol(symbol string) {
	metrics.Default().MessagesDropped.WithLabelValues(venueName, "unknown_symbol").Inc()
	log.Warn().Str("venue", venueName).Str("symbol", symbol).Msg("dropping record with symbol not in catalog")
}
