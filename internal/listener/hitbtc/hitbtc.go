// Package hitbtc implements the HitBTC exchange listener. Inbound frames are
// dispatched by their method field through an explicit parser table.
package hitbtc

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

const (
	venueName = "hitbtc"
	// tradesLimit is the history depth requested on subscribeTrades; the
	// venue accepts up to 1000.
	tradesLimit = 10
)

func init() {
	listener.Register(venueName, New)
}

type symbolInfo struct {
	ID    string `json:"id"`
	Base  string `json:"baseCurrency"`
	Quote string `json:"quoteCurrency"`
}

type parseFunc func(json.RawMessage) ([]actions.Action, error)

// Listener streams HitBTC order book and trade channels.
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

// New builds the HitBTC listener. Registered under "hitbtc".
func New(ex models.Exchange, emit listener.Emit, cfg config.Venue) (listener.Listener, error) {
	if cfg.WSURL == "" || cfg.APIURL == "" {
		return nil, fmt.Errorf("hitbtc: ws_url and api endpoint are required")
	}
	l := &Listener{
		exchange: ex,
		emit:     emit,
		cfg:      cfg,
		httpc:    &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
		symbols:  make(map[string]symbolInfo),
	}
	l.parsers = map[string]parseFunc{
		"snapshotOrderbook": l.parseOrderbook,
		"updateOrderbook":   l.parseOrderbook,
		"snapshotTrades":    l.parseTrades,
		"updateTrades":      l.parseTrades,
	}
	l.session = listener.NewSession(venueName, cfg.WSURL, l, func(acts []actions.Action) {
		emit(l, acts)
	})
	return l, nil
}

func (l *Listener) Exchange() models.Exchange { return l.exchange }

func (l *Listener) Listen(ctx context.Context) error { return l.session.Run(ctx) }

func (l *Listener) Close() { l.session.Close() }

// Prepare refreshes the symbol catalog; runs before every (re)subscribe.
func (l *Listener) Prepare(ctx context.Context) error {
	symbols, err := l.fetchSymbols(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.symbols = symbols
	l.mu.Unlock()
	log.Debug().Str("venue", venueName).Int("symbols", len(symbols)).Msg("symbol catalog refreshed")
	return nil
}

type wsRequest struct {
	Method string   `json:"method"`
	Params wsParams `json:"params"`
	ID     string   `json:"id"`
}

type wsParams struct {
	Symbol string `json:"symbol"`
	Limit  int    `json:"limit,omitempty"`
}

// Subscribe sends one order book and one trades subscription per configured
// market.
func (l *Listener) Subscribe(_ context.Context, conn *listener.Conn) error {
	for _, pair := range l.cfg.Markets {
		symbol := strings.ToUpper(strings.ReplaceAll(pair, "_", ""))
		if err := conn.SendJSON(wsRequest{
			Method: "subscribeOrderbook",
			Params: wsParams{Symbol: symbol},
			ID:     l.cfg.APIKey,
		}); err != nil {
			return fmt.Errorf("subscribe orderbook %s: %w", symbol, err)
		}
		if err := conn.SendJSON(wsRequest{
			Method: "subscribeTrades",
			Params: wsParams{Symbol: symbol, Limit: tradesLimit},
			ID:     l.cfg.APIKey,
		}); err != nil {
			return fmt.Errorf("subscribe trades %s: %w", symbol, err)
		}
	}
	return nil
}

type wsEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Handle dispatches one inbound frame through the parser table. Unknown or
// malformed frames are dropped with a log record; the stream continues.
func (l *Listener) Handle(msg []byte) []actions.Action {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		metrics.Default().MessagesDropped.WithLabelValues(venueName, "malformed").Inc()
		log.Warn().Err(err).Str("venue", venueName).Msg("dropping undecodable frame")
		return nil
	}
	if env.Method == "" {
		// Subscription acks and error frames have no method.
		log.Debug().Str("venue", venueName).RawJSON("frame", msg).Msg("non-event frame")
		return nil
	}
	fn, ok := l.parsers[env.Method]
	if !ok {
		metrics.Default().MessagesDropped.WithLabelValues(venueName, "unknown_method").Inc()
		log.Warn().Str("venue", venueName).Str("method", env.Method).Msg("dropping unknown message method")
		return nil
	}
	acts, err := fn(env.Params)
	if err != nil {
		metrics.Default().MessagesDropped.WithLabelValues(venueName, "malformed").Inc()
		log.Warn().Err(err).Str("venue", venueName).Str("method", env.Method).Msg("dropping malformed payload")
		return nil
	}
	return acts
}

type orderbookPayload struct {
	Symbol    string      `json:"symbol"`
	Sequence  int64       `json:"sequence"`
	Timestamp string      `json:"timestamp"`
	Bid       []bookLevel `json:"bid"`
	Ask       []bookLevel `json:"ask"`
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// parseOrderbook maps snapshotOrderbook / updateOrderbook frames to one
// AggOrder per level, with the venue sequence as last_update_id.
func (l *Listener) parseOrderbook(raw json.RawMessage) ([]actions.Action, error) {
	var payload orderbookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode orderbook payload: %w", err)
	}
	base, quote, ok := l.lookupSymbol(payload.Symbol)
	if !ok {
		l.dropUnknownSymbol(payload.Symbol)
		return nil, nil
	}
	ts, err := parseTimestamp(payload.Timestamp)
	if err != nil {
		return nil, err
	}

	entities := make([]models.Entity, 0, len(payload.Bid)+len(payload.Ask))
	appendLevels := func(levels []bookLevel, orderType string) error {
		for _, lvl := range levels {
			price, err := listener.ParseFloat(lvl.Price)
			if err != nil {
				return err
			}
			size, err := listener.ParseFloat(lvl.Size)
			if err != nil {
				return err
			}
			entities = append(entities, &models.AggOrder{
				LastUpdateID: payload.Sequence,
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
	if err := appendLevels(payload.Bid, models.SideBid); err != nil {
		return nil, err
	}
	if err := appendLevels(payload.Ask, models.SideAsk); err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	log.Debug().Str("venue", venueName).Str("symbol", payload.Symbol).Int("levels", len(entities)).Msg("parsed depth frame")
	return []actions.Action{actions.NewInsert(entities...)}, nil
}

type tradesPayload struct {
	Symbol string `json:"symbol"`
	Data   []struct {
		ID        int64  `json:"id"`
		Price     string `json:"price"`
		Quantity  string `json:"quantity"`
		Side      string `json:"side"`
		Timestamp string `json:"timestamp"`
	} `json:"data"`
}

// parseTrades maps snapshotTrades / updateTrades frames to one Trade per
// entry, with trade_type = side.
func (l *Listener) parseTrades(raw json.RawMessage) ([]actions.Action, error) {
	var payload tradesPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode trades payload: %w", err)
	}
	base, quote, ok := l.lookupSymbol(payload.Symbol)
	if !ok {
		l.dropUnknownSymbol(payload.Symbol)
		return nil, nil
	}

	entities := make([]models.Entity, 0, len(payload.Data))
	for _, t := range payload.Data {
		price, err := listener.ParseFloat(t.Price)
		if err != nil {
			return nil, err
		}
		size, err := listener.ParseFloat(t.Quantity)
		if err != nil {
			return nil, err
		}
		ts, err := parseTimestamp(t.Timestamp)
		if err != nil {
			return nil, err
		}
		entities = append(entities, &models.Trade{
			ID:         fmt.Sprintf("%s-%d", venueName, t.ID),
			Timestamp:  ts,
			TradeType:  t.Side,
			BuySym:     base,
			SellSym:    quote,
			ExchangeID: l.exchange.ID,
			Price:      price,
			Size:       size,
		})
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return []actions.Action{actions.NewInsert(entities...)}, nil
}

type tickerEntry struct {
	Symbol    string `json:"symbol"`
	Volume    string `json:"volume"`
	Timestamp string `json:"timestamp"`
}

// GetMarkets fetches the venue's symbol catalog and tickers, returning the
// coins, canonical markets, and per-venue exchange markets they describe.
func (l *Listener) GetMarkets(ctx context.Context) ([]actions.Action, error) {
	if err := l.Prepare(ctx); err != nil {
		return nil, err
	}
	var tickers []tickerEntry
	if err := l.getJSON(ctx, "/public/ticker", &tickers); err != nil {
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
		var volTS *time.Time
		if ts, err := parseTimestamp(tk.Timestamp); err == nil {
			volTS = &ts
		}

		coins = append(coins, &models.Coin{Symbol: base}, &models.Coin{Symbol: quote})
		market := models.NewMarket(base, quote)
		markets = append(markets, &market)
		exchangeMarkets = append(exchangeMarkets, &models.ExchangeMarket{
			FirstCoin:          market.FirstCoin,
			SecondCoin:         market.SecondCoin,
			ExchangeID:         l.exchange.ID,
			QuotedVolume:       volume,
			QuotedVolumeID:     base,
			QuotedVolTimestamp: volTS,
		})
	}
	return []actions.Action{
		actions.NewInsert(coins...),
		actions.NewInsert(markets...),
		actions.NewInsert(exchangeMarkets...),
	}, nil
}

func (l *Listener) fetchSymbols(ctx context.Context) (map[string]symbolInfo, error) {
	var infos []symbolInfo
	if err := l.getJSON(ctx, "/public/symbol", &infos); err != nil {
		return nil, err
	}
	symbols := make(map[string]symbolInfo, len(infos))
	for _, info := range infos {
		symbols[strings.ToUpper(info.ID)] = info
	}
	return symbols, nil
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

// lookupSymbol maps a venue symbol to its uppercased (base, quote) pair via
// the pre-fetched catalog.
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

func parseTimestamp(raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return ts.UTC(), nil
}
