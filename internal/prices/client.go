package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DefaultAPI is the price endpoint used when PRICE_API is unset.
const DefaultAPI = "https://min-api.cryptocompare.com"

// batchSize caps how many symbols go into one pricemulti request.
const batchSize = 50

// Client fetches USD spot prices in batches, behind a circuit breaker and a
// rate limiter, with a cache in front.
type Client struct {
	baseURL string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cache   Cache
}

// NewClient builds a price client against baseURL (DefaultAPI when empty).
func NewClient(baseURL string, cache Cache) *Client {
	if baseURL == "" {
		baseURL = DefaultAPI
	}
	if cache == nil {
		cache = newMemoryCache()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 15 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "price-api",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("price api breaker state change")
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		cache:   cache,
	}
}

// USDPrices resolves USD prices for the given coin symbols. Cached symbols
// are served locally; the rest are fetched in batches. Symbols the upstream
// does not know are absent from the result.
func (c *Client) USDPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	var missing []string
	for _, sym := range symbols {
		price, ok, err := c.cache.Get(ctx, sym)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("price cache read failed")
		}
		if ok {
			out[sym] = price
			continue
		}
		missing = append(missing, sym)
	}

	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		fetched, err := c.fetchBatch(ctx, missing[start:end])
		if err != nil {
			return nil, err
		}
		for sym, price := range fetched {
			out[sym] = price
			if err := c.cache.Set(ctx, sym, price); err != nil {
				log.Warn().Err(err).Str("symbol", sym).Msg("price cache write failed")
			}
		}
	}
	return out, nil
}

type coinListEntry struct {
	CoinName string `json:"CoinName"`
}

// CoinNames fetches the source's full coin list, mapping symbol to display
// name. Used to backfill names on coins first seen through a venue catalog,
// which only carries symbols.
func (c *Client) CoinNames(ctx context.Context) (map[string]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/data/all/coinlist"

	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch coin list: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch coin list: unexpected status %d", resp.StatusCode)
		}
		var payload struct {
			Data map[string]coinListEntry `json:"Data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode coin list: %w", err)
		}
		return payload.Data, nil
	})
	if err != nil {
		return nil, err
	}

	data := res.(map[string]coinListEntry)
	names := make(map[string]string, len(data))
	for sym, info := range data {
		if info.CoinName != "" {
			names[strings.ToUpper(sym)] = info.CoinName
		}
	}
	return names, nil
}

func (c *Client) fetchBatch(ctx context.Context, symbols []string) (map[string]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/data/pricemulti?fsyms=%s&tsyms=USD",
		c.baseURL, url.QueryEscape(strings.Join(symbols, ",")))

	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch prices: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch prices: unexpected status %d", resp.StatusCode)
		}
		var payload map[string]map[string]float64
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode prices: %w", err)
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}

	payload := res.(map[string]map[string]float64)
	prices := make(map[string]float64, len(payload))
	for sym, quotes := range payload {
		if usd, ok := quotes["USD"]; ok {
			prices[strings.ToUpper(sym)] = usd
		}
	}
	return prices, nil
}
