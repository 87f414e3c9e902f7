package prices

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUSDPricesFetchesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/data/pricemulti", r.URL.Path)
		assert.Equal(t, "BTC,ETH", r.URL.Query().Get("fsyms"))
		assert.Equal(t, "USD", r.URL.Query().Get("tsyms"))
		_ = json.NewEncoder(w).Encode(map[string]map[string]float64{
			"BTC": {"USD": 65000.5},
			"ETH": {"USD": 3500.25},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)

	prices, err := c.USDPrices(context.Background(), []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Equal(t, 65000.5, prices["BTC"])
	assert.Equal(t, 3500.25, prices["ETH"])
	assert.Equal(t, int32(1), calls.Load())

	// Second call is served from the cache.
	prices, err = c.USDPrices(context.Background(), []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Equal(t, 65000.5, prices["BTC"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestUSDPricesOmitsUnknownSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]map[string]float64{
			"BTC": {"USD": 65000.5},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	prices, err := c.USDPrices(context.Background(), []string{"BTC", "NOPE"})
	require.NoError(t, err)
	assert.Contains(t, prices, "BTC")
	assert.NotContains(t, prices, "NOPE")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	for i := 0; i < 3; i++ {
		_, err := c.USDPrices(context.Background(), []string{"BTC"})
		require.Error(t, err)
	}

	_, err := c.USDPrices(context.Background(), []string{"BTC"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCoinNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/all/coinlist", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Data": map[string]coinListEntry{
				"BTC": {CoinName: "Bitcoin"},
				"eth": {CoinName: "Ethereum"},
				"XYZ": {},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	names, err := c.CoinNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin", names["BTC"])
	assert.Equal(t, "Ethereum", names["ETH"])
	assert.NotContains(t, names, "XYZ")
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := newMemoryCache()
	require.NoError(t, c.Set(context.Background(), "BTC", 65000.5))

	price, ok, err := c.Get(context.Background(), "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 65000.5, price)

	_, ok, err = c.Get(context.Background(), "ETH")
	require.NoError(t, err)
	assert.False(t, ok)
}
