package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depthwatch/depthwatch/internal/actions"
	"github.com/depthwatch/depthwatch/internal/config"
	"github.com/depthwatch/depthwatch/internal/listener"
	"github.com/depthwatch/depthwatch/internal/models"
)

func newTestListener(t *testing.T, apiURL string) *Listener {
	t.Helper()
	if apiURL == "" {
		apiURL = "https://api.example.test"
	}
	l, err := New(models.Exchange{ID: 2, Name: "binance"}, func(listener.Listener, []actions.Action) {}, config.Venue{
		WSURL:   "wss://stream.example.test/ws",
		APIURL:  apiURL,
		Markets: []string{"ETH_BTC"},
	})
	require.NoError(t, err)
	bl := l.(*Listener)
	bl.symbols = map[string]symbolInfo{
		"ETHBTC": {Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
	}
	return bl
}

func TestHandleDepthUpdate(t *testing.T) {
	l := newTestListener(t, "")

	frame := []byte(`{
		"e": "depthUpdate",
		"E": 1554115522199,
		"s": "ETHBTC",
		"U": 157,
		"u": 160,
		"b": [["0.033309", "13.595"]],
		"a": [["0.033312", "4.640"], ["0.033315", "0"]]
	}`)

	acts := l.Handle(frame)
	require.Len(t, acts, 1)
	entities := acts[0].(*actions.Insert).Entities
	require.Len(t, entities, 3)

	bid := entities[0].(*models.AggOrder)
	assert.Equal(t, int64(160), bid.LastUpdateID)
	assert.Equal(t, models.SideBid, bid.OrderType)
	assert.Equal(t, "ETH", bid.BuySym)
	assert.Equal(t, "BTC", bid.SellSym)
	assert.Equal(t, int64(2), bid.ExchangeID)
	assert.Equal(t, time.UnixMilli(1554115522199).UTC(), bid.Timestamp)

	removed := entities[2].(*models.AggOrder)
	assert.Equal(t, models.SideAsk, removed.OrderType)
	assert.Equal(t, 0.0, removed.Size)
}

func TestHandleTradeSides(t *testing.T) {
	l := newTestListener(t, "")

	taker := func(buyerMaker bool) *models.Trade {
		frame, err := json.Marshal(map[string]any{
			"e": "trade", "E": 1554115522199, "s": "ETHBTC",
			"t": 12345, "p": "0.033310", "q": "0.250",
			"T": 1554115522190, "m": buyerMaker,
		})
		require.NoError(t, err)
		acts := l.Handle(frame)
		require.Len(t, acts, 1)
		entities := acts[0].(*actions.Insert).Entities
		require.Len(t, entities, 1)
		return entities[0].(*models.Trade)
	}

	sell := taker(true)
	assert.Equal(t, "sell", sell.TradeType)
	assert.Equal(t, "binance-12345", sell.ID)
	assert.Equal(t, 0.033310, sell.Price)
	assert.Equal(t, 0.250, sell.Size)

	buy := taker(false)
	assert.Equal(t, "buy", buy.TradeType)
}

func TestHandleDropsUnknownSymbol(t *testing.T) {
	l := newTestListener(t, "")
	frame := []byte(`{"e": "depthUpdate", "E": 1, "s": "XYZABC", "u": 1, "b": [["1", "1"]], "a": []}`)
	assert.Nil(t, l.Handle(frame))
}

func TestHandleDropsUnknownEvent(t *testing.T) {
	l := newTestListener(t, "")
	assert.Nil(t, l.Handle([]byte(`{"e": "kline", "s": "ETHBTC"}`)))
}

func TestHandleIgnoresAckFrames(t *testing.T) {
	l := newTestListener(t, "")
	assert.Nil(t, l.Handle([]byte(`{"result": null, "id": 1}`)))
}

func TestGetMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"symbols": []symbolInfo{{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"}},
			})
		case "/api/v3/ticker/24hr":
			_ = json.NewEncoder(w).Encode([]ticker24h{
				{Symbol: "ETHBTC", Volume: "20941.3", CloseTime: 1554115522199},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := newTestListener(t, srv.URL)
	acts, err := l.GetMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, acts, 3)

	markets := acts[1].(*actions.Insert).Entities
	require.Len(t, markets, 1)
	market := markets[0].(*models.Market)
	assert.Equal(t, "BTC", market.FirstCoin)
	assert.Equal(t, "ETH", market.SecondCoin)

	ems := acts[2].(*actions.Insert).Entities
	em := ems[0].(*models.ExchangeMarket)
	assert.Equal(t, "ETH", em.QuotedVolumeID)
	assert.Equal(t, 20941.3, em.QuotedVolume)
}
