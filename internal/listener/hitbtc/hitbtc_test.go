package hitbtc

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
	l, err := New(models.Exchange{ID: 1, Name: "hitbtc"}, func(listener.Listener, []actions.Action) {}, config.Venue{
		WSURL:   "wss://ws.example.test",
		APIURL:  apiURL,
		Markets: []string{"ETH_BTC"},
	})
	require.NoError(t, err)
	hl := l.(*Listener)
	hl.symbols = map[string]symbolInfo{
		"ETHBTC": {ID: "ETHBTC", Base: "ETH", Quote: "BTC"},
	}
	return hl
}

func insertedEntities(t *testing.T, acts []actions.Action) []models.Entity {
	t.Helper()
	require.Len(t, acts, 1)
	ins, ok := acts[0].(*actions.Insert)
	require.True(t, ok)
	return ins.Entities
}

func TestHandleSnapshotOrderbook(t *testing.T) {
	l := newTestListener(t, "")

	frame := []byte(`{
		"method": "snapshotOrderbook",
		"params": {
			"symbol": "ETHBTC",
			"sequence": 8073827,
			"timestamp": "2019-04-01T10:45:22.199Z",
			"bid": [
				{"price": "0.033309", "size": "13.595"},
				{"price": "0.033308", "size": "0.700"}
			],
			"ask": [
				{"price": "0.033312", "size": "4.640"}
			]
		}
	}`)

	entities := insertedEntities(t, l.Handle(frame))
	require.Len(t, entities, 3)

	first, ok := entities[0].(*models.AggOrder)
	require.True(t, ok)
	assert.Equal(t, int64(8073827), first.LastUpdateID)
	assert.Equal(t, "ETH", first.BuySym)
	assert.Equal(t, "BTC", first.SellSym)
	assert.Equal(t, int64(1), first.ExchangeID)
	assert.Equal(t, models.SideBid, first.OrderType)
	assert.Equal(t, 0.033309, first.Price)
	assert.Equal(t, 13.595, first.Size)
	assert.Equal(t, time.Date(2019, 4, 1, 10, 45, 22, 199000000, time.UTC), first.Timestamp)

	ask, ok := entities[2].(*models.AggOrder)
	require.True(t, ok)
	assert.Equal(t, models.SideAsk, ask.OrderType)
	assert.Equal(t, 0.033312, ask.Price)
}

func TestHandleUpdateOrderbookRemovedLevel(t *testing.T) {
	l := newTestListener(t, "")

	frame := []byte(`{
		"method": "updateOrderbook",
		"params": {
			"symbol": "ETHBTC",
			"sequence": 8073828,
			"timestamp": "2019-04-01T10:45:23.000Z",
			"bid": [{"price": "0.033308", "size": "0"}],
			"ask": []
		}
	}`)

	entities := insertedEntities(t, l.Handle(frame))
	require.Len(t, entities, 1)
	lvl := entities[0].(*models.AggOrder)
	assert.Equal(t, 0.0, lvl.Size)
	assert.Equal(t, int64(8073828), lvl.LastUpdateID)
}

func TestHandleUpdateTrades(t *testing.T) {
	l := newTestListener(t, "")

	frame := []byte(`{
		"method": "updateTrades",
		"params": {
			"symbol": "ETHBTC",
			"data": [
				{"id": 986963, "price": "0.033310", "quantity": "0.125", "side": "sell", "timestamp": "2019-04-01T10:45:24.000Z"}
			]
		}
	}`)

	entities := insertedEntities(t, l.Handle(frame))
	require.Len(t, entities, 1)
	trade := entities[0].(*models.Trade)
	assert.Equal(t, "hitbtc-986963", trade.ID)
	assert.Equal(t, "sell", trade.TradeType)
	assert.Equal(t, "ETH", trade.BuySym)
	assert.Equal(t, "BTC", trade.SellSym)
	assert.Equal(t, 0.033310, trade.Price)
	assert.Equal(t, 0.125, trade.Size)
}

func TestHandleDropsUnknownSymbol(t *testing.T) {
	l := newTestListener(t, "")

	frame := []byte(`{
		"method": "snapshotOrderbook",
		"params": {
			"symbol": "XYZABC",
			"sequence": 1,
			"timestamp": "2019-04-01T10:45:22.199Z",
			"bid": [{"price": "1.0", "size": "1.0"}],
			"ask": []
		}
	}`)

	assert.Nil(t, l.Handle(frame))
}

func TestHandleDropsUnknownMethod(t *testing.T) {
	l := newTestListener(t, "")
	assert.Nil(t, l.Handle([]byte(`{"method": "snapshotCandles", "params": {}}`)))
}

func TestHandleIgnoresAckFrames(t *testing.T) {
	l := newTestListener(t, "")
	assert.Nil(t, l.Handle([]byte(`{"jsonrpc": "2.0", "result": true, "id": "sub-1"}`)))
}

func TestHandleDropsNonFiniteNumbers(t *testing.T) {
	l := newTestListener(t, "")

	frame := []byte(`{
		"method": "snapshotOrderbook",
		"params": {
			"symbol": "ETHBTC",
			"sequence": 2,
			"timestamp": "2019-04-01T10:45:22.199Z",
			"bid": [{"price": "NaN", "size": "1.0"}],
			"ask": []
		}
	}`)

	assert.Nil(t, l.Handle(frame))
}

func TestHandleDropsUndecodableFrame(t *testing.T) {
	l := newTestListener(t, "")
	assert.Nil(t, l.Handle([]byte(`{not json`)))
}

func TestGetMarketsCanonicalizesPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/symbol":
			_ = json.NewEncoder(w).Encode([]symbolInfo{
				{ID: "LTCBTC", Base: "LTC", Quote: "BTC"},
			})
		case "/public/ticker":
			_ = json.NewEncoder(w).Encode([]tickerEntry{
				{Symbol: "LTCBTC", Volume: "1045.2", Timestamp: "2019-04-01T10:45:22.199Z"},
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

	coins := acts[0].(*actions.Insert).Entities
	require.Len(t, coins, 2)
	assert.Equal(t, "LTC", coins[0].(*models.Coin).Symbol)
	assert.Equal(t, "BTC", coins[1].(*models.Coin).Symbol)

	markets := acts[1].(*actions.Insert).Entities
	require.Len(t, markets, 1)
	market := markets[0].(*models.Market)
	assert.Equal(t, "BTC", market.FirstCoin)
	assert.Equal(t, "LTC", market.SecondCoin)

	ems := acts[2].(*actions.Insert).Entities
	require.Len(t, ems, 1)
	em := ems[0].(*models.ExchangeMarket)
	assert.Equal(t, "BTC", em.FirstCoin)
	assert.Equal(t, "LTC", em.SecondCoin)
	assert.Equal(t, "LTC", em.QuotedVolumeID)
	assert.Equal(t, 1045.2, em.QuotedVolume)
	require.NotNil(t, em.QuotedVolTimestamp)
}
