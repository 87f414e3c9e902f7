package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalPair(t *testing.T) {
	first, second := CanonicalPair("LTC", "BTC")
	assert.Equal(t, "BTC", first)
	assert.Equal(t, "LTC", second)

	first, second = CanonicalPair("btc", "ltc")
	assert.Equal(t, "BTC", first)
	assert.Equal(t, "LTC", second)

	// Already canonical input is unchanged.
	first, second = CanonicalPair("ETH", "ZRX")
	assert.Equal(t, "ETH", first)
	assert.Equal(t, "ZRX", second)
}

func TestNewMarket(t *testing.T) {
	m := NewMarket("eth", "BTC")
	assert.Equal(t, Market{FirstCoin: "BTC", SecondCoin: "ETH"}, m)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "ETH", NormalizeSymbol(" eth "))
	assert.Equal(t, "BTC", NormalizeSymbol("BTC"))
}
