package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_URL", "postgres://env/db")
	t.Setenv("HITBTC_WS_URL", "wss://api.hitbtc.com/api/2/ws")
	t.Setenv("HITBTC_API", "https://api.hitbtc.com/api/2")
	t.Setenv("HITBTC_MARKETS", "ETH_BTC, LTC_BTC ,")

	cfg, err := Load("", []string{"hitbtc"})
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.DBURL)
	venue, err := cfg.Venue("hitbtc")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.hitbtc.com/api/2/ws", venue.WSURL)
	assert.Equal(t, "https://api.hitbtc.com/api/2", venue.APIURL)
	assert.Equal(t, []string{"ETH_BTC", "LTC_BTC"}, venue.Markets)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_url: postgres://file/db
metrics_addr: "127.0.0.1:9900"
venues:
  binance:
    ws_url: wss://file.example/ws
    api: https://file.example/api
    markets: [ETH_BTC]
`), 0o600))

	t.Setenv("DB_URL", "postgres://env/db")
	t.Setenv("BINANCE_WS_URL", "wss://env.example/ws")

	cfg, err := Load(path, []string{"binance"})
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.DBURL)
	assert.Equal(t, "127.0.0.1:9900", cfg.MetricsAddr)

	venue, err := cfg.Venue("binance")
	require.NoError(t, err)
	assert.Equal(t, "wss://env.example/ws", venue.WSURL)
	assert.Equal(t, "https://file.example/api", venue.APIURL)
	assert.Equal(t, []string{"ETH_BTC"}, venue.Markets)
}

func TestUnknownVenueIsError(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	_, err = cfg.Venue("idex")
	assert.Error(t, err)
}

func TestMissingConfigFileIsError(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml", nil)
	assert.Error(t, err)
}
