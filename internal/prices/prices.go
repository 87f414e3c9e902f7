// Package prices maintains USD prices for known coins and derives
// USD-denominated market volumes from them.
package prices

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/depthwatch/depthwatch/internal/actions"
	"github.com/depthwatch/depthwatch/internal/models"
	"github.com/depthwatch/depthwatch/internal/store"
)

// UpdateCoinPrices fetches the current USD price of every known coin and
// merges it into the coins table. Coins the price source does not know keep
// their previous price. Coins without a name yet get one from the source's
// coin list, when it has one.
func UpdateCoinPrices(ctx context.Context, client *Client, st *store.Store) error {
	coins, err := st.Coins(ctx)
	if err != nil {
		return err
	}
	symbols := make([]string, 0, len(coins))
	unnamed := make(map[string]bool)
	for _, c := range coins {
		symbols = append(symbols, c.Symbol)
		if c.Name == nil {
			unnamed[c.Symbol] = true
		}
	}

	fetched, err := client.USDPrices(ctx, symbols)
	if err != nil {
		return err
	}

	var names map[string]string
	if len(unnamed) > 0 {
		if names, err = client.CoinNames(ctx); err != nil {
			log.Warn().Err(err).Msg("coin name backfill skipped")
			names = nil
		}
	}

	priced := make([]string, 0, len(fetched))
	for sym := range fetched {
		priced = append(priced, sym)
	}
	sort.Strings(priced)

	now := time.Now().UTC()
	entities := make([]models.Entity, 0, len(priced))
	for _, sym := range priced {
		p := fetched[sym]
		ts := now
		coin := &models.Coin{Symbol: sym, PriceUSD: &p, LastPriceUpdated: &ts}
		if unnamed[sym] {
			if name, ok := names[sym]; ok {
				n := name
				coin.Name = &n
			}
		}
		entities = append(entities, coin)
	}
	if len(entities) == 0 {
		log.Warn().Int("coins", len(coins)).Msg("price source returned no prices")
		return nil
	}
	if err := actions.Commit(ctx, st, []actions.Action{actions.NewInsert(entities...)}); err != nil {
		return err
	}
	log.Info().Int("updated", len(entities)).Int("coins", len(coins)).Msg("coin prices updated")
	return nil
}

// NormalizeVolumes recomputes volume_usd on every exchange market of the
// named venues as quoted_volume times the USD price of the quoted coin.
// Markets whose quoted coin has no USD price are left untouched.
func NormalizeVolumes(ctx context.Context, st *store.Store, venues []string) error {
	coins, err := st.Coins(ctx)
	if err != nil {
		return err
	}
	priceBySym := make(map[string]float64, len(coins))
	for _, c := range coins {
		if c.PriceUSD != nil {
			priceBySym[c.Symbol] = *c.PriceUSD
		}
	}

	now := time.Now().UTC()
	for _, venue := range venues {
		exchange, err := st.ExchangeByName(ctx, venue)
		if err != nil {
			return err
		}
		markets, err := st.ExchangeMarkets(ctx, exchange.ID)
		if err != nil {
			return err
		}

		var entities []models.Entity
		var unpriced int
		for _, m := range markets {
			price, ok := priceBySym[m.QuotedVolumeID]
			if !ok {
				unpriced++
				continue
			}
			volumeUSD := m.QuotedVolume * price
			ts := now
			m.VolumeUSD = &volumeUSD
			m.VolUSDTimestamp = &ts
			em := m
			entities = append(entities, &em)
		}
		if len(entities) > 0 {
			if err := actions.Commit(ctx, st, []actions.Action{actions.NewInsert(entities...)}); err != nil {
				return err
			}
		}
		log.Info().Str("venue", venue).Int("normalized", len(entities)).Int("unpriced", unpriced).
			Msg("market volumes normalized")
	}
	return nil
}
