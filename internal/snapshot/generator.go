// Package snapshot derives time-sliced order book statistics from the
// append-only aggregate order history.
package snapshot

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/depthwatch/depthwatch/internal/actions"
	"github.com/depthwatch/depthwatch/internal/metrics"
	"github.com/depthwatch/depthwatch/internal/models"
	"github.com/depthwatch/depthwatch/internal/store"
)

const (
	// snapshotInterval is the spacing between snapshot instants.
	snapshotInterval = time.Second
	// commitInterval is how many buffered snapshots trigger a commit.
	commitInterval = 100
)

// Source supplies market windows and point-in-time books. *store.Store
// satisfies it.
type Source interface {
	MarketWindows(ctx context.Context, venues []string) ([]store.MarketWindow, error)
	BookAt(ctx context.Context, w store.MarketWindow, t time.Time) ([]store.BookLevel, error)
}

// Generator walks each market's history at a fixed cadence and persists one
// statistical snapshot per instant. Reruns over the same range overwrite
// rather than duplicate.
type Generator struct {
	src    Source
	commit func(ctx context.Context, acts []actions.Action) error

	interval time.Duration
	batch    int
}

// New builds a generator committing through the given store.
func New(st *store.Store) *Generator {
	return &Generator{
		src: st,
		commit: func(ctx context.Context, acts []actions.Action) error {
			return actions.Commit(ctx, st, acts)
		},
		interval: snapshotInterval,
		batch:    commitInterval,
	}
}

// Run generates snapshots for every market of the named venues, walking each
// market from its earliest event over [start, stopTime).
func (g *Generator) Run(ctx context.Context, venues []string, stopTime time.Time) error {
	windows, err := g.src.MarketWindows(ctx, venues)
	if err != nil {
		return err
	}
	log.Info().Int("markets", len(windows)).Time("stop", stopTime).Msg("generating order book snapshots")

	for _, w := range windows {
		if err := g.runWindow(ctx, w, stopTime); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) runWindow(ctx context.Context, w store.MarketWindow, stopTime time.Time) error {
	var (
		buf     []actions.Action
		written int
		skipped int
	)
	flush := func(ctx context.Context) error {
		if len(buf) == 0 {
			return nil
		}
		if err := g.commit(ctx, buf); err != nil {
			return err
		}
		metrics.Default().SnapshotsWritten.Add(float64(len(buf)))
		written += len(buf)
		buf = nil
		return nil
	}

	for t := w.Start; t.Before(stopTime); t = t.Add(g.interval) {
		if ctx.Err() != nil {
			// Interrupts keep what was already built.
			if err := flush(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			return ctx.Err()
		}
		levels, err := g.src.BookAt(ctx, w, t)
		if err != nil {
			return err
		}
		snap, ok := buildSnapshot(w, t, levels)
		if !ok {
			metrics.Default().TicksSkipped.Inc()
			skipped++
			continue
		}
		buf = append(buf, actions.NewInsert(&snap))
		if len(buf) >= g.batch {
			if err := flush(ctx); err != nil {
				return err
			}
		}
	}
	if err := flush(ctx); err != nil {
		return err
	}
	log.Info().
		Str("venue", w.Exchange).
		Str("market", w.BuySym+"-"+w.SellSym).
		Int("written", written).
		Int("skipped", skipped).
		Msg("market snapshots generated")
	return nil
}

// buildSnapshot digests a reconstructed book into a snapshot row. Books that
// are empty or one-sided produce no snapshot.
func buildSnapshot(w store.MarketWindow, t time.Time, levels []store.BookLevel) (models.OrderBookSnapshot, bool) {
	var bids, asks []store.BookLevel
	for _, l := range levels {
		switch l.OrderType {
		case models.SideBid:
			bids = append(bids, l)
		case models.SideAsk:
			asks = append(asks, l)
		}
	}
	if len(bids) == 0 || len(asks) == 0 {
		return models.OrderBookSnapshot{}, false
	}

	full := struct{ bids, asks sideStats }{describeSide(bids), describeSide(asks)}
	maxBidPrice, maxBidSize := bestLevel(bids, func(a, b float64) bool { return a > b })
	minAskPrice, minAskSize := bestLevel(asks, func(a, b float64) bool { return a < b })

	// Quartile sub-book: bids at or above their 75th price percentile, asks
	// at or below their 25th. During crossed books the spread goes negative
	// and is recorded as such.
	bidUpper := percentileDisc(sortedPrices(bids), 0.75)
	askLower := percentileDisc(sortedPrices(asks), 0.25)
	var qBids, qAsks []store.BookLevel
	for _, l := range bids {
		if l.Price >= bidUpper {
			qBids = append(qBids, l)
		}
	}
	for _, l := range asks {
		if l.Price <= askLower {
			qAsks = append(qAsks, l)
		}
	}
	quart := struct{ bids, asks sideStats }{describeSide(qBids), describeSide(qAsks)}

	return models.OrderBookSnapshot{
		ExchangeID: w.ExchangeID,
		BuySym:     w.BuySym,
		SellSym:    w.SellSym,
		Timestamp:  t,

		Spread:          minAskPrice - maxBidPrice,
		BidsVolume:      full.bids.Volume,
		AsksVolume:      full.asks.Volume,
		BidsCount:       full.bids.Count,
		AsksCount:       full.asks.Count,
		BidsPriceStddev: full.bids.Stddev,
		AsksPriceStddev: full.asks.Stddev,
		BidsPriceMean:   full.bids.Mean,
		AsksPriceMean:   full.asks.Mean,
		MinAskPrice:     minAskPrice,
		MinAskSize:      minAskSize,
		MaxBidPrice:     maxBidPrice,
		MaxBidSize:      maxBidSize,
		BidPriceMedian:  full.bids.Median,
		AskPriceMedian:  full.asks.Median,

		BidPriceUpperQuartile:        bidUpper,
		AskPriceLowerQuartile:        askLower,
		BidsVolumeUpperQuartile:      quart.bids.Volume,
		AsksVolumeLowerQuartile:      quart.asks.Volume,
		BidsCountUpperQuartile:       quart.bids.Count,
		AsksCountLowerQuartile:       quart.asks.Count,
		BidsPriceStddevUpperQuartile: quart.bids.Stddev,
		AsksPriceStddevLowerQuartile: quart.asks.Stddev,
		BidsPriceMeanUpperQuartile:   quart.bids.Mean,
		AsksPriceMeanLowerQuartile:   quart.asks.Mean,
	}, true
}
