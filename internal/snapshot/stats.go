package snapshot

import (
	"math"
	"sort"

	"github.com/depthwatch/depthwatch/internal/store"
)

// percentileDisc is the discrete percentile: the smallest value of the sorted
// ascending input whose rank covers fraction q. No interpolation, so the
// result is always an observed price.
func percentileDisc(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// median of a sorted ascending slice. Even counts average the two middle
// values, so the result may be a price not present in the book.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation. A single-level side has
// stddev 0.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// sideStats is the statistical digest of one book side.
type sideStats struct {
	Volume float64
	Count  int64
	Mean   float64
	Stddev float64
	Median float64
}

// describeSide digests one side's levels. Volume is the quote-denominated
// sum of price*size; price statistics weigh every level equally.
func describeSide(levels []store.BookLevel) sideStats {
	prices := sortedPrices(levels)
	var volume float64
	for _, l := range levels {
		volume += l.Price * l.Size
	}
	return sideStats{
		Volume: volume,
		Count:  int64(len(levels)),
		Mean:   mean(prices),
		Stddev: stddev(prices),
		Median: median(prices),
	}
}

func sortedPrices(levels []store.BookLevel) []float64 {
	prices := make([]float64, len(levels))
	for i, l := range levels {
		prices[i] = l.Price
	}
	sort.Float64s(prices)
	return prices
}

// bestLevel finds the side's extremum price and the largest size observed at
// that price. best picks between two prices (max for bids, min for asks).
func bestLevel(levels []store.BookLevel, better func(a, b float64) bool) (price, size float64) {
	for i, l := range levels {
		if i == 0 || better(l.Price, price) {
			price, size = l.Price, l.Size
			continue
		}
		if l.Price == price && l.Size > size {
			size = l.Size
		}
	}
	return price, size
}
