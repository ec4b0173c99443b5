// Package ohlcv groups ticks into fixed-width time buckets.
package ohlcv

import (
	"time"

	"github.com/rewired-gh/tickwatch/internal/models"
)

// DefaultMaxBars bounds the number of bars returned by Bucketize.
const DefaultMaxBars = 60

var intervals = []struct {
	name string
	d    time.Duration
}{
	{"1s", time.Second},
	{"5s", 5 * time.Second},
	{"1m", time.Minute},
	{"5m", 5 * time.Minute},
}

// ParseInterval maps an interval name to its duration. Unknown names fall back to one second.
func ParseInterval(s string) time.Duration {
	for _, iv := range intervals {
		if iv.name == s {
			return iv.d
		}
	}
	return time.Second
}

// Intervals lists the supported interval names, shortest first.
func Intervals() []string {
	names := make([]string, len(intervals))
	for i, iv := range intervals {
		names[i] = iv.name
	}
	return names
}

// Bucketize builds one bar per distinct bucket, ordered by first occurrence in
// buffer, keeping the last maxBars bars.
func Bucketize(buffer []models.Tick, interval time.Duration, maxBars int) []models.OhlcvBar {
	if maxBars <= 0 {
		maxBars = DefaultMaxBars
	}
	intervalMs := interval.Milliseconds()
	if intervalMs <= 0 {
		intervalMs = 1000
	}

	index := make(map[int64]int)
	var bars []models.OhlcvBar
	for _, t := range buffer {
		key := bucketStart(t.Timestamp.UnixMilli(), intervalMs)
		i, ok := index[key]
		if !ok {
			index[key] = len(bars)
			bars = append(bars, models.OhlcvBar{
				BucketStart: time.UnixMilli(key).UTC(),
				Open:        t.Price,
				High:        t.Price,
				Low:         t.Price,
				Close:       t.Price,
				Volume:      t.Size,
				Trades:      1,
			})
			continue
		}
		b := &bars[i]
		if t.Price.GreaterThan(b.High) {
			b.High = t.Price
		}
		if t.Price.LessThan(b.Low) {
			b.Low = t.Price
		}
		b.Close = t.Price
		b.Volume = b.Volume.Add(t.Size)
		b.Trades++
	}

	if len(bars) > maxBars {
		bars = bars[len(bars)-maxBars:]
	}
	return bars
}

// bucketStart floors ms to a multiple of intervalMs, rounding toward negative infinity.
func bucketStart(ms, intervalMs int64) int64 {
	q := ms / intervalMs
	if ms%intervalMs != 0 && ms < 0 {
		q--
	}
	return q * intervalMs
}
