// Package stats derives descriptive statistics from the active tick buffer.
package stats

import (
	"math"
	"sync"
	"time"

	"github.com/rewired-gh/tickwatch/internal/models"
)

// MinSamples is the buffer length below which statistics are not recomputed.
const MinSamples = 20

// Compute derives statistics from buffer. It returns false, leaving the result
// zero, when the buffer holds fewer than MinSamples ticks.
func Compute(buffer []models.Tick) (models.DescriptiveStats, bool) {
	if len(buffer) < MinSamples {
		return models.DescriptiveStats{}, false
	}
	prices, sizes := series(buffer)
	s := summarize(prices, sizes)
	s.ComputedAt = time.Now()
	return s, true
}

func series(buffer []models.Tick) (prices, sizes []float64) {
	prices = make([]float64, len(buffer))
	sizes = make([]float64, len(buffer))
	for i, t := range buffer {
		prices[i] = t.Price.InexactFloat64()
		sizes[i] = t.Size.InexactFloat64()
	}
	return prices, sizes
}

// summarize computes every field except ComputedAt. prices must be non-empty.
func summarize(prices, sizes []float64) models.DescriptiveStats {
	n := len(prices)

	var w Welford
	high, low := prices[0], prices[0]
	var notional, totalVolume float64
	for i, p := range prices {
		w.Update(p)
		high = math.Max(high, p)
		low = math.Min(low, p)
		notional += p * sizes[i]
		totalVolume += sizes[i]
	}
	mean, std := w.Mean, w.Std()

	s := models.DescriptiveStats{
		Price:       prices[n-1],
		Mean:        mean,
		Std:         std,
		High:        high,
		Low:         low,
		Range:       high - low,
		TickCount:   n,
		TotalVolume: totalVolume,
	}
	if n >= 2 {
		s.PreviousPrice = prices[n-2]
	}
	if totalVolume != 0 {
		s.VWAP = notional / totalVolume
	}
	if mean != 0 {
		s.Volatility = std / mean * 100
	}
	s.PriceChange = prices[n-1] - prices[0]
	if prices[0] != 0 {
		s.PriceChangePercent = s.PriceChange / prices[0] * 100
	}

	returns := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	var rw Welford
	for _, r := range returns {
		rw.Update(r)
	}
	s.AvgReturn = rw.Mean
	s.ReturnStd = rw.Std()

	if s.ReturnStd > 0 {
		s.SharpeLike = s.AvgReturn / s.ReturnStd
		s.MomentumScore = s.AvgReturn / s.ReturnStd * 100

		// Normalized by the price coefficient of variation, not the return std.
		if cv := std / mean; mean != 0 && cv != 0 {
			var m3 float64
			for _, r := range returns {
				d := r - s.AvgReturn
				m3 += d * d * d
			}
			m3 /= float64(len(returns))
			s.Skewness = m3 / math.Pow(cv, 3)
		}
	}

	s.BuyVolume, s.SellVolume = orderFlow(prices, sizes)
	if total := s.BuyVolume + s.SellVolume; total > 0 {
		s.BuyVolumePercent = s.BuyVolume / total * 100
	}
	return s
}

// orderFlow classifies each tick after the first by its price move. Ties count as sells.
func orderFlow(prices, sizes []float64) (buy, sell float64) {
	for i := 1; i < len(prices); i++ {
		if prices[i] > prices[i-1] {
			buy += sizes[i]
		} else {
			sell += sizes[i]
		}
	}
	return buy, sell
}

// Engine retains the last computed statistics across skipped updates.
type Engine struct {
	mu       sync.Mutex
	last     models.DescriptiveStats
	computed bool
}

// NewEngine returns an engine with no statistics.
func NewEngine() *Engine {
	return &Engine{}
}

// Update recomputes from buffer and reports whether it did. On skip the previous
// statistics are returned unchanged.
func (e *Engine) Update(buffer []models.Tick) (models.DescriptiveStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := Compute(buffer)
	if !ok {
		return e.last, false
	}
	e.last = s
	e.computed = true
	return s, true
}

// Last returns the most recent statistics and whether any were computed.
func (e *Engine) Last() (models.DescriptiveStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.computed
}

// Reset forgets the retained statistics.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = models.DescriptiveStats{}
	e.computed = false
}
