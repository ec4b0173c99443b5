package stats

import "github.com/rewired-gh/tickwatch/internal/models"

const (
	// DefaultSeriesTail is how many of the latest ticks get a volatility point.
	DefaultSeriesTail = 120
	// DefaultSeriesWindow is the lookback; each window spans DefaultSeriesWindow+1 ticks.
	DefaultSeriesWindow = 20

	minWindowTicks = 11
)

// RollingVolatility returns std/mean·100 over a trailing window for each of the
// last tail ticks. Points whose window holds fewer than 11 ticks are omitted.
func RollingVolatility(buffer []models.Tick, tail, window int) []models.VolatilityPoint {
	if tail <= 0 {
		tail = DefaultSeriesTail
	}
	if window <= 0 {
		window = DefaultSeriesWindow
	}
	if len(buffer) > tail {
		buffer = buffer[len(buffer)-tail:]
	}

	prices, _ := series(buffer)
	points := make([]models.VolatilityPoint, 0, len(buffer))
	for i := range buffer {
		start := max(0, i-window)
		if i-start+1 < minWindowTicks {
			continue
		}
		var w Welford
		for _, p := range prices[start : i+1] {
			w.Update(p)
		}
		var vol float64
		if w.Mean != 0 {
			vol = w.Std() / w.Mean * 100
		}
		points = append(points, models.VolatilityPoint{Timestamp: buffer[i].Timestamp, Volatility: vol})
	}
	return points
}
