// Package ticks selects the active instrument's ticks out of the raw feed buffer.
package ticks

import "github.com/rewired-gh/tickwatch/internal/models"

// DefaultCapacity bounds the active tick buffer.
const DefaultCapacity = 2000

// Filter returns the decoded ticks for symbol in arrival order, keeping only the
// last capacity of them. Envelopes without a decoded tick are skipped.
func Filter(envelopes []models.Envelope, symbol string, capacity int) []models.Tick {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	symbol = models.NormalizeSymbol(symbol)

	out := make([]models.Tick, 0, min(len(envelopes), capacity))
	for _, env := range envelopes {
		if env.Tick == nil || env.Tick.Symbol != symbol {
			continue
		}
		out = append(out, *env.Tick)
	}
	if len(out) > capacity {
		out = append([]models.Tick(nil), out[len(out)-capacity:]...)
	}
	return out
}

// NewTicks returns decoded ticks of any symbol from envelopes with Seq > afterSeq,
// along with the highest Seq seen.
func NewTicks(envelopes []models.Envelope, afterSeq uint64) ([]models.Tick, uint64) {
	last := afterSeq
	var out []models.Tick
	for _, env := range envelopes {
		if env.Seq <= afterSeq {
			continue
		}
		if env.Seq > last {
			last = env.Seq
		}
		if env.Tick != nil {
			out = append(out, *env.Tick)
		}
	}
	return out, last
}
