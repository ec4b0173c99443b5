package stats

import "math"

// Welford is a running mean and variance accumulator.
type Welford struct {
	Count int
	Mean  float64
	M2    float64
}

// Update adds one sample.
func (w *Welford) Update(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
}

// Variance returns the population variance (divisor n).
func (w *Welford) Variance() float64 {
	if w.Count == 0 {
		return 0
	}
	return w.M2 / float64(w.Count)
}

// Std returns the population standard deviation.
func (w *Welford) Std() float64 {
	return math.Sqrt(w.Variance())
}
