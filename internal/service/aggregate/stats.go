package aggregate

import (
	"math"
	"sort"
)

// percentile returns the value at index ceil(p/100 * n) - 1 of the sorted
// samples, clamped to index 0. This is the nearest-rank method; it never
// interpolates between samples. Nil when there are no samples.
func percentile(sorted []float64, p float64) *float64 {
	n := len(sorted)
	if n == 0 {
		return nil
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	value := sorted[idx]
	return &value
}

func sortedCopy(samples []float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	sort.Float64s(out)
	return out
}

func mean(samples []float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	value := sum / float64(len(samples))
	return &value
}
