// Package stats contains small statistical helpers used when summarizing
// run results.
package stats

import (
	"math"
	"sort"
)

// Percentile calculates the Nth percentile of a list of values using
// linear interpolation between closest ranks. Returns 0 for empty input.
func Percentile(data []float64, percentile float64) float64 {
	if len(data) == 0 {
		return 0.0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	k := float64(len(sorted)-1) * (percentile / 100.0)
	f := math.Floor(k)
	c := math.Ceil(k)

	if f == c {
		return sorted[int(k)]
	}

	d0 := sorted[int(f)]
	d1 := sorted[int(c)]

	return d0 + (d1-d0)*(k-f)
}

// Mean returns the arithmetic mean of the values, 0 for empty input.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// StdDev returns the population standard deviation of the values.
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	mean := Mean(data)
	var sumSq float64
	for _, v := range data {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)))
}
