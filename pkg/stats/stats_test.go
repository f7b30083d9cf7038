package stats

import (
	"math"
	"testing"
)

func TestPercentileEmpty(t *testing.T) {
	if got := Percentile(nil, 95); got != 0 {
		t.Errorf("Percentile(nil) = %v, want 0", got)
	}
}

func TestPercentileSingle(t *testing.T) {
	if got := Percentile([]float64{42}, 50); got != 42 {
		t.Errorf("Percentile([42], 50) = %v, want 42", got)
	}
}

func TestPercentileInterpolation(t *testing.T) {
	data := []float64{10, 20, 30, 40}

	if got := Percentile(data, 50); got != 25 {
		t.Errorf("p50 = %v, want 25", got)
	}
	if got := Percentile(data, 0); got != 10 {
		t.Errorf("p0 = %v, want 10", got)
	}
	if got := Percentile(data, 100); got != 40 {
		t.Errorf("p100 = %v, want 40", got)
	}
}

func TestPercentileUnsortedInput(t *testing.T) {
	data := []float64{40, 10, 30, 20}

	if got := Percentile(data, 100); got != 40 {
		t.Errorf("p100 = %v, want 40", got)
	}
	// Исходный слайс не сортируется
	if data[0] != 40 {
		t.Error("Percentile() mutated input")
	}
}

func TestMeanAndStdDev(t *testing.T) {
	data := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	if got := Mean(data); got != 5 {
		t.Errorf("Mean = %v, want 5", got)
	}
	if got := StdDev(data); math.Abs(got-2) > 1e-9 {
		t.Errorf("StdDev = %v, want 2", got)
	}
}
