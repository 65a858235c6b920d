package nn

import (
	"math"
)

// MaxAbsDiff calculates the maximum absolute difference between two slices
func MaxAbsDiff(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	m := 0.0
	for i := 0; i < n; i++ {
		d := math.Abs(float64(a[i] - b[i]))
		if d > m {
			m = d
		}
	}
	return m
}

// AllClose reports whether a and b have equal length and differ by at most tol everywhere.
func AllClose(a, b []float32, tol float64) bool {
	return len(a) == len(b) && MaxAbsDiff(a, b) <= tol
}

// HasNaN reports whether any value is NaN or infinite.
func HasNaN(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}
