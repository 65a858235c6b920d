// Package parallel runs independent per-index work with a bounded number of goroutines.
package parallel

import (
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// DefaultLimit returns the number of logical cores reported by the CPU,
// falling back to 1 when detection fails.
func DefaultLimit() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return 1
}

// ForEach calls body(i) for every i in [0, length) using at most limit
// concurrent goroutines. A limit of 1 runs everything on the caller's goroutine.
// body must only write state owned by index i.
func ForEach(length, limit int, body func(i int)) {
	if length <= 0 {
		return
	}
	if limit <= 0 {
		limit = DefaultLimit()
	}
	if limit == 1 || length == 1 {
		for i := 0; i < length; i++ {
			body(i)
		}
		return
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)

	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			body(i)
		}(i)
	}

	wg.Wait()
}
