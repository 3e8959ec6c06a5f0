// Package parallel provides the parallel-for helpers used by host kernels.
package parallel

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig sizes the pool from the physical core count reported by
// cpuid, falling back to runtime.NumCPU when cpuid cannot tell. Hyperthreads
// do not help the float loops this package runs.
func DefaultConfig() Config {
	n := cpuid.CPU.PhysicalCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	n = min(n, runtime.GOMAXPROCS(0))
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: chunkForCache(),
	}
}

// chunkForCache picks the smallest number of float32 items worth handing to a
// goroutine: a quarter of L1 data cache, at least one cache line.
func chunkForCache() int {
	l1 := cpuid.CPU.Cache.L1D
	line := cpuid.CPU.CacheLine
	if line <= 0 {
		line = 64
	}
	if l1 <= 0 {
		return 1024
	}
	return max(l1/4/4, line/4)
}

// Sequential returns a config that never spawns goroutines.
func Sequential() Config {
	return Config{NumWorkers: 1, MinChunkSize: 1}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	ForRange(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			f(i)
		}
	}, cfg)
}

// ForRange splits [0, n) into contiguous chunks and calls f(lo, hi) for each,
// concurrently when cfg allows it. f must not write outside its range.
func ForRange(n int, f func(lo, hi int), cfg Config) {
	if n <= 0 {
		return
	}
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < 2*cfg.MinChunkSize {
		f(0, n)
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ForEach runs f(i) for every i in [0, n) on its own goroutine, bounded by
// cfg.NumWorkers. Use it for coarse work items such as one image of a batch.
func ForEach(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.NumWorkers)
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer func() {
				<-sem
				wg.Done()
			}()
			f(i)
		}(i)
	}
	wg.Wait()
}
