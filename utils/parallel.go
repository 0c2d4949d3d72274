package utils

import (
	"runtime"
	"sync"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ParallelForEachRow splits [0, height) into contiguous bands, one per worker, and calls f for
// every row of every band. f must only write state owned by its row. If f panics in any band, the
// first panic value is raised again in the caller once all bands have stopped.
func ParallelForEachRow(height int, f func(y int)) {
	if height <= 0 {
		return
	}
	procs := ParallelFactor
	if procs > height {
		procs = height
	}
	band := height / procs
	var (
		waitGroup sync.WaitGroup
		panicOnce sync.Once
		panicked  interface{}
	)
	waitGroup.Add(procs)
	for i := 0; i < procs; i++ {
		start := i * band
		end := start + band
		if i == procs-1 {
			end = height
		}
		go func() {
			defer waitGroup.Done()
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicked = r })
				}
			}()
			for y := start; y < end; y++ {
				f(y)
			}
		}()
	}
	waitGroup.Wait()
	if panicked != nil {
		panic(panicked)
	}
}

// ParallelForEachPixel calls f for each (x, y) position of a width x height grid, parallelized
// over rows.
func ParallelForEachPixel(width, height int, f func(x, y int)) {
	ParallelForEachRow(height, func(y int) {
		for x := 0; x < width; x++ {
			f(x, y)
		}
	})
}
