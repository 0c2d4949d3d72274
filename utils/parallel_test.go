package utils

import (
	"testing"

	"go.uber.org/atomic"
	"go.viam.com/test"
)

func TestParallelForEachPixel(t *testing.T) {
	const w, h = 37, 23
	visited := make([]atomic.Int32, w*h)
	ParallelForEachPixel(w, h, func(x, y int) {
		visited[y*w+x].Inc()
	})
	for i := range visited {
		test.That(t, visited[i].Load(), test.ShouldEqual, 1)
	}
}

func TestParallelForEachRowSmall(t *testing.T) {
	original := ParallelFactor
	defer func() { ParallelFactor = original }()
	ParallelFactor = 8

	count := atomic.NewInt32(0)
	ParallelForEachRow(3, func(y int) { count.Inc() })
	test.That(t, count.Load(), test.ShouldEqual, 3)

	ParallelForEachRow(0, func(y int) { t.Fatal("should not be called") })
}

func TestParallelForEachRowPanic(t *testing.T) {
	original := ParallelFactor
	defer func() { ParallelFactor = original }()
	ParallelFactor = 4

	finished := atomic.NewInt32(0)
	test.That(t, func() {
		ParallelForEachRow(40, func(y int) {
			if y == 25 {
				panic("bad row")
			}
			finished.Inc()
		})
	}, test.ShouldPanicWith, "bad row")
	// the other bands ran to completion before the panic was raised again
	test.That(t, finished.Load(), test.ShouldBeGreaterThanOrEqualTo, 30)
}
