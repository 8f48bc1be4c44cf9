package occupy

import (
	"fmt"
	"math/rand"
	"os"
)

// Run keeps one device's workload slot busy forever: two large dense
// matrices multiplied in a loop, each product folded into a checksum
// so an iteration fully completes before the next one starts. It never
// returns; the process exits only via external termination.
func Run(deviceID, size int) {
	if size < 1 {
		size = 1
	}
	fmt.Fprintf(os.Stderr, "occupancy worker up: gpu=%d matrix=%dx%d pid=%d\n",
		deviceID, size, size, os.Getpid())

	rng := rand.New(rand.NewSource(int64(deviceID) + 1))
	a := randomMatrix(rng, size)
	b := randomMatrix(rng, size)
	c := make([]float32, size*size)

	var sink float32
	for {
		Multiply(a, b, c, size)
		sink += c[0]
	}
}

func randomMatrix(rng *rand.Rand, n int) []float32 {
	m := make([]float32, n*n)
	for i := range m {
		m[i] = rng.Float32()
	}
	return m
}

// Multiply computes c = a×b for n×n row-major matrices. The k-loop is
// hoisted per row of a so the inner loop streams both b and c.
func Multiply(a, b, c []float32, n int) {
	for i := 0; i < n; i++ {
		ci := c[i*n : (i+1)*n]
		for j := range ci {
			ci[j] = 0
		}
		for k := 0; k < n; k++ {
			aik := a[i*n+k]
			bk := b[k*n : (k+1)*n]
			for j, v := range bk {
				ci[j] += aik * v
			}
		}
	}
}
