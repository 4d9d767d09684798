package features

import "math"

// ring is a fixed-capacity window over a float series. It maintains running
// sum and sum-of-squares so mean and standard deviation stay O(1) per push,
// with no reallocation once constructed.
type ring struct {
	buf   []float64
	head  int
	n     int
	sum   float64
	sumSq float64
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	if r.n == len(r.buf) {
		old := r.buf[r.head]
		r.sum -= old
		r.sumSq -= old * old
	} else {
		r.n++
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	r.sum += v
	r.sumSq += v * v
}

func (r *ring) len() int   { return r.n }
func (r *ring) full() bool { return r.n == len(r.buf) }

func (r *ring) mean() float64 {
	if r.n == 0 {
		return 0
	}
	return r.sum / float64(r.n)
}

// stddev is the population standard deviation of the window.
func (r *ring) stddev() float64 {
	if r.n == 0 {
		return 0
	}
	m := r.mean()
	variance := r.sumSq/float64(r.n) - m*m
	// Running sums can drift a hair negative on constant series.
	return math.Sqrt(math.Max(variance, 0))
}

// at returns the i-th element, oldest first.
func (r *ring) at(i int) float64 {
	start := r.head - r.n
	if start < 0 {
		start += len(r.buf)
	}
	return r.buf[(start+i)%len(r.buf)]
}
