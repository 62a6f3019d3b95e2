package stats

import (
	"math"
	"sync"
	"time"
)

// Rolling keeps streaming minimum, maximum, mean and standard deviation of a
// duration metric without retaining samples. It is safe for concurrent use.
type Rolling struct {
	mu         sync.Mutex
	min        time.Duration
	max        time.Duration
	mean       time.Duration
	sum        float64 // nanoseconds
	sumSquares float64 // nanoseconds squared
	count      uint64
}

// NewRolling returns an empty Rolling. Min and Max hold sentinels
// (math.MaxInt64 and math.MinInt64) until the first Add.
func NewRolling() *Rolling {
	return &Rolling{
		min: time.Duration(math.MaxInt64),
		max: time.Duration(math.MinInt64),
	}
}

// Add records one sample.
func (r *Rolling) Add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d < r.min {
		r.min = d
	}
	if d > r.max {
		r.max = d
	}

	r.count++
	r.sum += float64(d)
	r.sumSquares += float64(d) * float64(d)
	// Truncated, not rounded
	r.mean = time.Duration(r.sum / float64(r.count))
}

// Min returns the smallest sample added so far.
func (r *Rolling) Min() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.min
}

// Max returns the largest sample added so far.
func (r *Rolling) Max() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.max
}

// Mean returns the arithmetic mean truncated to whole nanoseconds.
func (r *Rolling) Mean() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mean
}

// StdDev returns the population standard deviation, or 0 with fewer than two samples.
func (r *Rolling) StdDev() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < 2 {
		return 0
	}
	n := float64(r.count)
	variance := r.sumSquares/n - (r.sum/n)*(r.sum/n)
	if variance < 0 {
		// float rounding on near-constant series
		return 0
	}
	return time.Duration(math.Sqrt(variance))
}

// Count returns the number of samples added.
func (r *Rolling) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
