package stats

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestRolling_Mean(t *testing.T) {
	tests := []struct {
		name    string
		samples []time.Duration
		want    time.Duration
	}{
		{"single", []time.Duration{3 * time.Millisecond}, 3 * time.Millisecond},
		{"odd count", []time.Duration{9 * time.Millisecond, 1 * time.Millisecond, 5 * time.Millisecond}, 5 * time.Millisecond},
		{"fractional millisecond", []time.Duration{1 * time.Millisecond, 2 * time.Millisecond}, 1500 * time.Microsecond},
		{
			name:    "wide accumulator",
			samples: []time.Duration{2 * time.Millisecond, math.MaxInt32 * time.Millisecond},
			want:    1073741824*time.Millisecond + 500*time.Microsecond,
		},
		{"truncated not rounded", []time.Duration{1, 2, 2}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRolling()
			for _, s := range tt.samples {
				r.Add(s)
			}
			if got := r.Mean(); got != tt.want {
				t.Errorf("Mean() = %v, want %v", got, tt.want)
			}
			if got := r.Count(); got != uint64(len(tt.samples)) {
				t.Errorf("Count() = %d, want %d", got, len(tt.samples))
			}
		})
	}
}

func TestRolling_MinMax(t *testing.T) {
	r := NewRolling()
	r.Add(time.Duration(math.MinInt64))
	r.Add(time.Duration(math.MaxInt64))
	r.Add(0)

	if got := r.Min(); got != time.Duration(math.MinInt64) {
		t.Errorf("Min() = %d, want %d", got, int64(math.MinInt64))
	}
	if got := r.Max(); got != time.Duration(math.MaxInt64) {
		t.Errorf("Max() = %d, want %d", got, int64(math.MaxInt64))
	}
}

func TestRolling_Sentinels(t *testing.T) {
	r := NewRolling()
	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", r.Count())
	}
	if r.Min() != time.Duration(math.MaxInt64) || r.Max() != time.Duration(math.MinInt64) {
		t.Errorf("empty Min/Max = %v/%v, want sentinels", r.Min(), r.Max())
	}
}

func TestRolling_StdDev(t *testing.T) {
	r := NewRolling()
	if got := r.StdDev(); got != 0 {
		t.Errorf("StdDev() on empty = %v, want 0", got)
	}

	for _, ms := range []int{2, 4, 4, 4, 5, 5, 7, 9} {
		r.Add(time.Duration(ms) * time.Millisecond)
	}
	if got := r.StdDev(); got != 2*time.Millisecond {
		t.Errorf("StdDev() = %v, want 2ms", got)
	}
}

func TestRolling_Concurrency(t *testing.T) {
	r := NewRolling()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 100; i++ {
				r.Add(time.Duration(i) * time.Millisecond)
				_ = r.Mean()
			}
		}()
	}
	wg.Wait()

	if got := r.Count(); got != 1000 {
		t.Errorf("Count() = %d, want 1000", got)
	}
	if got := r.Min(); got != time.Millisecond {
		t.Errorf("Min() = %v, want 1ms", got)
	}
	if got := r.Max(); got != 100*time.Millisecond {
		t.Errorf("Max() = %v, want 100ms", got)
	}
	if got := r.Mean(); got != 50500*time.Microsecond {
		t.Errorf("Mean() = %v, want 50.5ms", got)
	}
}
