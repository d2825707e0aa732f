// Package util provides the statistics used by the perf command to report lock
// throughput, acquisition latency and how evenly contended locks were shared
// between workers.
package util

import (
	"math"
	"sync"
	"time"

	"github.com/valyala/histogram"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes the standard deviation, minimum, and maximum values
// from an array of float64 values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]

	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}

	// population standard deviation
	stdDev := math.Sqrt(sumSquaredDiffs / float64(len(values)))

	minMaxRatio := 1.0
	if hi > 0 {
		minMaxRatio = lo / hi
	}

	return Stats{
		StdDeviation: stdDev,
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  minMaxRatio,
	}
}

// FairnessStats describes how evenly a lock was won by competing workers.
type FairnessStats struct {
	Stats
	// Fairness is 1 for a perfectly even split and approaches 0 when some workers starve
	Fairness float64 `json:"fairness"`
}

// NewFairnessStats computes fairness metrics from the number of acquisitions per worker.
func NewFairnessStats(acquisitions []float64) FairnessStats {
	stats := NewStats(acquisitions)

	// coefficient of variation
	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	// lower CV and higher min/max ratio indicate a fairer split
	fairness := (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5

	return FairnessStats{
		Stats:    stats,
		Fairness: fairness,
	}
}

// ----------------------------------------------------------------------------
// LatencyHistogram
// ----------------------------------------------------------------------------

// LatencyHistogram tracks the distribution of operation latencies. Quantiles come
// from a valyala/histogram sample set, mean and max are exact.
//
// Thread-safe: all methods are safe for concurrent use
type LatencyHistogram struct {
	mutex     sync.Mutex
	quantiles *histogram.Fast
	count     int64
	sum       time.Duration
	max       time.Duration
}

// NewLatencyHistogram creates an empty histogram.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		quantiles: histogram.NewFast(),
	}
}

// AddSample adds a latency sample to the histogram
func (h *LatencyHistogram) AddSample(d time.Duration) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.quantiles.Update(float64(d))
	h.count++
	h.sum += d
	h.max = max(h.max, d)
}

// Count returns the total number of samples
func (h *LatencyHistogram) Count() int64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.count
}

// Mean returns the exact mean of all samples
func (h *LatencyHistogram) Mean() time.Duration {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.count == 0 {
		return 0
	}
	return h.sum / time.Duration(h.count)
}

// Max returns the largest sample
func (h *LatencyHistogram) Max() time.Duration {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.max
}

// Percentile returns the given percentile (0-100). It is exact up to a thousand
// samples and estimated from a uniform sample beyond that.
func (h *LatencyHistogram) Percentile(percentile int) time.Duration {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}
	return time.Duration(h.quantiles.Quantile(float64(percentile) / 100))
}
