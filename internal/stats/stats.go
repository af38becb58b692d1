// Package stats provides the pure numeric summaries computed over timing
// sample series. Everything here is allocation-light and side-effect free;
// callers hand in a slice and get back derived values.
package stats

import (
	"math"
	"sort"

	"github.com/xkilldash9x/realmprobe/api/schemas"
)

// DefaultHistogramBuckets is used when a caller does not size the histogram.
const DefaultHistogramBuckets = 8

// Mean returns the arithmetic mean of samples, 0 for an empty slice.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// StdDev returns the population standard deviation. Empty and single-sample
// inputs have zero spread by definition.
func StdDev(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	mean := Mean(samples)
	sumSq := 0.0
	for _, s := range samples {
		d := s - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// Min returns the smallest sample, 0 for an empty slice.
func Min(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	min := samples[0]
	for _, s := range samples[1:] {
		if s < min {
			min = s
		}
	}
	return min
}

// Max returns the largest sample, 0 for an empty slice.
func Max(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	max := samples[0]
	for _, s := range samples[1:] {
		if s > max {
			max = s
		}
	}
	return max
}

// Median returns the middle sample (mean of the two middle samples for even
// lengths), 0 for an empty slice. The input slice is not modified.
func Median(samples []float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Histogram buckets samples into `buckets` equal-width bins spanning
// [min, max]. Degenerate inputs (empty, or all samples equal) collapse to a
// single bin holding everything.
func Histogram(samples []float64, buckets int) []schemas.HistBin {
	if len(samples) == 0 {
		return nil
	}
	if buckets < 1 {
		buckets = DefaultHistogramBuckets
	}

	lo, hi := Min(samples), Max(samples)
	if lo == hi {
		return []schemas.HistBin{{Lo: lo, Hi: hi, Count: len(samples)}}
	}

	width := (hi - lo) / float64(buckets)
	bins := make([]schemas.HistBin, buckets)
	for i := range bins {
		bins[i].Lo = lo + float64(i)*width
		bins[i].Hi = bins[i].Lo + width
	}
	bins[buckets-1].Hi = hi

	for _, s := range samples {
		idx := int((s - lo) / width)
		if idx >= buckets {
			idx = buckets - 1 // max lands in the last bin
		}
		bins[idx].Count++
	}
	return bins
}

// Summarize computes the full Stats record for a sample series.
func Summarize(samples []float64) schemas.Stats {
	return schemas.Stats{
		Count:     len(samples),
		Mean:      Mean(samples),
		StdDev:    StdDev(samples),
		Min:       Min(samples),
		Max:       Max(samples),
		Median:    Median(samples),
		Histogram: Histogram(samples, DefaultHistogramBuckets),
	}
}

// Series wraps raw samples into a SampleSeries with derived stats and an
// ok status.
func Series(samples []float64) schemas.SampleSeries {
	return schemas.SampleSeries{
		Status:  schemas.StatusOK,
		Samples: samples,
		Stats:   Summarize(samples),
	}
}
