// Package ramp fits up-the-ramp reads of a single pixel: it splits the read
// sequence at glitches (cosmic-ray hits), estimates a slope for every clean
// interval and combines the interval slopes into one flux rate.
package ramp

import (
	"math"
	"sort"
)

// DefaultNSig is the default glitch detection threshold in sigmas
const DefaultNSig = 4.0

// Interval is a half-open range [Start, End) of reads without glitches
type Interval struct {
	Start int
	End   int
}

// Len returns the number of reads in the interval
func (iv Interval) Len() int { return iv.End - iv.Start }

// Segment splits a read sequence into clean intervals.
//
// The expected spread of a single read-to-read difference follows a
// Poisson plus read-noise model around the median difference:
//
//	sigma = sqrt(|median/gain| + 2*ron^2)
//
// A difference outside median +/- nsig*sigma marks a glitch between reads
// i and i+1. The current interval is closed at i+1 and i+1 is recorded as
// the glitch index. The returned intervals cover the whole sequence in
// order, without gaps or overlaps.
func Segment(samples []float64, gain, ron, nsig float64) ([]Interval, []int) {
	n := len(samples)
	if n < 2 {
		return []Interval{{Start: 0, End: n}}, nil
	}

	diffs := make([]float64, n-1)
	for i := range diffs {
		diffs[i] = samples[i+1] - samples[i]
	}

	med := median(diffs)
	sigma := math.Sqrt(math.Abs(med/gain) + 2*ron*ron)
	lo := med - nsig*sigma
	hi := med + nsig*sigma

	var intervals []Interval
	var glitches []int
	start := 0
	for i, d := range diffs {
		if d < lo || d > hi {
			intervals = append(intervals, Interval{Start: start, End: i + 1})
			start = i + 1
			glitches = append(glitches, start)
		}
	}
	intervals = append(intervals, Interval{Start: start, End: n})

	return intervals, glitches
}

// median calculates the median value of a slice of float64 values.
// Even-length input averages the two middle values.
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	// Sort a copy, the caller's slice stays untouched
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
