package ramp

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrTooFewSamples is returned when a slope is requested from fewer than
// two reads
var ErrTooFewSamples = errors.New("two points needed to compute the slope")

// Estimate is the slope fitted to one clean interval
type Estimate struct {
	// Rate is the accumulation rate in ADU per unit time
	Rate float64

	// Variance combines the read-noise and photon-noise terms
	Variance float64

	// N is the number of reads in the interval
	N int
}

// Slope fits a rate to uniformly spaced reads using the closed-form
// weighted estimator for a linear ramp.
//
// With n reads the weights are w[k] = (k+1) - (n+1)/2 and
//
//	delt = dt*n*(n+1)*(n-1)/12
//	rate = sum(w[k]*x[k]) / delt
//
// The variance is the sum of the read-noise limited term
// (ron/gain)^2/(dt*delt) and the photon limited term
// 6*rate*(n^2+1) / (5*n*dt*(n^2-1)*gain).
func Slope(samples []float64, dt, gain, ron float64) (Estimate, error) {
	n := len(samples)
	if n < 2 {
		return Estimate{}, fmt.Errorf("%w: got %d", ErrTooFewSamples, n)
	}

	nn := float64(n)
	delt := dt * nn * (nn + 1) * (nn - 1) / 12

	weights := make([]float64, n)
	for k := range weights {
		weights[k] = float64(k+1) - (nn+1)/2
	}
	rate := floats.Dot(weights, samples) / delt

	// Readout limited case
	varRead := (ron / gain) * (ron / gain) / (dt * delt)
	// Photon limited case
	varPhoton := 6 * rate * (nn*nn + 1) / (5 * nn * dt * (nn*nn - 1) * gain)

	return Estimate{Rate: rate, Variance: varRead + varPhoton, N: n}, nil
}

// Combine merges interval estimates by inverse-variance weighting.
// It returns the weighted rate, the variance 1/sum(1/var_i) and the total
// number of reads. Combine panics on an empty slice.
func Combine(estimates []Estimate) (rate, variance float64, count int) {
	rates := make([]float64, len(estimates))
	weights := make([]float64, len(estimates))
	for i, e := range estimates {
		rates[i] = e.Rate
		weights[i] = 1 / e.Variance
		count += e.N
	}
	rate = stat.Mean(rates, weights)
	variance = 1 / floats.Sum(weights)
	return rate, variance, count
}
