package ramp

import (
	"nirreduce/internal/models"
)

// Params holds the calibration constants and thresholds of a ramp fit
type Params struct {
	// Saturation is the ADU level at and above which reads are discarded
	Saturation float64

	// DT is the time between consecutive reads
	DT float64

	// Gain in e-/ADU and ReadNoise in ADU of the pixel's channel
	Gain      float64
	ReadNoise float64

	// NSig is the glitch detection threshold in sigmas
	NSig float64

	// Blank fills the value and variance of pixels that cannot be measured
	Blank float64
}

// Reducer turns the read sequence of one pixel into a flux rate
type Reducer struct {
	Params Params
}

// NewReducer creates a ramp reducer
func NewReducer(params Params) *Reducer {
	return &Reducer{Params: params}
}

// Reduce fits one pixel.
//
//  1. A pixel with a bad-pixel flag is blank and keeps its flag.
//  2. Reads at or above saturation are dropped.
//  3. One or no remaining read marks the pixel as saturated.
//  4. Otherwise the reads are segmented at glitches, every interval with
//     at least two reads is fitted and the fits are combined by
//     inverse-variance weighting. The first glitch index, if any, is
//     reported as the cosmic-ray flag.
func (r *Reducer) Reduce(samples []float64, badpix uint8) models.PixelBundle {
	p := r.Params
	if badpix != models.MaskGood {
		return models.Blank(p.Blank, badpix)
	}

	mm := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s < p.Saturation {
			mm = append(mm, s)
		}
	}
	if len(mm) <= 1 {
		return models.Blank(p.Blank, models.MaskSaturated)
	}

	intervals, glitches := Segment(mm, p.Gain, p.ReadNoise, p.NSig)

	estimates := make([]Estimate, 0, len(intervals))
	for _, iv := range intervals {
		est, err := Slope(mm[iv.Start:iv.End], p.DT, p.Gain, p.ReadNoise)
		if err != nil {
			// single-read intervals carry no slope
			continue
		}
		estimates = append(estimates, est)
	}

	var out models.PixelBundle
	if len(estimates) == 0 {
		out = models.Blank(p.Blank, models.MaskSaturated)
	} else {
		out.Value, out.Variance, out.Count = Combine(estimates)
		out.Mask = models.MaskGood
	}
	if len(glitches) > 0 {
		out.CR = glitches[0]
		out.HasCR = true
	}
	return out
}
