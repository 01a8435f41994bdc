// Package fowler reduces paired-sample readouts: Fowler sampling, where the
// first half of the reads is subtracted from the second half, and
// correlated double sampling with exactly two reads.
package fowler

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"nirreduce/internal/models"
)

// ErrOddSamples is returned when the reads cannot be split in two halves
var ErrOddSamples = errors.New("number of samples must be an even number")

// ErrNotCDS is returned when a CDS reduction gets other than two reads
var ErrNotCDS = errors.New("CDS frames need exactly two reads")

// Params holds the thresholds of a Fowler reduction
type Params struct {
	// Saturation is the ADU level at and above which a pair is discarded
	Saturation float64

	// Blank fills the value and variance of pixels that cannot be measured
	Blank float64
}

// Reducer applies Fowler processing to the reads of one pixel
type Reducer struct {
	Params Params
}

// NewReducer creates a Fowler reducer
func NewReducer(params Params) *Reducer {
	return &Reducer{Params: params}
}

// CheckSamples fails when n reads cannot form matching halves
func CheckSamples(n int) error {
	if n%2 != 0 {
		return fmt.Errorf("%w: got %d", ErrOddSamples, n)
	}
	return nil
}

// Reduce pairs read k of the first half with read k of the second half,
// keeps the pairs where both reads are below saturation and averages their
// differences. The variance is the standard error of the mean and is left
// blank when only one pair survives.
func (r *Reducer) Reduce(samples []float64, badpix uint8) (models.PixelBundle, error) {
	if err := CheckSamples(len(samples)); err != nil {
		return models.PixelBundle{}, err
	}
	p := r.Params
	if badpix != models.MaskGood {
		return models.Blank(p.Blank, badpix), nil
	}

	h := len(samples) / 2
	diffs := make([]float64, 0, h)
	for k := 0; k < h; k++ {
		a, b := samples[k], samples[h+k]
		if a < p.Saturation && b < p.Saturation {
			diffs = append(diffs, b-a)
		}
	}

	npix := len(diffs)
	switch npix {
	case 0:
		return models.Blank(p.Blank, models.MaskSaturated), nil
	case 1:
		return models.PixelBundle{
			Value:    diffs[0],
			Variance: p.Blank,
			Count:    1,
			Mask:     models.MaskGood,
		}, nil
	}

	mean, variance := stat.MeanVariance(diffs, nil)
	return models.PixelBundle{
		Value:    mean,
		Variance: variance / float64(npix),
		Count:    npix,
		Mask:     models.MaskGood,
	}, nil
}

// CDS subtracts the first read from the second for every pixel
func CDS(cube *models.Cube) (*mat.Dense, error) {
	if cube.Samples != 2 {
		return nil, fmt.Errorf("%w: got %d", ErrNotCDS, cube.Samples)
	}
	out := mat.NewDense(cube.Rows, cube.Cols, nil)
	for row := 0; row < cube.Rows; row++ {
		for col := 0; col < cube.Cols; col++ {
			px := cube.Pixel(row, col)
			out.Set(row, col, px[1]-px[0])
		}
	}
	return out, nil
}
