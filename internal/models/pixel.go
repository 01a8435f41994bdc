package models

import (
	"gonum.org/v1/gonum/mat"
)

// Pixel is the input handed to a per-pixel kernel
type Pixel struct {
	// Row and Col locate the pixel on the detector
	Row int
	Col int

	// Samples is the read sequence of the pixel; kernels must not modify it
	Samples []float64

	// BadPix is the input bad-pixel flag (MaskGood when usable)
	BadPix uint8
}

// PixelBundle is the reduced output of one pixel
type PixelBundle struct {
	Value    float64
	Variance float64

	// Count is the number of reads (ramp) or pairs (Fowler) used
	Count int

	// Mask is the quality flag of the pixel
	Mask uint8

	// CR is the index of the first read after the first detected glitch,
	// valid only when HasCR is set
	CR    int
	HasCR bool
}

// Blank returns the bundle of a pixel that could not be measured
func Blank(blank float64, mask uint8) PixelBundle {
	return PixelBundle{Value: blank, Variance: blank, Mask: mask}
}

// Result holds the full-frame output maps of a reduction
type Result struct {
	Value    *mat.Dense
	Variance *mat.Dense

	// NMap is the number of reads or pairs used per pixel
	NMap *IntImage

	// Mask is the quality mask
	Mask *MaskImage

	// CRMask is the first glitch index per pixel; nil for kernels without
	// cosmic-ray detection
	CRMask *IntImage
}

// NewResult allocates zero-filled output maps for a rows x cols detector
func NewResult(rows, cols int, cosmicRays bool) *Result {
	res := &Result{
		Value:    mat.NewDense(rows, cols, nil),
		Variance: mat.NewDense(rows, cols, nil),
		NMap:     NewIntImage(rows, cols),
		Mask:     NewMaskImage(rows, cols),
	}
	if cosmicRays {
		res.CRMask = NewIntImage(rows, cols)
	}
	return res
}

// Put writes one pixel bundle into the output maps
func (r *Result) Put(row, col int, b PixelBundle) {
	r.Value.Set(row, col, b.Value)
	r.Variance.Set(row, col, b.Variance)
	r.NMap.Set(row, col, int32(b.Count))
	r.Mask.Set(row, col, b.Mask)
	if r.CRMask != nil && b.HasCR {
		r.CRMask.Set(row, col, int32(b.CR))
	}
}
