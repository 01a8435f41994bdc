package models

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when two arrays that must share a row/col
// shape do not.
var ErrShapeMismatch = errors.New("shape mismatch")

// Mask values written to the quality mask. Any other non-zero value is a
// bad-pixel cause taken from the input mask and copied through unchanged.
const (
	MaskGood      uint8 = 0
	MaskSaturated uint8 = 3
)

// Cube represents the raw detector readout of one exposure
type Cube struct {
	// Data holds every read with the time axis varying fastest:
	// Data[(row*Cols+col)*Samples + t]
	Data []float64

	// Rows and Cols are the detector dimensions in pixels
	Rows int
	Cols int

	// Samples is the number of reads per pixel
	Samples int
}

// NewCube allocates a zero-filled cube
func NewCube(rows, cols, samples int) *Cube {
	return &Cube{
		Data:    make([]float64, rows*cols*samples),
		Rows:    rows,
		Cols:    cols,
		Samples: samples,
	}
}

// NewCubeFromData wraps data laid out time-fastest. It fails when the length
// does not match the requested shape.
func NewCubeFromData(rows, cols, samples int, data []float64) (*Cube, error) {
	if rows < 0 || cols < 0 || samples < 0 {
		return nil, fmt.Errorf("invalid cube shape %dx%dx%d", rows, cols, samples)
	}
	if len(data) != rows*cols*samples {
		return nil, fmt.Errorf("%w: %d values for a %dx%dx%d cube", ErrShapeMismatch, len(data), rows, cols, samples)
	}
	return &Cube{Data: data, Rows: rows, Cols: cols, Samples: samples}, nil
}

// Pixel returns the read sequence of one pixel. The slice aliases the cube.
func (c *Cube) Pixel(row, col int) []float64 {
	start := (row*c.Cols + col) * c.Samples
	return c.Data[start : start+c.Samples : start+c.Samples]
}

// PixelAt returns the read sequence at a flattened row*Cols+col index
func (c *Cube) PixelAt(idx int) []float64 {
	start := idx * c.Samples
	return c.Data[start : start+c.Samples : start+c.Samples]
}

// Set stores one read
func (c *Cube) Set(row, col, t int, v float64) {
	c.Data[(row*c.Cols+col)*c.Samples+t] = v
}

// Plane copies read t of every pixel into a row-major slice
func (c *Cube) Plane(t int) []float64 {
	out := make([]float64, c.Rows*c.Cols)
	for i := range out {
		out[i] = c.Data[i*c.Samples+t]
	}
	return out
}

// NumPixels is Rows*Cols
func (c *Cube) NumPixels() int { return c.Rows * c.Cols }

// MaskImage is a per-pixel 8-bit mask (bad pixels in, quality flags out)
type MaskImage struct {
	Data []uint8
	Rows int
	Cols int
}

// NewMaskImage allocates a mask with every pixel set to MaskGood
func NewMaskImage(rows, cols int) *MaskImage {
	return &MaskImage{Data: make([]uint8, rows*cols), Rows: rows, Cols: cols}
}

// At returns the mask value of a pixel
func (m *MaskImage) At(row, col int) uint8 { return m.Data[row*m.Cols+col] }

// Set stores the mask value of a pixel
func (m *MaskImage) Set(row, col int, v uint8) { m.Data[row*m.Cols+col] = v }

// IntImage is a per-pixel integer map (sample counts, cosmic-ray indices)
type IntImage struct {
	Data []int32
	Rows int
	Cols int
}

// NewIntImage allocates a zero-filled integer map
func NewIntImage(rows, cols int) *IntImage {
	return &IntImage{Data: make([]int32, rows*cols), Rows: rows, Cols: cols}
}

// At returns the value of a pixel
func (m *IntImage) At(row, col int) int32 { return m.Data[row*m.Cols+col] }

// Set stores the value of a pixel
func (m *IntImage) Set(row, col int, v int32) { m.Data[row*m.Cols+col] = v }
