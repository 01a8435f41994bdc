package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"nirreduce/internal/models"
)

// Viewer renders planes of a readout cube as grayscale images. Values are
// stretched linearly between the cube minimum and maximum.
type Viewer struct {
	// cube holds the raw reads
	cube *models.Cube

	// lo and hi bound the display stretch
	lo float64
	hi float64
}

// NewViewer creates a viewer for a cube
func NewViewer(cube *models.Cube) *Viewer {
	v := &Viewer{cube: cube}
	if len(cube.Data) > 0 {
		v.lo = floats.Min(cube.Data)
		v.hi = floats.Max(cube.Data)
	}
	return v
}

// SetStretch overrides the display range
func (v *Viewer) SetStretch(lo, hi float64) {
	v.lo, v.hi = lo, hi
}

func (v *Viewer) gray(val float64) color.Gray16 {
	span := v.hi - v.lo
	if span <= 0 {
		return color.Gray16{}
	}
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, (val-v.lo)/span*65535)))}
}

// ExtractSlice extracts a 2D plane from the cube along the specified axis:
//   - "t": read number position, image is cols x rows
//   - "row": detector row position, image is reads x cols
//   - "col": detector column position, image is reads x rows
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	c := v.cube

	var img *image.Gray16
	switch axis {
	case "t", "T":
		if position >= c.Samples {
			return nil, fmt.Errorf("position %d exceeds reads %d", position, c.Samples)
		}
		img = image.NewGray16(image.Rect(0, 0, c.Cols, c.Rows))
		for row := 0; row < c.Rows; row++ {
			for col := 0; col < c.Cols; col++ {
				img.SetGray16(col, row, v.gray(c.Pixel(row, col)[position]))
			}
		}

	case "row":
		if position >= c.Rows {
			return nil, fmt.Errorf("position %d exceeds rows %d", position, c.Rows)
		}
		img = image.NewGray16(image.Rect(0, 0, c.Samples, c.Cols))
		for col := 0; col < c.Cols; col++ {
			for t, s := range c.Pixel(position, col) {
				img.SetGray16(t, col, v.gray(s))
			}
		}

	case "col":
		if position >= c.Cols {
			return nil, fmt.Errorf("position %d exceeds cols %d", position, c.Cols)
		}
		img = image.NewGray16(image.Rect(0, 0, c.Samples, c.Rows))
		for row := 0; row < c.Rows; row++ {
			for t, s := range c.Pixel(row, position) {
				img.SetGray16(t, row, v.gray(s))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be t, row, or col)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveReadSequence writes every read of the cube as read_NNN.jpg in outputDir
func (v *Viewer) SaveReadSequence(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for t := 0; t < v.cube.Samples; t++ {
		img, err := v.ExtractSlice("t", t)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("read_%03d.jpg", t))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
