package visualization

import (
	"fmt"
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"nirreduce/internal/models"
)

// nanColor marks pixels without a measurement
var nanColor = color.Gray{Y: 200}

// grid adapts a dense matrix to plotter.GridXYZ: X is the column, Y the row
type grid struct {
	m *mat.Dense
}

func (g grid) Dims() (c, r int)   { r, c = g.m.Dims(); return c, r }
func (g grid) Z(c, r int) float64 { return g.m.At(r, c) }
func (g grid) X(c int) float64    { return float64(c) }
func (g grid) Y(r int) float64    { return float64(r) }

// Quicklook builds a heat map of values. Pixels whose mask is not good are
// drawn as NaN. The color range spans the 1st to 99th percentile of the
// remaining values.
func Quicklook(title string, values *mat.Dense, mask *models.MaskImage) (*plot.Plot, error) {
	rows, cols := values.Dims()
	if mask != nil && (mask.Rows != rows || mask.Cols != cols) {
		return nil, fmt.Errorf("%w: mask is %dx%d, values are %dx%d", models.ErrShapeMismatch, mask.Rows, mask.Cols, rows, cols)
	}

	shown := mat.NewDense(rows, cols, nil)
	var valid []float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := values.At(r, c)
			if mask != nil && mask.At(r, c) != models.MaskGood {
				v = math.NaN()
			}
			shown.Set(r, c, v)
			if !math.IsNaN(v) {
				valid = append(valid, v)
			}
		}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Column"
	p.Y.Label.Text = "Row"

	hm := plotter.NewHeatMap(grid{m: shown}, palette.Heat(64, 1))
	hm.NaN = nanColor
	if len(valid) > 0 {
		sort.Float64s(valid)
		hm.Min = valid[len(valid)/100]
		hm.Max = valid[len(valid)-1-len(valid)/100]
	} else {
		hm.Min, hm.Max = 0, 1
	}
	if hm.Min == hm.Max {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	p.X.Min, p.X.Max = -0.5, float64(cols)-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(rows)-0.5
	return p, nil
}

// MaskQuicklook builds a heat map of a quality mask
func MaskQuicklook(title string, mask *models.MaskImage) (*plot.Plot, error) {
	values := mat.NewDense(mask.Rows, mask.Cols, nil)
	for r := 0; r < mask.Rows; r++ {
		for c := 0; c < mask.Cols; c++ {
			values.Set(r, c, float64(mask.At(r, c)))
		}
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Column"
	p.Y.Label.Text = "Row"

	hm := plotter.NewHeatMap(grid{m: values}, palette.Rainbow(8, palette.Blue, palette.Red, 1, 1, 1))
	hm.Min, hm.Max = 0, 7
	p.Add(hm)
	return p, nil
}

// SaveHeatmap renders a value map as a PNG file
func SaveHeatmap(path, title string, values *mat.Dense, mask *models.MaskImage) error {
	p, err := Quicklook(title, values, mask)
	if err != nil {
		return err
	}
	return save(p, path)
}

// SaveMaskMap renders a quality mask as a PNG file
func SaveMaskMap(path, title string, mask *models.MaskImage) error {
	p, err := MaskQuicklook(title, mask)
	if err != nil {
		return err
	}
	return save(p, path)
}

func save(p *plot.Plot, path string) error {
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save quicklook %s: %w", path, err)
	}
	return nil
}
