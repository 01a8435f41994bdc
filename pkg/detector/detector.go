// Package detector describes the readout channels of an infrared array and
// the calibration constants (gain, read noise, saturation) attached to each.
package detector

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrNoChannels is returned by Validate for a detector without channels
var ErrNoChannels = errors.New("detector has no channels")

// Region is a half-open rectangle of pixels [Row0,Row1) x [Col0,Col1)
type Region struct {
	Row0, Row1 int
	Col0, Col1 int
}

// Contains reports whether a pixel lies in the region
func (r Region) Contains(row, col int) bool {
	return row >= r.Row0 && row < r.Row1 && col >= r.Col0 && col < r.Col1
}

func (r Region) overlaps(o Region) bool {
	return r.Row0 < o.Row1 && o.Row0 < r.Row1 && r.Col0 < o.Col1 && o.Col0 < r.Col1
}

// Channel is one readout amplifier and the pixels it serves
type Channel struct {
	Region Region

	// Gain is in e-/ADU
	Gain float64

	// ReadNoise is in ADU
	ReadNoise float64

	// Pedestal and WellDepth are in ADU; they are carried for reference and
	// not used by the ramp fit
	Pedestal  float64
	WellDepth float64

	// Saturation is the ADU level above which reads are not trusted
	Saturation float64
}

// Detector is the channel layout of an array
type Detector struct {
	Rows     int
	Cols     int
	Channels []Channel
}

// ChannelAt returns the channel serving a pixel. Pixels outside every
// channel use the first channel.
func (d *Detector) ChannelAt(row, col int) Channel {
	for _, ch := range d.Channels {
		if ch.Region.Contains(row, col) {
			return ch
		}
	}
	return d.Channels[0]
}

// Validate checks every channel and collects all problems
func (d *Detector) Validate() error {
	if len(d.Channels) == 0 {
		return ErrNoChannels
	}
	var err error
	full := Region{Row0: 0, Row1: d.Rows, Col0: 0, Col1: d.Cols}
	for i, ch := range d.Channels {
		r := ch.Region
		if r.Row0 < full.Row0 || r.Row1 > full.Row1 || r.Col0 < full.Col0 || r.Col1 > full.Col1 || r.Row0 >= r.Row1 || r.Col0 >= r.Col1 {
			err = multierr.Append(err, fmt.Errorf("channel %d: region %+v outside %dx%d array", i, r, d.Rows, d.Cols))
		}
		if ch.Gain <= 0 {
			err = multierr.Append(err, fmt.Errorf("channel %d: gain must be positive, got %g", i, ch.Gain))
		}
		if ch.ReadNoise < 0 {
			err = multierr.Append(err, fmt.Errorf("channel %d: read noise must not be negative, got %g", i, ch.ReadNoise))
		}
		for j := i + 1; j < len(d.Channels); j++ {
			if r.overlaps(d.Channels[j].Region) {
				err = multierr.Append(err, fmt.Errorf("channels %d and %d overlap", i, j))
			}
		}
	}
	return err
}

// Uniform builds a single-channel detector covering the whole array
func Uniform(rows, cols int, gain, ron, saturation float64) *Detector {
	return &Detector{
		Rows: rows,
		Cols: cols,
		Channels: []Channel{{
			Region:     Region{Row0: 0, Row1: rows, Col0: 0, Col1: cols},
			Gain:       gain,
			ReadNoise:  ron,
			Saturation: saturation,
		}},
	}
}

// ArraySize is the side of the EMIR Hawaii-2 array
const ArraySize = 2048

// EMIRSingle is the one-channel model of the EMIR detector
func EMIRSingle() *Detector {
	return &Detector{
		Rows: ArraySize,
		Cols: ArraySize,
		Channels: []Channel{{
			Region:     Region{Row0: 0, Row1: ArraySize, Col0: 0, Col1: ArraySize},
			Gain:       3.02,
			ReadNoise:  2.1,
			Pedestal:   5362,
			WellDepth:  55292,
			Saturation: 57000,
		}},
	}
}

// EMIRQuadrants is the four-channel model of the EMIR detector, one
// amplifier per quadrant
func EMIRQuadrants() *Detector {
	const h = ArraySize / 2
	regions := []Region{
		{Row0: 0, Row1: h, Col0: 0, Col1: h},
		{Row0: 0, Row1: h, Col0: h, Col1: ArraySize},
		{Row0: h, Row1: ArraySize, Col0: 0, Col1: h},
		{Row0: h, Row1: ArraySize, Col0: h, Col1: ArraySize},
	}
	gain := []float64{3.02, 2.98, 3.00, 2.91}
	ron := []float64{2.1, 1.9, 1.9, 2.2}
	wdepth := []float64{55292, 56000, 56000, 56000}
	saturation := []float64{57292, 57000, 57000, 57000}

	d := &Detector{Rows: ArraySize, Cols: ArraySize}
	for i, r := range regions {
		d.Channels = append(d.Channels, Channel{
			Region:     r,
			Gain:       gain[i],
			ReadNoise:  ron[i],
			Pedestal:   5362,
			WellDepth:  wdepth[i],
			Saturation: saturation[i],
		})
	}
	return d
}

// EMIR32 is the 32-amplifier model of the EMIR detector. Each quadrant is
// read by eight amplifiers serving 128-column strips of its 1024 rows;
// channels are numbered quadrant by quadrant (lower left, lower right, upper
// left, upper right) and left to right inside a quadrant.
func EMIR32() *Detector {
	const (
		h     = ArraySize / 2
		strip = h / 8
	)
	// ADU
	ron := []float64{
		2.03, 1.98, 1.96, 1.95, 1.99, 1.95, 1.97, 1.95,
		1.94, 1.96, 1.94, 1.92, 2.03, 1.93, 1.96, 1.98,
		2.01, 1.99, 1.97, 1.98, 1.99, 1.97, 1.97, 2.00,
		2.02, 2.02, 2.05, 1.98, 2.00, 2.02, 2.01, 2.03,
	}
	// e-/ADU
	gain := []float64{
		3.08, 2.90, 2.68, 3.12, 2.63, 3.10, 3.00, 3.02,
		3.18, 3.11, 3.09, 3.19, 3.11, 2.99, 2.60, 3.02,
		2.99, 3.16, 3.18, 3.11, 3.17, 3.07, 3.12, 3.02,
		2.92, 3.07, 2.90, 2.91, 2.95, 3.00, 3.01, 3.01,
	}
	// ADU per amplifier
	wdepth := []float64{
		42353.1, 42148.3, 42125.5, 42057.9, 41914.1, 42080.2, 42350.3, 41830.3,
		41905.3, 42027.9, 41589.5, 41712.7, 41404.9, 41068.5, 40384.9, 40128.1,
		41401.4, 41696.5, 41461.1, 41233.2, 41351.0, 41803.7, 41450.2, 41306.2,
		41609.4, 41414.1, 41324.5, 41691.1, 41360.0, 41551.2, 41618.6, 41553.5,
	}

	d := &Detector{Rows: ArraySize, Cols: ArraySize}
	for i := range gain {
		q, k := i/8, i%8
		row0, col0 := (q/2)*h, (q%2)*h
		d.Channels = append(d.Channels, Channel{
			Region:     Region{Row0: row0, Row1: row0 + h, Col0: col0 + k*strip, Col1: col0 + (k+1)*strip},
			Gain:       gain[i],
			ReadNoise:  ron[i],
			Pedestal:   5362,
			WellDepth:  wdepth[i],
			Saturation: 57000,
		})
	}
	return d
}

// Preset returns a named detector model
func Preset(name string) (*Detector, error) {
	switch name {
	case "emir-1":
		return EMIRSingle(), nil
	case "emir-4":
		return EMIRQuadrants(), nil
	case "emir-32":
		return EMIR32(), nil
	}
	return nil, fmt.Errorf("unknown detector preset %q", name)
}
