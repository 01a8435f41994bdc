package reduction

import (
	"nirreduce/internal/models"
	"nirreduce/pkg/detector"
	"nirreduce/pkg/fowler"
	"nirreduce/pkg/ramp"
)

// Kernel reduces the reads of a single pixel. Implementations must be pure:
// the bundle may depend only on the pixel passed in.
type Kernel interface {
	// Name identifies the kernel in logs
	Name() string

	// Validate checks the number of reads per pixel before any pixel is
	// processed
	Validate(samples int) error

	// Reduce computes the output bundle of one pixel
	Reduce(px models.Pixel) (models.PixelBundle, error)

	// CosmicRays reports whether the kernel fills a cosmic-ray map
	CosmicRays() bool
}

// RampKernel fits up-the-ramp reads, taking gain, read noise and
// saturation from the detector channel of each pixel
type RampKernel struct {
	Detector *detector.Detector

	// DT is the time between reads
	DT float64

	// Saturation applies to channels that carry no saturation of their own
	Saturation float64

	NSig  float64
	Blank float64
}

// Name implements Kernel
func (k *RampKernel) Name() string { return "ramp" }

// CosmicRays implements Kernel
func (k *RampKernel) CosmicRays() bool { return true }

// Validate implements Kernel. Any number of reads is accepted; pixels with
// fewer than two usable reads are flagged, not rejected. The detector must
// have at least one valid channel.
func (k *RampKernel) Validate(samples int) error {
	if k.Detector == nil {
		return detector.ErrNoChannels
	}
	return k.Detector.Validate()
}

// SaturationOf returns the level applied to the pixels of ch
func (k *RampKernel) SaturationOf(ch detector.Channel) float64 {
	if ch.Saturation > 0 {
		return ch.Saturation
	}
	return k.Saturation
}

// SaturationRange returns the lowest and highest level applied over all
// channels of the detector
func (k *RampKernel) SaturationRange() (lo, hi float64) {
	for i, ch := range k.Detector.Channels {
		sat := k.SaturationOf(ch)
		if i == 0 || sat < lo {
			lo = sat
		}
		if i == 0 || sat > hi {
			hi = sat
		}
	}
	return lo, hi
}

// Reduce implements Kernel
func (k *RampKernel) Reduce(px models.Pixel) (models.PixelBundle, error) {
	ch := k.Detector.ChannelAt(px.Row, px.Col)
	r := ramp.Reducer{Params: ramp.Params{
		Saturation: k.SaturationOf(ch),
		DT:         k.DT,
		Gain:       ch.Gain,
		ReadNoise:  ch.ReadNoise,
		NSig:       k.NSig,
		Blank:      k.Blank,
	}}
	return r.Reduce(px.Samples, px.BadPix), nil
}

// FowlerKernel averages paired read differences
type FowlerKernel struct {
	Saturation float64
	Blank      float64
}

// Name implements Kernel
func (k *FowlerKernel) Name() string { return "fowler" }

// CosmicRays implements Kernel
func (k *FowlerKernel) CosmicRays() bool { return false }

// Validate implements Kernel
func (k *FowlerKernel) Validate(samples int) error {
	return fowler.CheckSamples(samples)
}

// Reduce implements Kernel
func (k *FowlerKernel) Reduce(px models.Pixel) (models.PixelBundle, error) {
	r := fowler.Reducer{Params: fowler.Params{Saturation: k.Saturation, Blank: k.Blank}}
	return r.Reduce(px.Samples, px.BadPix)
}
