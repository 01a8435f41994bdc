// Package preprocess turns raw readout frames into reduced images. The
// READMODE header keyword selects the reduction: SINGLE frames pass through,
// CDS frames are differenced, FOWLER and RAMP frames are reduced pixel by
// pixel and receive VARIANCE, MAP, MASK (and for ramps CRMASK) extensions.
package preprocess

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"nirreduce/internal/models"
	"nirreduce/pkg/config"
	"nirreduce/pkg/detector"
	"nirreduce/pkg/fowler"
	"nirreduce/pkg/reduction"
)

var (
	// ErrNotRamp is returned when a ramp reduction gets another read mode
	ErrNotRamp = errors.New("frame is not in RAMP mode")

	// ErrNotFowler is returned when a Fowler reduction gets another read mode
	ErrNotFowler = errors.New("frame is not in FOWLER mode")

	// ErrMissingKeyword is returned when a header keyword needed by the
	// reduction is absent or malformed
	ErrMissingKeyword = errors.New("missing header keyword")

	// ErrNoData is returned for a frame without raw reads
	ErrNoData = errors.New("frame has no readout cube")

	// ErrNoHeader is returned for a frame without a primary header
	ErrNoHeader = errors.New("frame has no header")
)

// Extension names attached to reduced frames
const (
	ExtVariance = "VARIANCE"
	ExtMap      = "MAP"
	ExtMask     = "MASK"
	ExtCRMask   = "CRMASK"
)

// Preprocessor reduces frames according to their readout mode
type Preprocessor struct {
	Config *config.Config
	Driver *reduction.Driver
	Logger *zap.Logger

	// Detector overrides the detector built from Config when set
	Detector *detector.Detector

	// BadPixels is the input bad-pixel mask; nil marks every pixel good
	BadPixels *models.MaskImage
}

// New creates a preprocessor from a configuration
func New(cfg *config.Config, logger *zap.Logger) *Preprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preprocessor{
		Config: cfg,
		Driver: reduction.NewDriver(cfg.Processing.NumCores, cfg.Processing.ChunkSize, logger),
		Logger: logger,
	}
}

// Process reduces frame according to its READMODE. A frame already marked
// with READPROC is returned unchanged. The input frame is never modified.
func (p *Preprocessor) Process(ctx context.Context, frame *models.Frame) (*models.Frame, error) {
	if frame.Header == nil {
		return nil, ErrNoHeader
	}
	if frame.Processed() {
		p.Logger.Info("Frame already processed, skipping")
		return frame, nil
	}

	mode, err := models.ParseReadMode(frame.Header.String(models.KeyReadMode))
	if err != nil {
		return nil, err
	}

	switch mode {
	case models.ReadSingle:
		return p.Single(frame)
	case models.ReadCDS:
		return p.CDS(frame)
	case models.ReadFowler:
		return p.Fowler(ctx, frame)
	case models.ReadRamp:
		return p.Ramp(ctx, frame)
	}
	return nil, fmt.Errorf("%w: %s", models.ErrUnknownReadMode, mode)
}

// Single passes the first read through as the image
func (p *Preprocessor) Single(frame *models.Frame) (*models.Frame, error) {
	if frame.Cube == nil {
		return nil, ErrNoData
	}
	cube := frame.Cube
	out := p.reduced(frame)
	out.Image = mat.NewDense(cube.Rows, cube.Cols, cube.Plane(0))
	return out, nil
}

// CDS subtracts the first read from the second
func (p *Preprocessor) CDS(frame *models.Frame) (*models.Frame, error) {
	if frame.Cube == nil {
		return nil, ErrNoData
	}
	img, err := fowler.CDS(frame.Cube)
	if err != nil {
		return nil, err
	}
	out := p.reduced(frame)
	out.Image = img
	return out, nil
}

// Fowler averages paired read differences
func (p *Preprocessor) Fowler(ctx context.Context, frame *models.Frame) (*models.Frame, error) {
	if mode, _ := models.ParseReadMode(frame.Header.String(models.KeyReadMode)); mode != models.ReadFowler {
		return nil, ErrNotFowler
	}
	if frame.Cube == nil {
		return nil, ErrNoData
	}

	kernel := &reduction.FowlerKernel{
		Saturation: p.Config.Fowler.Saturation,
		Blank:      p.Config.Fowler.Blank,
	}
	res, err := p.Driver.Run(ctx, frame.Cube, p.BadPixels, kernel)
	if err != nil {
		return nil, fmt.Errorf("fowler reduction: %w", err)
	}

	out := p.reduced(frame)
	out.Image = res.Value
	out.Header.Set("SATURATE", p.Config.Fowler.Saturation, "saturation level used in reduction")
	out.Extensions = append(out.Extensions,
		models.Extension{Name: ExtVariance, Float: res.Variance},
		models.Extension{Name: ExtMap, Int: res.NMap},
		models.Extension{Name: ExtMask, Mask: res.Mask},
	)
	p.logSummary("fowler", res)
	return out, nil
}

// Ramp fits up-the-ramp reads. The time between reads is
// ELAPSED/(READSAMP-1); the fitted rates are scaled by ELAPSED and the
// variances by ELAPSED^2 so the image holds total accumulated counts.
func (p *Preprocessor) Ramp(ctx context.Context, frame *models.Frame) (*models.Frame, error) {
	if mode, _ := models.ParseReadMode(frame.Header.String(models.KeyReadMode)); mode != models.ReadRamp {
		return nil, ErrNotRamp
	}
	if frame.Cube == nil {
		return nil, ErrNoData
	}
	cube := frame.Cube

	elapsed, ok := frame.Header.Float(models.KeyElapsed)
	if !ok || elapsed <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingKeyword, models.KeyElapsed)
	}
	nsamples, ok := frame.Header.Int(models.KeyReadSamp)
	if !ok {
		nsamples = cube.Samples
	}
	if nsamples < 2 {
		return nil, fmt.Errorf("%w: %s must be at least 2, got %d", ErrMissingKeyword, models.KeyReadSamp, nsamples)
	}
	dt := elapsed / float64(nsamples-1)

	det := p.Detector
	if det == nil {
		d, err := p.Config.BuildDetector(cube.Rows, cube.Cols)
		if err != nil {
			return nil, err
		}
		det = d
	}

	kernel := &reduction.RampKernel{
		Detector:   det,
		DT:         dt,
		Saturation: p.Config.Ramp.Saturation,
		NSig:       p.Config.Ramp.NSig,
		Blank:      p.Config.Ramp.Blank,
	}
	p.Logger.Info("Fitting ramps",
		zap.Float64("elapsed", elapsed),
		zap.Int("readsamp", nsamples),
		zap.Float64("dt", dt),
		zap.Int("channels", len(det.Channels)))

	res, err := p.Driver.Run(ctx, cube, p.BadPixels, kernel)
	if err != nil {
		return nil, fmt.Errorf("ramp reduction: %w", err)
	}
	scaleMeasured(res, elapsed)

	out := p.reduced(frame)
	out.Image = res.Value
	out.Header.Set("NSIGMA", p.Config.Ramp.NSig, "glitch detection threshold")
	// channels may saturate at different levels: SATURATE holds the lowest
	// and SATMAX the highest when they differ
	satLo, satHi := kernel.SaturationRange()
	if satHi == satLo {
		out.Header.Set("SATURATE", satLo, "saturation level used in reduction")
	} else {
		out.Header.Set("SATURATE", satLo, "lowest channel saturation used in reduction")
		out.Header.Set("SATMAX", satHi, "highest channel saturation used in reduction")
	}
	out.Extensions = append(out.Extensions,
		models.Extension{Name: ExtVariance, Float: res.Variance},
		models.Extension{Name: ExtMap, Int: res.NMap},
		models.Extension{Name: ExtMask, Mask: res.Mask},
		models.Extension{Name: ExtCRMask, Int: res.CRMask},
	)
	p.logSummary("ramp", res)
	return out, nil
}

// scaleMeasured converts rates to totals for measured pixels; blank pixels
// keep the blank value
func scaleMeasured(res *models.Result, elapsed float64) {
	rows, cols := res.Value.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if res.Mask.At(r, c) != models.MaskGood {
				continue
			}
			res.Value.Set(r, c, res.Value.At(r, c)*elapsed)
			res.Variance.Set(r, c, res.Variance.At(r, c)*elapsed*elapsed)
		}
	}
}

// reduced starts the output frame: a copy of the header marked as processed
func (p *Preprocessor) reduced(frame *models.Frame) *models.Frame {
	hdr := frame.Header.Copy()
	hdr.Set(models.KeyReadProc, true, "readout mode processed")
	return &models.Frame{Header: hdr}
}

func (p *Preprocessor) logSummary(kernel string, res *models.Result) {
	s := Summarize(res)
	p.Logger.Info("Reduction finished",
		zap.String("kernel", kernel),
		zap.Int("good", s.Good),
		zap.Int("saturated", s.Saturated),
		zap.Int("bad", s.Bad),
		zap.Int("cosmicRays", s.CosmicRays))
}

// Summary counts pixels by outcome
type Summary struct {
	Good       int `yaml:"good"`
	Saturated  int `yaml:"saturated"`
	Bad        int `yaml:"bad"`
	CosmicRays int `yaml:"cosmicRays"`
}

// Summarize counts the pixels of a result by quality flag. CosmicRays counts
// pixels with a recorded glitch.
func Summarize(res *models.Result) Summary {
	var s Summary
	for _, m := range res.Mask.Data {
		switch m {
		case models.MaskGood:
			s.Good++
		case models.MaskSaturated:
			s.Saturated++
		default:
			s.Bad++
		}
	}
	if res.CRMask != nil {
		for _, v := range res.CRMask.Data {
			if v != 0 {
				s.CosmicRays++
			}
		}
	}
	return s
}
