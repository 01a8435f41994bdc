// Package storage persists frames as FITS files and writes a YAML manifest
// describing each reduction.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"nirreduce/internal/models"
	"nirreduce/pkg/fits"
)

// DefaultFilename is used when neither a path nor a FILENAME card is given
const DefaultFilename = "file.fits"

// Manifest summarizes one reduction run
type Manifest struct {
	Input    string        `yaml:"input"`
	Output   string        `yaml:"output"`
	ReadMode string        `yaml:"readMode"`
	Rows     int           `yaml:"rows"`
	Cols     int           `yaml:"cols"`
	Samples  int           `yaml:"samples"`
	Duration time.Duration `yaml:"duration"`

	Pixels struct {
		Good       int `yaml:"good"`
		Saturated  int `yaml:"saturated"`
		Bad        int `yaml:"bad"`
		CosmicRays int `yaml:"cosmicRays"`
	} `yaml:"pixels"`

	Extensions []string `yaml:"extensions"`
}

// GenerateName returns the file name a frame is stored under by default
func GenerateName(frame *models.Frame) string {
	if name := frame.Header.String(models.KeyFilename); name != "" {
		return name
	}
	return DefaultFilename
}

// Store writes frame to where, or to GenerateName(frame) when where is
// empty, replacing existing files. It returns the path written.
func Store(frame *models.Frame, where string, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if where == "" {
		where = GenerateName(frame)
	}

	hdus, err := toHDUs(frame)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(where); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := fits.WriteFile(where, hdus); err != nil {
		return "", err
	}
	logger.Info("Stored frame", zap.String("path", where), zap.Int("hdus", len(hdus)))
	return where, nil
}

func toHDUs(frame *models.Frame) ([]*fits.HDU, error) {
	primary := &fits.HDU{Header: frame.Header.Copy()}
	switch {
	case frame.Image != nil:
		rows, cols := frame.Image.Dims()
		primary.Bitpix = -64
		primary.Naxis = []int{cols, rows}
		primary.Data = denseData(frame.Image)
	case frame.Cube != nil:
		c := frame.Cube
		primary.Bitpix = -64
		primary.Naxis = []int{c.Samples, c.Cols, c.Rows}
		primary.Data = c.Data
	default:
		return nil, fmt.Errorf("frame has neither image nor cube")
	}

	hdus := []*fits.HDU{primary}
	for _, ext := range frame.Extensions {
		hdr := models.NewHeader()
		hdr.Set("EXTNAME", ext.Name, "extension name")
		hdu := &fits.HDU{Header: hdr}
		switch {
		case ext.Float != nil:
			rows, cols := ext.Float.Dims()
			hdu.Bitpix, hdu.Naxis, hdu.Data = -64, []int{cols, rows}, denseData(ext.Float)
		case ext.Int != nil:
			hdu.Bitpix, hdu.Naxis = 32, []int{ext.Int.Cols, ext.Int.Rows}
			hdu.Data = make([]float64, len(ext.Int.Data))
			for i, v := range ext.Int.Data {
				hdu.Data[i] = float64(v)
			}
		case ext.Mask != nil:
			hdu.Bitpix, hdu.Naxis = 8, []int{ext.Mask.Cols, ext.Mask.Rows}
			hdu.Data = make([]float64, len(ext.Mask.Data))
			for i, v := range ext.Mask.Data {
				hdu.Data[i] = float64(v)
			}
		default:
			return nil, fmt.Errorf("extension %s has no data", ext.Name)
		}
		hdus = append(hdus, hdu)
	}
	return hdus, nil
}

// denseData returns the row-major values of m
func denseData(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		out = append(out, m.RawRowView(r)...)
	}
	return out
}

// LoadFrame reads a FITS file. A 3-D primary array becomes the readout
// cube (NAXIS1 = reads, NAXIS2 = cols, NAXIS3 = rows); a 2-D primary array
// becomes the image, or a single-read cube when the frame is unprocessed.
// IMAGE extensions are attached by EXTNAME.
func LoadFrame(path string) (*models.Frame, error) {
	hdus, err := fits.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(hdus) == 0 {
		return nil, fmt.Errorf("%s: no HDUs", path)
	}

	primary := hdus[0]
	frame := &models.Frame{Header: primary.Header}
	switch len(primary.Naxis) {
	case 3:
		n := primary.Naxis
		cube, err := models.NewCubeFromData(n[2], n[1], n[0], primary.Data)
		if err != nil {
			return nil, err
		}
		frame.Cube = cube
	case 2:
		n := primary.Naxis
		if frame.Processed() {
			frame.Image = mat.NewDense(n[1], n[0], primary.Data)
		} else {
			cube, err := models.NewCubeFromData(n[1], n[0], 1, primary.Data)
			if err != nil {
				return nil, err
			}
			frame.Cube = cube
		}
	default:
		return nil, fmt.Errorf("%s: primary array has %d axes, want 2 or 3", path, len(primary.Naxis))
	}

	for _, hdu := range hdus[1:] {
		if len(hdu.Naxis) != 2 {
			continue
		}
		rows, cols := hdu.Naxis[1], hdu.Naxis[0]
		ext := models.Extension{Name: hdu.Name()}
		switch hdu.Bitpix {
		case 8:
			ext.Mask = models.NewMaskImage(rows, cols)
			for i, v := range hdu.Data {
				ext.Mask.Data[i] = uint8(v)
			}
		case 16, 32:
			ext.Int = models.NewIntImage(rows, cols)
			for i, v := range hdu.Data {
				ext.Int.Data[i] = int32(v)
			}
		default:
			ext.Float = mat.NewDense(rows, cols, hdu.Data)
		}
		frame.Extensions = append(frame.Extensions, ext)
	}
	return frame, nil
}

// LoadMask reads a 2-D bad-pixel mask from the primary HDU of a FITS file
func LoadMask(path string) (*models.MaskImage, error) {
	hdus, err := fits.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(hdus) == 0 || len(hdus[0].Naxis) != 2 {
		return nil, fmt.Errorf("%s: bad pixel mask must be a 2-D primary image", path)
	}
	p := hdus[0]
	mask := models.NewMaskImage(p.Naxis[1], p.Naxis[0])
	for i, v := range p.Data {
		mask.Data[i] = uint8(v)
	}
	return mask, nil
}

// WriteManifest writes m as YAML to path
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("error marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing manifest: %w", err)
	}
	return nil
}

// ReadManifest reads a manifest written by WriteManifest
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("error parsing manifest: %w", err)
	}
	return m, nil
}
