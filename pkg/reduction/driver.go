// Package reduction applies a per-pixel kernel to every pixel of a readout
// cube and assembles the full-frame output maps.
//
// Pixels are independent: the flattened row x col index space is split into
// contiguous chunks and each chunk is reduced by one worker, which writes
// only the output positions of its own pixels. The result is identical for
// any worker count, chunk size or visiting order.
package reduction

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nirreduce/internal/models"
)

// DefaultChunkSize is the number of pixels per work unit
const DefaultChunkSize = 4096

// Driver runs a kernel over a cube
type Driver struct {
	// Workers is the maximum number of goroutines; <1 uses every CPU
	Workers int

	// ChunkSize is the number of pixels per work unit; <1 uses DefaultChunkSize
	ChunkSize int

	Logger *zap.Logger

	// reverse visits chunks and the pixels inside them last to first
	reverse bool
}

// NewDriver creates a driver
func NewDriver(workers, chunkSize int, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{Workers: workers, ChunkSize: chunkSize, Logger: logger}
}

type chunk struct {
	start, end int
}

func (d *Driver) chunks(n int) []chunk {
	size := d.ChunkSize
	if size < 1 {
		size = DefaultChunkSize
	}
	out := make([]chunk, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, chunk{start: start, end: end})
	}
	if d.reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// Run reduces every pixel of cube with kernel. badpix may be nil, in which
// case every pixel is treated as good. Shape problems and kernel
// validation errors are reported before any pixel is processed.
func (d *Driver) Run(ctx context.Context, cube *models.Cube, badpix *models.MaskImage, kernel Kernel) (*models.Result, error) {
	if cube == nil || cube.Rows < 1 || cube.Cols < 1 {
		return nil, fmt.Errorf("%w: empty cube", models.ErrShapeMismatch)
	}
	if badpix == nil {
		badpix = models.NewMaskImage(cube.Rows, cube.Cols)
	}
	if badpix.Rows != cube.Rows || badpix.Cols != cube.Cols {
		return nil, fmt.Errorf("%w: bad pixel mask is %dx%d, cube is %dx%d",
			models.ErrShapeMismatch, badpix.Rows, badpix.Cols, cube.Rows, cube.Cols)
	}
	if err := kernel.Validate(cube.Samples); err != nil {
		return nil, fmt.Errorf("%s kernel: %w", kernel.Name(), err)
	}

	workers := d.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	result := models.NewResult(cube.Rows, cube.Cols, kernel.CosmicRays())
	chunks := d.chunks(cube.NumPixels())

	logger.Debug("Reducing pixels",
		zap.String("kernel", kernel.Name()),
		zap.Int("rows", cube.Rows),
		zap.Int("cols", cube.Cols),
		zap.Int("samples", cube.Samples),
		zap.Int("workers", workers),
		zap.Int("chunks", len(chunks)))

	var done atomic.Int64
	step := int64(len(chunks)/10 + 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, c := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := d.reduceChunk(cube, badpix, kernel, result, c); err != nil {
				return err
			}
			if n := done.Add(1); n%step == 0 {
				logger.Debug("Reduction progress",
					zap.String("kernel", kernel.Name()),
					zap.Float64("percent", float64(n)/float64(len(chunks))*100))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

func (d *Driver) reduceChunk(cube *models.Cube, badpix *models.MaskImage, kernel Kernel, result *models.Result, c chunk) error {
	visit := func(idx int) error {
		row, col := idx/cube.Cols, idx%cube.Cols
		bundle, err := kernel.Reduce(models.Pixel{
			Row:     row,
			Col:     col,
			Samples: cube.PixelAt(idx),
			BadPix:  badpix.Data[idx],
		})
		if err != nil {
			return fmt.Errorf("pixel (%d, %d): %w", row, col, err)
		}
		result.Put(row, col, bundle)
		return nil
	}

	if d.reverse {
		for idx := c.end - 1; idx >= c.start; idx-- {
			if err := visit(idx); err != nil {
				return err
			}
		}
		return nil
	}
	for idx := c.start; idx < c.end; idx++ {
		if err := visit(idx); err != nil {
			return err
		}
	}
	return nil
}
