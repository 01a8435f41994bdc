package reduction

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"nirreduce/internal/models"
	"nirreduce/pkg/detector"
	"nirreduce/pkg/fowler"
	"nirreduce/pkg/ramp"
)

// randomCube builds ramps with noise, occasional jumps, saturation and a
// few bad pixels
func randomCube(rows, cols, samples int, seed int64) (*models.Cube, *models.MaskImage) {
	rng := rand.New(rand.NewSource(seed))
	cube := models.NewCube(rows, cols, samples)
	mask := models.NewMaskImage(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			level := 1000 + rng.Float64()*500
			rate := 50 + rng.Float64()*3000
			for t := 0; t < samples; t++ {
				level += rate + rng.NormFloat64()*3
				if rng.Float64() < 0.03 {
					level += 2000
				}
				cube.Set(r, c, t, math.Min(level, 65535))
			}
			if rng.Float64() < 0.02 {
				mask.Set(r, c, uint8(1+rng.Intn(5)))
			}
		}
	}
	return cube, mask
}

func rampKernel(rows, cols int) *RampKernel {
	return &RampKernel{
		Detector:   detector.Uniform(rows, cols, 3.0, 2.0, 60000),
		DT:         1.0,
		Saturation: 60000,
		NSig:       ramp.DefaultNSig,
	}
}

// resultsEqual compares two results bit for bit (NaN equal to NaN)
func resultsEqual(t *testing.T, a, b *models.Result) {
	t.Helper()
	bits := cmp.Comparer(func(x, y float64) bool { return math.Float64bits(x) == math.Float64bits(y) })
	if diff := cmp.Diff(a.Value.RawMatrix().Data, b.Value.RawMatrix().Data, bits); diff != "" {
		t.Errorf("Value maps differ (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.Variance.RawMatrix().Data, b.Variance.RawMatrix().Data, bits); diff != "" {
		t.Errorf("Variance maps differ (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.NMap, b.NMap); diff != "" {
		t.Errorf("Sample count maps differ (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.Mask, b.Mask); diff != "" {
		t.Errorf("Masks differ (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.CRMask, b.CRMask); diff != "" {
		t.Errorf("Cosmic-ray masks differ (-a +b):\n%s", diff)
	}
}

// TestRunDeterministic verifies that worker count, chunk size and visiting
// order do not change the output
func TestRunDeterministic(t *testing.T) {
	cube, mask := randomCube(37, 23, 12, 1)
	kernel := rampKernel(cube.Rows, cube.Cols)
	ctx := context.Background()

	serial := &Driver{Workers: 1, ChunkSize: cube.NumPixels()}
	want, err := serial.Run(ctx, cube, mask, kernel)
	if err != nil {
		t.Fatalf("Serial run failed: %v", err)
	}

	drivers := map[string]*Driver{
		"parallel":         {Workers: 8, ChunkSize: 17},
		"reversed":         {Workers: 1, ChunkSize: 5, reverse: true},
		"parallel reverse": {Workers: 4, ChunkSize: 64, reverse: true},
		"defaults":         NewDriver(0, 0, zap.NewNop()),
	}
	for name, d := range drivers {
		t.Run(name, func(t *testing.T) {
			got, err := d.Run(ctx, cube, mask, kernel)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			resultsEqual(t, want, got)
		})
	}
}

// TestRunMatchesKernel verifies that every output position holds the
// bundle of its own pixel
func TestRunMatchesKernel(t *testing.T) {
	cube, mask := randomCube(9, 11, 8, 2)
	kernel := rampKernel(cube.Rows, cube.Cols)

	res, err := NewDriver(3, 7, nil).Run(context.Background(), cube, mask, kernel)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for r := 0; r < cube.Rows; r++ {
		for c := 0; c < cube.Cols; c++ {
			b, _ := kernel.Reduce(models.Pixel{Row: r, Col: c, Samples: cube.Pixel(r, c), BadPix: mask.At(r, c)})
			if res.Value.At(r, c) != b.Value || res.Mask.At(r, c) != b.Mask || int(res.NMap.At(r, c)) != b.Count {
				t.Fatalf("Pixel (%d,%d) mismatch: %+v", r, c, b)
			}
			if mask.At(r, c) != models.MaskGood && res.Mask.At(r, c) != mask.At(r, c) {
				t.Errorf("Pixel (%d,%d): bad pixel flag %d not propagated", r, c, mask.At(r, c))
			}
		}
	}
}

// TestRunEndToEnd reduces three pixels of six reads, one with a jump
func TestRunEndToEnd(t *testing.T) {
	cube, err := models.NewCubeFromData(3, 1, 6, []float64{
		100, 110, 120, 130, 140, 150,
		200, 210, 220, 1230, 1240, 1250,
		300, 320, 340, 360, 380, 400,
	})
	if err != nil {
		t.Fatalf("Failed to create cube: %v", err)
	}
	kernel := &RampKernel{
		Detector:   detector.Uniform(3, 1, 3.0, 2.0, 60000),
		DT:         1.0,
		Saturation: 60000,
		NSig:       4.0,
	}

	res, err := NewDriver(2, 1, nil).Run(context.Background(), cube, nil, kernel)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	glitched := cube.Pixel(1, 0)
	intervals, glitches := ramp.Segment(glitched, 3.0, 2.0, 4.0)
	if len(intervals) != 2 {
		t.Fatalf("Expected two clean intervals, got %v", intervals)
	}
	if diff := cmp.Diff([]int{3}, glitches); diff != "" {
		t.Errorf("Unexpected glitches (-want +got):\n%s", diff)
	}

	if got := res.CRMask.At(1, 0); got != 3 {
		t.Errorf("Expected cosmic-ray flag 3, got %d", got)
	}
	for _, r := range []int{0, 2} {
		if got := res.CRMask.At(r, 0); got != 0 {
			t.Errorf("Row %d: expected no cosmic ray, got %d", r, got)
		}
	}

	naive, _ := ramp.Slope(glitched, 1.0, 3.0, 2.0)
	if res.Value.At(1, 0) == naive.Rate || res.Variance.At(1, 0) == naive.Variance {
		t.Errorf("Combined fit should differ from the single-interval fit %+v", naive)
	}
	if math.Abs(res.Value.At(1, 0)-10) > 1e-9 {
		t.Errorf("Expected rate 10 across the jump, got %f", res.Value.At(1, 0))
	}
	if math.Abs(res.Value.At(2, 0)-20) > 1e-9 {
		t.Errorf("Expected rate 20, got %f", res.Value.At(2, 0))
	}
	for r := 0; r < 3; r++ {
		if res.NMap.At(r, 0) != 6 || res.Mask.At(r, 0) != models.MaskGood {
			t.Errorf("Row %d: expected 6 good reads, got count %d mask %d", r, res.NMap.At(r, 0), res.Mask.At(r, 0))
		}
	}
}

// TestRunFowler verifies the Fowler kernel through the driver
func TestRunFowler(t *testing.T) {
	cube, err := models.NewCubeFromData(1, 2, 6, []float64{
		2, 3, 100000, 5, 7, 100001,
		10, 10, 10, 12, 14, 16,
	})
	if err != nil {
		t.Fatalf("Failed to create cube: %v", err)
	}

	res, err := NewDriver(1, 0, nil).Run(context.Background(), cube, nil, &FowlerKernel{Saturation: 65536})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.CRMask != nil {
		t.Errorf("Fowler results should not carry a cosmic-ray map")
	}
	want := mat.NewDense(1, 2, []float64{3.5, 4})
	if !mat.EqualApprox(res.Value, want, 1e-12) {
		t.Errorf("Unexpected values %v", mat.Formatted(res.Value))
	}
	if res.Variance.At(0, 0) != 0.25 {
		t.Errorf("Expected variance 0.25, got %f", res.Variance.At(0, 0))
	}
	if res.NMap.At(0, 0) != 2 || res.NMap.At(0, 1) != 3 {
		t.Errorf("Unexpected counts %v", res.NMap.Data)
	}
}

// TestRunValidation verifies errors raised before any pixel is processed
func TestRunValidation(t *testing.T) {
	ctx := context.Background()
	d := NewDriver(2, 0, nil)

	_, err := d.Run(ctx, models.NewCube(2, 2, 5), nil, &FowlerKernel{Saturation: 65536})
	if !errors.Is(err, fowler.ErrOddSamples) {
		t.Errorf("Expected ErrOddSamples, got %v", err)
	}

	_, err = d.Run(ctx, models.NewCube(2, 2, 4), models.NewMaskImage(3, 2), rampKernel(2, 2))
	if !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	_, err = d.Run(ctx, models.NewCube(0, 2, 4), nil, rampKernel(2, 2))
	if !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for empty cube, got %v", err)
	}
}

// TestRunCancelled verifies that a cancelled context stops the run
func TestRunCancelled(t *testing.T) {
	cube, mask := randomCube(10, 10, 4, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDriver(2, 10, nil).Run(ctx, cube, mask, rampKernel(10, 10))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// TestRampKernelChannels verifies that each pixel uses its own channel
func TestRampKernelChannels(t *testing.T) {
	det := &detector.Detector{
		Rows: 1,
		Cols: 2,
		Channels: []detector.Channel{
			{Region: detector.Region{Row0: 0, Row1: 1, Col0: 0, Col1: 1}, Gain: 3, ReadNoise: 2, Saturation: 1000},
			{Region: detector.Region{Row0: 0, Row1: 1, Col0: 1, Col1: 2}, Gain: 1, ReadNoise: 5},
		},
	}
	k := &RampKernel{Detector: det, DT: 1, Saturation: 60000, NSig: 4}
	samples := []float64{100, 400, 700, 1000, 1300}

	left, _ := k.Reduce(models.Pixel{Row: 0, Col: 0, Samples: samples})
	right, _ := k.Reduce(models.Pixel{Row: 0, Col: 1, Samples: samples})

	// the left channel saturates at 1000
	if left.Count != 3 {
		t.Errorf("Expected 3 reads below channel saturation, got %d", left.Count)
	}
	if right.Count != 5 {
		t.Errorf("Expected 5 reads with fallback saturation, got %d", right.Count)
	}
	if left.Variance == right.Variance {
		t.Errorf("Channels with different gain should give different variances")
	}
}

// BenchmarkRun measures a 256x256 ramp reduction
func BenchmarkRun(b *testing.B) {
	cube, mask := randomCube(256, 256, 10, 4)
	kernel := rampKernel(cube.Rows, cube.Cols)
	d := NewDriver(0, 0, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := d.Run(context.Background(), cube, mask, kernel); err != nil {
			b.Fatal(err)
		}
	}
}
