package fowler

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"nirreduce/internal/models"
)

// TestReduceDropsSaturatedPairs verifies the documented example: the pair
// above saturation is removed and the other two are averaged
func TestReduceDropsSaturatedPairs(t *testing.T) {
	r := NewReducer(Params{Saturation: 65536, Blank: 0})
	// halves: first reads 2, 3, 100000; second reads 5, 7, 100001
	samples := []float64{2, 3, 100000, 5, 7, 100001}

	got, err := r.Reduce(samples, models.MaskGood)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := models.PixelBundle{Value: 3.5, Variance: 0.25, Count: 2, Mask: models.MaskGood}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unexpected bundle (-want +got):\n%s", diff)
	}
}

// TestReduceCases covers the pair-count branches
func TestReduceCases(t *testing.T) {
	const blank = -99
	tests := []struct {
		name    string
		samples []float64
		badpix  uint8
		want    models.PixelBundle
	}{
		{
			name:    "bad pixel",
			samples: []float64{1, 2, 3, 4},
			badpix:  5,
			want:    models.PixelBundle{Value: blank, Variance: blank, Mask: 5},
		},
		{
			name:    "all saturated",
			samples: []float64{70000, 100, 70000, 70000},
			want:    models.PixelBundle{Value: blank, Variance: blank, Mask: models.MaskSaturated},
		},
		{
			name:    "single pair",
			samples: []float64{10, 70000, 25, 70000},
			want:    models.PixelBundle{Value: 15, Variance: blank, Count: 1, Mask: models.MaskGood},
		},
		{
			name:    "four pairs",
			samples: []float64{0, 0, 0, 0, 1, 2, 3, 4},
			want:    models.PixelBundle{Value: 2.5, Variance: (5.0 / 3.0) / 4, Count: 4, Mask: models.MaskGood},
		},
		{
			name:    "empty",
			samples: []float64{},
			want:    models.PixelBundle{Value: blank, Variance: blank, Mask: models.MaskSaturated},
		},
	}

	r := NewReducer(Params{Saturation: 65536, Blank: blank})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Reduce(tt.samples, tt.badpix)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			approx := cmp.Comparer(func(a, b float64) bool { return math.Abs(a-b) < 1e-12 })
			if diff := cmp.Diff(tt.want, got, approx); diff != "" {
				t.Errorf("Unexpected bundle (-want +got):\n%s", diff)
			}
		})
	}
}

// TestReduceOddSamples verifies that an odd number of reads is rejected
func TestReduceOddSamples(t *testing.T) {
	r := NewReducer(Params{Saturation: 65536})
	_, err := r.Reduce([]float64{1, 2, 3}, models.MaskGood)
	if !errors.Is(err, ErrOddSamples) {
		t.Errorf("Expected ErrOddSamples, got %v", err)
	}

	// the structural check comes first, even for flagged pixels
	_, err = r.Reduce([]float64{1, 2, 3}, 1)
	if !errors.Is(err, ErrOddSamples) {
		t.Errorf("Expected ErrOddSamples for bad pixel, got %v", err)
	}
}

// TestCDS verifies the two-read difference
func TestCDS(t *testing.T) {
	cube, err := models.NewCubeFromData(2, 2, 2, []float64{
		1, 4, // (0,0)
		10, 30, // (0,1)
		5, 5, // (1,0)
		7, 2, // (1,1)
	})
	if err != nil {
		t.Fatalf("Failed to create cube: %v", err)
	}

	img, err := CDS(cube)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := [][]float64{{3, 20}, {0, -5}}
	for r := range want {
		for c := range want[r] {
			if got := img.At(r, c); got != want[r][c] {
				t.Errorf("Pixel (%d,%d): expected %f, got %f", r, c, want[r][c], got)
			}
		}
	}

	if _, err := CDS(models.NewCube(2, 2, 3)); !errors.Is(err, ErrNotCDS) {
		t.Errorf("Expected ErrNotCDS for three reads, got %v", err)
	}
}
