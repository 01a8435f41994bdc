package detector

import (
	"errors"
	"testing"

	"go.uber.org/multierr"
)

func TestChannelAt(t *testing.T) {
	d := EMIRQuadrants()
	tests := []struct {
		row, col int
		gain     float64
	}{
		{0, 0, 3.02},
		{0, 2047, 2.98},
		{1024, 1023, 3.00},
		{2047, 2047, 2.91},
	}
	for _, tt := range tests {
		if got := d.ChannelAt(tt.row, tt.col).Gain; got != tt.gain {
			t.Errorf("Pixel (%d,%d): expected gain %f, got %f", tt.row, tt.col, tt.gain, got)
		}
	}

	// pixels outside every channel fall back to the first one
	if got := d.ChannelAt(5000, 5000).Gain; got != 3.02 {
		t.Errorf("Expected fallback gain 3.02, got %f", got)
	}
}

func TestPresetsValid(t *testing.T) {
	for _, name := range []string{"emir-1", "emir-4", "emir-32"} {
		d, err := Preset(name)
		if err != nil {
			t.Fatalf("Preset %s: %v", name, err)
		}
		if err := d.Validate(); err != nil {
			t.Errorf("Preset %s should be valid: %v", name, err)
		}
	}
	if _, err := Preset("emir-8"); err == nil {
		t.Errorf("Expected an error for an unknown preset")
	}
}

func TestValidate(t *testing.T) {
	if err := (&Detector{Rows: 4, Cols: 4}).Validate(); !errors.Is(err, ErrNoChannels) {
		t.Errorf("Expected ErrNoChannels, got %v", err)
	}

	d := &Detector{
		Rows: 4,
		Cols: 4,
		Channels: []Channel{
			{Region: Region{Row0: 0, Row1: 4, Col0: 0, Col1: 3}, Gain: 0, ReadNoise: -1},
			{Region: Region{Row0: 0, Row1: 5, Col0: 2, Col1: 4}, Gain: 3},
		},
	}
	// zero gain, negative read noise, overlap, out of bounds
	if n := len(multierr.Errors(d.Validate())); n != 4 {
		t.Errorf("Expected 4 errors, got %d: %v", n, d.Validate())
	}

	if err := Uniform(4, 4, 3, 2, 60000).Validate(); err != nil {
		t.Errorf("Uniform detector should be valid: %v", err)
	}
}

func TestRegionContains(t *testing.T) {
	r := Region{Row0: 1, Row1: 3, Col0: 2, Col1: 4}
	inside := [][2]int{{1, 2}, {2, 3}}
	outside := [][2]int{{0, 2}, {3, 2}, {1, 4}, {1, 1}}
	for _, p := range inside {
		if !r.Contains(p[0], p[1]) {
			t.Errorf("Expected %v inside %+v", p, r)
		}
	}
	for _, p := range outside {
		if r.Contains(p[0], p[1]) {
			t.Errorf("Expected %v outside %+v", p, r)
		}
	}
}

func TestEMIR32(t *testing.T) {
	d := EMIR32()
	if len(d.Channels) != 32 {
		t.Fatalf("Expected 32 channels, got %d", len(d.Channels))
	}

	tests := []struct {
		row, col int
		channel  int
	}{
		{0, 0, 0},
		{1023, 127, 0},
		{0, 128, 1},
		{500, 1023, 7},
		{0, 1024, 8},
		{1024, 0, 16},
		{2047, 2047, 31},
	}
	for _, tt := range tests {
		want := d.Channels[tt.channel]
		if got := d.ChannelAt(tt.row, tt.col); got != want {
			t.Errorf("Pixel (%d,%d): expected channel %d %+v, got %+v", tt.row, tt.col, tt.channel, want, got)
		}
	}

	// every pixel is served by exactly one strip
	area := 0
	for _, ch := range d.Channels {
		area += (ch.Region.Row1 - ch.Region.Row0) * (ch.Region.Col1 - ch.Region.Col0)
	}
	if area != ArraySize*ArraySize {
		t.Errorf("Expected channels to cover %d pixels, got %d", ArraySize*ArraySize, area)
	}
}
