// Package config provides configuration loading and management for nirreduce.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"nirreduce/pkg/detector"
)

// ChannelConfig describes one readout channel in the YAML file
type ChannelConfig struct {
	Rows       [2]int  `yaml:"rows"`
	Cols       [2]int  `yaml:"cols"`
	Gain       float64 `yaml:"gain"`
	ReadNoise  float64 `yaml:"readNoise"`
	Saturation float64 `yaml:"saturation"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many goroutines reduce pixels in parallel
		NumCores int `yaml:"numCores"`

		// ChunkSize is the number of pixels handed to a worker at a time
		ChunkSize int `yaml:"chunkSize"`
	} `yaml:"processing"`

	// Ramp fitting parameters
	Ramp struct {
		// Saturation is the ADU level at and above which reads are dropped
		Saturation float64 `yaml:"saturation"`

		// NSig is the glitch detection threshold in sigmas
		NSig float64 `yaml:"nsig"`

		// Blank fills pixels that cannot be measured
		Blank float64 `yaml:"blank"`
	} `yaml:"ramp"`

	// Fowler sampling parameters
	Fowler struct {
		Saturation float64 `yaml:"saturation"`
		Blank      float64 `yaml:"blank"`
	} `yaml:"fowler"`

	// Detector calibration
	Detector struct {
		// Preset names a built-in detector model ("emir-1", "emir-4",
		// "emir-32").
		// Empty means a uniform detector built from Gain and ReadNoise, or
		// from Channels when given.
		Preset string `yaml:"preset"`

		Gain      float64 `yaml:"gain"`
		ReadNoise float64 `yaml:"readNoise"`

		Channels []ChannelConfig `yaml:"channels"`
	} `yaml:"detector"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// Quicklook writes PNG maps of the reduced frame
		Quicklook    bool   `yaml:"quicklook"`
		QuicklookDir string `yaml:"quicklookDir"`

		// Manifest writes a YAML summary next to the output frame
		Manifest bool `yaml:"manifest"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.ChunkSize = 4096

	cfg.Ramp.Saturation = 60000
	cfg.Ramp.NSig = 4.0
	cfg.Ramp.Blank = 0

	cfg.Fowler.Saturation = 65536
	cfg.Fowler.Blank = 0

	cfg.Detector.Gain = 3.02
	cfg.Detector.ReadNoise = 2.1

	// Set default output parameters
	cfg.Output.Verbose = false
	cfg.Output.Quicklook = false
	cfg.Output.QuicklookDir = "quicklook"
	cfg.Output.Manifest = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var err error
	if c.Processing.NumCores < 1 {
		err = multierr.Append(err, fmt.Errorf("processing.numCores must be at least 1, got %d", c.Processing.NumCores))
	}
	if c.Processing.ChunkSize < 1 {
		err = multierr.Append(err, fmt.Errorf("processing.chunkSize must be at least 1, got %d", c.Processing.ChunkSize))
	}
	if c.Ramp.NSig <= 0 {
		err = multierr.Append(err, fmt.Errorf("ramp.nsig must be positive, got %g", c.Ramp.NSig))
	}
	if c.Ramp.Saturation <= 0 {
		err = multierr.Append(err, fmt.Errorf("ramp.saturation must be positive, got %g", c.Ramp.Saturation))
	}
	if c.Fowler.Saturation <= 0 {
		err = multierr.Append(err, fmt.Errorf("fowler.saturation must be positive, got %g", c.Fowler.Saturation))
	}
	if c.Detector.Preset == "" && len(c.Detector.Channels) == 0 {
		if c.Detector.Gain <= 0 {
			err = multierr.Append(err, fmt.Errorf("detector.gain must be positive, got %g", c.Detector.Gain))
		}
		if c.Detector.ReadNoise < 0 {
			err = multierr.Append(err, fmt.Errorf("detector.readNoise must not be negative, got %g", c.Detector.ReadNoise))
		}
	}
	if c.Output.Quicklook && c.Output.QuicklookDir == "" {
		err = multierr.Append(err, fmt.Errorf("output.quicklookDir is required when quicklook is enabled"))
	}
	return err
}

// BuildDetector returns the detector described by the configuration for a
// rows x cols array. Channels without their own saturation use the ramp
// saturation.
func (c *Config) BuildDetector(rows, cols int) (*detector.Detector, error) {
	if c.Detector.Preset != "" {
		d, err := detector.Preset(c.Detector.Preset)
		if err != nil {
			return nil, err
		}
		if d.Rows != rows || d.Cols != cols {
			return nil, fmt.Errorf("detector preset %q is %dx%d, frame is %dx%d", c.Detector.Preset, d.Rows, d.Cols, rows, cols)
		}
		return d, nil
	}

	if len(c.Detector.Channels) == 0 {
		return detector.Uniform(rows, cols, c.Detector.Gain, c.Detector.ReadNoise, c.Ramp.Saturation), nil
	}

	d := &detector.Detector{Rows: rows, Cols: cols}
	for _, ch := range c.Detector.Channels {
		sat := ch.Saturation
		if sat == 0 {
			sat = c.Ramp.Saturation
		}
		d.Channels = append(d.Channels, detector.Channel{
			Region:     detector.Region{Row0: ch.Rows[0], Row1: ch.Rows[1], Col0: ch.Cols[0], Col1: ch.Cols[1]},
			Gain:       ch.Gain,
			ReadNoise:  ch.ReadNoise,
			Saturation: sat,
		})
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector channels: %w", err)
	}
	return d, nil
}
