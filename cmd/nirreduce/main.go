package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"nirreduce/internal/models"
	"nirreduce/pkg/config"
	"nirreduce/pkg/logutil"
	"nirreduce/pkg/preprocess"
	"nirreduce/pkg/storage"
	"nirreduce/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputFile := flag.String("input", "", "Raw FITS frame (reads along NAXIS1)")
	outputFile := flag.String("output", "", "Output FITS file (default: FILENAME header card)")
	configPath := flag.String("config", "nirreduce.yaml", "YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	badpixFile := flag.String("badpix", "", "Optional FITS bad pixel mask (0 = good)")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: from config)")
	gain := flag.Float64("gain", 0, "Gain in e-/ADU for a uniform detector (default: from config)")
	ron := flag.Float64("ron", -1, "Read noise in ADU for a uniform detector (default: from config)")
	nsig := flag.Float64("nsig", 0, "Glitch detection threshold in sigmas (default: from config)")
	quicklook := flag.Bool("quicklook", false, "Write PNG quicklooks of the result")
	readsDir := flag.String("reads-dir", "", "Save every raw read as JPEG into this directory")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *inputFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	overrides{
		cores:     *numCores,
		gain:      *gain,
		ron:       *ron,
		nsig:      *nsig,
		quicklook: *quicklook,
		verbose:   *verbose,
	}.apply(cfg)

	logutil.InitLogger(cfg.Output.Verbose)
	logger := logutil.GetLogger()
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigch
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := run(ctx, cfg, logger, *inputFile, *outputFile, *badpixFile, *readsDir); err != nil {
		logger.Fatal("Reduction failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, input, output, badpix, readsDir string) error {
	frame, err := storage.LoadFrame(input)
	if err != nil {
		return fmt.Errorf("failed to load frame: %w", err)
	}
	if frame.Cube != nil {
		logger.Info("Loaded frame",
			zap.String("path", input),
			zap.String("readmode", frame.Header.String(models.KeyReadMode)),
			zap.Int("rows", frame.Cube.Rows),
			zap.Int("cols", frame.Cube.Cols),
			zap.Int("reads", frame.Cube.Samples))

		if readsDir != "" {
			if err := visualization.NewViewer(frame.Cube).SaveReadSequence(readsDir); err != nil {
				logger.Warn("Failed to save reads", zap.Error(err))
			}
		}
	}

	pre := preprocess.New(cfg, logger)
	if badpix != "" {
		mask, err := storage.LoadMask(badpix)
		if err != nil {
			return fmt.Errorf("failed to load bad pixel mask: %w", err)
		}
		pre.BadPixels = mask
	}

	start := time.Now()
	reduced, err := pre.Process(ctx, frame)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	output, err = outputPath(input, output, reduced)
	if err != nil {
		return err
	}
	path, err := storage.Store(reduced, output, logger)
	if err != nil {
		return fmt.Errorf("failed to store frame: %w", err)
	}
	logger.Info("Reduction completed", zap.Duration("elapsed", elapsed), zap.String("output", path))

	if cfg.Output.Manifest {
		m := buildManifest(input, path, frame, reduced, elapsed)
		manifestPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".yaml"
		if err := storage.WriteManifest(manifestPath, m); err != nil {
			logger.Warn("Failed to write manifest", zap.Error(err))
		}
	}

	if cfg.Output.Quicklook {
		writeQuicklooks(cfg.Output.QuicklookDir, reduced, logger)
	}
	return nil
}

// overrides holds the command line values that take precedence over the
// configuration file. Zero values (-1 for ron) leave the file setting alone.
type overrides struct {
	cores     int
	gain      float64
	ron       float64
	nsig      float64
	quicklook bool
	verbose   bool
}

func (o overrides) apply(cfg *config.Config) {
	if o.cores > 0 {
		cfg.Processing.NumCores = o.cores
	}
	// gain and read noise describe a uniform detector, which replaces any preset
	if o.gain > 0 {
		cfg.Detector.Gain = o.gain
		cfg.Detector.Preset = ""
	}
	if o.ron >= 0 {
		cfg.Detector.ReadNoise = o.ron
		cfg.Detector.Preset = ""
	}
	if o.nsig > 0 {
		cfg.Ramp.NSig = o.nsig
	}
	if o.quicklook {
		cfg.Output.Quicklook = true
	}
	if o.verbose {
		cfg.Output.Verbose = true
	}
}

// outputPath resolves where the reduced frame is written: the explicit
// output, else the FILENAME card, else <input>_reduced.fits. A FILENAME that
// points back at the input falls through to the _reduced name; an explicit
// output equal to the input is refused.
func outputPath(input, output string, reduced *models.Frame) (string, error) {
	fallback := strings.TrimSuffix(input, filepath.Ext(input)) + "_reduced.fits"
	if output != "" {
		if samePath(input, output) {
			return "", fmt.Errorf("output %s would overwrite the input frame", output)
		}
		return output, nil
	}
	if reduced.Header.Has(models.KeyFilename) {
		if name := storage.GenerateName(reduced); !samePath(input, name) {
			return name, nil
		}
	}
	return fallback, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

func buildManifest(input, output string, raw, reduced *models.Frame, elapsed time.Duration) *storage.Manifest {
	m := &storage.Manifest{
		Input:    input,
		Output:   output,
		ReadMode: raw.Header.String(models.KeyReadMode),
		Duration: elapsed,
	}
	if raw.Cube != nil {
		m.Rows, m.Cols, m.Samples = raw.Cube.Rows, raw.Cube.Cols, raw.Cube.Samples
	}
	for _, ext := range reduced.Extensions {
		m.Extensions = append(m.Extensions, ext.Name)
	}
	if mask, ok := reduced.Extension(preprocess.ExtMask); ok {
		res := &models.Result{Mask: mask.Mask}
		if cr, ok := reduced.Extension(preprocess.ExtCRMask); ok {
			res.CRMask = cr.Int
		}
		s := preprocess.Summarize(res)
		m.Pixels.Good, m.Pixels.Saturated, m.Pixels.Bad, m.Pixels.CosmicRays = s.Good, s.Saturated, s.Bad, s.CosmicRays
	}
	return m
}

func writeQuicklooks(dir string, reduced *models.Frame, logger *zap.Logger) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn("Failed to create quicklook directory", zap.Error(err))
		return
	}

	var mask *models.MaskImage
	if ext, ok := reduced.Extension(preprocess.ExtMask); ok {
		mask = ext.Mask
		if err := visualization.SaveMaskMap(filepath.Join(dir, "mask.png"), "Quality mask", mask); err != nil {
			logger.Warn("Failed to save mask quicklook", zap.Error(err))
		}
	}
	if reduced.Image != nil {
		if err := visualization.SaveHeatmap(filepath.Join(dir, "image.png"), "Reduced image", reduced.Image, mask); err != nil {
			logger.Warn("Failed to save image quicklook", zap.Error(err))
		}
	}
	if ext, ok := reduced.Extension(preprocess.ExtVariance); ok {
		if err := visualization.SaveHeatmap(filepath.Join(dir, "variance.png"), "Variance", ext.Float, mask); err != nil {
			logger.Warn("Failed to save variance quicklook", zap.Error(err))
		}
	}
	logger.Info("Quicklooks written", zap.String("dir", dir))
}
