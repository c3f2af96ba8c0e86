// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"spectrogram/internal/audio"
	"spectrogram/internal/classifier"
	"spectrogram/internal/config"
	"spectrogram/internal/feature"
	"spectrogram/internal/readout"
	"spectrogram/internal/store"
	"spectrogram/pkg/utils"
)

type analyzeOptions struct {
	featureOut string
	label      string
	save       bool
	classify   bool
	pngPrefix  string
	catalog    string
}

func newAnalyzeCommand(opts *options) *cobra.Command {
	aopts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Run a WAV file through the pipeline",
		Long: "Feeds a recording through the same pipeline used for live capture, then\n" +
			"prints a summary and optionally writes the feature, stores it in the\n" +
			"catalog under a label or classifies it against the catalog.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd, opts, aopts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&aopts.featureOut, "feature-out", "o", "",
		"Write the feature as JSON to this file, or to the next free name in this directory")
	flags.StringVar(&aopts.label, "label", "", "Label used with --save")
	flags.BoolVar(&aopts.save, "save", false, "Store the feature window in the catalog under --label")
	flags.BoolVar(&aopts.classify, "classify", false, "Classify the feature window against the catalog")
	flags.StringVar(&aopts.pngPrefix, "png-prefix", "",
		"Write <prefix>-spectrogram.png and <prefix>-mfsc.png")
	flags.StringVar(&aopts.catalog, "catalog", "", "Catalog database (default: catalog.path from the config)")

	return cmd
}

func runAnalyze(ctx context.Context, cmd *cobra.Command, opts *options, aopts *analyzeOptions, path string) error {
	if aopts.save && aopts.label == "" {
		return errors.New("--save needs --label")
	}

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if aopts.catalog != "" {
		cfg.Catalog.Path = aopts.catalog
	}

	samples, fs, err := audio.ReadWAV(path)
	if err != nil {
		return err
	}
	cfg.Pipeline.SampleRate = fs
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	engine, err := audio.NewEngine(cfg, nil)
	if err != nil {
		if engine != nil {
			engine.Close()
		}
		return err
	}
	defer engine.Close()

	chunk := cfg.Pipeline.BufferSize
	for off := 0; off < len(samples); off += chunk {
		engine.Process(samples[off:min(off+chunk, len(samples))])
	}

	out := cmd.OutOrStdout()
	printSummary(out, engine, path, len(samples), fs)

	if aopts.pngPrefix != "" {
		if err := writeImages(engine, aopts.pngPrefix); err != nil {
			return err
		}
	}

	if aopts.featureOut == "" && !aopts.save && !aopts.classify {
		return nil
	}

	f, err := engine.CaptureFeature()
	if err != nil {
		return err
	}

	if aopts.featureOut != "" {
		target, err := featurePath(aopts.featureOut, path)
		if err != nil {
			return err
		}
		if err := feature.WriteFile(target, f); err != nil {
			return err
		}
		fmt.Fprintf(out, "Feature written to: %s\n", target)
	}

	if !aopts.save && !aopts.classify {
		return nil
	}

	window, err := f.Window()
	if err != nil {
		return err
	}

	if aopts.save {
		if err := saveFeature(ctx, out, cfg.Catalog.Path, aopts.label, f.Meta, window); err != nil {
			return err
		}
	}

	if aopts.classify {
		return classify(out, cfg, f.Meta, window)
	}
	return nil
}

func printSummary(w io.Writer, engine *audio.Engine, path string, n, fs int) {
	spec := engine.Spectrogram()
	frame := spec.LatestPowerFrame()
	peak := utils.FindPeakBin(frame, 1, len(frame)-1)

	fmt.Fprintf(w, "File:        %s\n", path)
	fmt.Fprintf(w, "Samples:     %d (%.2fs at %d Hz)\n", n, float64(n)/float64(fs), fs)
	fmt.Fprintf(w, "Frames:      %d (depth %d, %d bins, %d filters)\n",
		spec.FramesProduced(), spec.Depth(), spec.Bins(), spec.NumFilters())
	fmt.Fprintf(w, "Last peak:   bin %d (%.1f Hz, %.1f dB)\n", peak, spec.FrequencyForBin(peak), frame[peak])
}

// featurePath resolves --feature-out. A directory gets the next numbered
// file named after the input.
func featurePath(target, input string) (string, error) {
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return target, nil
	}
	base := filepath.Base(input)
	base = base[:len(base)-len(filepath.Ext(base))]
	return feature.NextFileName(target, base)
}

func saveFeature(ctx context.Context, w io.Writer, path, label string, meta feature.Meta, window []float32) error {
	catalog, err := store.OpenCatalog(path)
	if err != nil {
		return err
	}
	defer catalog.Close()

	id, err := catalog.Save(ctx, store.Record{Label: label, Meta: meta, Vector: window})
	if err != nil {
		return err
	}
	n, err := catalog.Count(ctx, label)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Saved as #%d, %d example(s) labelled %q\n", id, n, label)
	return nil
}

func classify(w io.Writer, cfg *config.Config, meta feature.Meta, window []float32) error {
	knn := classifier.NewKNN(cfg.Classifier.Neighbors, meta)

	labels := cfg.Classifier.LabelsPath
	if _, err := os.Stat(labels); err != nil {
		labels = ""
	}
	if err := knn.Load(cfg.Catalog.Path, labels); err != nil {
		return err
	}

	results, err := classifier.NewDetector(knn, knn.Labels(), 0).Recognize(window)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintln(w, r)
	}
	return nil
}

// writeImages renders both histories, time running left to right.
func writeImages(engine *audio.Engine, prefix string) error {
	spec := engine.Spectrogram()
	depth := spec.Depth()

	if err := writeImage(prefix+"-spectrogram.png", spec.Spectrogram(), depth, spec.Bins()); err != nil {
		return err
	}
	return writeImage(prefix+"-mfsc.png", spec.MFSC(), depth, spec.NumFilters())
}

// writeImage transposes a frames×rows history so each frame becomes a
// column with the lowest bin at the bottom.
func writeImage(path string, history []float64, frames, rows int) (err error) {
	levels := make([]uint8, len(history))
	readout.Normalize(levels, history)

	pixels := make([]uint8, len(levels))
	for f := range frames {
		for r := range rows {
			pixels[(rows-1-r)*frames+f] = levels[f*rows+r]
		}
	}

	img, err := readout.Image(pixels, frames, rows)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	return png.Encode(file, img)
}
