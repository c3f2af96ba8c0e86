// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"spectrogram/internal/audio"
	"spectrogram/internal/classifier"
	"spectrogram/internal/config"
	"spectrogram/internal/feature"
	applog "spectrogram/internal/log"
	"spectrogram/internal/transport"
	"spectrogram/internal/transport/udp"
	"spectrogram/internal/tui"
)

// runCapture is the live path: PortAudio → pipeline → transports, until ctx
// is cancelled.
func runCapture(ctx context.Context, cmd *cobra.Command, opts *options) error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	if opts.pick {
		ok, err := pickDevice(cmd, opts)
		if err != nil || !ok {
			return err
		}
	}

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	detector := loadDetector(cfg)

	transports := []transport.Transport{transport.NewLoggingTransport()}
	if cfg.Transport.WebSocketEnabled {
		ws := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress)
		if err := ws.Start(); err != nil {
			ws.Close()
			return fmt.Errorf("websocket: %w", err)
		}
		defer ws.Close()
		transports = append(transports, ws)
	}

	engine, err := audio.NewEngine(cfg, detector, transports...)
	if engine == nil {
		return err
	}
	if err != nil {
		applog.Warnf("Capture: %v", err)
	}
	defer engine.Close()

	// Publishers read through the engine so they follow pipeline rebuilds.
	pump, err := transport.NewFramePump(0, engine, transports...)
	if err != nil {
		return err
	}
	pump.Start()
	defer pump.Close()

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		defer sender.Close()
		publisher, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, engine)
		if err != nil {
			return err
		}
		publisher.Start()
		defer publisher.Close()
	}

	stopWatch := func() {}
	if opts.watch {
		watchCtx, cancel := context.WithCancel(ctx)
		hc, err := watchConfig(watchCtx, cmd, opts, engine)
		if err != nil {
			cancel()
			return err
		}
		stopWatch = func() {
			cancel()
			hc.Wait()
		}
		defer stopWatch()
	}

	if err := engine.StartInputStream(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Capturing, press Ctrl-C to stop.")

	<-ctx.Done()

	// No reload may restart the stream once shutdown has begun.
	stopWatch()

	if err := engine.StopInputStream(); err != nil {
		applog.Errorf("Capture: stopping input stream: %v", err)
	}

	if cfg.Recording.SaveOnStop {
		path, err := saveWindow(engine, cfg.Recording.OutputDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nRecording saved to: %s\n", path)
	}
	return nil
}

// pickDevice runs the interactive picker and records the choice as if the
// matching flags had been given. ok is false when the user quit.
func pickDevice(cmd *cobra.Command, opts *options) (bool, error) {
	sel, ok, err := tui.Pick(audio.HostDevices, opts.sampleRate)
	if err != nil || !ok {
		return false, err
	}
	flags := cmd.Flags()
	if err := flags.Set("device", strconv.Itoa(sel.DeviceID)); err != nil {
		return false, err
	}
	if err := flags.Set("sample-rate", strconv.Itoa(sel.SampleRate)); err != nil {
		return false, err
	}
	return true, nil
}

// loadDetector builds the k-NN detector over the catalog, or returns nil
// when classification is disabled or has nothing to work with.
func loadDetector(cfg *config.Config) *classifier.Detector {
	if !cfg.Classifier.Enabled {
		return nil
	}

	p := cfg.Pipeline
	knn := classifier.NewKNN(cfg.Classifier.Neighbors, feature.Meta{
		SampleRate: p.SampleRate,
		FFTSize:    p.FFTSize,
		MelFilters: p.MelFilters,
		Center:     p.FeatureCenter,
		Width:      p.FeatureWidth,
	})

	labels := cfg.Classifier.LabelsPath
	if _, err := os.Stat(labels); err != nil {
		labels = ""
	}
	if err := knn.Load(cfg.Catalog.Path, labels); err != nil {
		applog.Warnf("Classifier: disabled: %v", err)
		return nil
	}
	applog.Infof("Classifier: %d labels from %s", len(knn.Labels()), cfg.Catalog.Path)
	return classifier.NewDetector(knn, knn.Labels(), 3)
}

// watchConfig follows the config file and rebuilds the pipeline when its
// section changes, restarting capture to apply it.
func watchConfig(ctx context.Context, cmd *cobra.Command, opts *options, engine *audio.Engine) (*config.HotConfig, error) {
	if opts.configPath == "" {
		return nil, errors.New("--watch needs --config")
	}
	hc, err := config.NewHotConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	hc.OnReload(reloadPipeline(ctx, cmd, opts, engine))
	return hc, hc.Watch(ctx)
}

// reloadPipeline returns the reload callback. Once ctx is done capture is
// shutting down and reloads are ignored.
func reloadPipeline(ctx context.Context, cmd *cobra.Command, opts *options, engine *audio.Engine) func(*config.Config) {
	return func(c *config.Config) {
		if ctx.Err() != nil {
			return
		}
		if err := applyFlags(cmd, c, opts); err != nil {
			applog.Errorf("Capture: reloaded config rejected: %v", err)
			return
		}
		if c.Pipeline == engine.Pipeline() {
			return
		}
		if err := engine.Reconfigure(c.Pipeline); err != nil {
			applog.Errorf("Capture: %v", err)
		}
		if engine.HasPending() {
			if err := engine.Restart(); err != nil {
				applog.Errorf("Capture: restart after reload: %v", err)
			}
		}
	}
}

// saveWindow writes the engine's recording window into dir.
func saveWindow(engine *audio.Engine, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("recording dir: %w", err)
	}
	name := "recording-" + time.Now().UTC().Format("02-01-2006-150405") + ".wav"
	path := filepath.Join(dir, name)
	if err := engine.SaveRecording(path); err != nil {
		return "", err
	}
	return path, nil
}
