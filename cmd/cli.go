// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"spectrogram/internal/audio"
	"spectrogram/internal/config"
	applog "spectrogram/internal/log"
	"spectrogram/pkg/build"
)

// options holds the flag values shared by every command. Flags only
// override the loaded configuration when they were set explicitly.
type options struct {
	configPath string
	watch      bool
	pick       bool
	deviceID   int
	sampleRate int
	bufferSize int
	fftSize    int
	melFilters int
	lowLatency bool
	verbose    bool
	logLevel   string
}

// NewRootCommand builds the command tree. The root command captures live
// audio until ctx is cancelled.
func NewRootCommand(ctx context.Context) *cobra.Command {
	buildInfo := build.GetBuildFlags()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(ctx, cmd, opts)
		},
	}
	rootCmd.SetVersionTemplate(buildInfo.String() + "\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newAnalyzeCommand(opts))

	// Configuration
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "C", "",
		"YAML configuration file (default: ./config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show verbose output (same as --log-level debug)")

	// Pipeline Configuration
	rootCmd.PersistentFlags().IntVarP(&opts.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		fmt.Sprintf("Sample rate in Hz, one of %v", config.SampleRates))
	rootCmd.PersistentFlags().IntVarP(&opts.bufferSize, "buffer-size", "b", config.DefaultBufferSize,
		"Samples per capture buffer (affects latency)")
	rootCmd.PersistentFlags().IntVarP(&opts.fftSize, "fft-size", "n", config.DefaultFFTSize,
		fmt.Sprintf("Frame length, one of %v", config.FFTSizes))
	rootCmd.PersistentFlags().IntVarP(&opts.melFilters, "mel-filters", "m", config.DefaultMelFilters,
		fmt.Sprintf("Mel filterbank size, one of %v", config.MelFilterbankSizes))

	// Audio Device Configuration
	rootCmd.Flags().IntVarP(&opts.deviceID, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	rootCmd.Flags().BoolVarP(&opts.lowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")
	rootCmd.Flags().BoolVarP(&opts.watch, "watch", "w", false,
		"Reload the configuration file when it changes")
	rootCmd.Flags().BoolVarP(&opts.pick, "pick", "p", false,
		"Choose the input device and sample rate interactively")

	return rootCmd
}

// Execute runs the CLI with args.
func Execute(ctx context.Context, args []string) error {
	rootCmd := NewRootCommand(ctx)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()
			return audio.ListDevices(cmd.OutOrStdout())
		},
	}
}

// loadConfig reads the configuration file, applies explicitly set flags on
// top and configures logging.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg, opts); err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel, cmd.ErrOrStderr())
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config, opts *options) error {
	flags := cmd.Flags()
	if flags.Changed("sample-rate") {
		cfg.Pipeline.SampleRate = opts.sampleRate
	}
	if flags.Changed("buffer-size") {
		cfg.Pipeline.BufferSize = opts.bufferSize
	}
	if flags.Changed("fft-size") {
		cfg.Pipeline.FFTSize = opts.fftSize
	}
	if flags.Changed("mel-filters") {
		cfg.Pipeline.MelFilters = opts.melFilters
	}
	if flags.Changed("device") {
		cfg.Audio.InputDevice = opts.deviceID
	}
	if flags.Changed("low-latency") {
		cfg.Audio.LowLatency = opts.lowLatency
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg.Validate()
}

func setupLogging(level string, w io.Writer) {
	applog.SetOutput(w)
	if l, ok := applog.ParseLevel(level); ok {
		applog.SetLevel(l)
	}
}
