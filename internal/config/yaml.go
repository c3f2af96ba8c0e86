// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"spectrogram/internal/log"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	LogLevel   string           `yaml:"log_level"`  // Logging level (e.g., "debug", "info", "warn", "error").
	Audio      AudioConfig      `yaml:"audio"`      // Capture device settings.
	Pipeline   Pipeline         `yaml:"pipeline"`   // Spectrogram pipeline parameters.
	Recording  RecordingConfig  `yaml:"recording"`  // Recording window and feature file output.
	Classifier ClassifierConfig `yaml:"classifier"` // Periodic inference settings.
	Catalog    CatalogConfig    `yaml:"catalog"`    // Labelled feature store.
	Transport  TransportConfig  `yaml:"transport"`  // Live frame transports.
}

// AudioConfig holds settings related to the capture device.
type AudioConfig struct {
	InputDevice int  `yaml:"input_device"` // PortAudio device index for audio input (-1 for default).
	LowLatency  bool `yaml:"low_latency"`  // Request low latency settings from PortAudio device.
}

// RecordingConfig holds settings for the recording window kept by the engine.
type RecordingConfig struct {
	OutputDir  string `yaml:"output_dir"`   // Directory for WAV and feature files.
	SaveOnStop bool   `yaml:"save_on_stop"` // Write the last recording window as WAV when capture stops.
}

// ClassifierConfig holds settings for periodic inference during capture.
type ClassifierConfig struct {
	Enabled           bool    `yaml:"enabled"`            // Run inference while capturing.
	LabelsPath        string  `yaml:"labels_path"`        // One class label per line, output order of the classifier.
	InferenceInterval int     `yaml:"inference_interval"` // Chunks between two inference runs.
	GateThreshold     float64 `yaml:"gate_threshold"`     // Peak level in [0,1] below which inference is skipped.
	Neighbors         int     `yaml:"neighbors"`          // k for the nearest-neighbour classifier.
}

// CatalogConfig holds settings for the SQLite feature catalog.
type CatalogConfig struct {
	Path string `yaml:"path"` // Database file, also the classifier model path.
}

// TransportConfig holds settings related to sending processed data over the network.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Serve live frames over WebSocket.
	WebSocketAddress string        `yaml:"websocket_address"`  // Listen address, e.g. ":8080".
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending frames over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between sending UDP packets.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice: DefaultDeviceID,
			LowLatency:  false,
		},
		Pipeline: FallbackPipeline(),
		Recording: RecordingConfig{
			OutputDir:  "./recordings",
			SaveOnStop: false,
		},
		Classifier: ClassifierConfig{
			Enabled:           false,
			LabelsPath:        "labels.txt",
			InferenceInterval: DefaultInferenceInterval,
			GateThreshold:     0.01,
			Neighbors:         3,
		},
		Catalog: CatalogConfig{
			Path: "features.db",
		},
		Transport: TransportConfig{
			WebSocketEnabled: false,
			WebSocketAddress: ":8080",
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  33 * time.Millisecond, // Default ~30Hz.
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"config.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		if path == "" {
			return nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the whole configuration. Every error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.Audio.InputDevice < MinDeviceID {
		return fmt.Errorf("%w: audio.input_device %d below %d", ErrInvalidConfig, c.Audio.InputDevice, MinDeviceID)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	if c.Classifier.Enabled {
		if c.Classifier.InferenceInterval <= 0 {
			return fmt.Errorf("%w: classifier.inference_interval must be positive", ErrInvalidConfig)
		}
		if c.Classifier.Neighbors <= 0 {
			return fmt.Errorf("%w: classifier.neighbors must be positive", ErrInvalidConfig)
		}
		if c.Classifier.GateThreshold < 0 || c.Classifier.GateThreshold > 1 {
			return fmt.Errorf("%w: classifier.gate_threshold %f outside [0, 1]", ErrInvalidConfig, c.Classifier.GateThreshold)
		}
	}

	if c.Transport.WebSocketEnabled && c.Transport.WebSocketAddress == "" {
		return fmt.Errorf("%w: transport.websocket_address must be set when WebSocket is enabled", ErrInvalidConfig)
	}
	if c.Transport.UDPEnabled {
		if c.Transport.UDPTargetAddress == "" {
			return fmt.Errorf("%w: transport.udp_target_address must be set when UDP is enabled", ErrInvalidConfig)
		}
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			return fmt.Errorf("%w: transport.udp_target_address '%s' appears invalid (missing port?)",
				ErrInvalidConfig, c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return fmt.Errorf("%w: transport.udp_send_interval must be positive when UDP is enabled", ErrInvalidConfig)
		}
	}

	return nil
}

// applyEnvOverrides applies ENV_* variables on top of the loaded values.
// Unparsable values are ignored.
func (cfg *Config) applyEnvOverrides() {
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		log.Infof("configuration: Overriding log_level from env: %s", val)
	}

	// ENV_{SAMPLE_RATE,FFT_SIZE,MEL_FILTERS}
	// These are specific to the pipeline.
	envInt("ENV_SAMPLE_RATE", "pipeline.sample_rate", &cfg.Pipeline.SampleRate)
	envInt("ENV_FFT_SIZE", "pipeline.fft_size", &cfg.Pipeline.FFTSize)
	envInt("ENV_MEL_FILTERS", "pipeline.mel_filters", &cfg.Pipeline.MelFilters)

	// ENV_CATALOG_PATH
	if val, ok := os.LookupEnv("ENV_CATALOG_PATH"); ok {
		cfg.Catalog.Path = val
		log.Infof("configuration: Overriding catalog.path from env: %s", val)
	}

	// ENV_WS_{...} and ENV_UDP_{...}
	// These are specific to the transport layer.
	envBool("ENV_WS_ENABLED", "transport.websocket_enabled", &cfg.Transport.WebSocketEnabled)
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		cfg.Transport.WebSocketAddress = val
		log.Infof("configuration: Overriding transport.websocket_address from env: %s", val)
	}
	envBool("ENV_UDP_ENABLED", "transport.udp_enabled", &cfg.Transport.UDPEnabled)
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		log.Infof("configuration: Overriding transport.udp_target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			log.Infof("configuration: Overriding transport.udp_send_interval from env: %s", dur)
		}
	}
}

func envInt(key, field string, dst *int) {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
			log.Infof("configuration: Overriding %s from env: %d", field, n)
		}
	}
}

func envBool(key, field string, dst *bool) {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
			log.Infof("configuration: Overriding %s from env: %v", field, b)
		}
	}
}
