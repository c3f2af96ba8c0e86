// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Core configuration constants that define the boundaries and defaults
// for the analysis pipeline.
const (
	DefaultDeviceID          = MinDeviceID // Default to system default device
	DefaultSampleRate        = 44100       // CD-quality audio
	DefaultBufferSize        = 512         // Samples per capture chunk
	DefaultFFTSize           = 512         // Frame length N
	DefaultMelFilters        = 40          // Filters in the mel filterbank
	DefaultRecordingSeconds  = 3           // Length of the rolling history
	DefaultFeatureWidth      = 64          // Frames per classifier window
	DefaultFeatureCenter     = 64          // Frame the classifier window is centered on
	DefaultInferenceInterval = 30          // Chunks between two inference runs
	DefaultPreEmphasis       = true        // Apply the pre-emphasis filter per frame

	MinDeviceID         = -1   // -1 represents system default device
	MaxBufferFrames     = 8192 // Maximum samples per capture chunk
	MinRecordingSeconds = 1
	MaxRecordingSeconds = 5
)

// Closed sets of allowed pipeline values.
var (
	SampleRates        = []int{8000, 16000, 22050, 44100, 48000}
	FFTSizes           = []int{128, 256, 512}
	MelFilterbankSizes = []int{20, 30, 40, 64}
	FeatureWidths      = []int{40, 64, 96, 128}
)

// Pipeline holds the parameters a spectrogram pipeline is built from. A
// pipeline is immutable; changing any field means building a new one.
type Pipeline struct {
	SampleRate       int  `yaml:"sample_rate"`       // Capture rate in Hz.
	BufferSize       int  `yaml:"buffer_size"`       // Samples per capture chunk.
	FFTSize          int  `yaml:"fft_size"`          // Frame length N.
	MelFilters       int  `yaml:"mel_filters"`       // Number of usable mel filters.
	RecordingSeconds int  `yaml:"recording_seconds"` // Length of the rolling history.
	FeatureWidth     int  `yaml:"feature_width"`     // Frames per classifier window.
	FeatureCenter    int  `yaml:"feature_center"`    // Center frame of the classifier window.
	PreEmphasis      bool `yaml:"pre_emphasis"`      // Apply the pre-emphasis FIR per frame.
}

// FallbackPipeline returns the configuration used when a requested one
// cannot be built.
func FallbackPipeline() Pipeline {
	return Pipeline{
		SampleRate:       DefaultSampleRate,
		BufferSize:       DefaultBufferSize,
		FFTSize:          DefaultFFTSize,
		MelFilters:       DefaultMelFilters,
		RecordingSeconds: DefaultRecordingSeconds,
		FeatureWidth:     DefaultFeatureWidth,
		FeatureCenter:    DefaultFeatureCenter,
		PreEmphasis:      DefaultPreEmphasis,
	}
}

// NumBlocks returns how many capture chunks make up the recording window.
func (p Pipeline) NumBlocks() int {
	if p.BufferSize <= 0 {
		return 0
	}
	return p.RecordingSeconds * p.SampleRate / p.BufferSize
}

// Depth returns the number of frames M kept in each ring.
func (p Pipeline) Depth() int {
	if p.FFTSize <= 0 {
		return 0
	}
	return p.BufferSize * p.NumBlocks() / p.FFTSize * 2
}

// Validate checks every field against its allowed values.
func (p Pipeline) Validate() error {
	if !slices.Contains(SampleRates, p.SampleRate) {
		return fmt.Errorf("%w: sample_rate %d not in %v", ErrInvalidConfig, p.SampleRate, SampleRates)
	}
	if !slices.Contains(FFTSizes, p.FFTSize) {
		return fmt.Errorf("%w: fft_size %d not in %v", ErrInvalidConfig, p.FFTSize, FFTSizes)
	}
	if !slices.Contains(MelFilterbankSizes, p.MelFilters) {
		return fmt.Errorf("%w: mel_filters %d not in %v", ErrInvalidConfig, p.MelFilters, MelFilterbankSizes)
	}
	if p.RecordingSeconds < MinRecordingSeconds || p.RecordingSeconds > MaxRecordingSeconds {
		return fmt.Errorf("%w: recording_seconds %d outside [%d, %d]",
			ErrInvalidConfig, p.RecordingSeconds, MinRecordingSeconds, MaxRecordingSeconds)
	}
	if !slices.Contains(FeatureWidths, p.FeatureWidth) {
		return fmt.Errorf("%w: feature_width %d not in %v", ErrInvalidConfig, p.FeatureWidth, FeatureWidths)
	}
	if p.BufferSize <= 0 || p.BufferSize > MaxBufferFrames {
		return fmt.Errorf("%w: buffer_size %d outside (0, %d]", ErrInvalidConfig, p.BufferSize, MaxBufferFrames)
	}
	if p.FeatureCenter < p.FeatureWidth/2 {
		return fmt.Errorf("%w: feature_center %d leaves no room for half width %d",
			ErrInvalidConfig, p.FeatureCenter, p.FeatureWidth/2)
	}
	if p.Depth() <= 0 {
		return fmt.Errorf("%w: %d s at %d Hz holds no %d-sample frame",
			ErrInvalidConfig, p.RecordingSeconds, p.SampleRate, p.FFTSize)
	}
	return nil
}
