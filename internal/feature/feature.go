// SPDX-License-Identifier: MIT
//
// Package feature cuts classifier inputs out of the MFSC history and reads
// and writes them as JSON feature files.
package feature

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"spectrogram/internal/analysis"
	"spectrogram/internal/readout"
)

// ErrWindowOutOfRange is wrapped when a window does not fit in the history.
var ErrWindowOutOfRange = errors.New("feature window out of range")

// Meta identifies the pipeline shape a feature was computed with. Features
// are only comparable when their Meta is equal.
type Meta struct {
	SampleRate int `json:"fs"`
	FFTSize    int `json:"fftSize"`
	MelFilters int `json:"melFilterbankSize"`
	Center     int `json:"featureCenter"`
	Width      int `json:"featureWidth"`
}

// Feature is the on-disk feature file: the full quantised MFSC history plus
// the window the classifier looks at.
type Feature struct {
	Meta
	MFSC []uint8 `json:"mfsc"`
}

// MarshalJSON writes mfsc as a list of integers rather than base64.
func (f Feature) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(f.MFSC))
	for i, v := range f.MFSC {
		ints[i] = int(v)
	}
	return json.Marshal(struct {
		Meta
		MFSC []int `json:"mfsc"`
	}{f.Meta, ints})
}

// UnmarshalJSON reads mfsc back from a list of integers.
func (f *Feature) UnmarshalJSON(data []byte) error {
	var raw struct {
		Meta
		MFSC []int `json:"mfsc"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Meta = raw.Meta
	f.MFSC = make([]uint8, len(raw.MFSC))
	for i, v := range raw.MFSC {
		if v < 0 || v > 255 {
			return fmt.Errorf("feature: mfsc[%d] = %d outside [0, 255]", i, v)
		}
		f.MFSC[i] = uint8(v)
	}
	return nil
}

// Window returns the classifier input of f.
func (f Feature) Window() ([]float32, error) {
	return Window(f.MFSC, f.MelFilters, f.Center, f.Width)
}

// Capture snapshots the chronological MFSC history of src as 8-bit
// intensities, min-max normalized when normalize is set and quantized
// otherwise.
func Capture(src analysis.MFSCSource, normalize bool) ([]uint8, error) {
	raw := make([]float64, src.Depth()*src.NumFilters())
	if err := src.MFSCInto(raw); err != nil {
		return nil, fmt.Errorf("feature: %w", err)
	}
	out := make([]uint8, len(raw))
	if normalize {
		readout.Normalize(out, raw)
	} else {
		readout.Quantize(out, raw)
	}
	return out, nil
}

// Window slices frames [center-width/2, center+width/2) out of a row-major
// frames×numFilters intensity array and flattens them into float32s.
func Window(mfsc []uint8, numFilters, center, width int) ([]float32, error) {
	if numFilters <= 0 || width <= 0 {
		return nil, fmt.Errorf("feature: invalid window shape %d filters × %d frames", numFilters, width)
	}
	frames := len(mfsc) / numFilters
	half := width / 2
	begin, end := center-half, center+half
	if begin < 0 || end > frames {
		return nil, fmt.Errorf("%w: frames [%d, %d) of %d", ErrWindowOutOfRange, begin, end, frames)
	}

	src := mfsc[begin*numFilters : end*numFilters]
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = float32(v)
	}
	return out, nil
}

// WriteFile stores f as JSON at path.
func WriteFile(path string, f Feature) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("feature: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("feature: write %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a feature written by WriteFile.
func ReadFile(path string) (Feature, error) {
	var f Feature
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("feature: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("feature: decode %s: %w", path, err)
	}
	return f, nil
}

// NextFileName returns the next free "<base>-<n>.json" in dir, n counting
// from 1 past the highest existing index for base.
func NextFileName(dir, base string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("feature: list %s: %w", dir, err)
	}

	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(base) + `-([0-9]+)\.json$`)
	highest := 0
	for _, e := range entries {
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%d.json", base, highest+1)), nil
}
