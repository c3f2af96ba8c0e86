// SPDX-License-Identifier: MIT
package feature

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource serves a fixed MFSC history.
type stubSource struct {
	data       []float64
	depth      int
	numFilters int
}

func (s *stubSource) MFSCInto(dst []float64) error {
	if len(dst) != len(s.data) {
		return errors.New("length mismatch")
	}
	copy(dst, s.data)
	return nil
}

func (s *stubSource) Depth() int      { return s.depth }
func (s *stubSource) NumFilters() int { return s.numFilters }

func rampHistory(frames, filters int) []uint8 {
	out := make([]uint8, frames*filters)
	for f := range frames {
		for m := range filters {
			out[f*filters+m] = uint8(f)
		}
	}
	return out
}

func TestWindow(t *testing.T) {
	mfsc := rampHistory(10, 4)

	w, err := Window(mfsc, 4, 5, 4)
	require.NoError(t, err)
	require.Len(t, w, 4*4)

	// Frames 3, 4, 5 and 6.
	for i, v := range w {
		assert.Equal(t, float32(3+i/4), v, "index %d", i)
	}
}

func TestWindowBounds(t *testing.T) {
	mfsc := rampHistory(10, 4)

	tests := []struct {
		name          string
		center, width int
		wantErr       bool
	}{
		{"whole history", 5, 10, false},
		{"touches start", 2, 4, false},
		{"touches end", 8, 4, false},
		{"before start", 1, 4, true},
		{"past end", 9, 4, true},
		{"wider than history", 5, 12, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Window(mfsc, 4, tt.center, tt.width)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrWindowOutOfRange)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := Window(mfsc, 0, 5, 4)
	assert.Error(t, err)
}

func TestCapture(t *testing.T) {
	src := &stubSource{data: []float64{-10, 0, 10, 20, 30, 40}, depth: 3, numFilters: 2}

	normalized, err := Capture(src, true)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 51, 102, 153, 204, 255}, normalized)

	quantized, err := Capture(src, false)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 10, 20, 30, 40}, quantized)
}

func TestCaptureSourceError(t *testing.T) {
	src := &stubSource{data: make([]float64, 5), depth: 3, numFilters: 2}
	_, err := Capture(src, true)
	assert.Error(t, err)
}

func TestFeatureJSON(t *testing.T) {
	f := Feature{
		Meta: Meta{SampleRate: 16000, FFTSize: 256, MelFilters: 2, Center: 2, Width: 2},
		MFSC: []uint8{0, 1, 2, 255},
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)

	s := string(data)
	for _, key := range []string{`"fs":16000`, `"fftSize":256`, `"melFilterbankSize":2`,
		`"featureCenter":2`, `"featureWidth":2`, `"mfsc":[0,1,2,255]`} {
		assert.True(t, strings.Contains(s, key), "missing %s in %s", key, s)
	}

	var back Feature
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, f, back)

	var bad Feature
	assert.Error(t, json.Unmarshal([]byte(`{"mfsc":[256]}`), &bad))
}

func TestWriteReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dog-1.json")

	f := Feature{
		Meta: Meta{SampleRate: 16000, FFTSize: 256, MelFilters: 2, Center: 1, Width: 2},
		MFSC: []uint8{9, 8, 7, 6},
	}
	require.NoError(t, WriteFile(path, f))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, f, back)

	w, err := back.Window()
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 8, 7, 6}, w)

	_, err = ReadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestNextFileName(t *testing.T) {
	dir := t.TempDir()

	name, err := NextFileName(dir, "dog")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dog-1.json"), name)

	for _, n := range []string{"dog-1.json", "dog-4.json", "cat-9.json", "dog-x.json", "hotdog-7.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("{}"), 0o644))
	}

	name, err = NextFileName(dir, "dog")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dog-5.json"), name)

	name, err = NextFileName(filepath.Join(dir, "missing"), "cat")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "missing", "cat-1.json"), name)
}
