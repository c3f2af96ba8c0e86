// SPDX-License-Identifier: MIT
package classifier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectrogram/internal/feature"
	"spectrogram/internal/store"
)

// scripted returns queued results in order.
type scripted struct {
	scores [][]float32
	errs   []error
	calls  int
}

func (s *scripted) Load(string, string) error { return nil }

func (s *scripted) Run([]float32) ([]float32, error) {
	i := s.calls
	s.calls++
	return s.scores[i], s.errs[i]
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("dog\n\n  cat \nbird\n"), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"dog", "cat", "bird"}, labels)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = LoadLabels(empty)
	assert.Error(t, err)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestDetectorRanksAndKeepsLastGood(t *testing.T) {
	boom := errors.New("boom")
	c := &scripted{
		scores: [][]float32{{0.1, 0.7, 0.2}, nil, {0.2}},
		errs:   []error{nil, boom, nil},
	}
	d := NewDetector(c, []string{"dog", "cat", "bird"}, 2)
	assert.Nil(t, d.Last())

	got, err := d.Recognize(nil)
	require.NoError(t, err)
	assert.Equal(t, []Recognition{{"cat", 0.7}, {"bird", 0.2}}, got)

	got, err = d.Recognize(nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []Recognition{{"cat", 0.7}, {"bird", 0.2}}, got)

	// Wrong score count is an error too.
	_, err = d.Recognize(nil)
	assert.Error(t, err)
	assert.Equal(t, []Recognition{{"cat", 0.7}, {"bird", 0.2}}, d.Last())
}

func TestDetectorTopKBounds(t *testing.T) {
	c := &scripted{scores: [][]float32{{0.5, 0.5}}, errs: []error{nil}}
	d := NewDetector(c, []string{"a", "b"}, 0)
	got, err := d.Recognize(nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	// Ties keep label order.
	assert.Equal(t, "a", got[0].Label)
}

var knnMeta = feature.Meta{SampleRate: 16000, FFTSize: 256, MelFilters: 20, Center: 64, Width: 64}

func seedCatalog(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	cat, err := store.OpenCatalog(path)
	require.NoError(t, err)
	defer cat.Close()

	for _, r := range []store.Record{
		{Label: "low", Vector: []float32{0, 0}},
		{Label: "low", Vector: []float32{1, 0}},
		{Label: "low", Vector: []float32{0, 1}},
		{Label: "high", Vector: []float32{10, 10}},
		{Label: "high", Vector: []float32{11, 10}},
		{Label: "noise", Vector: []float32{100, 100}},
	} {
		r.Meta = knnMeta
		_, err := cat.Save(ctx, r)
		require.NoError(t, err)
	}
	return path
}

func TestKNN(t *testing.T) {
	path := seedCatalog(t)

	knn := NewKNN(3, knnMeta)
	_, err := knn.Run([]float32{0, 0})
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, knn.Load(path, ""))
	assert.Equal(t, []string{"high", "low", "noise"}, knn.Labels())

	scores, err := knn.Run([]float32{0.2, 0.2})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 1, 0}, scores, 1e-6)

	scores, err = knn.Run([]float32{9, 9})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{2.0 / 3, 1.0 / 3, 0}, scores, 1e-6)

	_, err = knn.Run([]float32{1, 2, 3})
	assert.Error(t, err)
}

func TestKNNLabelsFile(t *testing.T) {
	path := seedCatalog(t)
	labelsPath := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(labelsPath, []byte("low\nhigh\n"), 0o644))

	knn := NewKNN(10, knnMeta)
	require.NoError(t, knn.Load(path, labelsPath))
	assert.Equal(t, []string{"low", "high"}, knn.Labels())

	// k is capped at the five labelled vectors; noise is ignored.
	scores, err := knn.Run([]float32{50, 50})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.4}, scores, 1e-6)

	d := NewDetector(knn, knn.Labels(), 1)
	got, err := d.Recognize([]float32{10, 10})
	require.NoError(t, err)
	assert.Equal(t, "low", got[0].Label)
}

func TestKNNEmptyForOtherShape(t *testing.T) {
	path := seedCatalog(t)

	other := knnMeta
	other.MelFilters = 40
	err := NewKNN(1, other).Load(path, "")
	assert.ErrorIs(t, err, store.ErrEmptyCatalog)
}
