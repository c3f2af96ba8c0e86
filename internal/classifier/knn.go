// SPDX-License-Identifier: MIT
package classifier

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"gonum.org/v1/gonum/floats"

	"spectrogram/internal/feature"
	"spectrogram/internal/store"
)

// KNN is a k-nearest neighbour classifier over the labelled vectors in a
// feature catalog. Only vectors computed with the same feature.Meta take
// part, so a model is tied to one pipeline shape.
type KNN struct {
	k    int
	meta feature.Meta

	mu      sync.RWMutex
	labels  []string
	index   map[string]int
	vectors [][]float64
	classes []int
	scratch []float64
}

var _ Classifier = (*KNN)(nil)

// NewKNN returns an unloaded classifier that votes among the k nearest
// vectors recorded with meta.
func NewKNN(k int, meta feature.Meta) *KNN {
	return &KNN{k: max(k, 1), meta: meta}
}

// Load reads the catalog at modelPath. labelsPath restricts and orders the
// labels; when empty every label in the catalog is used, sorted.
func (c *KNN) Load(modelPath, labelsPath string) error {
	ctx := context.Background()

	cat, err := store.OpenCatalog(modelPath)
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	defer cat.Close()

	var labels []string
	if labelsPath != "" {
		labels, err = LoadLabels(labelsPath)
	} else {
		labels, err = cat.Labels(ctx)
	}
	if err != nil {
		return err
	}

	records, err := cat.Vectors(ctx, c.meta)
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	var (
		vectors [][]float64
		classes []int
		dim     = -1
	)
	for _, r := range records {
		class, ok := index[r.Label]
		if !ok {
			continue
		}
		if dim < 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim {
			return fmt.Errorf("classifier: record %d has %d values, want %d", r.ID, len(r.Vector), dim)
		}
		v := make([]float64, dim)
		for i, f := range r.Vector {
			v[i] = float64(f)
		}
		vectors = append(vectors, v)
		classes = append(classes, class)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("classifier: no vectors for labels %v: %w", labels, store.ErrEmptyCatalog)
	}

	c.mu.Lock()
	c.labels = labels
	c.index = index
	c.vectors = vectors
	c.classes = classes
	c.scratch = make([]float64, dim)
	c.mu.Unlock()
	return nil
}

// Labels returns the label order of Run's scores. Empty before Load.
func (c *KNN) Labels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.labels)
}

// Run returns, per label, the share of the k nearest vectors (Euclidean
// distance) carrying that label.
func (c *KNN) Run(input []float32) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vectors == nil {
		return nil, ErrNotLoaded
	}
	if len(input) != len(c.scratch) {
		return nil, fmt.Errorf("classifier: input has %d values, want %d", len(input), len(c.scratch))
	}

	for i, v := range input {
		c.scratch[i] = float64(v)
	}

	type neighbour struct {
		dist  float64
		class int
	}
	nearest := make([]neighbour, len(c.vectors))
	for i, v := range c.vectors {
		nearest[i] = neighbour{floats.Distance(c.scratch, v, 2), c.classes[i]}
	}
	slices.SortStableFunc(nearest, func(a, b neighbour) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		}
		return 0
	})

	k := min(c.k, len(nearest))
	scores := make([]float32, len(c.labels))
	for _, n := range nearest[:k] {
		scores[n.class] += 1 / float32(k)
	}
	return scores, nil
}
