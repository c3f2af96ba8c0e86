// SPDX-License-Identifier: MIT
//
// Package classifier defines the capability the engine uses to label feature
// windows, plus a detector that keeps the last good result and a k-nearest
// neighbour implementation backed by the feature catalog.
package classifier

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotLoaded is returned by Run before a successful Load.
var ErrNotLoaded = errors.New("classifier not loaded")

// Classifier maps a flattened feature window to one score per label.
type Classifier interface {
	// Load prepares the classifier from a model and a labels file.
	Load(modelPath, labelsPath string) error
	// Run scores input. The result has one value per label, in label order.
	Run(input []float32) ([]float32, error)
}

// Recognition is one scored label.
type Recognition struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

func (r Recognition) String() string {
	return fmt.Sprintf("%s (%.1f%%)", r.Label, r.Confidence*100)
}

// LoadLabels reads one label per line, skipping blank lines.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			labels = append(labels, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("classifier: read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("classifier: %s holds no labels", path)
	}
	return labels, nil
}
