// SPDX-License-Identifier: MIT
package classifier

import (
	"fmt"
	"slices"
	"sync"

	"spectrogram/internal/log"
)

// Detector runs a Classifier and turns its scores into ranked labels. When
// a run fails it keeps serving the last good result.
type Detector struct {
	classifier Classifier
	labels     []string
	topK       int
	logger     *log.Logger

	mu   sync.RWMutex
	last []Recognition
}

// NewDetector wraps c. labels name the score positions c returns; topK
// limits the ranked output, 0 meaning every label.
func NewDetector(c Classifier, labels []string, topK int) *Detector {
	if topK <= 0 || topK > len(labels) {
		topK = len(labels)
	}
	return &Detector{
		classifier: c,
		labels:     slices.Clone(labels),
		topK:       topK,
		logger:     log.Named("Detector"),
	}
}

// Recognize scores input and returns the topK labels, best first. On error
// it logs, returns the previous result alongside the error and leaves that
// result in place.
func (d *Detector) Recognize(input []float32) ([]Recognition, error) {
	scores, err := d.classifier.Run(input)
	if err == nil && len(scores) != len(d.labels) {
		err = fmt.Errorf("classifier: %d scores for %d labels", len(scores), len(d.labels))
	}
	if err != nil {
		d.logger.Warnf("recognition failed: %v", err)
		return d.Last(), err
	}

	ranked := make([]Recognition, len(scores))
	for i, s := range scores {
		ranked[i] = Recognition{Label: d.labels[i], Confidence: s}
	}
	slices.SortStableFunc(ranked, func(a, b Recognition) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})
	ranked = ranked[:d.topK]

	d.mu.Lock()
	d.last = ranked
	d.mu.Unlock()

	return slices.Clone(ranked), nil
}

// Last returns a copy of the most recent successful result, nil before one.
func (d *Detector) Last() []Recognition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.last)
}

// Labels returns the labels the detector ranks.
func (d *Detector) Labels() []string {
	return slices.Clone(d.labels)
}
