// SPDX-License-Identifier: MIT
package transport

import "spectrogram/internal/classifier"

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// Message types carried in the "type" field.
const (
	TypeFrame     = "frame"
	TypeInference = "inference"
)

// FrameMessage carries the newest power and MFSC frames.
type FrameMessage struct {
	Type       string    `json:"type"`
	Sequence   uint64    `json:"sequence"`
	SampleRate float64   `json:"sampleRate"`
	Power      []float64 `json:"power"`
	MFSC       []float64 `json:"mfsc"`
}

// InferenceMessage carries a ranked classifier result.
type InferenceMessage struct {
	Type    string                   `json:"type"`
	Frame   uint64                   `json:"frame"`
	Results []classifier.Recognition `json:"results"`
}

// NewInferenceMessage builds an InferenceMessage for results computed after
// frame frames.
func NewInferenceMessage(frame uint64, results []classifier.Recognition) InferenceMessage {
	return InferenceMessage{Type: TypeInference, Frame: frame, Results: results}
}

// Broadcast sends data to every transport and returns the first error.
func Broadcast(transports []Transport, data any) error {
	var first error
	for _, t := range transports {
		if err := t.Send(data); err != nil && first == nil {
			first = err
		}
	}
	return first
}
