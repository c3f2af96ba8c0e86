// SPDX-License-Identifier: MIT
package audio

import "math"

// The noise gate decides whether a chunk is loud enough to be worth
// classifying. It never holds back samples from the spectrogram, which must
// see a continuous stream.

func (e *Engine) EnableGate() {
	e.gateEnabled.Store(true)
}

func (e *Engine) DisableGate() {
	e.gateEnabled.Store(false)
}

// SetGateThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (e *Engine) SetGateThreshold(threshold float64) {
	if threshold < 0.0 {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}

	e.gateThreshold.Store(int32(threshold * math.MaxInt16))
}

// GetGateThreshold returns the current noise gate threshold as a float64.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (e *Engine) GetGateThreshold() float64 {
	return float64(e.gateThreshold.Load()) / math.MaxInt16
}

// gateOpen reports whether buffer passes the gate.
// Performance Critical: no allocations.
func (e *Engine) gateOpen(buffer []int16) bool {
	if !e.gateEnabled.Load() {
		return true
	}
	return peakAmplitude(buffer) > e.gateThreshold.Load()
}

// peakAmplitude returns max |sample| without branching. Samples are widened
// to int32 so that -32768 has a representable magnitude.
func peakAmplitude(buffer []int16) int32 {
	var maxAmplitude int32
	for _, s := range buffer {
		sample := int32(s)
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask
		diff := amplitude - maxAmplitude
		maxAmplitude += (diff & (diff >> 31)) ^ diff
	}
	return maxAmplitude
}
