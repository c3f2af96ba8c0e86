// SPDX-License-Identifier: MIT
package dsp

import "fmt"

// PreEmphasisAlpha is the default pre-emphasis coefficient (0.95 ~ 0.97).
const PreEmphasisAlpha = 0.97

// FIR is a stateful finite impulse response filter. The delay line is
// circular and carries history across calls, so consecutive frames are
// filtered as one continuous signal. There is no reset.
type FIR struct {
	taps      []float64 // Impulse response, taps[0] multiplies the newest sample.
	delayLine []float64 // Circular history, same length as taps.
	cursor    int       // Write position of the next sample.
}

// NewFIR creates a filter with a copy of the given impulse response.
func NewFIR(taps []float64) (*FIR, error) {
	if len(taps) == 0 {
		return nil, fmt.Errorf("fir: impulse response must not be empty")
	}
	h := make([]float64, len(taps))
	copy(h, taps)
	return &FIR{
		taps:      h,
		delayLine: make([]float64, len(taps)),
	}, nil
}

// NewPreEmphasis returns the first-order high-pass y[t] = x[t] - alpha*x[t-1].
func NewPreEmphasis(alpha float64) *FIR {
	f, _ := NewFIR([]float64{1.0, -alpha})
	return f
}

// Taps returns the length of the impulse response.
func (f *FIR) Taps() int {
	return len(f.taps)
}

// Transform filters frame in place, sample by sample.
// Performance Critical: no allocations.
func (f *FIR) Transform(frame []float64) {
	size := len(f.taps)
	for n, x := range frame {
		f.delayLine[f.cursor] = x

		var acc float64
		idx := f.cursor
		for i := range size {
			acc += f.taps[i] * f.delayLine[idx]
			idx--
			if idx < 0 {
				idx = size - 1
			}
		}

		f.cursor++
		if f.cursor >= size {
			f.cursor = 0
		}
		frame[n] = acc
	}
}
