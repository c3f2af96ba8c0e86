// SPDX-License-Identifier: MIT
package dsp

import (
	"fmt"
	"math"
)

// MaxFilterLength bounds the number of FFT bins a single mel filter spans.
const MaxFilterLength = 64

// MelOf converts a frequency in Hz to the mel scale.
func MelOf(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// HzOf converts a mel value back to Hz.
func HzOf(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// FilterRange locates a triangular filter in the power spectrum.
type FilterRange struct {
	Left   int // First FFT bin covered by the filter.
	Center int // Bin where the weight peaks at 1.
	Length int // Number of bins covered, 0 for the empty edge slots.
}

// FilterbankDetails is a copy of the filterbank layout, meant for plotting.
type FilterbankDetails struct {
	Ranges  []FilterRange
	Weights [][]float64
}

// MelFilterbank holds numFilters+2 triangular filters. Slots 0 and
// numFilters+1 only mark the outer edges and are always empty. The bank is
// immutable once built.
type MelFilterbank struct {
	sampleRate float64
	fftSize    int
	numFilters int
	ranges     []FilterRange
	weights    [][]float64
}

// NewMelFilterbank builds the filterbank for the given sample rate, FFT size
// and filter count.
func NewMelFilterbank(sampleRate float64, fftSize, numFilters int) (*MelFilterbank, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("mel: sample rate must be positive, got %f", sampleRate)
	}
	if fftSize <= 0 {
		return nil, fmt.Errorf("mel: fft size must be positive, got %d", fftSize)
	}
	if numFilters <= 0 {
		return nil, fmt.Errorf("mel: filter count must be positive, got %d", numFilters)
	}

	slots := numFilters + 2
	melMax := MelOf(sampleRate / 2)
	deltaMel := melMax / float64(slots)

	edges := make([]float64, slots)
	for m := range slots {
		hz := HzOf(deltaMel * float64(m))
		edges[m] = math.Floor(float64(fftSize+1) * hz / sampleRate)
	}

	fb := &MelFilterbank{
		sampleRate: sampleRate,
		fftSize:    fftSize,
		numFilters: numFilters,
		ranges:     make([]FilterRange, slots),
		weights:    make([][]float64, slots),
	}

	for m := 1; m <= numFilters; m++ {
		fMinus, fCenter, fPlus := edges[m-1], edges[m], edges[m+1]
		left, center, right := int(fMinus), int(fCenter), int(fPlus)

		length := right - left + 1
		if length > MaxFilterLength {
			return nil, fmt.Errorf("mel: filter %d spans %d bins, limit is %d", m, length, MaxFilterLength)
		}

		w := make([]float64, length)
		for k := left; k < center; k++ {
			w[k-left] = (float64(k) - fMinus) / (fCenter - fMinus)
		}
		for k := center; k < right; k++ {
			w[k-left] = (fPlus - float64(k)) / (fPlus - fCenter)
		}

		fb.ranges[m] = FilterRange{Left: left, Center: center, Length: length}
		fb.weights[m] = w
	}

	return fb, nil
}

// NumFilters returns the number of usable filters.
func (fb *MelFilterbank) NumFilters() int {
	return fb.numFilters
}

// SpectrumLen returns the minimum spectrum length Apply reads from.
func (fb *MelFilterbank) SpectrumLen() int {
	r := fb.ranges[fb.numFilters]
	return r.Left + r.Length
}

// Filter returns the range and weights of filter m (1-based, as stored).
// The returned weights must not be modified.
func (fb *MelFilterbank) Filter(m int) (FilterRange, []float64) {
	return fb.ranges[m], fb.weights[m]
}

// Apply writes one energy per filter into dst[0:NumFilters()], each the dot
// product of the filter weights with the spectrum bins it covers.
// Performance Critical: no allocations.
func (fb *MelFilterbank) Apply(dst, spectrum []float64) {
	for m := 1; m <= fb.numFilters; m++ {
		r := fb.ranges[m]
		w := fb.weights[m]

		var sum float64
		for i := range r.Length {
			sum += spectrum[r.Left+i] * w[i]
		}
		dst[m-1] = sum
	}
}

// Details returns a deep copy of every filter slot, edges included.
func (fb *MelFilterbank) Details() FilterbankDetails {
	d := FilterbankDetails{
		Ranges:  make([]FilterRange, len(fb.ranges)),
		Weights: make([][]float64, len(fb.weights)),
	}
	copy(d.Ranges, fb.ranges)
	for m, w := range fb.weights {
		d.Weights[m] = append([]float64(nil), w...)
	}
	return d
}
