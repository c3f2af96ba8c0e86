// SPDX-License-Identifier: MIT
package fft

import (
	"fmt"
	"math"

	"spectrogram/pkg/bitint"

	vecmath "github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/dsp/fourier"
)

// FFTWorkspace holds pre-allocated buffers for FFT calculations.
type FFTWorkspace struct {
	input     []float64    // ...for the windowed frame
	fftOutput []complex128 // ...for FFT complex output
	re, im    []float64    // ...for the split real and imaginary parts
	magnitude []float64    // ...for raw magnitude output
	window    []float64    // ...for window function coefficients
}

// Processor turns a real frame of fftSize samples into a normalized
// one-sided magnitude spectrum of fftSize/2+1 bins.
type Processor struct {
	fftSize    int
	sampleRate float64
	scale      float64
	workspace  FFTWorkspace
	fftObj     *fourier.FFT
}

// NewProcessor creates a new FFT processor. It pre-allocates every buffer the
// hot path needs and computes the periodic Hann window coefficients.
func NewProcessor(fftSize int, sampleRate float64) (*Processor, error) {
	if !bitint.IsPowerOfTwo(fftSize) || fftSize < 2 {
		return nil, fmt.Errorf("fft: size must be a power of 2, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("fft: sample rate must be positive, got %f", sampleRate)
	}

	outputSize := fftSize/2 + 1

	return &Processor{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		scale:      1 / float64(fftSize),
		fftObj:     fourier.NewFFT(fftSize),

		workspace: FFTWorkspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, outputSize),
			re:        make([]float64, outputSize),
			im:        make([]float64, outputSize),
			magnitude: make([]float64, outputSize),
			window:    HannPeriodic(fftSize),
		},
	}, nil
}

// HannPeriodic returns the periodic Hann window w[n] = 0.5 - 0.5cos(2πn/N).
func HannPeriodic(n int) []float64 {
	w := make([]float64, n)
	for i := range n {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// Size returns the FFT length.
func (p *Processor) Size() int {
	return p.fftSize
}

// Bins returns the number of spectrum bins Transform writes.
func (p *Processor) Bins() int {
	return p.fftSize/2 + 1
}

// Window returns the window coefficients. The slice must not be modified.
func (p *Processor) Window() []float64 {
	return p.workspace.window
}

// Transform windows frame, runs the forward FFT and writes |X[k]|/N for
// k = 0..N/2 into dst. frame must hold exactly Size() samples and is left
// untouched; dst must hold at least Bins() values.
// Performance Critical: no allocations.
func (p *Processor) Transform(dst, frame []float64) {
	ws := &p.workspace

	copy(ws.input, frame)
	vecmath.MulBlockInPlace(ws.input, ws.window)

	_ = p.fftObj.Coefficients(ws.fftOutput, ws.input)
	for i, c := range ws.fftOutput {
		ws.re[i] = real(c)
		ws.im[i] = imag(c)
	}

	vecmath.Magnitude(ws.magnitude, ws.re, ws.im)
	vecmath.ScaleBlock(dst[:len(ws.magnitude)], ws.magnitude, p.scale)
}

// GetFrequencyBin returns the frequency in Hz for a given FFT bin index.
func (p *Processor) GetFrequencyBin(i int) float64 {
	if i < 0 || i >= len(p.workspace.fftOutput) {
		return 0
	}
	return p.fftObj.Freq(i) * p.sampleRate
}
