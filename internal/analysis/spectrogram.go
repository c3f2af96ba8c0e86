// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"slices"
	"sync"

	"spectrogram/internal/config"
	"spectrogram/internal/dsp"
	"spectrogram/internal/fft"
	"spectrogram/internal/log"
)

// Params fixes the shape of a Spectrogram. A Spectrogram never changes
// shape; build a new one to change any of these.
type Params struct {
	SampleRate  int  // Capture rate in Hz.
	BufferSize  int  // Samples per capture chunk.
	NumBlocks   int  // Capture chunks covered by the rolling history.
	FFTSize     int  // Frame length N, hop N/2.
	MelFilters  int  // Usable filters in the mel filterbank.
	PreEmphasis bool // Run the pre-emphasis FIR on every frame.
}

// ParamsFrom derives Params from a validated pipeline configuration.
func ParamsFrom(p config.Pipeline) Params {
	return Params{
		SampleRate:  p.SampleRate,
		BufferSize:  p.BufferSize,
		NumBlocks:   p.NumBlocks(),
		FFTSize:     p.FFTSize,
		MelFilters:  p.MelFilters,
		PreEmphasis: p.PreEmphasis,
	}
}

// Depth returns the number of frames M kept in each ring.
func (p Params) Depth() int {
	if p.FFTSize <= 0 {
		return 0
	}
	return p.BufferSize * p.NumBlocks / p.FFTSize * 2
}

func (p Params) validate() error {
	if !slices.Contains(config.SampleRates, p.SampleRate) {
		return fmt.Errorf("%w: sample rate %d not in %v", config.ErrInvalidConfig, p.SampleRate, config.SampleRates)
	}
	if !slices.Contains(config.FFTSizes, p.FFTSize) {
		return fmt.Errorf("%w: fft size %d not in %v", config.ErrInvalidConfig, p.FFTSize, config.FFTSizes)
	}
	if !slices.Contains(config.MelFilterbankSizes, p.MelFilters) {
		return fmt.Errorf("%w: mel filters %d not in %v", config.ErrInvalidConfig, p.MelFilters, config.MelFilterbankSizes)
	}
	if p.BufferSize <= 0 || p.NumBlocks <= 0 {
		return fmt.Errorf("%w: buffer size %d and block count %d must be positive",
			config.ErrInvalidConfig, p.BufferSize, p.NumBlocks)
	}
	if p.Depth() <= 0 {
		return fmt.Errorf("%w: %d blocks of %d samples hold no frame of %d",
			config.ErrInvalidConfig, p.NumBlocks, p.BufferSize, p.FFTSize)
	}
	return nil
}

// Spectrogram is the streaming STFT engine. It turns a stream of 16-bit PCM
// chunks into 50% overlapped frames and keeps the last Depth() frames of two
// representations: the dB power spectrum (N/2 bins) and the log mel
// filterbank energies (MFSC, NumFilters() values).
//
// Update must be called from a single producer goroutine. Every reader
// method is safe to call concurrently with Update and with each other; the
// rings are only touched under mu, and readers always receive copies.
type Spectrogram struct {
	params     Params
	fftSize    int
	hop        int
	depth      int
	filterbank *dsp.MelFilterbank
	fft        *fft.Processor
	fir        *dsp.FIR // nil when pre-emphasis is disabled.

	// Producer-private state, one buffer per stage.
	delayLine  []int16   // Unconsumed samples, capacity BufferSize+N.
	pending    int       // Valid samples at the start of delayLine.
	frame      []float64 // N samples of the current frame.
	spectrum   []float64 // |X[k]|/N, N/2+1 bins.
	powerDB    []float64 // dB of spectrum[0:N/2].
	energies   []float64 // Filterbank output.
	energiesDB []float64 // dB of energies.

	mu     sync.RWMutex
	spec   *ring
	mfsc   *ring
	frames uint64
}

// Compile-time checks for interface implementations.
var _ AudioProcessor = (*Spectrogram)(nil)
var _ FrameSource = (*Spectrogram)(nil)
var _ MFSCSource = (*Spectrogram)(nil)

// New builds a Spectrogram, its filterbank and every buffer it will use.
// Errors wrap config.ErrInvalidConfig when the parameters are outside the
// allowed sets.
func New(p Params) (*Spectrogram, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	fb, err := dsp.NewMelFilterbank(float64(p.SampleRate), p.FFTSize, p.MelFilters)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	proc, err := fft.NewProcessor(p.FFTSize, float64(p.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	n := p.FFTSize
	half := n / 2
	depth := p.Depth()

	s := &Spectrogram{
		params:     p,
		fftSize:    n,
		hop:        half,
		depth:      depth,
		filterbank: fb,
		fft:        proc,

		delayLine:  make([]int16, p.BufferSize+n),
		frame:      make([]float64, n),
		spectrum:   make([]float64, proc.Bins()),
		powerDB:    make([]float64, half),
		energies:   make([]float64, p.MelFilters),
		energiesDB: make([]float64, p.MelFilters),

		spec: newRing(depth, half),
		mfsc: newRing(depth, p.MelFilters),
	}
	if p.PreEmphasis {
		s.fir = dsp.NewPreEmphasis(dsp.PreEmphasisAlpha)
	}

	log.Debugf("Analysis: Spectrogram ready (fs: %d Hz, N: %d, filters: %d, depth: %d frames)",
		p.SampleRate, n, p.MelFilters, depth)

	return s, nil
}

// Process implements AudioProcessor.
func (s *Spectrogram) Process(chunk []int16) {
	s.Update(chunk)
}

// Update appends chunk to the delay line and analyses every complete frame.
// Chunks longer than BufferSize are consumed BufferSize samples at a time.
// Update is not re-entrant.
// Performance Critical: no allocations.
func (s *Spectrogram) Update(chunk []int16) {
	for len(chunk) > 0 {
		n := min(len(chunk), s.params.BufferSize)
		s.consume(chunk[:n])
		chunk = chunk[n:]
	}
}

func (s *Spectrogram) consume(chunk []int16) {
	copy(s.delayLine[s.pending:], chunk)
	s.pending += len(chunk)

	offset := 0
	for s.pending-offset >= s.fftSize {
		for j, v := range s.delayLine[offset : offset+s.fftSize] {
			s.frame[j] = float64(v)
		}
		s.analyseFrame()
		offset += s.hop
	}

	copy(s.delayLine, s.delayLine[offset:s.pending])
	s.pending -= offset
}

// analyseFrame runs the per-frame chain and publishes the result.
func (s *Spectrogram) analyseFrame() {
	if s.fir != nil {
		s.fir.Transform(s.frame)
	}

	s.fft.Transform(s.spectrum, s.frame)
	dsp.Decibels(s.powerDB, s.spectrum[:s.hop])

	s.filterbank.Apply(s.energies, s.spectrum)
	dsp.Decibels(s.energiesDB, s.energies)

	s.mu.Lock()
	s.spec.push(s.powerDB)
	s.mfsc.push(s.energiesDB)
	s.frames++
	s.mu.Unlock()
}

// LatestPowerFrame returns a copy of the newest dB power frame.
// NOTE: This method allocates; use LatestPowerFrameInto on hot paths.
func (s *Spectrogram) LatestPowerFrame() []float64 {
	dst := make([]float64, s.hop)
	_ = s.LatestPowerFrameInto(dst)
	return dst
}

// LatestPowerFrameInto copies the newest dB power frame into dst, which must
// hold exactly Bins() values. Before the first frame the result is zeros.
func (s *Spectrogram) LatestPowerFrameInto(dst []float64) error {
	if len(dst) != s.hop {
		return fmt.Errorf("destination slice length %d does not match required length %d", len(dst), s.hop)
	}
	s.mu.RLock()
	s.spec.latest(dst)
	s.mu.RUnlock()
	return nil
}

// LatestMFSCFrame returns a copy of the newest MFSC frame.
func (s *Spectrogram) LatestMFSCFrame() []float64 {
	dst := make([]float64, s.params.MelFilters)
	_ = s.LatestMFSCFrameInto(dst)
	return dst
}

// LatestMFSCFrameInto copies the newest MFSC frame into dst, which must hold
// exactly NumFilters() values.
func (s *Spectrogram) LatestMFSCFrameInto(dst []float64) error {
	if len(dst) != s.params.MelFilters {
		return fmt.Errorf("destination slice length %d does not match required length %d", len(dst), s.params.MelFilters)
	}
	s.mu.RLock()
	s.mfsc.latest(dst)
	s.mu.RUnlock()
	return nil
}

// Spectrogram returns the dB power history, Depth()×Bins() values row-major
// with the oldest frame first.
func (s *Spectrogram) Spectrogram() []float64 {
	dst := make([]float64, s.depth*s.hop)
	_ = s.SpectrogramInto(dst)
	return dst
}

// SpectrogramInto is the allocation-free form of Spectrogram.
func (s *Spectrogram) SpectrogramInto(dst []float64) error {
	if want := s.depth * s.hop; len(dst) != want {
		return fmt.Errorf("destination slice length %d does not match required length %d", len(dst), want)
	}
	s.mu.RLock()
	s.spec.unroll(dst)
	s.mu.RUnlock()
	return nil
}

// MFSC returns the MFSC history, Depth()×NumFilters() values row-major with
// the oldest frame first.
func (s *Spectrogram) MFSC() []float64 {
	dst := make([]float64, s.depth*s.params.MelFilters)
	_ = s.MFSCInto(dst)
	return dst
}

// MFSCInto is the allocation-free form of MFSC.
func (s *Spectrogram) MFSCInto(dst []float64) error {
	if want := s.depth * s.params.MelFilters; len(dst) != want {
		return fmt.Errorf("destination slice length %d does not match required length %d", len(dst), want)
	}
	s.mu.RLock()
	s.mfsc.unroll(dst)
	s.mu.RUnlock()
	return nil
}

// FramesProduced returns the number of frames analysed since construction.
func (s *Spectrogram) FramesProduced() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// Params returns the parameters the Spectrogram was built with.
func (s *Spectrogram) Params() Params { return s.params }

// Depth returns the number of frames M in each ring.
func (s *Spectrogram) Depth() int { return s.depth }

// Bins returns the length of a power frame, N/2.
func (s *Spectrogram) Bins() int { return s.hop }

// NumFilters returns the length of an MFSC frame.
func (s *Spectrogram) NumFilters() int { return s.params.MelFilters }

// SampleRate returns the capture rate in Hz.
func (s *Spectrogram) SampleRate() float64 { return float64(s.params.SampleRate) }

// FrequencyForBin returns the center frequency in Hz of power bin i.
func (s *Spectrogram) FrequencyForBin(i int) float64 {
	return s.fft.GetFrequencyBin(i)
}

// FilterbankDetails returns a copy of the mel filterbank layout.
func (s *Spectrogram) FilterbankDetails() dsp.FilterbankDetails {
	return s.filterbank.Details()
}
