// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"spectrogram/internal/config"
	"spectrogram/pkg/utils"
)

var silenceDB = 20 * math.Log10(math.MaxFloat32)

func exampleParams() Params {
	return Params{
		SampleRate:  16000,
		BufferSize:  512,
		NumBlocks:   3,
		FFTSize:     256,
		MelFilters:  40,
		PreEmphasis: true,
	}
}

func mustNew(t testing.TB, p Params) *Spectrogram {
	t.Helper()
	s, err := New(p)
	if err != nil {
		t.Fatalf("New(%+v): %v", p, err)
	}
	return s
}

func TestNewRejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"sample rate", func(p *Params) { p.SampleRate = 11025 }},
		{"fft size", func(p *Params) { p.FFTSize = 1024 }},
		{"mel filters", func(p *Params) { p.MelFilters = 10 }},
		{"zero buffer", func(p *Params) { p.BufferSize = 0 }},
		{"zero blocks", func(p *Params) { p.NumBlocks = 0 }},
		{"no frame fits", func(p *Params) { p.BufferSize, p.NumBlocks = 64, 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := exampleParams()
			tt.mutate(&p)
			_, err := New(p)
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

// Twelve chunks of silence at 16 kHz, N=256, 40 filters, three blocks of
// 512: M is 12 and every cell holds the silence sentinel.
func TestZeroInputEndToEnd(t *testing.T) {
	s := mustNew(t, exampleParams())
	if s.Depth() != 12 {
		t.Fatalf("Depth() = %d, want 12", s.Depth())
	}

	chunk := make([]int16, 512)
	for range 12 {
		s.Update(chunk)
	}

	if got := s.FramesProduced(); got != 47 {
		t.Errorf("FramesProduced() = %d, want 47", got)
	}

	spec := s.Spectrogram()
	if len(spec) != 12*128 {
		t.Fatalf("len(Spectrogram()) = %d, want %d", len(spec), 12*128)
	}
	for i, v := range spec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("spectrogram[%d] = %f, not finite", i, v)
		}
		if math.Abs(v-silenceDB) > 1e-9 {
			t.Fatalf("spectrogram[%d] = %f, want %f", i, v, silenceDB)
		}
	}

	mfsc := s.MFSC()
	if len(mfsc) != 12*40 {
		t.Fatalf("len(MFSC()) = %d, want %d", len(mfsc), 12*40)
	}
	for i, v := range mfsc {
		if math.Abs(v-silenceDB) > 1e-9 {
			t.Fatalf("mfsc[%d] = %f, want %f", i, v, silenceDB)
		}
	}
}

func TestOverlapAccounting(t *testing.T) {
	tests := []struct {
		fftSize, chunk, chunks int
		want                   uint64
	}{
		{256, 512, 1, 3},
		{256, 512, 12, 47},
		{512, 512, 1, 1},
		{512, 512, 10, 19},
		{128, 512, 5, 39},
		{256, 128, 1, 0},
		{256, 128, 2, 1},
		{256, 128, 8, 7},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("N%d/B%dx%d", tt.fftSize, tt.chunk, tt.chunks), func(t *testing.T) {
			p := exampleParams()
			p.FFTSize = tt.fftSize
			p.BufferSize = tt.chunk
			p.NumBlocks = 16
			s := mustNew(t, p)

			chunk := make([]int16, tt.chunk)
			for range tt.chunks {
				s.Update(chunk)
			}
			if got := s.FramesProduced(); got != tt.want {
				t.Errorf("FramesProduced() = %d, want %d", got, tt.want)
			}
		})
	}
}

// The ring cursor always sits at frames mod M, and the newest frame is the
// last row of the chronological unroll.
func TestRingInvariant(t *testing.T) {
	s := mustNew(t, exampleParams())
	signal := utils.GenerateComplexWave(512*40, 16000)

	latest := make([]float64, s.Bins())
	latestMFSC := make([]float64, s.NumFilters())
	for c := range 40 {
		s.Update(signal[c*512 : (c+1)*512])

		frames := s.FramesProduced()
		if s.spec.pos != int(frames%uint64(s.Depth())) || s.mfsc.pos != s.spec.pos {
			t.Fatalf("chunk %d: cursors %d/%d, frames %d, depth %d",
				c, s.spec.pos, s.mfsc.pos, frames, s.Depth())
		}

		if err := s.LatestPowerFrameInto(latest); err != nil {
			t.Fatal(err)
		}
		spec := s.Spectrogram()
		last := spec[(s.Depth()-1)*s.Bins():]
		for i := range latest {
			if latest[i] != last[i] {
				t.Fatalf("chunk %d: latest frame differs from last unrolled row at bin %d", c, i)
			}
		}

		if err := s.LatestMFSCFrameInto(latestMFSC); err != nil {
			t.Fatal(err)
		}
		mfsc := s.MFSC()
		lastMFSC := mfsc[(s.Depth()-1)*s.NumFilters():]
		for i := range latestMFSC {
			if latestMFSC[i] != lastMFSC[i] {
				t.Fatalf("chunk %d: latest MFSC differs from last unrolled row at filter %d", c, i)
			}
		}
	}
}

// Frame extraction is a property of the stream, not of how it is chunked.
func TestChunkingIndependence(t *testing.T) {
	p := exampleParams()
	p.NumBlocks = 8
	signal := utils.GenerateSineWave(512*8, 16000, 1000)

	reference := mustNew(t, p)
	for c := range 8 {
		reference.Update(signal[c*512 : (c+1)*512])
	}

	for _, sizes := range [][]int{{4096}, {100, 700, 3000, 296}, {1, 255, 256, 3584}} {
		s := mustNew(t, p)
		off := 0
		for _, n := range sizes {
			s.Update(signal[off : off+n])
			off += n
		}

		if s.FramesProduced() != reference.FramesProduced() {
			t.Fatalf("sizes %v: %d frames, want %d", sizes, s.FramesProduced(), reference.FramesProduced())
		}
		got, want := s.Spectrogram(), reference.Spectrogram()
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("sizes %v: spectrogram[%d] = %f, want %f", sizes, i, got[i], want[i])
			}
		}
	}
}

func TestSinePeakBin(t *testing.T) {
	p := exampleParams()
	p.PreEmphasis = false
	s := mustNew(t, p)

	// 1 kHz at 16 kHz with N=256 lands exactly on bin 16.
	signal := utils.GenerateSineWave(512*4, 16000, 1000)
	for c := range 4 {
		s.Update(signal[c*512 : (c+1)*512])
	}

	frame := s.LatestPowerFrame()
	peak := utils.FindPeakBin(frame, 0, len(frame)-1)
	if peak != 16 {
		t.Errorf("peak at bin %d, want 16", peak)
	}
	if f := s.FrequencyForBin(peak); math.Abs(f-1000) > 1e-9 {
		t.Errorf("FrequencyForBin(%d) = %f, want 1000", peak, f)
	}
}

func TestIntoLengthMismatch(t *testing.T) {
	s := mustNew(t, exampleParams())
	if err := s.LatestPowerFrameInto(make([]float64, 3)); err == nil {
		t.Error("LatestPowerFrameInto: expected error for short buffer")
	}
	if err := s.LatestMFSCFrameInto(make([]float64, 3)); err == nil {
		t.Error("LatestMFSCFrameInto: expected error for short buffer")
	}
	if err := s.SpectrogramInto(make([]float64, 3)); err == nil {
		t.Error("SpectrogramInto: expected error for short buffer")
	}
	if err := s.MFSCInto(make([]float64, 3)); err == nil {
		t.Error("MFSCInto: expected error for short buffer")
	}
}

func TestFilterbankDetails(t *testing.T) {
	s := mustNew(t, exampleParams())
	d := s.FilterbankDetails()
	if len(d.Ranges) != s.NumFilters()+2 {
		t.Errorf("len(Ranges) = %d, want %d", len(d.Ranges), s.NumFilters()+2)
	}
}

func TestParamsFrom(t *testing.T) {
	p := ParamsFrom(config.FallbackPipeline())
	if p.NumBlocks != 258 || p.Depth() != 516 {
		t.Errorf("ParamsFrom(fallback) = %+v, depth %d", p, p.Depth())
	}
	if _, err := New(p); err != nil {
		t.Errorf("New(fallback): %v", err)
	}
}

// Run with -race: readers never observe torn frames or data races.
func TestConcurrentReaders(t *testing.T) {
	s := mustNew(t, exampleParams())
	signal := utils.GenerateComplexWave(512, 16000)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spec := make([]float64, s.Depth()*s.Bins())
			mfsc := make([]float64, s.Depth()*s.NumFilters())
			frame := make([]float64, s.Bins())
			for {
				select {
				case <-stop:
					return
				default:
				}
				_ = s.SpectrogramInto(spec)
				_ = s.MFSCInto(mfsc)
				_ = s.LatestPowerFrameInto(frame)
				for _, v := range frame {
					if math.IsNaN(v) {
						t.Error("NaN in latest frame")
						return
					}
				}
				_ = s.FramesProduced()
			}
		}()
	}

	for range 200 {
		s.Update(signal)
	}
	close(stop)
	wg.Wait()

	if got := s.FramesProduced(); got != 4*200-1 {
		t.Errorf("FramesProduced() = %d, want %d", got, 4*200-1)
	}
}

func TestUpdateZeroAllocs(t *testing.T) {
	s := mustNew(t, exampleParams())
	signal := utils.GenerateComplexWave(512, 16000)

	s.Update(signal)
	allocs := testing.AllocsPerRun(100, func() {
		s.Update(signal)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Update hot path, got %.1f", allocs)
	}
}

func BenchmarkUpdate(b *testing.B) {
	s := mustNew(b, ParamsFrom(config.FallbackPipeline()))
	signal := utils.GenerateComplexWave(512, 44100)

	b.ReportAllocs()
	for b.Loop() {
		s.Update(signal)
	}
}
