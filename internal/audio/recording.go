// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"spectrogram/pkg/bitint"
)

// Recorder keeps the most recent Size() samples of the capture stream. The
// backing ring is rounded up to a power of two so positions wrap with a
// mask.
type Recorder struct {
	mu      sync.Mutex
	buf     []int16
	mask    uint64
	size    int
	written uint64
}

// NewRecorder returns a Recorder holding the last size samples.
func NewRecorder(size int) *Recorder {
	size = max(size, 1)
	capacity := bitint.NextPowerOfTwo(size)
	return &Recorder{
		buf:  make([]int16, capacity),
		mask: uint64(capacity - 1),
		size: size,
	}
}

// Size returns the number of samples a Snapshot holds.
func (r *Recorder) Size() int { return r.size }

// Written returns the number of samples written since construction.
func (r *Recorder) Written() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Write appends chunk to the ring.
// Performance Critical: no allocations.
func (r *Recorder) Write(chunk []int16) {
	r.mu.Lock()
	for _, s := range chunk {
		r.buf[r.written&r.mask] = s
		r.written++
	}
	r.mu.Unlock()
}

// Snapshot returns the last Size() samples, oldest first. Slots never
// written are zero and come first.
func (r *Recorder) Snapshot() []int16 {
	out := make([]int16, r.size)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(r.written, uint64(r.size))
	start := r.written - n
	dst := out[uint64(r.size)-n:]
	for i := range dst {
		dst[i] = r.buf[(start+uint64(i))&r.mask]
	}
	return out
}

// SaveWAV writes samples as a mono 16-bit PCM WAV file.
func SaveWAV(path string, samples []int16, sampleRate int) (err error) {
	if sampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("audio: close %s: %w", path, cerr)
		}
	}()

	encoder := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}

	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("audio: encode %s: %w", path, err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("audio: finish %s: %w", path, err)
	}
	return nil
}

// ReadWAV decodes a PCM WAV file into 16-bit samples of its first channel
// and returns them with the file's sample rate.
func ReadWAV(path string) ([]int16, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("audio: %s is not a valid WAV file", path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, errors.New("audio: WAV file without channel information")
	}

	channels := buf.Format.NumChannels
	depth := int(decoder.BitDepth)
	samples := make([]int16, len(buf.Data)/channels)
	for i := range samples {
		samples[i] = toInt16(buf.Data[i*channels], depth)
	}
	return samples, buf.Format.SampleRate, nil
}

// toInt16 rescales a decoded sample of the given bit depth to 16 bits.
// 8-bit WAV data is unsigned.
func toInt16(v, depth int) int16 {
	switch {
	case depth == 8:
		return int16((v - 128) << 8)
	case depth > 16:
		return int16(v >> (depth - 16))
	default:
		return int16(v)
	}
}
