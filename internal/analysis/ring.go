// SPDX-License-Identifier: MIT
package analysis

import "spectrogram/internal/readout"

// ring is a fixed depth×width history of frames stored row-major in one
// slice. pos is the slot the next push overwrites, which is also the oldest
// frame once the ring has wrapped. Callers serialize access.
type ring struct {
	data  []float64
	width int
	depth int
	pos   int
}

func newRing(depth, width int) *ring {
	return &ring{
		data:  make([]float64, depth*width),
		width: width,
		depth: depth,
	}
}

// push copies row into the current slot and advances the cursor modulo depth.
func (r *ring) push(row []float64) {
	copy(r.data[r.pos*r.width:(r.pos+1)*r.width], row)
	r.pos++
	if r.pos >= r.depth {
		r.pos = 0
	}
}

// latest copies the most recently pushed row into dst.
func (r *ring) latest(dst []float64) {
	i := (r.pos - 1 + r.depth) % r.depth
	copy(dst, r.data[i*r.width:(i+1)*r.width])
}

// unroll copies every row into dst, oldest first.
func (r *ring) unroll(dst []float64) {
	readout.Unroll(dst, r.data, r.width, r.pos)
}
