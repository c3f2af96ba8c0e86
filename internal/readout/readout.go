// SPDX-License-Identifier: MIT
//
// Package readout turns the rolling rings kept by the analysis package into
// chronological arrays, 8-bit intensities and RGBA pixel buffers. Nothing in
// here keeps state; callers own every buffer.
package readout

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Unroll copies a ring of len(ring)/width rows into dst in chronological
// order. pos is the ring cursor, i.e. the slot the next frame will overwrite
// and therefore the oldest frame. dst must be as long as ring.
func Unroll(dst, ring []float64, width, pos int) {
	if width <= 0 || len(ring) == 0 {
		return
	}
	split := pos * width
	n := copy(dst, ring[split:])
	copy(dst[n:], ring[:split])
}

// Normalize linearly maps src onto [0,255] using its own minimum and
// maximum. When every value is equal the output is all zeros.
// Performance Critical: no allocations.
func Normalize(dst []uint8, src []float64) {
	if len(src) == 0 {
		return
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range src {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	span := hi - lo
	if span == 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		clear(dst[:len(src)])
		return
	}

	for i, v := range src {
		if v == hi {
			dst[i] = 255
			continue
		}
		dst[i] = uint8((v - lo) * 255 / span)
	}
}

// Quantize converts src to 8-bit intensities without rescaling. Negative
// values become 0, anything else keeps the low 8 bits of its integer part.
func Quantize(dst []uint8, src []float64) {
	for i, v := range src {
		if v < 0 || math.IsNaN(v) {
			dst[i] = 0
			continue
		}
		dst[i] = uint8(int64(v) & 0xff)
	}
}

// Color maps an intensity onto the blue-green palette used by every render.
func Color(v uint8) color.RGBA {
	half := v / 2
	return color.RGBA{R: 128 - half, G: v, B: 128 + half, A: 255}
}

// Image renders width×height intensities, one frame per row with the oldest
// frame at the top.
func Image(intensities []uint8, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("readout: invalid image size %dx%d", width, height)
	}
	if len(intensities) < width*height {
		return nil, fmt.Errorf("readout: need %d intensities for %dx%d, got %d",
			width*height, width, height, len(intensities))
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		row := intensities[y*width : (y+1)*width]
		for x, v := range row {
			img.SetRGBA(x, y, Color(v))
		}
	}
	return img, nil
}
