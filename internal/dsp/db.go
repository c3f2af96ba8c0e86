// SPDX-License-Identifier: MIT
package dsp

import "math"

// Decibels writes 20·log10(src[i]) into dst. Zero inputs are replaced by
// math.MaxFloat32 before taking the log, so silence maps to a large finite
// value instead of -Inf. dst and src may be the same slice.
// Performance Critical: no allocations.
func Decibels(dst, src []float64) {
	for i, v := range src {
		if v == 0 {
			v = math.MaxFloat32
		}
		dst[i] = 20 * math.Log10(v)
	}
}
