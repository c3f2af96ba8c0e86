// SPDX-License-Identifier: MIT
//
// Package bitint holds the power-of-2 helpers used when sizing FFTs and
// ring buffers. Both functions are O(1) and never allocate.
//
//	size := bitint.NextPowerOfTwo(44100 * 5) // 262144
//	ok := bitint.IsPowerOfTwo(fftSize)
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of 2 >= size. Subtracting one
// before taking the bit length keeps exact powers of 2 unchanged.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of 2. A power of 2 has a
// single bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
