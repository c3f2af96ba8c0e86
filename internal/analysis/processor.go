// SPDX-License-Identifier: MIT
package analysis

// AudioProcessor is implemented by components that consume capture chunks.
// Process is called from the real-time audio callback and must not block.
type AudioProcessor interface {
	Process(chunk []int16)
}

// FrameSource provides the most recent analysis results to consumers such
// as transports. Implementations must be safe for concurrent readers.
type FrameSource interface {
	LatestPowerFrameInto(dst []float64) error // Copies the newest dB power frame, Bins() values.
	LatestMFSCFrameInto(dst []float64) error  // Copies the newest MFSC frame, NumFilters() values.
	Bins() int                                // Length of a power frame (N/2).
	NumFilters() int                          // Length of an MFSC frame.
	FramesProduced() uint64                   // Frames written since construction.
	SampleRate() float64                      // Sample rate the frames were computed at.
}

// MFSCSource exposes the chronological MFSC history used to build features.
type MFSCSource interface {
	MFSCInto(dst []float64) error
	Depth() int
	NumFilters() int
}
