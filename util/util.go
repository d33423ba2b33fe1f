// Package util holds small generic helpers shared across the parsing,
// sequencing and playback packages.
package util

import "golang.org/x/exp/constraints"

// Clamp restricts v to the inclusive range [lo, hi].
func Clamp[A constraints.Ordered](v, lo, hi A) A {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Max returns the larger of two ordered values.
func Max[A constraints.Ordered](a, b A) A {
	if a > b {
		return a
	}
	return b
}

// SumDurations totals a slice of integer tick or byte counts, widening to
// avoid overflow when summing many small values (large SMF files can carry
// millions of short events). Used by Describe to report a track's total
// event payload size.
func SumDurations[A constraints.Integer](nums []A) uint64 {
	var total uint64
	for _, v := range nums {
		total += uint64(v)
	}
	return total
}

// Keys returns the keys of m in unspecified order. Used by Sequencer.Seek
// to enumerate the distinct channels with an outstanding note before
// synthesizing their all-notes-off events.
func Keys[A comparable, B any](m map[A]B) []A {
	keys := make([]A, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
