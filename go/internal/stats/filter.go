package stats

import (
	"cmp"
	"slices"
)

// Sample covers the numeric types the filters operate on. time.Duration
// satisfies it via ~int64.
type Sample interface {
	~int | ~int32 | ~int64 | ~float64
}

// Shove appends v to seq and evicts the oldest entries so that no more
// than limit samples remain. It returns the updated slice.
func Shove[T Sample](seq []T, v T, limit int) []T {
	seq = append(seq, v)
	if len(seq) > limit {
		seq = seq[len(seq)-limit:]
	}
	return seq
}

// Mean returns the arithmetic mean of seq, or zero for an empty sequence.
func Mean[T Sample](seq []T) T {
	if len(seq) == 0 {
		return 0
	}
	var sum T
	for _, v := range seq {
		sum += v
	}
	return sum / T(len(seq))
}

// Median returns the middle element of a sorted copy of seq, or zero for
// an empty sequence. For even lengths it picks the upper middle rather
// than interpolating, which keeps the result an actual observed sample.
func Median[T Sample](seq []T) T {
	if len(seq) == 0 {
		return 0
	}
	sorted := slices.Clone(seq)
	slices.SortFunc(sorted, func(a, b T) int { return cmp.Compare(a, b) })
	return sorted[len(sorted)/2]
}
