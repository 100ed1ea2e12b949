package stats

import (
	"testing"
	"time"
)

func TestShoveBoundsWindow(t *testing.T) {
	t.Parallel()

	var seq []int
	for i := 1; i <= 8; i++ {
		seq = Shove(seq, i, 5)
	}
	if len(seq) != 5 {
		t.Fatalf("len = %d, want 5", len(seq))
	}
	want := []int{4, 5, 6, 7, 8}
	for i, v := range want {
		if seq[i] != v {
			t.Errorf("seq[%d] = %d, want %d", i, seq[i], v)
		}
	}
}

func TestShoveKeepsShortSequences(t *testing.T) {
	t.Parallel()

	seq := Shove([]int{1, 2}, 3, 5)
	if len(seq) != 3 {
		t.Fatalf("len = %d, want 3", len(seq))
	}
}

func TestMean(t *testing.T) {
	t.Parallel()

	if got := Mean[int](nil); got != 0 {
		t.Errorf("Mean(nil) = %d, want 0", got)
	}
	if got := Mean([]int{2, 4, 6}); got != 4 {
		t.Errorf("Mean = %d, want 4", got)
	}
	got := Mean([]time.Duration{time.Second, 3 * time.Second})
	if got != 2*time.Second {
		t.Errorf("Mean = %s, want 2s", got)
	}
}

func TestMedianIgnoresOutliers(t *testing.T) {
	t.Parallel()

	seq := []time.Duration{
		100 * time.Millisecond,
		110 * time.Millisecond,
		90 * time.Millisecond,
		5 * time.Second, // transient congestion spike
		105 * time.Millisecond,
	}
	if got := Median(seq); got != 105*time.Millisecond {
		t.Errorf("Median = %s, want 105ms", got)
	}
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	seq := []int{3, 1, 2}
	Median(seq)
	if seq[0] != 3 || seq[1] != 1 || seq[2] != 2 {
		t.Errorf("input reordered: %v", seq)
	}
}

func TestMedianEvenLengthPicksUpperMiddle(t *testing.T) {
	t.Parallel()

	if got := Median([]int{1, 2, 3, 4}); got != 3 {
		t.Errorf("Median = %d, want 3", got)
	}
}

func TestMedianEmpty(t *testing.T) {
	t.Parallel()

	if got := Median[int](nil); got != 0 {
		t.Errorf("Median(nil) = %d, want 0", got)
	}
}
