package mempool

import "sort"

// feeFloorTracker implements spec §4.4 step 4: the fee floor for a lane is
// the p-th percentile of the last W included fee_per_byte values. Until W
// samples have been recorded the floor is zero (no floor enforced), since
// there is no history yet to derive one from.
type feeFloorTracker struct {
	window     []float64 // ring buffer, oldest overwritten first
	next       int
	filled     bool
	capacity   int
	percentile int
}

func newFeeFloorTracker(windowSize, percentile int) *feeFloorTracker {
	return &feeFloorTracker{
		window:     make([]float64, windowSize),
		capacity:   windowSize,
		percentile: percentile,
	}
}

// record adds a newly-included transaction's fee_per_byte to the rolling
// window, evicting the oldest sample once the window is full.
func (t *feeFloorTracker) record(feePerByte float64) {
	if t.capacity == 0 {
		return
	}
	t.window[t.next] = feePerByte
	t.next = (t.next + 1) % t.capacity
	if t.next == 0 {
		t.filled = true
	}
}

// floor returns the current fee floor, or 0 if fewer than capacity samples
// have been recorded yet.
func (t *feeFloorTracker) floor() float64 {
	if !t.filled {
		return 0
	}
	n := t.capacity
	sorted := append([]float64(nil), t.window[:n]...)
	sort.Float64s(sorted)
	idx := (t.percentile * (n - 1)) / 100
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
