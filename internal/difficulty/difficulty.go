// Package difficulty implements the multi-window EMA retarget controller
// (spec §4.5, component C5): three exponential moving averages over recent
// block intervals, blended by fixed weights, clamped to a bounded range of
// the previous difficulty, with a small carried-forward trend hint.
package difficulty

import "github.com/ledgerforge/consensuscore/internal/constants"

// ema computes an exponential moving average over intervals with smoothing
// window w: k = 2/(w+1), seeded by the first interval.
func ema(intervals []float64, w int) float64 {
	if len(intervals) == 0 {
		return 0
	}
	k := 2.0 / (float64(w) + 1.0)
	avg := intervals[0]
	for _, v := range intervals[1:] {
		avg = v*k + avg*(1.0-k)
	}
	return avg
}

// Retune computes the next difficulty from prev and the window of recent
// block timestamps (oldest first, milliseconds), carrying forward the
// previous round's trend hint. Returns (prev, 0) unchanged (or (1, 0) when
// prev is 0) if fewer than two timestamps are available (spec §4.5
// "insufficient history").
//
// hint is a ±1 nudge from the previous retune: a sustained upward or
// downward trend between the short and long EMA biases the next
// difficulty by HintAdjustPercent before clamping, and a fresh hint is
// derived from the same comparison for the following round.
func Retune(prev uint64, timestamps []int64, hint int8, params constants.ConsensusConstants) (next uint64, nextHint int8) {
	if len(timestamps) < 2 {
		if prev == 0 {
			return 1, 0
		}
		return prev, 0
	}

	intervals := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		delta := timestamps[i] - timestamps[i-1]
		if delta < 0 {
			delta = 0
		}
		intervals = append(intervals, float64(delta))
	}

	short := ema(intervals, params.EMAWindowShort)
	med := ema(intervals, params.EMAWindowMedium)
	long := ema(intervals, params.EMAWindowLong)

	ks := float64(maxU64(params.KalmanWeightShort, 1))
	km := float64(maxU64(params.KalmanWeightMedium, 1))
	kl := float64(maxU64(params.KalmanWeightLong, 1))
	total := ks + km + kl
	predicted := (short*ks + med*km + long*kl) / total

	target := float64(params.TargetSpacingMillis)
	nextF := float64(prev) * predicted / target
	nextF *= 1.0 + float64(hint)*params.HintAdjustPercent

	clamp := maxU64(params.DifficultyClampFactor, 1)
	min := float64(prev) / float64(clamp)
	max := float64(prev) * float64(clamp)
	if nextF < min {
		nextF = min
	}
	if nextF > max {
		nextF = max
	}

	result := uint64(nextF + 0.5)
	if result < 1 {
		result = 1
	}

	trend := short - long
	switch {
	case trend < -1.0:
		nextHint = -1
	case trend > 1.0:
		nextHint = 1
	default:
		nextHint = 0
	}
	return result, nextHint
}

func maxU64(v, floor uint64) uint64 {
	if v < floor {
		return floor
	}
	return v
}
