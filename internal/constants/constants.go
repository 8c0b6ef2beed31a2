// Package constants bundles the node-wide consensus parameters that spec.md
// §9 calls out as "scattered": a single ConsensusConstants value is the
// authoritative source for every hard-coded consensus number instead of
// package-level consts sprinkled across the tree.
package constants

// ConsensusConstants bundles every protocol-fixed number referenced by the
// difficulty controller, VDF anchor, governance controller and chain store.
// A node constructs exactly one of these at startup (Default() unless a
// test or a fork needs to override a field) and threads it through the
// components that need it.
type ConsensusConstants struct {
	// DifficultyWindow is the number of recent block timestamps fed to the
	// difficulty controller (spec §4.5).
	DifficultyWindow int
	// TargetSpacingMillis is the desired inter-block interval in
	// milliseconds.
	TargetSpacingMillis int64
	// DifficultyClampFactor bounds next-difficulty to [prev/F, prev*F].
	DifficultyClampFactor uint64
	// EMA windows for the short/medium/long difficulty predictors.
	EMAWindowShort, EMAWindowMedium, EMAWindowLong int
	// KalmanWeightShort/Medium/Long weight each EMA predictor's contribution
	// to the blended interval estimate (spec §4.5's "weighted blend of
	// multiple EMA windows").
	KalmanWeightShort, KalmanWeightMedium, KalmanWeightLong uint64
	// HintAdjustPercent scales the ±1 trend hint carried from the previous
	// retune into a percentage nudge on the next difficulty (spec §4.5).
	HintAdjustPercent float64

	// VDFRounds is R, the consensus-fixed number of sequential squarings
	// every block's VDF anchor must perform (spec §4.6).
	VDFRounds uint64

	// ActivationDelayEpochs is the minimum number of epochs between a
	// proposal passing and its parameter taking effect (spec §4.10).
	ActivationDelayEpochs int64
	// RollbackWindowEpochs is the maximum number of epochs after
	// activation during which a proposal's effect may be reversed.
	RollbackWindowEpochs int64
	// QuorumNumerator/QuorumDenominator express the yes-weight fraction of
	// total stake a proposal needs to pass, as a reduced fraction to avoid
	// floating point in a consensus-critical comparison.
	QuorumNumerator, QuorumDenominator uint64

	// MempoolFeeFloorWindow (W) and MempoolFeeFloorPercentile (p) are the
	// defaults for the rolling fee-floor policy (spec §4.4 step 4).
	MempoolFeeFloorWindow     int
	MempoolFeeFloorPercentile int

	// ConsumerLaneComfortPercent is the minimum fee-split percent (spec
	// §3 RawTxPayload.fee_split_percent, an integer 0-100) a transaction
	// must dedicate back to the consumer pool to be admitted to the
	// cheaper consumer fee lane; below this it must use the industrial
	// lane. Resolves the open question in spec.md §9.
	ConsumerLaneComfortPercent uint8

	// MempoolRecentEvictionCapacity bounds the recent-eviction set (spec
	// §4.4) used to block resubmission churn after an eviction.
	MempoolRecentEvictionCapacity int

	// MempoolEntryTTLMillis is how long an admitted entry may sit
	// unconfirmed before the background purge task removes it (spec §3
	// "Mempool entries are ... destroyed on inclusion, TTL expiry, or
	// capacity eviction", §5 "mempool TTL purge"). An entry's ordering-key
	// expiry_deadline is AdmittedAtMillis + MempoolEntryTTLMillis.
	MempoolEntryTTLMillis int64

	// MempoolLaneCapacity bounds the number of entries held per lane
	// before admission must evict (spec §4.4 step 6).
	MempoolLaneCapacity int

	// MempoolMaxPendingPerAccount bounds the number of concurrently
	// pending nonces a single account may reserve (spec §4.4 step 5,
	// "per-account pending limits").
	MempoolMaxPendingPerAccount int

	// MaxClockSkewMillis is how far into the future a block timestamp may
	// be relative to local wall-clock time before it is rejected (spec
	// §4.9 step 3).
	MaxClockSkewMillis int64

	// ChainID is mixed into the domain-separation tag used for every
	// signature (spec §6).
	ChainID uint32

	// SchemaVersion is the current on-disk schema version the chain store
	// migrates toward on open (spec §4.11).
	SchemaVersion uint32
}

// DomainTagPrefix is the fixed ASCII prefix of the 16-byte domain
// separation tag (spec §6): 12 bytes of prefix followed by a 4-byte
// little-endian chain identifier.
const DomainTagPrefix = "THE_BLOCKv2|"

// DomainTagSize is the total size in bytes of the domain separation tag.
const DomainTagSize = 16

// Default returns the baseline ConsensusConstants used by genesis and by
// every test that does not deliberately exercise a different parameter set.
func Default() ConsensusConstants {
	return ConsensusConstants{
		DifficultyWindow:              60,
		TargetSpacingMillis:           120_000,
		DifficultyClampFactor:         4,
		EMAWindowShort:                5,
		EMAWindowMedium:               15,
		EMAWindowLong:                 60,
		KalmanWeightShort:             1,
		KalmanWeightMedium:            1,
		KalmanWeightLong:              1,
		HintAdjustPercent:             0.05,
		VDFRounds:                     2000,
		ActivationDelayEpochs:         2,
		RollbackWindowEpochs:          4,
		QuorumNumerator:               1,
		QuorumDenominator:             3, // yes-weight >= 1/3 of total stake to pass quorum; yes>no still required
		MempoolFeeFloorWindow:         32,
		MempoolFeeFloorPercentile:     95,
		ConsumerLaneComfortPercent:    50,
		MempoolRecentEvictionCapacity: 4096,
		MempoolEntryTTLMillis:         30 * 60_000,
		MempoolLaneCapacity:           16384,
		MempoolMaxPendingPerAccount:   64,
		MaxClockSkewMillis:            10_000,
		ChainID:                       1,
		SchemaVersion:                 1,
	}
}
