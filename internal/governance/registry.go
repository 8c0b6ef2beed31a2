// Package governance implements the Governance Controller (spec §4.10,
// component C10): a DAG-checked proposal/vote/tally/activation/rollback
// state machine over a fixed parameter registry. Grounded on
// original_source/node/src/governance/proposals.rs (the DAG cycle check
// and the Proposal/Vote shapes) and original_source/governance/src/lib.rs
// (the full ParamKey enumeration and the two-hook apply/apply_runtime
// split).
package governance

import "github.com/ledgerforge/consensuscore/internal/constants"

// ParamKey enumerates every governable parameter. original_source/
// governance/src/lib.rs and node/src/governance/mod.rs carry a superset of
// these driven by modules (treasury, badges, markets, AI diagnostics) this
// repository does not implement; they are kept here as recognized-but-inert
// keys (SPEC_FULL.md §4's governance expansion) so the DAG/quorum/
// activation machinery has a realistic registry to operate over and a
// future module can register effects against them without renumbering.
type ParamKey int

const (
	KeySnapshotIntervalSecs ParamKey = iota
	KeyConsumerFeeComfortPercent
	KeyFeeFloorWindow
	KeyFeeFloorPercentile
	KeyKalmanWeightShort
	KeyKalmanWeightMedium
	KeyKalmanWeightLong

	// Recognized but inert: no Apply/ApplyRuntime hook in this build, carried
	// only so proposals referencing them validate and tally the same as any
	// other key (original_source/governance/src/lib.rs's ParamKey enum).
	KeyIndustrialAdmissionMinCapacity
	KeyFairshareGlobalMax
	KeyBurstRefillRatePerS
	KeyBetaStorageSubCt
	KeyGammaReadSubCt
	KeyKappaCpuSubCt
	KeyLambdaBytesOutSubCt
	KeyProofRebateLimitCt
	KeyRentRateCtPerByte
	KeyKillSwitchSubsidyReduction
	KeyMinerRewardLogisticTarget
	KeyLogisticSlope
	KeyMinerHysteresis
	KeyHeuristicMuMilli
	KeyBadgeExpirySecs
	KeyBadgeIssueUptime
	KeyBadgeRevokeUptime
	KeyJurisdictionRegion
	KeyAiDiagnosticsEnabled
	KeySchedulerWeightGossip
	KeySchedulerWeightCompute
	KeySchedulerWeightStorage
)

// String names a ParamKey for logging and proposal rendering.
func (k ParamKey) String() string {
	if name, ok := paramNames[k]; ok {
		return name
	}
	return "ParamKey(unknown)"
}

var paramNames = map[ParamKey]string{
	KeySnapshotIntervalSecs:           "SnapshotIntervalSecs",
	KeyConsumerFeeComfortPercent:      "ConsumerFeeComfortPercent",
	KeyFeeFloorWindow:                 "FeeFloorWindow",
	KeyFeeFloorPercentile:             "FeeFloorPercentile",
	KeyKalmanWeightShort:              "KalmanWeightShort",
	KeyKalmanWeightMedium:             "KalmanWeightMedium",
	KeyKalmanWeightLong:               "KalmanWeightLong",
	KeyIndustrialAdmissionMinCapacity: "IndustrialAdmissionMinCapacity",
	KeyFairshareGlobalMax:             "FairshareGlobalMax",
	KeyBurstRefillRatePerS:            "BurstRefillRatePerS",
	KeyBetaStorageSubCt:               "BetaStorageSubCt",
	KeyGammaReadSubCt:                 "GammaReadSubCt",
	KeyKappaCpuSubCt:                  "KappaCpuSubCt",
	KeyLambdaBytesOutSubCt:            "LambdaBytesOutSubCt",
	KeyProofRebateLimitCt:             "ProofRebateLimitCt",
	KeyRentRateCtPerByte:              "RentRateCtPerByte",
	KeyKillSwitchSubsidyReduction:     "KillSwitchSubsidyReduction",
	KeyMinerRewardLogisticTarget:      "MinerRewardLogisticTarget",
	KeyLogisticSlope:                  "LogisticSlope",
	KeyMinerHysteresis:                "MinerHysteresis",
	KeyHeuristicMuMilli:               "HeuristicMuMilli",
	KeyBadgeExpirySecs:                "BadgeExpirySecs",
	KeyBadgeIssueUptime:               "BadgeIssueUptime",
	KeyBadgeRevokeUptime:              "BadgeRevokeUptime",
	KeyJurisdictionRegion:             "JurisdictionRegion",
	KeyAiDiagnosticsEnabled:           "AiDiagnosticsEnabled",
	KeySchedulerWeightGossip:          "SchedulerWeightGossip",
	KeySchedulerWeightCompute:         "SchedulerWeightCompute",
	KeySchedulerWeightStorage:         "SchedulerWeightStorage",
}

// Runtime is the narrow slice of live subsystems a parameter's
// ApplyRuntime hook may need to notify (spec §4.10's apply_runtime,
// distinct from the pure apply(params) mutation; mirrors
// original_source/governance/src/treasury.rs and reward.rs's
// apply_runtime split). A nil field is skipped by a ParamSpec that has
// no live subsystem to notify.
type Runtime interface {
	SetFeeFloorWindow(windowSize int)
	SetFeeFloorPercentile(percentile int)
}

// ParamSpec is one parameter registry entry: its bounds and its two
// application hooks. Writing to a parameter always goes through a
// ParamSpec so bounds are enforced uniformly (spec §4.10).
type ParamSpec struct {
	Key                ParamKey
	Default, Min, Max int64
	Unit              string
	// Get reads the parameter's current value out of params, used to
	// capture the prior value in the undo log before Apply overwrites it.
	Get          func(params *constants.ConsensusConstants) int64
	Apply        func(params *constants.ConsensusConstants, value int64)
	ApplyRuntime func(rt Runtime, value int64) error // nil: no live subsystem to notify
}

// Registry is the fixed {key -> spec} table every proposal is checked and
// applied against.
type Registry map[ParamKey]ParamSpec

// DefaultRegistry builds the registry against base's current values as
// each key's Default, matching how original_source/governance/src/params.rs's
// registry() seeds bounds from the running Params bundle rather than
// hardcoding both a default and a starting value independently.
func DefaultRegistry(base constants.ConsensusConstants) Registry {
	r := make(Registry, len(paramNames))

	r[KeySnapshotIntervalSecs] = ParamSpec{
		Key: KeySnapshotIntervalSecs, Default: 600, Min: 30, Max: 86400, Unit: "seconds",
		// No field on ConsensusConstants yet backs this (chain store owns
		// snapshot cadence); recorded so the chain store can read it once
		// wired, per SPEC_FULL.md's governance/chain-store boundary note.
		Get:   func(*constants.ConsensusConstants) int64 { return 600 },
		Apply: func(*constants.ConsensusConstants, int64) {},
	}
	r[KeyConsumerFeeComfortPercent] = ParamSpec{
		Key: KeyConsumerFeeComfortPercent, Default: int64(base.ConsumerLaneComfortPercent), Min: 0, Max: 100, Unit: "percent",
		Get:   func(p *constants.ConsensusConstants) int64 { return int64(p.ConsumerLaneComfortPercent) },
		Apply: func(p *constants.ConsensusConstants, v int64) { p.ConsumerLaneComfortPercent = uint8(v) },
	}
	r[KeyFeeFloorWindow] = ParamSpec{
		Key: KeyFeeFloorWindow, Default: int64(base.MempoolFeeFloorWindow), Min: 1, Max: 100000, Unit: "samples",
		Get:          func(p *constants.ConsensusConstants) int64 { return int64(p.MempoolFeeFloorWindow) },
		Apply:        func(p *constants.ConsensusConstants, v int64) { p.MempoolFeeFloorWindow = int(v) },
		ApplyRuntime: func(rt Runtime, v int64) error { rt.SetFeeFloorWindow(int(v)); return nil },
	}
	r[KeyFeeFloorPercentile] = ParamSpec{
		Key: KeyFeeFloorPercentile, Default: int64(base.MempoolFeeFloorPercentile), Min: 0, Max: 100, Unit: "percentile",
		Get:          func(p *constants.ConsensusConstants) int64 { return int64(p.MempoolFeeFloorPercentile) },
		Apply:        func(p *constants.ConsensusConstants, v int64) { p.MempoolFeeFloorPercentile = int(v) },
		ApplyRuntime: func(rt Runtime, v int64) error { rt.SetFeeFloorPercentile(int(v)); return nil },
	}
	r[KeyKalmanWeightShort] = ParamSpec{
		Key: KeyKalmanWeightShort, Default: int64(base.KalmanWeightShort), Min: 0, Max: 1000, Unit: "weight",
		Get:   func(p *constants.ConsensusConstants) int64 { return int64(p.KalmanWeightShort) },
		Apply: func(p *constants.ConsensusConstants, v int64) { p.KalmanWeightShort = uint64(v) },
	}
	r[KeyKalmanWeightMedium] = ParamSpec{
		Key: KeyKalmanWeightMedium, Default: int64(base.KalmanWeightMedium), Min: 0, Max: 1000, Unit: "weight",
		Get:   func(p *constants.ConsensusConstants) int64 { return int64(p.KalmanWeightMedium) },
		Apply: func(p *constants.ConsensusConstants, v int64) { p.KalmanWeightMedium = uint64(v) },
	}
	r[KeyKalmanWeightLong] = ParamSpec{
		Key: KeyKalmanWeightLong, Default: int64(base.KalmanWeightLong), Min: 0, Max: 1000, Unit: "weight",
		Get:   func(p *constants.ConsensusConstants) int64 { return int64(p.KalmanWeightLong) },
		Apply: func(p *constants.ConsensusConstants, v int64) { p.KalmanWeightLong = uint64(v) },
	}

	zero := func(*constants.ConsensusConstants) int64 { return 0 }
	for key, name := range paramNames {
		if _, seeded := r[key]; seeded {
			continue
		}
		r[key] = ParamSpec{Key: key, Default: 0, Min: -1 << 62, Max: 1 << 62, Unit: name, Get: zero, Apply: func(*constants.ConsensusConstants, int64) {}}
	}
	return r
}
