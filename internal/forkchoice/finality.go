package forkchoice

import "sync"

// UNL (Unique Node List) is the set of validators whose stake counts
// toward finality, drawn from governance (spec glossary "UNL"). No
// corresponding validator-registry file existed in the code this package
// is grounded on, so this type's shape follows how finality.rs's vote
// path calls it: stake lookup by validator id and a running total.
type UNL struct {
	mu     sync.RWMutex
	stakes map[string]uint64
	total  uint64
}

// NewUNL constructs an empty validator set.
func NewUNL() *UNL {
	return &UNL{stakes: make(map[string]uint64)}
}

// AddValidator registers or replaces a validator's stake weight.
func (u *UNL) AddValidator(id string, stake uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.total -= u.stakes[id]
	u.stakes[id] = stake
	u.total += stake
}

// StakeOf returns the registered stake for id, or 0 if unknown.
func (u *UNL) StakeOf(id string) uint64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.stakes[id]
}

// TotalStake returns the sum of every registered validator's stake.
func (u *UNL) TotalStake() uint64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.total
}

// Snapshot is a point-in-time view of a FinalityGadget's bookkeeping,
// exposed for telemetry/debugging (spec §4.8; mirrors FinalitySnapshot in
// the code this package is grounded on).
type Snapshot struct {
	Finalized          string
	FinalizedOK         bool
	Equivocations       []string
	EquivocatedStake    uint64
	TotalStake          uint64
	EffectiveTotalStake uint64
	FinalityThreshold   uint64
}

// FinalityGadget implements spec §4.8's stake-weighted voting: one
// binding vote per validator per height (modeled here as one gadget
// instance per height/epoch; the caller constructs a fresh gadget, or
// calls Rollback, when height advances), equivocation tracking that
// permanently excludes an offending validator's stake from the tally,
// and a finalized-hash threshold of ceil(2/3 * effective_stake) where
// effective_stake = total_stake - equivocated_stake.
type FinalityGadget struct {
	mu sync.Mutex

	unl *UNL

	votes         map[string]string // validator id -> voted hash
	equivocations map[string]bool
	tally         map[string]uint64 // hash -> stake voting for it
	finalized     string
	finalizedOK   bool
}

// NewFinalityGadget constructs a gadget tallying votes against unl.
func NewFinalityGadget(unl *UNL) *FinalityGadget {
	return &FinalityGadget{
		unl:           unl,
		votes:         make(map[string]string),
		equivocations: make(map[string]bool),
		tally:         make(map[string]uint64),
	}
}

// effectiveStakeLocked returns total stake minus every equivocating
// validator's stake. mu must already be held.
func (g *FinalityGadget) effectiveStakeLocked() uint64 {
	total := g.unl.TotalStake()
	var equivocated uint64
	for id := range g.equivocations {
		equivocated += g.unl.StakeOf(id)
	}
	if equivocated > total {
		return 0
	}
	return total - equivocated
}

// thresholdFor returns ceil(2/3 * effectiveStake).
func thresholdFor(effectiveStake uint64) uint64 {
	return (2*effectiveStake + 2) / 3
}

// Vote records validatorID's binding vote for hash. If the validator has
// already voted for a different hash at this height, the validator is
// added to the equivocation set (its stake is excluded from every tally
// going forward, permanently for this epoch) and its prior vote is
// discarded from that hash's tally; the new vote is NOT counted either,
// since an equivocating validator's stake no longer counts at all (spec
// §4.8 "their stake is excluded from the tally permanently"). Returns
// true if hash became finalized as a result of this vote, or if this is a
// repeat of the validator's earlier vote for the already-finalized hash.
func (g *FinalityGadget) Vote(validatorID, hash string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.equivocations[validatorID] {
		return false
	}

	if prior, voted := g.votes[validatorID]; voted {
		if prior == hash {
			return g.finalizedOK && g.finalized == hash
		}
		g.equivocations[validatorID] = true
		g.tally[prior] -= g.unl.StakeOf(validatorID)
		delete(g.votes, validatorID)
		g.recomputeFinalityLocked()
		return false
	}

	g.votes[validatorID] = hash
	g.tally[hash] += g.unl.StakeOf(validatorID)
	return g.recomputeFinalityLocked()
}

// recomputeFinalityLocked checks every tallied hash against the current
// threshold and updates g.finalized if one qualifies. mu must already be
// held.
func (g *FinalityGadget) recomputeFinalityLocked() bool {
	if g.finalizedOK {
		return false
	}
	threshold := thresholdFor(g.effectiveStakeLocked())
	for hash, stake := range g.tally {
		if stake >= threshold {
			g.finalized = hash
			g.finalizedOK = true
			return true
		}
	}
	return false
}

// Finalized returns the finalized block hash and true, or ("", false) if
// no hash has reached quorum yet.
func (g *FinalityGadget) Finalized() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finalized, g.finalizedOK
}

// Rollback clears every vote and the equivocation set, per spec §4.8
// "Rollback clears votes and the equivocation set." Used when the
// underlying chain reorganises below the not-yet-finalized height this
// gadget is voting on.
func (g *FinalityGadget) Rollback() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.votes = make(map[string]string)
	g.equivocations = make(map[string]bool)
	g.tally = make(map[string]uint64)
	g.finalized = ""
	g.finalizedOK = false
}

// Snapshot returns a point-in-time copy of the gadget's bookkeeping.
func (g *FinalityGadget) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	equiv := make([]string, 0, len(g.equivocations))
	for id := range g.equivocations {
		equiv = append(equiv, id)
	}
	total := g.unl.TotalStake()
	effective := g.effectiveStakeLocked()
	return Snapshot{
		Finalized:           g.finalized,
		FinalizedOK:         g.finalizedOK,
		Equivocations:       equiv,
		EquivocatedStake:    total - effective,
		TotalStake:          total,
		EffectiveTotalStake: effective,
		FinalityThreshold:   thresholdFor(effective),
	}
}
