// Package forkchoice implements the highest-cumulative-difficulty tip
// selection and the stake-weighted finality gadget of spec §4.8 (component
// C8). The two halves are independent: TipRegistry picks the best
// non-finalized tip per shard; FinalityGadget tracks validator votes and
// reports a block hash as finalized once it has gathered enough stake.
package forkchoice

import (
	"sync"

	"github.com/ledgerforge/consensuscore/internal/core/types"
)

// Candidate is one chain tip a shard has seen proposed.
type Candidate struct {
	Hash                types.Hash32
	CumulativeDifficulty uint64
	MacroHeight          int64
}

// better reports whether a is preferred over b under spec §4.8's
// selection rule: highest cumulative difficulty; tie-break by greater
// macro-block height; further ties by lexicographic block hash. The
// lexicographic tie-break is not present in the original shard fork
// choice this package is grounded on (see DESIGN.md); it is added here
// because spec §4.8 names it explicitly as a third tie-break level.
func better(a, b Candidate) bool {
	if a.CumulativeDifficulty != b.CumulativeDifficulty {
		return a.CumulativeDifficulty > b.CumulativeDifficulty
	}
	if a.MacroHeight != b.MacroHeight {
		return a.MacroHeight > b.MacroHeight
	}
	return b.Hash.Less(a.Hash)
}

// TipRegistry holds, per shard, every candidate tip submitted so far and
// selects the best one on demand. A single lock guards every shard's
// tips, matching the coarse-grained locking the rest of this module's
// shared-resource policy uses for fork-choice score computation.
type TipRegistry struct {
	mu   sync.RWMutex
	tips map[uint32][]Candidate
}

// NewTipRegistry constructs an empty registry.
func NewTipRegistry() *TipRegistry {
	return &TipRegistry{tips: make(map[uint32][]Candidate)}
}

// Submit records a newly observed candidate tip for shard.
func (r *TipRegistry) Submit(shard uint32, hash types.Hash32, cumulativeDifficulty uint64, macroHeight int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tips[shard] = append(r.tips[shard], Candidate{
		Hash:                 hash,
		CumulativeDifficulty: cumulativeDifficulty,
		MacroHeight:          macroHeight,
	})
}

// Best returns the preferred candidate tip for shard per spec §4.8's
// three-level ordering, or (zero, false) if no tip has been submitted.
func (r *TipRegistry) Best(shard uint32) (Candidate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cands := r.tips[shard]
	if len(cands) == 0 {
		return Candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best, true
}

// Reset discards every candidate tip recorded for shard, used when a
// shard's macro height advances past the point those tips were competing
// for.
func (r *TipRegistry) Reset(shard uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tips, shard)
}
