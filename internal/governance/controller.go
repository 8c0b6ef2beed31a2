package governance

import (
	"sync"

	"github.com/decred/dcrd/lru"

	"github.com/ledgerforge/consensuscore/internal/chainerrors"
	"github.com/ledgerforge/consensuscore/internal/constants"
	"github.com/ledgerforge/consensuscore/internal/core/types"
)

// undoLogCapacity bounds the per-proposal undo log (spec §4.10 "record the
// prior value in a per-parameter undo log of bounded length"): entries are
// keyed by proposal id rather than by ParamKey since each proposal only
// ever touches one key, which gives the same bound with a single map.
// Sized generously above RollbackWindowEpochs worth of plausible proposal
// throughput; a proposal whose undo entry has been evicted simply can no
// longer be rolled back (ErrNotFound), matching "bounded length" exactly.
const undoLogCapacity = 4096

// StakeSource resolves a voter's weight and the total weight in play, the
// same role original_source/governance/src/lib.rs's GovStore takes a
// validator set for. *forkchoice.UNL satisfies this interface without
// governance importing forkchoice directly, keeping the validator
// registry a single shared dependency rather than two parallel ones.
type StakeSource interface {
	StakeOf(voterID string) uint64
	TotalStake() uint64
}

type lastActivation struct {
	key            ParamKey
	priorValue     int64
	activationEpoch int64
}

// Controller is the governance state machine: proposal submission, DAG
// checking, voting, tallying, activation, and rollback (spec §4.10,
// component C10). One Controller instance owns the full proposal set for
// the running node.
type Controller struct {
	mu sync.Mutex

	registry Registry
	stakes   StakeSource

	activationDelayEpochs int64
	rollbackWindowEpochs  int64
	quorumNumerator       uint64
	quorumDenominator     uint64

	nextID    uint64
	proposals map[uint64]*Proposal
	votes     map[uint64]map[string]*voteRecord
	undo      *lru.Map[uint64, lastActivation]
}

// New constructs a Controller against registry (spec §4.10's parameter
// registry) and stakes (the voter weight source, e.g. a
// *forkchoice.UNL), with activation/rollback windows and quorum drawn
// from params.
func New(registry Registry, stakes StakeSource, params constants.ConsensusConstants) *Controller {
	return &Controller{
		registry:              registry,
		stakes:                stakes,
		activationDelayEpochs: params.ActivationDelayEpochs,
		rollbackWindowEpochs:  params.RollbackWindowEpochs,
		quorumNumerator:       params.QuorumNumerator,
		quorumDenominator:     params.QuorumDenominator,
		proposals:             make(map[uint64]*Proposal),
		votes:                 make(map[uint64]map[string]*voteRecord),
		undo:                  lru.NewMap[uint64, lastActivation](undoLogCapacity),
	}
}

// Submit validates and admits a new proposal, returning its assigned id.
// Validation (spec §4.10 submit()): the parameter key is registered, the
// value lies within the registry's bounds, every dependency names a known
// proposal, and inserting this proposal creates no cycle in the
// dependency DAG.
func (c *Controller) Submit(key ParamKey, newValue int64, proposer types.Address, createdEpoch, voteDeadlineEpoch int64, deps []uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	spec, ok := c.registry[key]
	if !ok {
		return 0, chainerrors.ErrInvalidProposal
	}
	if newValue < spec.Min || newValue > spec.Max {
		return 0, chainerrors.ErrOutOfRange
	}
	for _, dep := range deps {
		if _, ok := c.proposals[dep]; !ok {
			return 0, chainerrors.ErrInvalidProposal
		}
	}

	c.nextID++
	p := &Proposal{
		ID:                c.nextID,
		Key:               key,
		NewValue:          newValue,
		Proposer:          proposer,
		CreatedEpoch:      createdEpoch,
		VoteDeadlineEpoch: voteDeadlineEpoch,
		Status:            StatusOpen,
		Deps:              append([]uint64(nil), deps...),
	}
	if !validateDAG(c.proposals, p) {
		c.nextID--
		return 0, chainerrors.ErrCyclicGraph
	}
	c.proposals[p.ID] = p
	c.votes[p.ID] = make(map[string]*voteRecord)
	return p.ID, nil
}

// Vote records voter's position on proposalID at the given epoch (spec
// §4.10 vote()). A binding vote (Yes/No) requires the proposal still be
// Open, the deadline not yet passed, and every dependency already
// Activated. At most one binding vote is accepted per voter; casting
// Abstain again after a prior Abstain is a no-op, not an error.
func (c *Controller) Vote(proposalID uint64, voter types.Address, choice VoteChoice, epoch int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[proposalID]
	if !ok {
		return chainerrors.ErrNotFound
	}
	if p.Status != StatusOpen {
		return chainerrors.ErrClosedProposal
	}
	if epoch > p.VoteDeadlineEpoch {
		return chainerrors.ErrClosedProposal
	}

	voterKey := voter.Hex()
	if existing, voted := c.votes[proposalID][voterKey]; voted {
		if choice == VoteAbstain && existing.choice == VoteAbstain {
			return nil
		}
		return chainerrors.ErrAlreadyExists
	}

	if choice != VoteAbstain {
		for _, dep := range p.Deps {
			depProp, ok := c.proposals[dep]
			if !ok || depProp.Status != StatusActivated {
				return chainerrors.ErrInvalidProposal
			}
		}
	}

	c.votes[proposalID][voterKey] = &voteRecord{
		voter:  voter,
		choice: choice,
		weight: c.stakes.StakeOf(voterKey),
	}
	return nil
}

// Tally transitions proposalID to Passed or Rejected once epoch has
// reached its vote deadline (spec §4.10 tally()): Passed requires
// yes-weight at or above quorum of total stake and strictly more yes
// than no weight; a Passed proposal is scheduled to activate at
// deadline + ACTIVATION_DELAY.
func (c *Controller) Tally(proposalID uint64, epoch int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[proposalID]
	if !ok {
		return chainerrors.ErrNotFound
	}
	if p.Status != StatusOpen {
		return chainerrors.ErrClosedProposal
	}
	if epoch < p.VoteDeadlineEpoch {
		return chainerrors.ErrInvalidProposal
	}

	var yes, no uint64
	for _, v := range c.votes[proposalID] {
		switch v.choice {
		case VoteYes:
			yes += v.weight
		case VoteNo:
			no += v.weight
		}
	}

	total := c.stakes.TotalStake()
	quorumMet := yes*c.quorumDenominator >= total*c.quorumNumerator
	if quorumMet && yes > no {
		p.Status = StatusPassed
		p.ActivationEpoch = p.VoteDeadlineEpoch + c.activationDelayEpochs
	} else {
		p.Status = StatusRejected
	}
	return nil
}

// ActivateReady applies every Passed proposal whose activation epoch has
// arrived (spec §4.10 activate_ready()): it reads the parameter's prior
// value, calls the registry's Apply then ApplyRuntime hooks, records the
// prior value in the undo log, and marks the proposal Activated. Returns
// the ids activated, in no particular order.
func (c *Controller) ActivateReady(epoch int64, rt Runtime, params *constants.ConsensusConstants) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var activated []uint64
	for id, p := range c.proposals {
		if p.Status != StatusPassed || p.ActivationEpoch > epoch {
			continue
		}
		spec, ok := c.registry[p.Key]
		if !ok {
			return activated, chainerrors.ErrInvalidProposal
		}
		prior := spec.Get(params)
		spec.Apply(params, p.NewValue)
		if spec.ApplyRuntime != nil {
			if err := spec.ApplyRuntime(rt, p.NewValue); err != nil {
				return activated, err
			}
		}
		c.undo.Put(id, lastActivation{key: p.Key, priorValue: prior, activationEpoch: epoch})
		p.Status = StatusActivated
		activated = append(activated, id)
	}
	return activated, nil
}

// RollbackProposal restores id's parameter to its pre-activation value,
// provided epoch is within ROLLBACK_WINDOW_EPOCHS of activation (spec
// §4.10 rollback_proposal()).
func (c *Controller) RollbackProposal(id uint64, epoch int64, rt Runtime, params *constants.ConsensusConstants) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[id]
	if !ok {
		return chainerrors.ErrNotFound
	}
	if p.Status != StatusActivated {
		return chainerrors.ErrInvalidProposal
	}
	if epoch > p.ActivationEpoch+c.rollbackWindowEpochs {
		return chainerrors.ErrInvalidProposal
	}

	entry, ok := c.undo.Get(id)
	if !ok {
		return chainerrors.ErrNotFound
	}
	spec, ok := c.registry[entry.key]
	if !ok {
		return chainerrors.ErrInvalidProposal
	}
	spec.Apply(params, entry.priorValue)
	if spec.ApplyRuntime != nil {
		if err := spec.ApplyRuntime(rt, entry.priorValue); err != nil {
			return err
		}
	}
	p.Status = StatusRolledBack
	return nil
}

// Proposal returns a copy of the proposal's current bookkeeping, for
// telemetry/RPC read paths.
func (c *Controller) Proposal(id uint64) (Proposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.proposals[id]
	if !ok {
		return Proposal{}, false
	}
	return *p, true
}
