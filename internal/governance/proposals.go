package governance

import "github.com/ledgerforge/consensuscore/internal/core/types"

// ProposalStatus is a proposal's position in spec §4.10's state machine:
// Open -> {Passed, Rejected}; Passed -> Activated; Activated -> RolledBack.
type ProposalStatus int

const (
	StatusOpen ProposalStatus = iota
	StatusPassed
	StatusRejected
	StatusActivated
	StatusRolledBack
)

func (s ProposalStatus) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusPassed:
		return "Passed"
	case StatusRejected:
		return "Rejected"
	case StatusActivated:
		return "Activated"
	case StatusRolledBack:
		return "RolledBack"
	default:
		return "Unknown"
	}
}

// VoteChoice is one voter's binding or abstaining position on a proposal.
type VoteChoice int

const (
	VoteYes VoteChoice = iota
	VoteNo
	VoteAbstain
)

// Proposal is one parameter-change request moving through the state
// machine (mirrors original_source/node/src/governance/proposals.rs's
// Proposal struct).
type Proposal struct {
	ID               uint64
	Key              ParamKey
	NewValue         int64
	Proposer         types.Address
	CreatedEpoch     int64
	VoteDeadlineEpoch int64
	ActivationEpoch  int64 // valid once Status >= StatusPassed
	Status           ProposalStatus
	// Deps lists proposal IDs this proposal depends on: a binding vote is
	// only accepted once every dependency has reached StatusActivated
	// (spec §4.10 vote()).
	Deps []uint64
}

// voteRecord is one voter's position on a proposal. A second vote from
// the same voter is rejected (at most one binding vote per voter, spec
// §4.10), except that a duplicate abstain is explicitly idempotent.
type voteRecord struct {
	voter  types.Address
	choice VoteChoice
	weight uint64
}

// validateDAG reports whether inserting newProp into the dependency graph
// formed by existing's (id -> deps) edges, augmented with newProp's own
// edges, stays acyclic. Ported from original_source/node/src/governance/
// proposals.rs's validate_dag: a standard three-color DFS (temp/perm mark
// sets) over the augmented graph.
func validateDAG(existing map[uint64]*Proposal, newProp *Proposal) bool {
	graph := make(map[uint64][]uint64, len(existing)+1)
	for id, p := range existing {
		graph[id] = p.Deps
	}
	graph[newProp.ID] = newProp.Deps

	temp := make(map[uint64]bool)
	perm := make(map[uint64]bool)

	var visit func(node uint64) bool
	visit = func(node uint64) bool {
		if perm[node] {
			return true
		}
		if temp[node] {
			return false // cycle
		}
		temp[node] = true
		for _, child := range graph[node] {
			if !visit(child) {
				return false
			}
		}
		delete(temp, node)
		perm[node] = true
		return true
	}

	for node := range graph {
		if !visit(node) {
			return false
		}
	}
	return true
}
