package state_test

import (
	"testing"

	"github.com/ledgerforge/consensuscore/internal/core/types"
	"github.com/ledgerforge/consensuscore/internal/kv"
	"github.com/ledgerforge/consensuscore/internal/state"
)

func acct(addr string, balance uint64, nonce uint64) *types.Account {
	return &types.Account{
		Address:         types.Address(addr),
		BalanceConsumer: balance,
		Nonce:           nonce,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := state.New(kv.NewMem())
	if err := s.Put(acct("alice", 100, 1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(types.Address("alice"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.BalanceConsumer != 100 {
		t.Fatalf("unexpected account: %+v", got)
	}
	missing, err := s.Get(types.Address("nobody"))
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing account, got %+v, %v", missing, err)
	}
}

// Root changes whenever any account in any shard changes, and is
// deterministic across repeated computation on unchanged state (spec §8
// property 2, state-root determinism).
func TestRootChangesOnWrite(t *testing.T) {
	s := state.New(kv.NewMem())
	r0, err := s.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if err := s.Put(acct("alice", 50, 0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	r1, err := s.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if r0 == r1 {
		t.Fatalf("root did not change after account write")
	}
	r2, err := s.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("root not stable across repeated computation: %x vs %x", r1, r2)
	}
}

func TestOverlayIsolationAndAbort(t *testing.T) {
	s := state.New(kv.NewMem())
	if err := s.Put(acct("alice", 100, 0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	rootBefore, _ := s.Root()

	if err := s.BeginOverlay(); err != nil {
		t.Fatalf("begin overlay: %v", err)
	}
	if err := s.Put(acct("alice", 40, 1)); err != nil {
		t.Fatalf("overlay put: %v", err)
	}
	overlaid, err := s.Get(types.Address("alice"))
	if err != nil || overlaid.BalanceConsumer != 40 {
		t.Fatalf("overlay write not visible through Get: %+v, %v", overlaid, err)
	}
	if err := s.AbortOverlay(); err != nil {
		t.Fatalf("abort: %v", err)
	}
	after, err := s.Get(types.Address("alice"))
	if err != nil || after.BalanceConsumer != 100 {
		t.Fatalf("abort did not roll back overlay write: %+v, %v", after, err)
	}
	rootAfter, _ := s.Root()
	if rootBefore != rootAfter {
		t.Fatalf("root changed despite aborted overlay")
	}
}

func TestOverlayCommitPersists(t *testing.T) {
	engine := kv.NewMem()
	s := state.New(engine)
	if err := s.Put(acct("alice", 100, 0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.BeginOverlay(); err != nil {
		t.Fatalf("begin overlay: %v", err)
	}
	if err := s.Put(acct("alice", 40, 1)); err != nil {
		t.Fatalf("overlay put: %v", err)
	}
	if err := s.CommitOverlay(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := s.Get(types.Address("alice"))
	if err != nil || got.BalanceConsumer != 40 || got.Nonce != 1 {
		t.Fatalf("commit did not apply staged write: %+v, %v", got, err)
	}

	reloaded := state.New(engine)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	persisted, err := reloaded.Get(types.Address("alice"))
	if err != nil || persisted == nil || persisted.BalanceConsumer != 40 {
		t.Fatalf("committed write did not survive reload: %+v, %v", persisted, err)
	}
}

// Inclusion proofs must verify against the root they were produced from,
// and must fail against an unrelated root (spec §4.3 prove()/verify).
func TestInclusionProofRoundTrip(t *testing.T) {
	s := state.New(kv.NewMem())
	for i, name := range []string{"alice", "bob", "carol", "dave"} {
		if err := s.Put(acct(name, uint64(i+1)*10, 0)); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}
	addr := types.Address("bob")

	root, proof, err := s.Prove(addr)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	acc, err := s.Get(addr)
	if err != nil || acc == nil {
		t.Fatalf("get bob: %v", err)
	}

	leaf := state.LeafHash(acc)
	if !state.VerifyProof(leaf, proof, root) {
		t.Fatalf("proof did not verify against its own root")
	}

	var wrongRoot types.Hash32
	wrongRoot[0] = root[0] ^ 0xFF
	if state.VerifyProof(leaf, proof, wrongRoot) {
		t.Fatalf("proof verified against an unrelated root")
	}
}

func TestProveMissingAccount(t *testing.T) {
	s := state.New(kv.NewMem())
	if _, _, err := s.Prove(types.Address("ghost")); err == nil {
		t.Fatalf("expected error proving a nonexistent account")
	}
}
