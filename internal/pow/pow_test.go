package pow_test

import (
	"testing"

	"github.com/ledgerforge/consensuscore/internal/chainerrors"
	"github.com/ledgerforge/consensuscore/internal/core"
	"github.com/ledgerforge/consensuscore/internal/core/types"
	"github.com/ledgerforge/consensuscore/internal/pow"
)

func sampleBlock(difficulty uint64) *core.Block {
	coinbase := core.NewCoinbase(types.Address("miner"), 50, 0, 1)
	return &core.Block{
		Height:          1,
		TimestampMillis: 1,
		Transactions:    []core.SignedTransaction{coinbase},
		Difficulty:      difficulty,
	}
}

func TestMineFindsNonceAgainstLenientTarget(t *testing.T) {
	// Maximal difficulty scalar expands to a target covering nearly the
	// whole hash space, so the very first nonce should satisfy it.
	b := sampleBlock(^uint64(0))
	nonce, hash, err := pow.Mine(b, 1000)
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if b.Nonce != nonce || b.Hash != hash {
		t.Fatalf("mine did not leave the winning nonce/hash on the block")
	}
}

func TestMineExhaustsAgainstImpossibleTarget(t *testing.T) {
	// Difficulty 1 expands to the smallest possible target; no real hash
	// will ever satisfy it within a handful of nonces.
	b := sampleBlock(1)
	_, _, err := pow.Mine(b, 8)
	if err == nil || chainerrors.ClassifyKind(err) != chainerrors.KindInvalidBlock {
		t.Fatalf("expected nonce-space exhaustion, got %v", err)
	}
}

func TestValidateAcceptsMinedBlock(t *testing.T) {
	b := sampleBlock(^uint64(0))
	if _, _, err := pow.Mine(b, 1000); err != nil {
		t.Fatalf("mine: %v", err)
	}
	if err := pow.Validate(b); err != nil {
		t.Fatalf("validate rejected a freshly mined block: %v", err)
	}
}

func TestValidateRejectsTargetMismatch(t *testing.T) {
	b := sampleBlock(^uint64(0))
	if _, _, err := pow.Mine(b, 1000); err != nil {
		t.Fatalf("mine: %v", err)
	}
	// Tighten the target after mining and refinalize without remining: the
	// cached hash matches the fields again, so only the target check can
	// reject the block.
	b.Difficulty = 1
	b.Finalize()
	if err := pow.Validate(b); err == nil {
		t.Fatal("expected validation to reject a block whose hash no longer meets its (now tighter) target")
	}
}

func TestValidateRejectsTamperedHash(t *testing.T) {
	b := sampleBlock(^uint64(0))
	if _, _, err := pow.Mine(b, 1000); err != nil {
		t.Fatalf("mine: %v", err)
	}
	b.Hash[0] ^= 0xFF
	if err := pow.Validate(b); err == nil {
		t.Fatal("expected validation to reject a tampered hash")
	}
}
