package consensus_test

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/ledgerforge/consensuscore/internal/chainerrors"
	"github.com/ledgerforge/consensuscore/internal/clock"
	"github.com/ledgerforge/consensuscore/internal/consensus"
	"github.com/ledgerforge/consensuscore/internal/constants"
	"github.com/ledgerforge/consensuscore/internal/core"
	"github.com/ledgerforge/consensuscore/internal/core/types"
	"github.com/ledgerforge/consensuscore/internal/cryptoverify"
	"github.com/ledgerforge/consensuscore/internal/kv"
	"github.com/ledgerforge/consensuscore/internal/mempool"
	"github.com/ledgerforge/consensuscore/internal/pow"
	"github.com/ledgerforge/consensuscore/internal/state"
	"github.com/ledgerforge/consensuscore/internal/vdf"
	"github.com/ledgerforge/consensuscore/internal/wal"
)

// fakeChain is a minimal ChainReader: it never has two or more recent
// timestamps on hand, so internal/difficulty.Retune always takes its own
// documented "insufficient history: keep prev difficulty" path, letting
// these tests avoid reproducing the EMA/Kalman math to pick a matching
// child difficulty.
type fakeChain struct{}

func (fakeChain) Tip() (*core.Block, error)                  { return nil, nil }
func (fakeChain) RecentTimestamps(max int) ([]int64, error) { return nil, nil }

func testParams() constants.ConsensusConstants {
	p := constants.Default()
	p.VDFRounds = 4
	return p
}

// mineBlock completes a block whose Height/PrevHash/TimestampMillis/
// Transactions/StateRoot are already set: it fills in a VDF triple bound
// to the parent hash, then searches for a PoW nonce against a maximal
// (easiest-possible) difficulty target. pow.Mine calls Block.Finalize
// internally on every candidate nonce, which recomputes MerkleRoot,
// FeeChecksum and Hash from the fields already in place.
func mineBlock(t *testing.T, b *core.Block, params constants.ConsensusConstants) {
	t.Helper()
	output, proof := vdf.Evaluate(b.PrevHash[:], params.VDFRounds)
	b.VDF = core.VDFTriple{Commit: append([]byte(nil), b.PrevHash[:]...), Output: output, Proof: proof}

	b.Difficulty = ^uint64(0)
	nonce, hash, err := pow.Mine(b, 10000)
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	b.Nonce, b.Hash = nonce, hash
}

type fixture struct {
	params    constants.ConsensusConstants
	verifier  *cryptoverify.Verifier
	store     *state.Store
	mp        *mempool.Mempool
	clk       *clock.Fake
	pipe      *consensus.Pipeline
	committed []*core.Block
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	params := testParams()
	store := state.New(kv.NewMem())
	verifier := cryptoverify.NewVerifier(1)
	clk := clock.NewFake(1_000_000)
	mp := mempool.New(params, verifier, store, clk, func(types.Hash32) bool { return false })
	pipe := consensus.New(params, verifier, store, mp, fakeChain{}, clk, nil, nil)
	return &fixture{params: params, verifier: verifier, store: store, mp: mp, clk: clk, pipe: pipe}
}

func (f *fixture) appendChain(b *core.Block) error {
	f.committed = append(f.committed, b)
	return nil
}

// overlayRootAfter simulates applying apply(sim) against a throwaway
// overlay and returns the resulting root, without disturbing committed
// state, so a test can compute a block's expected StateRoot up front.
func (f *fixture) overlayRootAfter(t *testing.T, apply func(sim *state.Store)) types.Hash32 {
	t.Helper()
	if err := f.store.BeginOverlay(); err != nil {
		t.Fatalf("begin overlay: %v", err)
	}
	apply(f.store)
	root, err := f.store.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if err := f.store.AbortOverlay(); err != nil {
		t.Fatalf("abort overlay: %v", err)
	}
	return root
}

func (f *fixture) creditAccount(t *testing.T, addr types.Address, consumerAmount uint64) func(sim *state.Store) {
	return func(sim *state.Store) {
		acc, err := sim.Get(addr)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if acc == nil {
			acc = &types.Account{Address: append(types.Address(nil), addr...)}
		}
		acc.BalanceConsumer += consumerAmount
		if err := sim.Put(acc); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
}

// genesis builds and commits a valid height-0 block minting to miner.
func (f *fixture) genesis(t *testing.T, miner types.Address) *core.Block {
	t.Helper()
	coinbase := core.NewCoinbase(miner, 100, 0, 1)
	b := &core.Block{
		Height:          0,
		TimestampMillis: f.clk.NowMillis(),
		Transactions:    []core.SignedTransaction{coinbase},
		StateRoot:       f.overlayRootAfter(t, f.creditAccount(t, miner, 100)),
	}
	mineBlock(t, b, f.params)

	if err := f.pipe.CommitBlock(b, nil, f.appendChain); err != nil {
		t.Fatalf("commit genesis: %v", err)
	}
	return b
}

func TestCommitBlockAcceptsValidGenesis(t *testing.T) {
	f := newFixture(t)
	miner := types.Address("miner-one")
	b := f.genesis(t, miner)

	acc, err := f.store.Get(miner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc == nil || acc.BalanceConsumer != 100 {
		t.Fatalf("coinbase credit did not apply: %+v", acc)
	}
	if len(f.committed) != 1 || f.committed[0] != b {
		t.Fatalf("appendChain was not called with the committed block")
	}
}

func TestCommitBlockAcceptsValidChildWithTransfer(t *testing.T) {
	f := newFixture(t)
	miner := types.Address("miner-one")
	parent := f.genesis(t, miner)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := types.Address(pub) // an account's address is its primary public key (spec §3)
	if err := f.store.Put(&types.Account{Address: sender, BalanceConsumer: 1000}); err != nil {
		t.Fatalf("seed sender: %v", err)
	}
	recipient := types.Address("bob")
	tx := &core.SignedTransaction{
		Payload: core.RawTxPayload{Sender: sender, Recipient: recipient, AmountConsumer: 40, Fee: 2, FeeSplitPercent: 80, Nonce: 1},
		Lane:    types.LaneConsumer,
	}
	if err := tx.Sign(1, pub, cryptoverify.SchemeEd25519, func(msg []byte) ([]byte, error) {
		return ed25519.Sign(priv, msg), nil
	}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	coinbase := core.NewCoinbase(miner, 10, 0, 2)
	wantRoot := f.overlayRootAfter(t, func(sim *state.Store) {
		f.creditAccount(t, miner, 10)(sim)
		s, err := sim.Get(sender)
		if err != nil {
			t.Fatalf("get sender: %v", err)
		}
		s.BalanceConsumer -= 42
		s.Nonce = 1
		if err := sim.Put(s); err != nil {
			t.Fatalf("put sender: %v", err)
		}
		f.creditAccount(t, recipient, 40)(sim)
	})

	b := &core.Block{
		Height:          1,
		PrevHash:        parent.Hash,
		TimestampMillis: parent.TimestampMillis + 1,
		Transactions:    []core.SignedTransaction{coinbase, *tx},
		StateRoot:       wantRoot,
	}
	mineBlock(t, b, f.params)

	if err := f.pipe.CommitBlock(b, parent, f.appendChain); err != nil {
		t.Fatalf("commit child: %v", err)
	}
	got, err := f.store.Get(recipient)
	if err != nil || got == nil || got.BalanceConsumer != 40 {
		t.Fatalf("transfer did not land: %+v, %v", got, err)
	}
	if len(f.committed) != 2 {
		t.Fatalf("expected both blocks committed, got %d", len(f.committed))
	}
}

func TestValidateRejectsHeightMismatch(t *testing.T) {
	f := newFixture(t)
	miner := types.Address("miner-one")
	parent := f.genesis(t, miner)

	coinbase := core.NewCoinbase(miner, 10, 0, 2)
	b := &core.Block{
		Height:          5, // should be parent.Height+1 == 1
		PrevHash:        parent.Hash,
		TimestampMillis: parent.TimestampMillis + 1,
		Transactions:    []core.SignedTransaction{coinbase},
		StateRoot:       parent.StateRoot,
	}
	mineBlock(t, b, f.params)

	if err := f.pipe.Validate(b, parent); chainerrors.ClassifyKind(err) != chainerrors.KindInvalidBlock {
		t.Fatalf("expected KindInvalidBlock for a height mismatch, got %v", err)
	}
}

func TestValidateRejectsPrevHashMismatch(t *testing.T) {
	f := newFixture(t)
	miner := types.Address("miner-one")
	parent := f.genesis(t, miner)

	coinbase := core.NewCoinbase(miner, 10, 0, 2)
	b := &core.Block{
		Height:          1,
		PrevHash:        types.Hash32{0xFF},
		TimestampMillis: parent.TimestampMillis + 1,
		Transactions:    []core.SignedTransaction{coinbase},
		StateRoot:       parent.StateRoot,
	}
	mineBlock(t, b, f.params)

	if err := f.pipe.Validate(b, parent); chainerrors.ClassifyKind(err) != chainerrors.KindInvalidBlock {
		t.Fatalf("expected KindInvalidBlock for a prev-hash mismatch, got %v", err)
	}
}

func TestValidateRejectsTimestampBeforeParent(t *testing.T) {
	f := newFixture(t)
	miner := types.Address("miner-one")
	parent := f.genesis(t, miner)

	coinbase := core.NewCoinbase(miner, 10, 0, 2)
	b := &core.Block{
		Height:          1,
		PrevHash:        parent.Hash,
		TimestampMillis: parent.TimestampMillis - 1,
		Transactions:    []core.SignedTransaction{coinbase},
		StateRoot:       parent.StateRoot,
	}
	mineBlock(t, b, f.params)

	if err := f.pipe.Validate(b, parent); chainerrors.ClassifyKind(err) != chainerrors.KindInvalidBlock {
		t.Fatalf("expected KindInvalidBlock for a timestamp before the parent's, got %v", err)
	}
}

func TestValidateRejectsClockSkew(t *testing.T) {
	f := newFixture(t)
	miner := types.Address("miner-one")
	parent := f.genesis(t, miner)

	coinbase := core.NewCoinbase(miner, 10, 0, 2)
	b := &core.Block{
		Height:          1,
		PrevHash:        parent.Hash,
		TimestampMillis: f.clk.NowMillis() + f.params.MaxClockSkewMillis + 1,
		Transactions:    []core.SignedTransaction{coinbase},
		StateRoot:       parent.StateRoot,
	}
	mineBlock(t, b, f.params)

	if err := f.pipe.Validate(b, parent); chainerrors.ClassifyKind(err) != chainerrors.KindInvalidBlock {
		t.Fatalf("expected KindInvalidBlock for a block too far in the future, got %v", err)
	}
}

func TestValidateRejectsFeeChecksumTamper(t *testing.T) {
	f := newFixture(t)
	miner := types.Address("miner-one")
	parent := f.genesis(t, miner)

	coinbase := core.NewCoinbase(miner, 10, 0, 2)
	b := &core.Block{
		Height:          1,
		PrevHash:        parent.Hash,
		TimestampMillis: parent.TimestampMillis + 1,
		Transactions:    []core.SignedTransaction{coinbase},
		StateRoot:       parent.StateRoot,
	}
	mineBlock(t, b, f.params)
	b.FeeChecksum[0] ^= 0xFF // tamper after mining computed the correct value

	if err := f.pipe.Validate(b, parent); chainerrors.ClassifyKind(err) != chainerrors.KindInvalidBlock {
		t.Fatalf("expected KindInvalidBlock for a tampered fee checksum, got %v", err)
	}
}

func TestValidateRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	miner := types.Address("miner-one")
	parent := f.genesis(t, miner)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := types.Address(pub)
	if err := f.store.Put(&types.Account{Address: sender, BalanceConsumer: 1000}); err != nil {
		t.Fatalf("seed sender: %v", err)
	}
	tx := &core.SignedTransaction{
		Payload: core.RawTxPayload{Sender: sender, Recipient: types.Address("bob"), AmountConsumer: 10, Fee: 1, FeeSplitPercent: 80, Nonce: 1},
		Lane:    types.LaneConsumer,
	}
	if err := tx.Sign(1, pub, cryptoverify.SchemeEd25519, func(msg []byte) ([]byte, error) {
		return ed25519.Sign(priv, msg), nil
	}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Signatures[0][0] ^= 0xFF // tamper the signature after signing

	coinbase := core.NewCoinbase(miner, 10, 0, 2)
	b := &core.Block{
		Height:          1,
		PrevHash:        parent.Hash,
		TimestampMillis: parent.TimestampMillis + 1,
		Transactions:    []core.SignedTransaction{coinbase, *tx},
		StateRoot:       parent.StateRoot,
	}
	mineBlock(t, b, f.params)

	if err := f.pipe.Validate(b, parent); err != chainerrors.ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestValidateRejectsInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	miner := types.Address("miner-one")
	parent := f.genesis(t, miner)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := types.Address(pub)
	if err := f.store.Put(&types.Account{Address: sender, BalanceConsumer: 5}); err != nil {
		t.Fatalf("seed sender: %v", err)
	}
	tx := &core.SignedTransaction{
		Payload: core.RawTxPayload{Sender: sender, Recipient: types.Address("bob"), AmountConsumer: 100, Fee: 1, FeeSplitPercent: 80, Nonce: 1},
		Lane:    types.LaneConsumer,
	}
	if err := tx.Sign(1, pub, cryptoverify.SchemeEd25519, func(msg []byte) ([]byte, error) {
		return ed25519.Sign(priv, msg), nil
	}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	coinbase := core.NewCoinbase(miner, 10, 0, 2)
	b := &core.Block{
		Height:          1,
		PrevHash:        parent.Hash,
		TimestampMillis: parent.TimestampMillis + 1,
		Transactions:    []core.SignedTransaction{coinbase, *tx},
		StateRoot:       parent.StateRoot,
	}
	mineBlock(t, b, f.params)

	if err := f.pipe.Validate(b, parent); chainerrors.ClassifyKind(err) != chainerrors.KindInvalidBlock {
		t.Fatalf("expected KindInvalidBlock for insufficient balance, got %v", err)
	}
}

func TestValidateRejectsWrongNonce(t *testing.T) {
	f := newFixture(t)
	miner := types.Address("miner-one")
	parent := f.genesis(t, miner)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sender := types.Address(pub)
	if err := f.store.Put(&types.Account{Address: sender, BalanceConsumer: 1000}); err != nil {
		t.Fatalf("seed sender: %v", err)
	}
	tx := &core.SignedTransaction{
		Payload: core.RawTxPayload{Sender: sender, Recipient: types.Address("bob"), AmountConsumer: 10, Fee: 1, FeeSplitPercent: 80, Nonce: 7}, // wrong, expect 1
		Lane:    types.LaneConsumer,
	}
	if err := tx.Sign(1, pub, cryptoverify.SchemeEd25519, func(msg []byte) ([]byte, error) {
		return ed25519.Sign(priv, msg), nil
	}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	coinbase := core.NewCoinbase(miner, 10, 0, 2)
	b := &core.Block{
		Height:          1,
		PrevHash:        parent.Hash,
		TimestampMillis: parent.TimestampMillis + 1,
		Transactions:    []core.SignedTransaction{coinbase, *tx},
		StateRoot:       parent.StateRoot,
	}
	mineBlock(t, b, f.params)

	if err := f.pipe.Validate(b, parent); chainerrors.ClassifyKind(err) != chainerrors.KindInvalidBlock {
		t.Fatalf("expected KindInvalidBlock for a nonce that skips ahead, got %v", err)
	}
}

func TestCommitBlockLeavesTipUntouchedOnRejection(t *testing.T) {
	f := newFixture(t)
	miner := types.Address("miner-one")
	parent := f.genesis(t, miner)
	rootBefore, _ := f.store.Root()

	coinbase := core.NewCoinbase(miner, 10, 0, 2)
	b := &core.Block{
		Height:          1,
		PrevHash:        types.Hash32{0xAB}, // wrong on purpose
		TimestampMillis: parent.TimestampMillis + 1,
		Transactions:    []core.SignedTransaction{coinbase},
		StateRoot:       parent.StateRoot,
	}
	mineBlock(t, b, f.params)

	if err := f.pipe.CommitBlock(b, parent, f.appendChain); err == nil {
		t.Fatal("expected CommitBlock to reject an invalid block")
	}
	if len(f.committed) != 1 {
		t.Fatalf("appendChain must not run again for a rejected block")
	}
	rootAfter, _ := f.store.Root()
	if rootAfter != rootBefore {
		t.Fatalf("state root changed despite a rejected commit")
	}
}

// TestCommitBlockWritesOneWALRecordPerBlock confirms the pipeline's
// commit step durably logs each block before flushing it to the state
// store, so a crash between the two is recoverable by replaying the WAL
// (spec §4.9 step 7, §6).
func TestCommitBlockWritesOneWALRecordPerBlock(t *testing.T) {
	params := testParams()
	store := state.New(kv.NewMem())
	verifier := cryptoverify.NewVerifier(1)
	clk := clock.NewFake(1_000_000)
	mp := mempool.New(params, verifier, store, clk, func(types.Hash32) bool { return false })

	path := filepath.Join(t.TempDir(), "wal")
	log, err := wal.Open(path)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	pipe := consensus.New(params, verifier, store, mp, fakeChain{}, clk, log, nil)

	f := &fixture{params: params, verifier: verifier, store: store, mp: mp, clk: clk, pipe: pipe}
	miner := types.Address("miner-one")
	parent := f.genesis(t, miner)

	coinbase := core.NewCoinbase(miner, 5, 0, 2)
	b := &core.Block{
		Height:          1,
		PrevHash:        parent.Hash,
		TimestampMillis: parent.TimestampMillis + 1,
		Transactions:    []core.SignedTransaction{coinbase},
		StateRoot:       f.overlayRootAfter(t, f.creditAccount(t, miner, 5)),
	}
	mineBlock(t, b, f.params)
	if err := f.pipe.CommitBlock(b, parent, f.appendChain); err != nil {
		t.Fatalf("commit: %v", err)
	}
	log.Close()

	var records int
	if err := wal.Replay(path, func([]byte) error {
		records++
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if records != 2 {
		t.Fatalf("expected one WAL record per committed block (genesis + child), got %d", records)
	}
}
