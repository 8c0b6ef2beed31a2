package mempool_test

import (
	"crypto/ed25519"
	"sync"
	"testing"

	"github.com/ledgerforge/consensuscore/internal/chainerrors"
	"github.com/ledgerforge/consensuscore/internal/clock"
	"github.com/ledgerforge/consensuscore/internal/constants"
	"github.com/ledgerforge/consensuscore/internal/core"
	"github.com/ledgerforge/consensuscore/internal/core/types"
	"github.com/ledgerforge/consensuscore/internal/cryptoverify"
	"github.com/ledgerforge/consensuscore/internal/mempool"
)

// fakeAccounts is a minimal in-memory AccountView for tests.
type fakeAccounts struct {
	mu   sync.Mutex
	data map[string]*types.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{data: make(map[string]*types.Account)}
}

func (f *fakeAccounts) Get(addr types.Address) (*types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.data[addr.Hex()]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

func (f *fakeAccounts) Put(acc *types.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[acc.Address.Hex()] = acc.Clone()
	return nil
}

type signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return signer{pub: pub, priv: priv}
}

func signTx(t *testing.T, chainID uint32, s signer, payload core.RawTxPayload, lane types.Lane) *core.SignedTransaction {
	t.Helper()
	tx := &core.SignedTransaction{Payload: payload, Lane: lane}
	err := tx.Sign(chainID, s.pub, cryptoverify.SchemeEd25519, func(msg []byte) ([]byte, error) {
		return ed25519.Sign(s.priv, msg), nil
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func testParams() constants.ConsensusConstants {
	p := constants.Default()
	p.MempoolFeeFloorWindow = 4
	p.MempoolFeeFloorPercentile = 50
	p.MempoolLaneCapacity = 2
	p.MempoolMaxPendingPerAccount = 4
	return p
}

func newTestMempool(t *testing.T) (*mempool.Mempool, *fakeAccounts) {
	t.Helper()
	params := testParams()
	accounts := newFakeAccounts()
	verifier := cryptoverify.NewVerifier(params.ChainID)
	mp := mempool.New(params, verifier, accounts, clock.NewFake(1_000_000), nil)
	return mp, accounts
}

func fundedSender(t *testing.T, accounts *fakeAccounts, s signer, balance uint64) types.Address {
	t.Helper()
	addr := types.Address(append([]byte(nil), s.pub...))
	if err := accounts.Put(&types.Account{Address: addr, BalanceConsumer: balance, BalanceIndustrial: balance}); err != nil {
		t.Fatalf("fund account: %v", err)
	}
	return addr
}

func TestSubmitAndAssembleBlock(t *testing.T) {
	mp, accounts := newTestMempool(t)
	alice := newSigner(t)
	addr := fundedSender(t, accounts, alice, 10_000)

	tx := signTx(t, constants.Default().ChainID, alice, core.RawTxPayload{
		Sender: addr, Recipient: types.Address("bob"),
		AmountConsumer: 100, Fee: 10, FeeSplitPercent: 80, Nonce: 0,
	}, types.LaneConsumer)

	if err := mp.Submit(tx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := mp.Count(types.LaneConsumer); got != 1 {
		t.Fatalf("expected 1 pending entry, got %d", got)
	}

	selected := mp.AssembleBlock(1 << 20)
	if len(selected) != 1 || selected[0].ID != tx.ID {
		t.Fatalf("assembled block did not include submitted tx: %+v", selected)
	}
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	mp, accounts := newTestMempool(t)
	alice := newSigner(t)
	addr := fundedSender(t, accounts, alice, 10_000)

	payload := core.RawTxPayload{Sender: addr, Recipient: types.Address("bob"), Fee: 10, FeeSplitPercent: 80, Nonce: 0}
	tx1 := signTx(t, constants.Default().ChainID, alice, payload, types.LaneConsumer)
	if err := mp.Submit(tx1); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	tx2 := signTx(t, constants.Default().ChainID, alice, payload, types.LaneConsumer)
	err := mp.Submit(tx2)
	if err == nil || chainerrors.ClassifyKind(err) != chainerrors.KindDuplicate {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestLaneMismatchRejected(t *testing.T) {
	mp, accounts := newTestMempool(t)
	alice := newSigner(t)
	addr := fundedSender(t, accounts, alice, 10_000)

	// FeeSplitPercent below the comfort threshold but declared as consumer lane.
	payload := core.RawTxPayload{Sender: addr, Recipient: types.Address("bob"), Fee: 10, FeeSplitPercent: 10, Nonce: 0}
	tx := signTx(t, constants.Default().ChainID, alice, payload, types.LaneConsumer)

	err := mp.Submit(tx)
	if err == nil || chainerrors.ClassifyKind(err) != chainerrors.KindLaneMismatch {
		t.Fatalf("expected lane mismatch, got %v", err)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	mp, accounts := newTestMempool(t)
	alice := newSigner(t)
	mallory := newSigner(t)
	addr := fundedSender(t, accounts, alice, 10_000)

	payload := core.RawTxPayload{Sender: addr, Recipient: types.Address("bob"), Fee: 10, FeeSplitPercent: 80, Nonce: 0}
	// Signed by the wrong key relative to the sender address.
	tx := signTx(t, constants.Default().ChainID, mallory, payload, types.LaneConsumer)

	err := mp.Submit(tx)
	if err == nil || chainerrors.ClassifyKind(err) != chainerrors.KindBadSignature {
		t.Fatalf("expected bad signature rejection, got %v", err)
	}
}

// Fee-floor rejection (spec §4.4 step 4): once the rolling window fills
// with high fee_per_byte inclusions, a low-fee submission falls below the
// floor and is rejected.
func TestFeeFloorRejectsLowFee(t *testing.T) {
	mp, accounts := newTestMempool(t)
	payer := newSigner(t)
	addr := fundedSender(t, accounts, payer, 1_000_000)

	highFeeTx := &core.SignedTransaction{Payload: core.RawTxPayload{Fee: 1000}, Lane: types.LaneConsumer}
	for i := 0; i < 4; i++ {
		mp.RecordIncluded(highFeeTx)
	}

	payload := core.RawTxPayload{Sender: addr, Recipient: types.Address("bob"), Fee: 1, FeeSplitPercent: 80, Nonce: 0}
	tx := signTx(t, constants.Default().ChainID, payer, payload, types.LaneConsumer)

	err := mp.Submit(tx)
	if err == nil || chainerrors.ClassifyKind(err) != chainerrors.KindFeeTooLow {
		t.Fatalf("expected fee-too-low rejection, got %v", err)
	}
}

// Eviction fairness (spec §8 property 6): the lowest-pending-nonce entry
// for an account is never evicted, even under capacity pressure.
func TestEvictionProtectsLowestNonce(t *testing.T) {
	mp, accounts := newTestMempool(t) // lane capacity 2
	alice := newSigner(t)
	addr := fundedSender(t, accounts, alice, 1_000_000)
	chainID := constants.Default().ChainID

	tx0 := signTx(t, chainID, alice, core.RawTxPayload{Sender: addr, Recipient: types.Address("bob"), Fee: 5, FeeSplitPercent: 80, Nonce: 0}, types.LaneConsumer)
	if err := mp.Submit(tx0); err != nil {
		t.Fatalf("submit nonce 0: %v", err)
	}

	tx1 := signTx(t, chainID, alice, core.RawTxPayload{Sender: addr, Recipient: types.Address("bob"), Fee: 1, FeeSplitPercent: 80, Nonce: 1}, types.LaneConsumer)
	if err := mp.Submit(tx1); err != nil {
		t.Fatalf("submit nonce 1: %v", err)
	}

	// Lane is now at capacity (2). A third, higher-fee submission forces
	// eviction of the worst unprotected entry — alice's nonce-1 entry,
	// never her nonce-0 entry, which is her lowest pending nonce.
	carol := newSigner(t)
	carolAddr := fundedSender(t, accounts, carol, 1_000_000)
	txCarol := signTx(t, chainID, carol, core.RawTxPayload{Sender: carolAddr, Recipient: types.Address("dave"), Fee: 50, FeeSplitPercent: 80, Nonce: 0}, types.LaneConsumer)
	if err := mp.Submit(txCarol); err != nil {
		t.Fatalf("submit carol: %v", err)
	}

	selected := mp.AssembleBlock(1 << 20)
	foundAlice := false
	for _, tx := range selected {
		if tx.ID == tx0.ID {
			foundAlice = true
		}
	}
	if !foundAlice {
		t.Fatalf("alice's lowest-pending-nonce entry was evicted")
	}
}

// A sender's lower-nonce, lower-fee entry must still be assembled even
// when its higher-nonce, higher-fee sibling would otherwise sort ahead of
// it in the global fee ranking: nonce order has to win within one
// sender, not just fee rank across senders.
func TestAssembleBlockRespectsNonceOrderAcrossFeeLevels(t *testing.T) {
	mp, accounts := newTestMempool(t)
	alice := newSigner(t)
	addr := fundedSender(t, accounts, alice, 1_000_000)
	chainID := constants.Default().ChainID

	low := signTx(t, chainID, alice, core.RawTxPayload{Sender: addr, Recipient: types.Address("bob"), Fee: 1, FeeSplitPercent: 80, Nonce: 0}, types.LaneConsumer)
	if err := mp.Submit(low); err != nil {
		t.Fatalf("submit nonce 0 (low fee): %v", err)
	}
	high := signTx(t, chainID, alice, core.RawTxPayload{Sender: addr, Recipient: types.Address("bob"), Fee: 1000, FeeSplitPercent: 80, Nonce: 1}, types.LaneConsumer)
	if err := mp.Submit(high); err != nil {
		t.Fatalf("submit nonce 1 (high fee): %v", err)
	}

	selected := mp.AssembleBlock(1 << 20)
	if len(selected) != 2 {
		t.Fatalf("expected both of alice's pending entries to be assembled, got %d", len(selected))
	}
	if selected[0].ID != low.ID || selected[1].ID != high.ID {
		t.Fatalf("expected nonce 0 before nonce 1 despite its lower fee, got order %x then %x", selected[0].ID, selected[1].ID)
	}
}

func TestPurgeExpired(t *testing.T) {
	params := testParams()
	params.MempoolEntryTTLMillis = 1000
	accounts := newFakeAccounts()
	verifier := cryptoverify.NewVerifier(params.ChainID)
	fc := clock.NewFake(0)
	mp := mempool.New(params, verifier, accounts, fc, nil)

	alice := newSigner(t)
	addr := fundedSender(t, accounts, alice, 10_000)
	tx := signTx(t, params.ChainID, alice, core.RawTxPayload{Sender: addr, Recipient: types.Address("bob"), Fee: 5, FeeSplitPercent: 80, Nonce: 0}, types.LaneConsumer)
	if err := mp.Submit(tx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	fc.Advance(2000)
	purged := mp.PurgeExpired(fc.NowMillis())
	if purged != 1 {
		t.Fatalf("expected 1 purged entry, got %d", purged)
	}
	if got := mp.Count(types.LaneConsumer); got != 0 {
		t.Fatalf("expected empty lane after purge, got %d entries", got)
	}
}
