// Package mempool implements the two-lane transaction admission pool
// (spec §4.4, component C4): independent consumer/industrial lanes, each
// keyed by (sender, nonce), with signature verification, fee-lane
// matching, a rolling fee-floor policy, per-account pending limits, and
// fair capacity eviction that protects every account's lowest pending
// nonce.
package mempool

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/decred/dcrd/container/apbf"

	"github.com/ledgerforge/consensuscore/internal/chainerrors"
	"github.com/ledgerforge/consensuscore/internal/clock"
	"github.com/ledgerforge/consensuscore/internal/constants"
	"github.com/ledgerforge/consensuscore/internal/core"
	"github.com/ledgerforge/consensuscore/internal/core/types"
	"github.com/ledgerforge/consensuscore/internal/cryptoverify"
)

// AccountView is the narrow slice of the state store the mempool needs:
// reading an account's confirmed balance/nonce and mutating its pending
// reservation fields. Kept as an interface so tests can fake it without a
// full Store.
type AccountView interface {
	Get(addr types.Address) (*types.Account, error)
	Put(acc *types.Account) error
}

// HistoryChecker reports whether a transaction id is already confirmed on
// the parent chain, the third duplicate check of spec §4.4 step 1. A nil
// checker skips this check (used by tests exercising the mempool alone).
type HistoryChecker func(id types.Hash32) bool

// laneIndex is one lane's (sender, nonce) -> Entry map.
type laneIndex struct {
	bySenderNonce map[string]*Entry
}

func newLaneIndex() *laneIndex {
	return &laneIndex{bySenderNonce: make(map[string]*Entry)}
}

func laneKey(sender types.Address, nonce uint64) string {
	return fmt.Sprintf("%s:%d", sender.Hex(), nonce)
}

// Mempool is the two-lane admission pool (spec §4.4).
type Mempool struct {
	mu sync.RWMutex

	params   constants.ConsensusConstants
	verifier *cryptoverify.Verifier
	accounts AccountView
	clock    clock.Clock
	history  HistoryChecker

	lanes     [2]*laneIndex // indexed by types.Lane
	feeFloors [2]*feeFloorTracker
	evicted   *apbf.Filter // recent-eviction set (spec §4.4 steps 1 and 6)
}

// New constructs an empty two-lane Mempool.
func New(params constants.ConsensusConstants, verifier *cryptoverify.Verifier, accounts AccountView, c clock.Clock, history HistoryChecker) *Mempool {
	mp := &Mempool{
		params:   params,
		verifier: verifier,
		accounts: accounts,
		clock:    c,
		history:  history,
		evicted:  apbf.NewFilter(uint32(params.MempoolRecentEvictionCapacity), 0.01),
	}
	mp.lanes[types.LaneConsumer] = newLaneIndex()
	mp.lanes[types.LaneIndustrial] = newLaneIndex()
	mp.feeFloors[types.LaneConsumer] = newFeeFloorTracker(params.MempoolFeeFloorWindow, params.MempoolFeeFloorPercentile)
	mp.feeFloors[types.LaneIndustrial] = newFeeFloorTracker(params.MempoolFeeFloorWindow, params.MempoolFeeFloorPercentile)
	return mp
}

// SetFeeFloorWindow reconfigures both lanes' fee-floor sample window,
// satisfying the governance controller's ApplyRuntime hook for
// FeeFloorWindow (spec §4.10). Rebuilding the tracker discards existing
// history; the floor reads 0 until the new window fills.
func (mp *Mempool) SetFeeFloorWindow(windowSize int) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.params.MempoolFeeFloorWindow = windowSize
	mp.feeFloors[types.LaneConsumer] = newFeeFloorTracker(windowSize, mp.params.MempoolFeeFloorPercentile)
	mp.feeFloors[types.LaneIndustrial] = newFeeFloorTracker(windowSize, mp.params.MempoolFeeFloorPercentile)
}

// SetFeeFloorPercentile reconfigures both lanes' fee-floor percentile,
// satisfying the governance controller's ApplyRuntime hook for
// FeeFloorPercentile (spec §4.10).
func (mp *Mempool) SetFeeFloorPercentile(percentile int) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.params.MempoolFeeFloorPercentile = percentile
	mp.feeFloors[types.LaneConsumer] = newFeeFloorTracker(mp.params.MempoolFeeFloorWindow, percentile)
	mp.feeFloors[types.LaneIndustrial] = newFeeFloorTracker(mp.params.MempoolFeeFloorWindow, percentile)
}

// Submit runs the full admission pipeline of spec §4.4 over tx. On any
// rejection no state is mutated (errors are idempotent, per spec §4.4).
func (mp *Mempool) Submit(tx *core.SignedTransaction) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	lane := mp.lanes[tx.Lane]

	// Step 1: duplicate checks.
	k := laneKey(tx.Payload.Sender, tx.Payload.Nonce)
	if _, exists := lane.bySenderNonce[k]; exists {
		return fmt.Errorf("%w: (sender,nonce) already pending in lane", chainerrors.ErrDuplicate)
	}
	if mp.evicted.Contains(tx.ID[:]) {
		return fmt.Errorf("%w: id in recent-eviction set", chainerrors.ErrDuplicate)
	}
	if mp.history != nil && mp.history(tx.ID) {
		return fmt.Errorf("%w: already confirmed", chainerrors.ErrDuplicate)
	}

	// Step 2: signature.
	sender, err := mp.accounts.Get(tx.Payload.Sender)
	if err != nil {
		return err
	}
	if !tx.Verify(mp.verifier, sender, mp.clock.NowMillis()) {
		return chainerrors.ErrBadSignature
	}

	// Step 3: fee-lane match (spec §9 resolution: consumer lane requires
	// fee_split_percent >= the comfort threshold).
	requiresConsumer := tx.Payload.FeeSplitPercent >= mp.params.ConsumerLaneComfortPercent
	if requiresConsumer != (tx.Lane == types.LaneConsumer) {
		return chainerrors.ErrLaneMismatch
	}

	// Step 4: fee floor.
	byteLen := tx.ByteLen()
	if byteLen <= 0 {
		return fmt.Errorf("%w: zero-length transaction", chainerrors.ErrOverflow)
	}
	feePerByte := float64(tx.Payload.Fee) / float64(byteLen)
	if floor := mp.feeFloors[tx.Lane].floor(); feePerByte < floor {
		return fmt.Errorf("%w: %.4f below floor %.4f", chainerrors.ErrFeeTooLow, feePerByte, floor)
	}

	// Step 5: per-account pending limits.
	if sender == nil {
		return fmt.Errorf("%w: sender has no account", chainerrors.ErrInvalidBlock)
	}
	if len(sender.PendingNonces) >= mp.params.MempoolMaxPendingPerAccount {
		return chainerrors.ErrAccountCapFull
	}
	totalFee := tx.Payload.AmountConsumer + tx.Payload.AmountIndustrial + tx.Payload.Fee
	pendingTotal := sender.PendingBalance(tx.Lane) + totalFee
	if pendingTotal > sender.Balance(tx.Lane) {
		return chainerrors.ErrAccountCapFull
	}
	if dup := sender.AddPendingNonce(tx.Payload.Nonce); dup {
		return fmt.Errorf("%w: nonce already pending", chainerrors.ErrDuplicate)
	}
	addPendingBalance(sender, tx.Lane, totalFee)

	entry := &Entry{Tx: tx, AdmittedAtMillis: mp.clock.NowMillis(), ByteLen: byteLen}

	// Step 6: capacity eviction.
	if len(lane.bySenderNonce) >= mp.params.MempoolLaneCapacity {
		if evErr := mp.evictWorstLocked(tx.Lane); evErr != nil {
			sender.RemovePendingNonce(tx.Payload.Nonce)
			addPendingBalance(sender, tx.Lane, -totalFee)
			return evErr
		}
	}

	if err := mp.accounts.Put(sender); err != nil {
		return err
	}
	lane.bySenderNonce[k] = entry
	return nil
}

// addPendingBalance adds delta (which may be negative, to release a
// reservation) to the account's pending balance for lane.
func addPendingBalance(acc *types.Account, l types.Lane, delta uint64) {
	if l == types.LaneIndustrial {
		acc.PendingBalanceIndustrial += delta
		return
	}
	acc.PendingBalanceConsumer += delta
}

// evictWorstLocked drops the entry with the worst ordering key in lane,
// protecting every account's lowest pending nonce (spec §4.4 step 6). mu
// is already held by the caller.
func (mp *Mempool) evictWorstLocked(l types.Lane) error {
	lane := mp.lanes[l]
	var worstKeyStr string
	var worstKey key
	var worstEntry *Entry
	found := false

	for k, e := range lane.bySenderNonce {
		acc, err := mp.accounts.Get(e.Tx.Payload.Sender)
		if err != nil {
			continue
		}
		if lowest, ok := acc.LowestPendingNonce(); ok && lowest == e.Tx.Payload.Nonce {
			continue // protected: this is the account's lowest pending nonce
		}
		ek := e.orderingKey(mp.params.MempoolEntryTTLMillis)
		if !found || worstKey.less(ek) {
			found = true
			worstKey = ek
			worstKeyStr = k
			worstEntry = e
		}
	}
	if !found {
		return fmt.Errorf("%w: lane at capacity, every entry protected", chainerrors.ErrAccountCapFull)
	}

	if acc, err := mp.accounts.Get(worstEntry.Tx.Payload.Sender); err == nil && acc != nil {
		totalFee := worstEntry.Tx.Payload.AmountConsumer + worstEntry.Tx.Payload.AmountIndustrial + worstEntry.Tx.Payload.Fee
		acc.RemovePendingNonce(worstEntry.Tx.Payload.Nonce)
		addPendingBalance(acc, l, negSaturating(totalFee))
		_ = mp.accounts.Put(acc)
	}
	delete(lane.bySenderNonce, worstKeyStr)
	mp.evicted.Add(worstEntry.Tx.ID[:])
	return nil
}

// negSaturating turns a uint64 amount into the "subtract" direction
// addPendingBalance understands via two's-complement wraparound, which is
// safe here because the corresponding add always preceded it by the exact
// same amount.
func negSaturating(amount uint64) uint64 { return ^amount + 1 }

// RecordIncluded feeds a block-included transaction's fee_per_byte into
// the lane's rolling fee-floor window (spec §4.4 step 4) and removes it
// from the pending index, releasing its reservation.
func (mp *Mempool) RecordIncluded(tx *core.SignedTransaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	byteLen := tx.ByteLen()
	if byteLen > 0 {
		mp.feeFloors[tx.Lane].record(float64(tx.Payload.Fee) / float64(byteLen))
	}
	mp.removeLocked(tx)
}

// Remove drops a transaction from the pool without recording it in the
// fee-floor window (used for TTL expiry and explicit cancellation).
func (mp *Mempool) Remove(tx *core.SignedTransaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.removeLocked(tx)
}

func (mp *Mempool) removeLocked(tx *core.SignedTransaction) {
	lane := mp.lanes[tx.Lane]
	k := laneKey(tx.Payload.Sender, tx.Payload.Nonce)
	if _, ok := lane.bySenderNonce[k]; !ok {
		return
	}
	delete(lane.bySenderNonce, k)
	if acc, err := mp.accounts.Get(tx.Payload.Sender); err == nil && acc != nil {
		totalFee := tx.Payload.AmountConsumer + tx.Payload.AmountIndustrial + tx.Payload.Fee
		acc.RemovePendingNonce(tx.Payload.Nonce)
		addPendingBalance(acc, tx.Lane, negSaturating(totalFee))
		_ = mp.accounts.Put(acc)
	}
}

// PurgeExpired removes every entry whose TTL has elapsed as of nowMillis,
// the background task spec §5 calls "mempool TTL purge".
func (mp *Mempool) PurgeExpired(nowMillis int64) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	purged := 0
	for _, lane := range mp.lanes {
		for k, e := range lane.bySenderNonce {
			if nowMillis < e.AdmittedAtMillis+mp.params.MempoolEntryTTLMillis {
				continue
			}
			delete(lane.bySenderNonce, k)
			if acc, err := mp.accounts.Get(e.Tx.Payload.Sender); err == nil && acc != nil {
				totalFee := e.Tx.Payload.AmountConsumer + e.Tx.Payload.AmountIndustrial + e.Tx.Payload.Fee
				acc.RemovePendingNonce(e.Tx.Payload.Nonce)
				addPendingBalance(acc, e.Tx.Lane, negSaturating(totalFee))
				_ = mp.accounts.Put(acc)
			}
			purged++
		}
	}
	return purged
}

// Count returns the number of pending entries in lane.
func (mp *Mempool) Count(l types.Lane) int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.lanes[l].bySenderNonce)
}

// candidate is one assemblyHeap element: an admitted entry plus its
// precomputed ordering key.
type candidate struct {
	entry *Entry
	key   key
}

// assemblyHeap is a priority queue of candidate transactions ordered by
// key.less (highest fee/byte first), the same txPriorityQueue shape
// block assembly uses elsewhere in the retrieved corpus.
type assemblyHeap []candidate

// Len returns the number of items in the heap. It is part of the
// heap.Interface implementation.
func (h assemblyHeap) Len() int { return len(h) }

// Less reports whether the candidate at i should sort before the one at
// j. It is part of the heap.Interface implementation.
func (h assemblyHeap) Less(i, j int) bool { return h[i].key.less(h[j].key) }

// Swap exchanges the candidates at i and j. It is part of the
// heap.Interface implementation.
func (h assemblyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x onto the heap. It is part of the heap.Interface
// implementation.
func (h *assemblyHeap) Push(x interface{}) {
	*h = append(*h, x.(candidate))
}

// Pop removes and returns the lowest-keyed candidate. It is part of the
// heap.Interface implementation.
func (h *assemblyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// AssembleBlock selects transactions across both lanes ordered by the
// selection key, respecting per-account nonce order (lowest pending nonce
// first), capped by maxBytes (spec §4.4 "Block assembly").
//
// Candidates are merged out of a heap rather than picked in one pass over
// a globally fee-sorted slice: a single forward pass over a flat sort
// permanently skips a sender's lower-nonce, lower-fee entry once its
// higher-nonce, higher-fee sibling has already been passed over earlier in
// the sort order, since the pass never revisits it. Seeding the heap with
// only each sender's next eligible nonce, and pushing that sender's
// following nonce back in only after its predecessor is selected, keeps
// every sender's in-order entries reachable regardless of where their fee
// rank falls.
func (mp *Mempool) AssembleBlock(maxBytes int) []*core.SignedTransaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entriesBySenderNonce := make(map[string]*Entry)
	bySender := make(map[string][]*Entry)
	for _, lane := range mp.lanes {
		for _, e := range lane.bySenderNonce {
			sk := e.Tx.Payload.Sender.Hex()
			entriesBySenderNonce[laneKey(e.Tx.Payload.Sender, e.Tx.Payload.Nonce)] = e
			bySender[sk] = append(bySender[sk], e)
		}
	}

	nextNonce := make(map[string]uint64)
	for sk, entries := range bySender {
		if acc, err := mp.accounts.Get(entries[0].Tx.Payload.Sender); err == nil && acc != nil {
			if lowest, ok := acc.LowestPendingNonce(); ok {
				nextNonce[sk] = lowest
			}
		}
	}

	h := make(assemblyHeap, 0, len(bySender))
	for sk, want := range nextNonce {
		sender := bySender[sk][0].Tx.Payload.Sender
		if e, ok := entriesBySenderNonce[laneKey(sender, want)]; ok {
			h = append(h, candidate{entry: e, key: e.orderingKey(mp.params.MempoolEntryTTLMillis)})
		}
	}
	// Senders the accounts view has no record of cannot have their nonce
	// order enforced; every one of their pending entries is an
	// independent candidate from the start, matching the original
	// behavior of only filtering senders with a known next nonce.
	for sk, entries := range bySender {
		if _, known := nextNonce[sk]; known {
			continue
		}
		for _, e := range entries {
			h = append(h, candidate{entry: e, key: e.orderingKey(mp.params.MempoolEntryTTLMillis)})
		}
	}
	heap.Init(&h)

	used := 0
	var selected []*core.SignedTransaction
	for h.Len() > 0 {
		c := heap.Pop(&h).(candidate)
		sk := c.entry.Tx.Payload.Sender.Hex()
		if used+c.entry.ByteLen > maxBytes {
			continue
		}
		selected = append(selected, c.entry.Tx)
		used += c.entry.ByteLen
		if _, known := nextNonce[sk]; known {
			next := c.entry.Tx.Payload.Nonce + 1
			nextNonce[sk] = next
			if e, ok := entriesBySenderNonce[laneKey(c.entry.Tx.Payload.Sender, next)]; ok {
				heap.Push(&h, candidate{entry: e, key: e.orderingKey(mp.params.MempoolEntryTTLMillis)})
			}
		}
	}
	return selected
}
