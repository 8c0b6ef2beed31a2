// Package consensus implements the Block Pipeline (spec §4.9, component
// C9): validating an incoming block against every upstream component
// (C1 encoding, C2 signatures, C3 state, C5 difficulty, C6 VDF, C7 PoW)
// and, on success, committing it atomically behind a single write-ahead
// log record. The package has no block-proposal path of its own: a block
// built locally goes through the same Validate/CommitBlock calls as one
// received from a peer.
package consensus

import (
	"fmt"

	"github.com/decred/slog"

	"github.com/ledgerforge/consensuscore/internal/chainerrors"
	"github.com/ledgerforge/consensuscore/internal/clock"
	"github.com/ledgerforge/consensuscore/internal/constants"
	"github.com/ledgerforge/consensuscore/internal/core"
	"github.com/ledgerforge/consensuscore/internal/core/types"
	"github.com/ledgerforge/consensuscore/internal/cryptoverify"
	"github.com/ledgerforge/consensuscore/internal/difficulty"
	"github.com/ledgerforge/consensuscore/internal/mempool"
	"github.com/ledgerforge/consensuscore/internal/pow"
	"github.com/ledgerforge/consensuscore/internal/state"
	"github.com/ledgerforge/consensuscore/internal/vdf"
	"github.com/ledgerforge/consensuscore/internal/wal"
)

// ChainReader is the narrow slice of chain history the pipeline needs
// to validate a block against its parent.
type ChainReader interface {
	Tip() (*core.Block, error)
	RecentTimestamps(max int) ([]int64, error)
}

// Pipeline wires C1-C8's individual checks into the single ordered
// validation sequence spec §4.9 names, followed by atomic commit.
type Pipeline struct {
	params   constants.ConsensusConstants
	verifier *cryptoverify.Verifier
	store    *state.Store
	mp       *mempool.Mempool
	chain    ChainReader
	clk      clock.Clock
	walLog   *wal.Log
	log      slog.Logger
}

// New constructs a Pipeline. walLog and log may be nil (a nil walLog
// skips durability, used by tests exercising validation alone; a nil
// log silently discards).
func New(params constants.ConsensusConstants, verifier *cryptoverify.Verifier, store *state.Store, mp *mempool.Mempool, chain ChainReader, clk clock.Clock, walLog *wal.Log, log slog.Logger) *Pipeline {
	return &Pipeline{params: params, verifier: verifier, store: store, mp: mp, chain: chain, clk: clk, walLog: walLog, log: log}
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.log != nil {
		p.log.Infof(format, args...)
	}
}

// Validate runs spec §4.9's seven-step validation order against b, given
// its parent. It does not mutate committed state: step 6's simulation
// runs inside the state store's overlay, which is aborted before
// Validate returns (Commit re-opens it). Returns nil on success.
func (p *Pipeline) Validate(b, parent *core.Block) error {
	// Step 1: structural.
	if parent == nil {
		if b.Height != 0 {
			return fmt.Errorf("%w: genesis must be height 0, got %d", chainerrors.ErrInvalidBlock, b.Height)
		}
	} else {
		if b.Height != parent.Height+1 {
			return fmt.Errorf("%w: expected height %d, got %d", chainerrors.ErrInvalidBlock, parent.Height+1, b.Height)
		}
		if b.PrevHash != parent.Hash {
			return fmt.Errorf("%w: prev hash does not match parent", chainerrors.ErrInvalidBlock)
		}
	}
	if err := b.VerifyHash(); err != nil {
		return fmt.Errorf("%w: %v", chainerrors.ErrInvalidBlock, err)
	}
	if err := pow.Validate(b); err != nil {
		return err
	}
	if !vdf.Verify(b.VDF.Commit, p.params.VDFRounds, b.VDF.Output, b.VDF.Proof) {
		return fmt.Errorf("%w: VDF verification failed", chainerrors.ErrInvalidBlock)
	}

	// Step 2: difficulty matches C5's prediction from the parent window.
	if parent != nil {
		timestamps, err := p.chain.RecentTimestamps(p.params.DifficultyWindow)
		if err != nil {
			return err
		}
		wantDifficulty, _ := difficulty.Retune(parent.Difficulty, timestamps, parent.RetuneHint, p.params)
		if b.Difficulty != wantDifficulty {
			return fmt.Errorf("%w: difficulty %d does not match predicted %d", chainerrors.ErrInvalidBlock, b.Difficulty, wantDifficulty)
		}
	}

	// Step 3: timestamp ordering and clock skew.
	if parent != nil {
		if b.TimestampMillis < parent.TimestampMillis {
			return fmt.Errorf("%w: timestamp precedes parent", chainerrors.ErrInvalidBlock)
		}
		if b.TimestampMillis == parent.TimestampMillis && b.Nonce <= parent.Nonce {
			return fmt.Errorf("%w: equal timestamp requires a greater nonce", chainerrors.ErrInvalidBlock)
		}
	}
	if b.TimestampMillis > p.clk.NowMillis()+p.params.MaxClockSkewMillis {
		return fmt.Errorf("%w: timestamp too far in the future", chainerrors.ErrInvalidBlock)
	}

	// Step 5: fee checksum (checked before simulation, as it is cheap and
	// purely a function of the transaction list already in hand).
	if core.ComputeFeeChecksum(b.Transactions) != b.FeeChecksum {
		return fmt.Errorf("%w: fee checksum mismatch", chainerrors.ErrInvalidBlock)
	}
	if core.ComputeMerkleRoot(b.Transactions) != b.MerkleRoot {
		return fmt.Errorf("%w: merkle root mismatch", chainerrors.ErrInvalidBlock)
	}

	// Steps 4 and 6: per-transaction checks plus simulation, inside a
	// disposable overlay.
	if err := p.store.BeginOverlay(); err != nil {
		return err
	}
	defer p.store.AbortOverlay()

	txIndex := make(map[string]uint64)
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if tx.IsCoinbase() {
			if i != 0 {
				return fmt.Errorf("%w: coinbase must be the first transaction", chainerrors.ErrInvalidBlock)
			}
		} else {
			sender, err := p.store.Get(tx.Payload.Sender)
			if err != nil {
				return err
			}
			if !tx.Verify(p.verifier, sender, b.TimestampMillis) {
				return chainerrors.ErrBadSignature
			}
			requiresConsumer := tx.Payload.FeeSplitPercent >= p.params.ConsumerLaneComfortPercent
			if requiresConsumer != (tx.Lane == types.LaneConsumer) {
				return chainerrors.ErrLaneMismatch
			}
		}
		senderKey := tx.Payload.Sender.Hex()
		if err := applyTransaction(p.store, tx, txIndex[senderKey]); err != nil {
			return err
		}
		if !tx.IsCoinbase() {
			txIndex[senderKey]++
		}
	}

	gotRoot, err := p.overlayRoot()
	if err != nil {
		return err
	}
	if gotRoot != b.StateRoot {
		return fmt.Errorf("%w: state root mismatch", chainerrors.ErrInvalidBlock)
	}
	return nil
}

// overlayRoot computes the state root as it would be after the active
// overlay were committed, without committing it: state.Store.Root already
// merges the open overlay's accounts over the committed shards. The
// overlay is left open for the caller (Validate / Commit) to abort or
// commit.
func (p *Pipeline) overlayRoot() (types.Hash32, error) {
	return p.store.Root()
}

// CommitBlock re-validates b against parent and, if valid, durably
// commits it: a WAL record is appended and fsynced, then the state
// store's overlay is flushed and the block is appended to chain (spec
// §4.9 step 7, "write a WAL record ... flush fsync ... apply to the
// state store and append to the chain"). Any invalid block leaves the
// tip untouched.
func (p *Pipeline) CommitBlock(b, parent *core.Block, appendChain func(*core.Block) error) error {
	if err := p.validateAndSimulate(b, parent); err != nil {
		return err
	}
	defer p.store.AbortOverlay() // no-op once CommitOverlay has run; safety net on any early return

	if p.walLog != nil {
		record, err := encodeWALRecord(b)
		if err != nil {
			return err
		}
		if err := p.walLog.Append(record); err != nil {
			return err
		}
	}
	if err := p.store.CommitOverlay(); err != nil {
		return fmt.Errorf("%w: %v", chainerrors.ErrWalCorrupt, err)
	}
	if err := appendChain(b); err != nil {
		return err
	}
	p.logf("PIPELINE: committed block %s at height %d (%d tx)", b.Hash, b.Height, len(b.Transactions))
	return nil
}

// validateAndSimulate runs Validate and then applies b's transactions
// again into a fresh overlay that it leaves open (does not Abort) on
// success, so CommitBlock can flush exactly those writes.
func (p *Pipeline) validateAndSimulate(b, parent *core.Block) error {
	// Validate aborts its own overlay before returning, so once it has
	// succeeded the transactions are re-applied into a new overlay that
	// stays open for CommitBlock to commit.
	if err := p.Validate(b, parent); err != nil {
		return err
	}
	if err := p.store.BeginOverlay(); err != nil {
		return err
	}
	txIndex := make(map[string]uint64)
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		senderKey := tx.Payload.Sender.Hex()
		if err := applyTransaction(p.store, tx, txIndex[senderKey]); err != nil {
			p.store.AbortOverlay()
			return err
		}
		if !tx.IsCoinbase() {
			txIndex[senderKey]++
		}
	}
	return nil
}
