package blockchain

import (
	"fmt"

	"github.com/ledgerforge/consensuscore/internal/constants"
	"github.com/ledgerforge/consensuscore/internal/core"
	"github.com/ledgerforge/consensuscore/internal/core/types"
	"github.com/ledgerforge/consensuscore/internal/pow"
	"github.com/ledgerforge/consensuscore/internal/state"
	"github.com/ledgerforge/consensuscore/internal/vdf"
)

// CreateGenesisBlock builds the height-0 block minting the initial
// consumer- and industrial-lane supply to treasury, at the easiest
// possible PoW target. It only constructs and mines the block; the
// caller is expected to run it through consensus.Pipeline.CommitBlock
// (so the mint is applied to store and appended via the real chain
// store) exactly like every later block, rather than have genesis take
// a special commit path of its own.
//
// store is used read-only here, to simulate the mint against a
// throwaway overlay so StateRoot can be computed before Finalize runs;
// the overlay is aborted before returning, leaving store untouched.
func CreateGenesisBlock(store *state.Store, params constants.ConsensusConstants, timestampMillis int64, treasury types.Address, consumerAmount, industrialAmount uint64) (*core.Block, error) {
	coinbase := core.NewCoinbase(treasury, consumerAmount, industrialAmount, 0)

	if err := store.BeginOverlay(); err != nil {
		return nil, fmt.Errorf("begin genesis overlay: %w", err)
	}
	acc, err := store.Get(treasury)
	if err != nil {
		store.AbortOverlay()
		return nil, fmt.Errorf("read treasury account: %w", err)
	}
	if acc == nil {
		acc = &types.Account{Address: append(types.Address(nil), treasury...)}
	}
	acc.BalanceConsumer += consumerAmount
	acc.BalanceIndustrial += industrialAmount
	if err := store.Put(acc); err != nil {
		store.AbortOverlay()
		return nil, fmt.Errorf("credit treasury account: %w", err)
	}
	root, err := store.Root()
	if err != nil {
		store.AbortOverlay()
		return nil, fmt.Errorf("compute genesis state root: %w", err)
	}
	if err := store.AbortOverlay(); err != nil {
		return nil, fmt.Errorf("abort genesis overlay: %w", err)
	}

	b := &core.Block{
		Height:          0,
		TimestampMillis: timestampMillis,
		Transactions:    []core.SignedTransaction{coinbase},
		StateRoot:       root,
	}

	output, proof := vdf.Evaluate(b.PrevHash[:], params.VDFRounds)
	b.VDF = core.VDFTriple{Commit: append([]byte(nil), b.PrevHash[:]...), Output: output, Proof: proof}

	// The easiest difficulty target accepts nearly any nonce; 10000 attempts
	// is the same generous ceiling the block pipeline's own tests mine
	// against (internal/consensus/pipeline_test.go's mineBlock).
	const genesisMaxNonce = 10000

	b.Difficulty = ^uint64(0)
	nonce, hash, err := pow.Mine(b, genesisMaxNonce)
	if err != nil {
		return nil, fmt.Errorf("mine genesis block: %w", err)
	}
	b.Nonce, b.Hash = nonce, hash
	return b, nil
}
