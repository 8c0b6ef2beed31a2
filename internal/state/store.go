// Package state implements the State Store (spec §4.3, component C3): an
// ordered mapping from Address to Account, sharded by the low bits of the
// address hash, with a merkle root per shard and a single global root that
// is the hash of the ordered sequence of shard roots.
package state

import (
	"sort"

	"github.com/dolthub/swiss"

	"github.com/ledgerforge/consensuscore/internal/chainerrors"
	"github.com/ledgerforge/consensuscore/internal/core/types"
	"github.com/ledgerforge/consensuscore/internal/cryptoverify"
	"github.com/ledgerforge/consensuscore/internal/kv"
	"github.com/ledgerforge/consensuscore/internal/lockguard"
)

// ShardCount is the fixed number of shards accounts are distributed
// across. Changing it requires a schema migration (spec §4.11), so it is
// not part of ConsensusConstants.
const ShardCount = 16

const columnFamilyAccounts = "accounts"

// Store is the State Store. A single Store instance is shared by the
// block pipeline (exclusive writer during commit) and read-only
// consumers such as fork-choice scoring and light RPC (spec §5: "state
// store is guarded by a single reader-writer lock").
type Store struct {
	guard lockguard.RWMutex

	kv kv.Engine

	// shards[i] holds every account whose address hashes into shard i,
	// keyed by hex address for swiss.Map's comparable-key requirement.
	shards [ShardCount]*swiss.Map[string, *types.Account]

	// overlay stages writes for the block currently being committed; it is
	// merged into shards and flushed via the KV engine's atomic batch on
	// Commit, or discarded on Abort (spec §4.3 "Writes within one block
	// commit are staged in an in-memory overlay").
	overlay       [ShardCount]*swiss.Map[string, *types.Account]
	overlayActive bool
}

// New constructs an empty Store backed by engine. Call Load to populate it
// from persisted state on node startup.
func New(engine kv.Engine) *Store {
	s := &Store{kv: engine}
	for i := range s.shards {
		s.shards[i] = swiss.NewMap[string, *types.Account](64)
	}
	return s
}

func shardOf(addr types.Address) uint32 {
	return addr.ShardIndex(ShardCount, cryptoverify.Hash)
}

// Get returns a copy of the account at addr, or nil if it does not exist
// (spec §4.3 get). Reads prefer the active overlay so a component reading
// state mid-commit-simulation sees its own staged writes.
func (s *Store) Get(addr types.Address) (*types.Account, error) {
	var result *types.Account
	err := s.guard.GuardedRead(func() error {
		shard := shardOf(addr)
		key := addr.Hex()
		if s.overlayActive {
			if acc, ok := s.overlay[shard].Get(key); ok {
				result = acc.Clone()
				return nil
			}
		}
		if acc, ok := s.shards[shard].Get(key); ok {
			result = acc.Clone()
		}
		return nil
	})
	return result, err
}

// Put writes acc at its address (spec §4.3 put). During an active overlay
// (inside a block commit) the write is staged; otherwise it applies
// directly, which is only safe for out-of-band bootstrap such as genesis
// or Load.
func (s *Store) Put(acc *types.Account) error {
	return s.guard.Guarded(func() error {
		shard := shardOf(acc.Address)
		key := acc.Address.Hex()
		if s.overlayActive {
			s.overlay[shard].Put(key, acc.Clone())
			return nil
		}
		s.shards[shard].Put(key, acc.Clone())
		return nil
	})
}

// BeginOverlay opens a staging area for one block's writes (spec §4.3).
// Returns ErrAlreadyExists if an overlay is already open (the pipeline
// never nests commits).
func (s *Store) BeginOverlay() error {
	return s.guard.Guarded(func() error {
		if s.overlayActive {
			return chainerrors.ErrAlreadyExists
		}
		for i := range s.overlay {
			s.overlay[i] = swiss.NewMap[string, *types.Account](8)
		}
		s.overlayActive = true
		return nil
	})
}

// AbortOverlay discards all staged writes without touching committed
// state, used when block validation fails partway through simulation
// (spec §4.9 "any invalid block is dropped; the local tip does not move").
func (s *Store) AbortOverlay() error {
	return s.guard.Guarded(func() error {
		s.overlayActive = false
		for i := range s.overlay {
			s.overlay[i] = nil
		}
		return nil
	})
}

// CommitOverlay merges the staged writes into committed state and
// persists them through the KV engine's atomic batch, satisfying
// "commit atomically flushes overlay + WAL record" (spec §4.3). The WAL
// record itself is written by the block pipeline (component C9); this
// method only handles the state store's own column family.
func (s *Store) CommitOverlay() error {
	return s.guard.Guarded(func() error {
		if !s.overlayActive {
			return nil
		}
		batch := s.kv.Batch()
		for shardIdx, m := range s.overlay {
			m.Iter(func(key string, acc *types.Account) bool {
				s.shards[shardIdx].Put(key, acc)
				batch.Put(columnFamilyAccounts, accountKey(uint32(shardIdx), key), encodeAccount(acc))
				return true
			})
		}
		if err := s.kv.WriteBatch(batch); err != nil {
			return err
		}
		s.overlayActive = false
		for i := range s.overlay {
			s.overlay[i] = nil
		}
		return nil
	})
}

// Root computes the global state root: the hash of the ordered sequence
// of shard roots (spec §4.3 root()).
func (s *Store) Root() (types.Hash32, error) {
	var root types.Hash32
	err := s.guard.GuardedRead(func() error {
		e := newRootBuf()
		for i := 0; i < ShardCount; i++ {
			sr := s.shardRootLocked(uint32(i))
			e.write(sr[:])
		}
		root = cryptoverify.Hash(e.bytes())
		return nil
	})
	return root, err
}

// ShardRoot computes the merkle root of a single shard's accounts,
// exported for the shard-state RPC boundary (spec §3 "Shard State").
func (s *Store) ShardRoot(shard uint32) (types.Hash32, error) {
	var root types.Hash32
	err := s.guard.GuardedRead(func() error {
		root = s.shardRootLocked(shard)
		return nil
	})
	return root, err
}

// shardRootLocked computes shard's root as it would be if the active
// overlay (if any) were committed, so a caller mid-simulation (the block
// pipeline's step 6) can compare a prospective state root before
// deciding whether to commit or abort.
func (s *Store) shardRootLocked(shard uint32) types.Hash32 {
	type leaf struct {
		addr string
		hash types.Hash32
	}
	merged := make(map[string]*types.Account, s.shards[shard].Count())
	s.shards[shard].Iter(func(key string, acc *types.Account) bool {
		merged[key] = acc
		return true
	})
	if s.overlayActive {
		s.overlay[shard].Iter(func(key string, acc *types.Account) bool {
			merged[key] = acc
			return true
		})
	}
	leaves := make([]leaf, 0, len(merged))
	for key, acc := range merged {
		leaves = append(leaves, leaf{addr: key, hash: leafHash(acc)})
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].addr < leaves[j].addr })
	hashes := make([]types.Hash32, len(leaves))
	for i, l := range leaves {
		hashes[i] = l.hash
	}
	return merkleRoot(hashes)
}

// LeafHash encodes a shard trie leaf: (balance_consumer, balance_industrial,
// nonce), per spec §4.3. Exported so a light client can recompute the leaf
// it is verifying an InclusionProof against without reaching into the
// store's internals.
func LeafHash(acc *types.Account) types.Hash32 { return leafHash(acc) }

func leafHash(acc *types.Account) types.Hash32 {
	e := newRootBuf()
	e.writeU64(acc.BalanceConsumer)
	e.writeU64(acc.BalanceIndustrial)
	e.writeU64(acc.Nonce)
	return cryptoverify.Hash(e.bytes())
}

func merkleRoot(leaves []types.Hash32) types.Hash32 {
	if len(leaves) == 0 {
		return cryptoverify.Hash(nil)
	}
	layer := leaves
	for len(layer) > 1 {
		next := make([]types.Hash32, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 < len(layer) {
				next = append(next, cryptoverify.HashConcat(layer[i][:], layer[i+1][:]))
			} else {
				next = append(next, cryptoverify.HashConcat(layer[i][:], layer[i][:]))
			}
		}
		layer = next
	}
	return layer[0]
}

// InclusionProof is a merkle inclusion proof: sibling hashes paired with a
// left/right bit (spec §4.3 prove()).
type InclusionProof struct {
	Siblings []ProofStep
}

// ProofStep is one level of an InclusionProof.
type ProofStep struct {
	Sibling types.Hash32
	IsLeft  bool // true if Sibling is the left child at this level
}

// Prove produces a merkle inclusion proof for addr against the current
// shard root, along with the root it was proven against (spec §4.3
// prove()). Returns chainerrors.ErrNotFound if addr has no account.
func (s *Store) Prove(addr types.Address) (types.Hash32, InclusionProof, error) {
	var root types.Hash32
	var proof InclusionProof
	err := s.guard.GuardedRead(func() error {
		shard := shardOf(addr)
		type leaf struct {
			addr string
			hash types.Hash32
		}
		leaves := make([]leaf, 0, s.shards[shard].Count())
		s.shards[shard].Iter(func(key string, acc *types.Account) bool {
			leaves = append(leaves, leaf{addr: key, hash: leafHash(acc)})
			return true
		})
		sort.Slice(leaves, func(i, j int) bool { return leaves[i].addr < leaves[j].addr })
		idx := -1
		hashes := make([]types.Hash32, len(leaves))
		for i, l := range leaves {
			hashes[i] = l.hash
			if l.addr == addr.Hex() {
				idx = i
			}
		}
		if idx < 0 {
			return chainerrors.ErrNotFound
		}
		root, proof = buildProof(hashes, idx)
		return nil
	})
	return root, proof, err
}

func buildProof(leaves []types.Hash32, idx int) (types.Hash32, InclusionProof) {
	var steps []ProofStep
	layer := append([]types.Hash32(nil), leaves...)
	pos := idx
	for len(layer) > 1 {
		next := make([]types.Hash32, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			var right types.Hash32
			if i+1 < len(layer) {
				right = layer[i+1]
			} else {
				right = layer[i]
			}
			next = append(next, cryptoverify.HashConcat(layer[i][:], right[:]))
			if pos == i {
				steps = append(steps, ProofStep{Sibling: right, IsLeft: false})
			} else if pos == i+1 {
				steps = append(steps, ProofStep{Sibling: layer[i], IsLeft: true})
			}
		}
		pos /= 2
		layer = next
	}
	return layer[0], InclusionProof{Siblings: steps}
}

// VerifyProof checks that leafHash at the bottom of proof reduces to root,
// for light-client consumption (spec §4.3).
func VerifyProof(leaf types.Hash32, proof InclusionProof, root types.Hash32) bool {
	cur := leaf
	for _, step := range proof.Siblings {
		if step.IsLeft {
			cur = cryptoverify.HashConcat(step.Sibling[:], cur[:])
		} else {
			cur = cryptoverify.HashConcat(cur[:], step.Sibling[:])
		}
	}
	return cur == root
}

func accountKey(shard uint32, addrHex string) []byte {
	var prefix [4]byte
	prefix[0] = byte(shard >> 24)
	prefix[1] = byte(shard >> 16)
	prefix[2] = byte(shard >> 8)
	prefix[3] = byte(shard)
	return append(prefix[:], addrHex...)
}

// Load repopulates shards from the accounts column family, used on node
// startup after a clean or crash-recovered reopen (spec §4.11).
func (s *Store) Load() error {
	return s.guard.Guarded(func() error {
		for shardIdx := range s.shards {
			s.shards[shardIdx] = swiss.NewMap[string, *types.Account](64)
		}
		var prefix [4]byte
		return s.kv.Iterate(columnFamilyAccounts, prefix[:0], func(key, value []byte) bool {
			if len(key) < 4 {
				return true
			}
			shard := uint32(key[0])<<24 | uint32(key[1])<<16 | uint32(key[2])<<8 | uint32(key[3])
			if shard >= ShardCount {
				return true
			}
			acc, err := decodeAccount(value)
			if err != nil {
				return true
			}
			s.shards[shard].Put(acc.Address.Hex(), acc)
			return true
		})
	})
}
