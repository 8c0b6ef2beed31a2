// Package types defines the data model shared by every consensus-core
// component: addresses, accounts, the two-lane balance/fee model, and the
// small value types the canonical encoder, state store and mempool all
// close over. Spec.md §3.
package types

import (
	"encoding/hex"
	"sort"
)

// Hash32 is a 32-byte collision-resistant digest, produced by the crypto
// collaborator behind internal/cryptoverify (spec §6 Crypto).
type Hash32 [32]byte

// String renders the hash as lowercase hex, for logs.
func (h Hash32) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero hash (used as a genesis parent
// sentinel, and to detect an unset field during validation).
func (h Hash32) IsZero() bool { return h == Hash32{} }

// Less orders two hashes lexicographically by byte value, used by the
// state store's shard tries and by fork choice's hash tie-break.
func (h Hash32) Less(o Hash32) bool {
	for i := range h {
		if h[i] != o[i] {
			return h[i] < o[i]
		}
	}
	return false
}

// Address is an opaque, variable-length account identifier (spec §3).
type Address []byte

// Hex renders the address as lowercase hex.
func (a Address) Hex() string { return hex.EncodeToString(a) }

// Equal reports byte-for-byte equality.
func (a Address) Equal(o Address) bool {
	if len(a) != len(o) {
		return false
	}
	for i := range a {
		if a[i] != o[i] {
			return false
		}
	}
	return true
}

// ShardIndex derives the shard a state store assigns this address to, from
// the low bits of the hash of the address bytes (spec §3 "Address").
// shardCount must be a power of two; callers hold it fixed for the life of
// the chain (a migration would be required to change it).
func (a Address) ShardIndex(shardCount uint32, hasher func([]byte) Hash32) uint32 {
	if shardCount == 0 {
		return 0
	}
	h := hasher(a)
	var low uint32
	for i := 0; i < 4; i++ {
		low = (low << 8) | uint32(h[len(h)-1-i])
	}
	return low & (shardCount - 1)
}

// Lane identifies one of the two independent fee/balance lanes (spec §3,
// glossary "Lane").
type Lane uint8

const (
	LaneConsumer Lane = iota
	LaneIndustrial
)

func (l Lane) String() string {
	if l == LaneIndustrial {
		return "industrial"
	}
	return "consumer"
}

// SessionKey is a delegated signer installed on an account with a fixed
// expiry, per spec §3 "Account ... ordered set of delegated session keys
// with expiry timestamps".
type SessionKey struct {
	PublicKey    []byte
	ExpiryMillis int64
}

// Expired reports whether the session key has expired as of the given
// block timestamp (spec §4.2: "has not expired at the block's timestamp").
func (s SessionKey) Expired(blockTimestampMillis int64) bool {
	return blockTimestampMillis >= s.ExpiryMillis
}

// Account is the record a state store shard keys by Address (spec §3).
//
// Invariants enforced by callers (state store, mempool), not by this
// struct itself: confirmed Nonce is strictly monotonic per account;
// PendingNonces contains no duplicates and every entry exceeds Nonce;
// PendingBalanceConsumer/Industrial <= the matching confirmed balance.
type Account struct {
	Address Address

	BalanceConsumer   uint64
	BalanceIndustrial uint64
	Nonce             uint64

	PendingBalanceConsumer   uint64
	PendingBalanceIndustrial uint64
	PendingNonces            []uint64 // sorted ascending, each > Nonce

	SessionKeys []SessionKey
}

// Balance returns the confirmed balance for the given lane.
func (a *Account) Balance(lane Lane) uint64 {
	if lane == LaneIndustrial {
		return a.BalanceIndustrial
	}
	return a.BalanceConsumer
}

// PendingBalance returns the reserved-but-unconfirmed balance for the
// given lane.
func (a *Account) PendingBalance(lane Lane) uint64 {
	if lane == LaneIndustrial {
		return a.PendingBalanceIndustrial
	}
	return a.PendingBalanceConsumer
}

// AddPendingNonce inserts n into PendingNonces keeping it sorted, and
// reports whether n was already present (admission must reject a
// duplicate pending nonce per spec §3's invariant).
func (a *Account) AddPendingNonce(n uint64) (duplicate bool) {
	idx := sort.Search(len(a.PendingNonces), func(i int) bool { return a.PendingNonces[i] >= n })
	if idx < len(a.PendingNonces) && a.PendingNonces[idx] == n {
		return true
	}
	a.PendingNonces = append(a.PendingNonces, 0)
	copy(a.PendingNonces[idx+1:], a.PendingNonces[idx:])
	a.PendingNonces[idx] = n
	return false
}

// RemovePendingNonce deletes n from PendingNonces if present.
func (a *Account) RemovePendingNonce(n uint64) {
	idx := sort.Search(len(a.PendingNonces), func(i int) bool { return a.PendingNonces[i] >= n })
	if idx < len(a.PendingNonces) && a.PendingNonces[idx] == n {
		a.PendingNonces = append(a.PendingNonces[:idx], a.PendingNonces[idx+1:]...)
	}
}

// LowestPendingNonce returns the smallest reserved nonce and true, or
// (0, false) if there are none. Mempool eviction must never evict the
// entry at this nonce (spec §4.4, "lowest-nonce entry per account is
// protected").
func (a *Account) LowestPendingNonce() (uint64, bool) {
	if len(a.PendingNonces) == 0 {
		return 0, false
	}
	return a.PendingNonces[0], true
}

// ActiveSessionKey returns the session key matching pub that has not
// expired at blockTimestampMillis, or nil if none match.
func (a *Account) ActiveSessionKey(pub []byte, blockTimestampMillis int64) *SessionKey {
	for i := range a.SessionKeys {
		sk := &a.SessionKeys[i]
		if string(sk.PublicKey) == string(pub) && !sk.Expired(blockTimestampMillis) {
			return sk
		}
	}
	return nil
}

// Clone returns a deep copy, used by the state store's overlay to stage
// per-block writes without mutating committed state (spec §4.3).
func (a *Account) Clone() *Account {
	cp := *a
	cp.Address = append(Address(nil), a.Address...)
	cp.PendingNonces = append([]uint64(nil), a.PendingNonces...)
	cp.SessionKeys = append([]SessionKey(nil), a.SessionKeys...)
	return &cp
}
