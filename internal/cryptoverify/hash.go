// Package cryptoverify is the narrow boundary the core crosses to reach the
// Crypto collaborator of spec.md §6: hashing, Ed25519 verification, the
// domain-separation tag, and (optionally) a post-quantum scheme. The core
// never implements a hash or signature primitive itself — it only consumes
// this package's functions.
package cryptoverify

import (
	"crypto/sha256"

	"github.com/ledgerforge/consensuscore/internal/constants"
	"github.com/ledgerforge/consensuscore/internal/core/types"
)

// Hash returns the 32-byte SHA-256 digest of data. SHA-256 is the default
// collision-resistant hash spec §6 requires; every merkle root, block hash
// and transaction id in the core is computed through this single function
// so swapping the primitive later touches one place.
func Hash(data []byte) types.Hash32 {
	return sha256.Sum256(data)
}

// HashConcat hashes the concatenation of parts without an intermediate
// allocation per part, used by merkle layers and the block's transaction
// merkle root.
func HashConcat(parts ...[]byte) types.Hash32 {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash32
	copy(out[:], h.Sum(nil))
	return out
}

// DomainTag returns the 16-byte domain-separation tag for chainID, per
// spec §6: the ASCII bytes "THE_BLOCKv2|" followed by a 32-bit
// little-endian chain identifier.
func DomainTag(chainID uint32) [constants.DomainTagSize]byte {
	var tag [constants.DomainTagSize]byte
	copy(tag[:], constants.DomainTagPrefix)
	off := len(constants.DomainTagPrefix)
	tag[off+0] = byte(chainID)
	tag[off+1] = byte(chainID >> 8)
	tag[off+2] = byte(chainID >> 16)
	tag[off+3] = byte(chainID >> 24)
	return tag
}
