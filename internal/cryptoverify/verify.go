package cryptoverify

import (
	"crypto/ed25519"
	"crypto/subtle"

	"github.com/ledgerforge/consensuscore/internal/core/types"
)

// Scheme identifies which signature algorithm a SignedTransaction carries.
// The core validates exactly one scheme per transaction (spec §3).
type Scheme uint8

const (
	SchemeEd25519 Scheme = iota
	SchemePostQuantum
)

// PQVerifier is the optional post-quantum signature scheme collaborator
// (spec §6: "optional post-quantum signature scheme with larger keys and
// signatures"). nil means the node has none configured, in which case any
// SchemePostQuantum transaction is rejected.
type PQVerifier interface {
	Verify(pub, msg, sig []byte) bool
}

// identity and its negation are the two ed25519 encodings that an
// unmodified point-decode accepts trivially (orders 1 and 2 of the
// 8-element torsion subgroup). Rejecting them closes the cheapest
// signature-malleability trick; full rejection of all eight small-order
// points requires curve arithmetic crypto/ed25519 does not expose, so the
// remaining six are not currently checked here.
var (
	identityPoint  = [32]byte{1}
	negIdentityLow = [32]byte{0xec, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}
)

func isLowOrderPoint(pub []byte) bool {
	if len(pub) != 32 {
		return false
	}
	var p [32]byte
	copy(p[:], pub)
	return subtle.ConstantTimeCompare(p[:], identityPoint[:]) == 1 ||
		subtle.ConstantTimeCompare(p[:], negIdentityLow[:]) == 1
}

// VerifyEd25519 checks sig over msg under pub, rejecting the low-order
// public key encodings noted above. crypto/ed25519.Verify already rejects
// a non-canonical S scalar (Go's implementation checks S < L), satisfying
// the remainder of spec §4.2's canonicality requirement.
func VerifyEd25519(pub, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	if isLowOrderPoint(pub) {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// CanonicalMessage builds the exact byte sequence a signature must cover
// (spec §4.2): the 16-byte domain tag followed by the canonical encoding
// of the payload. encodedPayload is produced by internal/core's canonical
// encoder, kept separate here to avoid an import cycle between core and
// cryptoverify.
func CanonicalMessage(domainTag [16]byte, encodedPayload []byte) []byte {
	msg := make([]byte, 0, len(domainTag)+len(encodedPayload))
	msg = append(msg, domainTag[:]...)
	msg = append(msg, encodedPayload...)
	return msg
}

// Verifier is the full signature-verification boundary a SignedTransaction
// is checked against: plain Ed25519, an optional PQ scheme, or acceptance
// via an account's still-valid delegated session key (spec §4.2).
type Verifier struct {
	ChainID uint32
	PQ      PQVerifier
}

// NewVerifier constructs a Verifier for the given chain id.
func NewVerifier(chainID uint32) *Verifier {
	return &Verifier{ChainID: chainID}
}

// VerifyResult reports which key validated a transaction, so the caller
// can tell a primary-key signature from a session-key signature.
type VerifyResult struct {
	OK              bool
	UsedSessionKey  bool
	MatchedKeyIndex int
}

// VerifyPayload checks a single (scheme, pub, sig) triple over the
// canonically encoded payload. The primary-key path only applies when pub
// matches sender exactly: an address is the account's primary public key
// (spec §3 "opaque variable-length identifier"), so a signature under any
// other key can never authorize spending from it. sessionAccount, if
// non-nil, is consulted independently of that check: a transaction signed
// by an installed, unexpired session key also passes (spec §4.2), since
// the session key's binding to the account was already established when
// it was installed, not by matching pub against sender.
func (v *Verifier) VerifyPayload(scheme Scheme, pub, encodedPayload, sig []byte, sender types.Address, sessionAccount *types.Account, blockTimestampMillis int64) bool {
	tag := DomainTag(v.ChainID)
	msg := CanonicalMessage(tag, encodedPayload)

	if subtle.ConstantTimeCompare(pub, sender) == 1 {
		switch scheme {
		case SchemeEd25519:
			if VerifyEd25519(pub, msg, sig) {
				return true
			}
		case SchemePostQuantum:
			if v.PQ != nil && v.PQ.Verify(pub, msg, sig) {
				return true
			}
		}
	}
	if sessionAccount != nil {
		if sk := sessionAccount.ActiveSessionKey(pub, blockTimestampMillis); sk != nil {
			switch scheme {
			case SchemeEd25519:
				return VerifyEd25519(sk.PublicKey, msg, sig)
			case SchemePostQuantum:
				return v.PQ != nil && v.PQ.Verify(sk.PublicKey, msg, sig)
			}
		}
	}
	return false
}
