package core

import (
	"errors"
	"fmt"

	"github.com/ledgerforge/consensuscore/internal/core/types"
	"github.com/ledgerforge/consensuscore/internal/cryptoverify"
)

// CurrentTxVersion is the transaction wire version this node produces.
const CurrentTxVersion uint16 = 1

var (
	ErrEmptyPayload   = errors.New("transaction payload missing sender or recipient")
	ErrFeeSplitRange  = errors.New("fee split percent must be 0-100")
	ErrNoSignatures   = errors.New("signed transaction carries no signatures")
	ErrIDMismatch     = errors.New("transaction id does not match recomputed hash")
	ErrCoinbaseSigned = errors.New("coinbase transaction must carry no signature")
)

// RawTxPayload is the unsigned transaction body (spec §3).
type RawTxPayload struct {
	Sender           types.Address
	Recipient        types.Address
	AmountConsumer   uint64
	AmountIndustrial uint64
	Fee              uint64
	FeeSplitPercent  uint8 // 0-100, share of Fee routed back to the consumer pool
	Nonce            uint64
	Memo             []byte
}

// Validate checks RawTxPayload's structural invariants (spec §3).
func (p *RawTxPayload) Validate() error {
	if len(p.Sender) == 0 || len(p.Recipient) == 0 {
		return ErrEmptyPayload
	}
	if p.FeeSplitPercent > 100 {
		return ErrFeeSplitRange
	}
	return nil
}

// SignedTransaction is a RawTxPayload plus signature(s), lane choice and
// version tag (spec §3). The coinbase transaction of a block is
// represented as a SignedTransaction with zero Signatures.
type SignedTransaction struct {
	Payload    RawTxPayload
	Scheme     cryptoverify.Scheme
	PublicKey  []byte
	Signatures [][]byte
	Lane       types.Lane
	Version    uint16

	// ID is cached once ComputeID/Sign has run. Zero until then.
	ID types.Hash32
}

// IsCoinbase reports whether tx is the block's zeroth, unsigned reward
// transaction (spec §3 "first transaction is the coinbase with no
// signature").
func (tx *SignedTransaction) IsCoinbase() bool { return len(tx.Signatures) == 0 }

// ByteLen estimates the transaction's serialized size for mempool fee/byte
// and block byte-budget accounting. It uses the same canonical encoding
// the wire format and hashing use, so the estimate is exact, not a guess.
func (tx *SignedTransaction) ByteLen() int {
	return len(EncodeForID(tx))
}

// ComputeID computes and caches the transaction identifier: the hash of
// the canonical encoding of the payload concatenated with the signatures
// (spec §3).
func (tx *SignedTransaction) ComputeID() types.Hash32 {
	tx.ID = cryptoverify.Hash(EncodeForID(tx))
	return tx.ID
}

// Sign fills Signatures with a single Ed25519 (or PQ) signature from the
// caller-supplied signer function, and sets PublicKey/Scheme/ID.
// signFn receives the exact canonical message (domain tag || canonical
// payload) that the verifier will later check against.
func (tx *SignedTransaction) Sign(chainID uint32, pub []byte, scheme cryptoverify.Scheme, signFn func(msg []byte) ([]byte, error)) error {
	if err := tx.Payload.Validate(); err != nil {
		return err
	}
	tag := cryptoverify.DomainTag(chainID)
	msg := cryptoverify.CanonicalMessage(tag, EncodeTxPayload(tx.Payload))
	sig, err := signFn(msg)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	tx.PublicKey = pub
	tx.Scheme = scheme
	tx.Signatures = [][]byte{sig}
	tx.Version = CurrentTxVersion
	tx.ComputeID()
	return nil
}

// Verify checks the transaction's signature via the given Verifier,
// consulting sessionAccount for a delegated-session-key signature if the
// primary check fails (spec §4.2). It does not mutate tx.
func (tx *SignedTransaction) Verify(v *cryptoverify.Verifier, sessionAccount *types.Account, blockTimestampMillis int64) bool {
	if tx.IsCoinbase() {
		return true
	}
	if len(tx.Signatures) == 0 {
		return false
	}
	encoded := EncodeTxPayload(tx.Payload)
	return v.VerifyPayload(tx.Scheme, tx.PublicKey, encoded, tx.Signatures[0], tx.Payload.Sender, sessionAccount, blockTimestampMillis)
}

// VerifyID recomputes the transaction id and compares it against the
// cached tx.ID, catching tampering in transit (spec §8 property 1's
// transaction-level analogue).
func (tx *SignedTransaction) VerifyID() error {
	want := tx.ID
	got := cryptoverify.Hash(EncodeForID(tx))
	if want != got {
		return ErrIDMismatch
	}
	return nil
}

// NewCoinbase builds the unsigned, zeroth transaction of a block: it pays
// the miner's lane coinbases and carries no signature (spec §3).
func NewCoinbase(miner types.Address, consumerAmount, industrialAmount uint64, nonce uint64) SignedTransaction {
	tx := SignedTransaction{
		Payload: RawTxPayload{
			Sender:           nil,
			Recipient:        miner,
			AmountConsumer:   consumerAmount,
			AmountIndustrial: industrialAmount,
			Nonce:            nonce,
		},
		Version: CurrentTxVersion,
	}
	tx.ComputeID()
	return tx
}
