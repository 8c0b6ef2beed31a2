// Package core holds the block/transaction data model (spec §3) and the
// canonical encoder (spec §4.1, component C1): the single deterministic,
// fixed-width, little-endian binary encoding used for hashing, signing and
// network transmission of every value in the model. No textual or
// self-describing format is used anywhere in this package.
package core

import "encoding/binary"

// encBuf is an append-only byte builder for the canonical encoding. Every
// write is fixed-width or is preceded by an explicit 32-bit length, so two
// structurally distinct values can never collide on the same byte string
// (spec §4.1 "injective on the value domain").
type encBuf struct {
	buf []byte
}

func newEncBuf(sizeHint int) *encBuf {
	return &encBuf{buf: make([]byte, 0, sizeHint)}
}

func (e *encBuf) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encBuf) i8(v int8)    { e.buf = append(e.buf, byte(v)) }
func (e *encBuf) u16(v uint16) { e.buf = appendLE(e.buf, uint64(v), 2) }
func (e *encBuf) u32(v uint32) { e.buf = appendLE(e.buf, uint64(v), 4) }
func (e *encBuf) u64(v uint64) { e.buf = appendLE(e.buf, v, 8) }
func (e *encBuf) i64(v int64)  { e.buf = appendLE(e.buf, uint64(v), 8) }

func appendLE(dst []byte, v uint64, width int) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(dst, tmp[:width]...)
}

// bytesField writes a 32-bit little-endian length prefix followed by the
// raw bytes (spec §4.1: "variable-length fields are length-prefixed with a
// 32-bit unsigned count").
func (e *encBuf) bytesField(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// fixed writes exactly n bytes verbatim (n is known from the type, e.g. a
// 32-byte hash, so no length prefix is needed — the width itself carries
// the information).
func (e *encBuf) fixed(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *encBuf) bytes() []byte { return e.buf }

// EncodeTxPayload deterministically encodes a RawTxPayload for hashing and
// signing (spec §3 RawTxPayload, §4.1).
func EncodeTxPayload(p RawTxPayload) []byte {
	e := newEncBuf(64 + len(p.Sender) + len(p.Recipient) + len(p.Memo))
	e.bytesField(p.Sender)
	e.bytesField(p.Recipient)
	e.u64(p.AmountConsumer)
	e.u64(p.AmountIndustrial)
	e.u64(p.Fee)
	e.u8(p.FeeSplitPercent)
	e.u64(p.Nonce)
	e.bytesField(p.Memo)
	return e.bytes()
}

// EncodeForID encodes the bytes a SignedTransaction's identifier hashes:
// the canonical payload concatenated with the signature list (spec §3:
// "The transaction identifier is the hash of the canonical encoding of the
// payload concatenated with the signatures").
func EncodeForID(tx *SignedTransaction) []byte {
	e := newEncBuf(128)
	e.fixed(EncodeTxPayload(tx.Payload))
	e.u32(uint32(len(tx.Signatures)))
	for _, sig := range tx.Signatures {
		e.bytesField(sig)
	}
	return e.bytes()
}

// EncodeBlockForHash encodes every block field except the block's own Hash,
// in the field order spec §4.1 fixes: height, previous hash, timestamp,
// nonce, difficulty, retune hint, base fee, per-lane coinbases, per-service
// subsidies, L2 roots and sizes, VDF triple, state root, fee checksum, and
// the ordered sequence of transaction identifiers.
func EncodeBlockForHash(b *Block) []byte {
	e := newEncBuf(256 + 32*len(b.Transactions))
	e.i64(b.Height)
	e.fixed(b.PrevHash[:])
	e.i64(b.TimestampMillis)
	e.u64(b.Nonce)
	e.u64(b.Difficulty)
	e.i8(b.RetuneHint)
	e.u64(b.BaseFeeFloor)
	e.u64(b.CoinbaseConsumer)
	e.u64(b.CoinbaseIndustrial)

	e.u64(b.Subsidies.StorageConsumer)
	e.u64(b.Subsidies.ReadConsumer)
	e.u64(b.Subsidies.ComputeConsumer)
	e.u64(b.Subsidies.StorageIndustrial)
	e.u64(b.Subsidies.ReadIndustrial)
	e.u64(b.Subsidies.ComputeIndustrial)

	e.u32(uint32(len(b.L2Roots)))
	for i, root := range b.L2Roots {
		e.fixed(root[:])
		e.u64(b.L2Sizes[i])
	}

	e.bytesField(b.VDF.Commit)
	e.bytesField(b.VDF.Output)
	e.bytesField(b.VDF.Proof)

	e.fixed(b.StateRoot[:])
	e.fixed(b.FeeChecksum[:])

	e.u32(uint32(len(b.Transactions)))
	for i := range b.Transactions {
		id := b.Transactions[i].ID
		e.fixed(id[:])
	}
	return e.bytes()
}
