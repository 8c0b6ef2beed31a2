package state

import (
	"encoding/binary"

	"github.com/ledgerforge/consensuscore/internal/core/types"
)

// rootBuf is the state store's own tiny fixed-width byte builder, mirroring
// internal/core's canonical encoder so shard-root and leaf hashing follow
// the same injective, length-prefixed convention used for block and
// transaction hashing (spec §4.1, §4.3).
type rootBuf struct {
	buf []byte
}

func newRootBuf() *rootBuf { return &rootBuf{buf: make([]byte, 0, 64)} }

func (e *rootBuf) write(b []byte) { e.buf = append(e.buf, b...) }

func (e *rootBuf) writeU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *rootBuf) writeBytesField(b []byte) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(b)))
	e.buf = append(e.buf, tmp[:]...)
	e.buf = append(e.buf, b...)
}

func (e *rootBuf) bytes() []byte { return e.buf }

// encodeAccount canonically encodes an Account for persistence in the
// accounts column family (spec §4.3). Session keys and pending state are
// persisted too so a reopen after crash recovers exactly the mempool's
// view, not just confirmed balances.
func encodeAccount(acc *types.Account) []byte {
	e := newRootBuf()
	e.writeBytesField(acc.Address)
	e.writeU64(acc.BalanceConsumer)
	e.writeU64(acc.BalanceIndustrial)
	e.writeU64(acc.Nonce)
	e.writeU64(acc.PendingBalanceConsumer)
	e.writeU64(acc.PendingBalanceIndustrial)

	e.writeU64(uint64(len(acc.PendingNonces)))
	for _, n := range acc.PendingNonces {
		e.writeU64(n)
	}

	e.writeU64(uint64(len(acc.SessionKeys)))
	for _, sk := range acc.SessionKeys {
		e.writeBytesField(sk.PublicKey)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(sk.ExpiryMillis))
		e.buf = append(e.buf, tmp[:]...)
	}
	return e.bytes()
}

// decodeAccount reverses encodeAccount. Used by Load on node startup.
func decodeAccount(b []byte) (*types.Account, error) {
	r := &reader{buf: b}
	addr, err := r.bytesField()
	if err != nil {
		return nil, err
	}
	acc := &types.Account{Address: types.Address(addr)}
	if acc.BalanceConsumer, err = r.u64(); err != nil {
		return nil, err
	}
	if acc.BalanceIndustrial, err = r.u64(); err != nil {
		return nil, err
	}
	if acc.Nonce, err = r.u64(); err != nil {
		return nil, err
	}
	if acc.PendingBalanceConsumer, err = r.u64(); err != nil {
		return nil, err
	}
	if acc.PendingBalanceIndustrial, err = r.u64(); err != nil {
		return nil, err
	}
	nPending, err := r.u64()
	if err != nil {
		return nil, err
	}
	acc.PendingNonces = make([]uint64, 0, nPending)
	for i := uint64(0); i < nPending; i++ {
		n, err := r.u64()
		if err != nil {
			return nil, err
		}
		acc.PendingNonces = append(acc.PendingNonces, n)
	}
	nSessions, err := r.u64()
	if err != nil {
		return nil, err
	}
	acc.SessionKeys = make([]types.SessionKey, 0, nSessions)
	for i := uint64(0); i < nSessions; i++ {
		pub, err := r.bytesField()
		if err != nil {
			return nil, err
		}
		expiry, err := r.i64()
		if err != nil {
			return nil, err
		}
		acc.SessionKeys = append(acc.SessionKeys, types.SessionKey{PublicKey: pub, ExpiryMillis: expiry})
	}
	return acc, nil
}

// reader walks a byte slice produced by encodeAccount.
type reader struct {
	buf []byte
	pos int
}

var errShortBuffer = shortBufferErr{}

type shortBufferErr struct{}

func (shortBufferErr) Error() string { return "state: truncated account record" }

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errShortBuffer
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) bytesField() ([]byte, error) {
	if r.pos+4 > len(r.buf) {
		return nil, errShortBuffer
	}
	n := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	if r.pos+int(n) > len(r.buf) {
		return nil, errShortBuffer
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return out, nil
}
