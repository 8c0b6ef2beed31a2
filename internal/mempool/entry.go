package mempool

import (
	"github.com/ledgerforge/consensuscore/internal/core"
	"github.com/ledgerforge/consensuscore/internal/core/types"
)

// Entry is a single admitted mempool transaction (spec §3 "Mempool Entry"):
// the signed transaction, its admission timestamp, and its serialized byte
// length (recomputed once at admission rather than on every comparison).
type Entry struct {
	Tx               *core.SignedTransaction
	AdmittedAtMillis int64
	ByteLen          int
}

// key returns the ordering key selection and eviction both sort by:
// (-fee_per_byte, expiry_deadline, tx_id) — spec §3. Expressed here as a
// comparable struct rather than a packed value so float rounding never
// silently reorders two entries with equal fee/byte.
type key struct {
	negFeePerByte  float64
	expiryDeadline int64
	txID           types.Hash32
}

func (e *Entry) orderingKey(ttlMillis int64) key {
	feePerByte := float64(e.Tx.Payload.Fee) / float64(e.ByteLen)
	return key{
		negFeePerByte:  -feePerByte,
		expiryDeadline: e.AdmittedAtMillis + ttlMillis,
		txID:           e.Tx.ID,
	}
}

// less reports whether a sorts before b: higher fee/byte first, then
// earlier expiry, then lexicographic tx id as a final tiebreak.
func (a key) less(b key) bool {
	if a.negFeePerByte != b.negFeePerByte {
		return a.negFeePerByte < b.negFeePerByte
	}
	if a.expiryDeadline != b.expiryDeadline {
		return a.expiryDeadline < b.expiryDeadline
	}
	return a.txID.Less(b.txID)
}
