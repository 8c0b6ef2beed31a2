// Package chainerrors enumerates the closed set of error kinds spec.md §7
// defines for the consensus core. Every fallible operation in the core
// returns one of these (optionally wrapped with fmt.Errorf's %w) instead of
// panicking; errors.Is/errors.As and ClassifyKind() let callers branch on kind
// without string matching.
package chainerrors

import "errors"

// Kind identifies which row of spec.md §7's error table an error belongs
// to, for callers (telemetry counters, peer back-off) that need to branch
// without depending on the exact sentinel.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidBlock
	KindInvalidProposal
	KindFeeTooLow
	KindDuplicate
	KindBadSignature
	KindOverflow
	KindLockPoisoned
	KindSchemaMismatch
	KindWalCorrupt
	KindLaneMismatch
	KindAccountCapFull
	KindSessionExpired
)

// Sentinel errors, one family per Kind. Use fmt.Errorf("...: %w", ErrX) to
// add context while preserving errors.Is(err, ErrX).
var (
	ErrInvalidBlock    = errors.New("invalid block")
	ErrInvalidProposal = errors.New("invalid proposal")
	ErrFeeTooLow       = errors.New("fee too low")
	ErrDuplicate       = errors.New("duplicate transaction")
	ErrBadSignature    = errors.New("bad signature")
	ErrOverflow        = errors.New("arithmetic overflow")
	ErrLockPoisoned    = errors.New("lock poisoned")
	ErrSchemaMismatch  = errors.New("schema mismatch")
	ErrWalCorrupt      = errors.New("write-ahead log corrupt")
	ErrLaneMismatch    = errors.New("fee lane mismatch")
	ErrAccountCapFull  = errors.New("account pending capacity full")
	ErrSessionExpired  = errors.New("session key expired")

	// Structural / bookkeeping errors that don't carry their own Kind but
	// are still part of the closed vocabulary callers match against.
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrOutOfRange     = errors.New("value out of range")
	ErrCyclicGraph    = errors.New("dependency graph contains a cycle")
	ErrClosedProposal = errors.New("proposal is not open")
)

var kindOf = map[error]Kind{
	ErrInvalidBlock:    KindInvalidBlock,
	ErrInvalidProposal: KindInvalidProposal,
	ErrFeeTooLow:       KindFeeTooLow,
	ErrDuplicate:       KindDuplicate,
	ErrBadSignature:    KindBadSignature,
	ErrOverflow:        KindOverflow,
	ErrLockPoisoned:    KindLockPoisoned,
	ErrSchemaMismatch:  KindSchemaMismatch,
	ErrWalCorrupt:      KindWalCorrupt,
	ErrLaneMismatch:    KindLaneMismatch,
	ErrAccountCapFull:  KindAccountCapFull,
	ErrSessionExpired:  KindSessionExpired,
}

// ClassifyKind classifies err against the closed sentinel set using
// errors.Is, so wrapped errors still resolve correctly. Returns
// KindUnknown if err does not wrap any known sentinel.
func ClassifyKind(err error) Kind {
	for sentinel, kind := range kindOf {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Recoverable reports whether err is handled locally at the call site
// (mempool admission, signature check, proposal submission) per spec §7's
// policy, as opposed to being surfaced to the startup path (schema
// mismatch, WAL corruption).
func Recoverable(err error) bool {
	switch ClassifyKind(err) {
	case KindSchemaMismatch, KindWalCorrupt:
		return false
	default:
		return true
	}
}
