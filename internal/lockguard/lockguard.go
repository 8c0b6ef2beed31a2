// Package lockguard implements spec.md §5's lock-poisoning policy: if a
// goroutine panics while holding one of the core's locks, subsequent
// acquisitions must surface chainerrors.ErrLockPoisoned to the caller
// rather than deadlocking or silently continuing over corrupted state.
package lockguard

import (
	"sync"
	"sync/atomic"

	"github.com/ledgerforge/consensuscore/internal/chainerrors"
)

// RWMutex wraps sync.RWMutex with poison tracking. Run the critical
// section through Guarded or GuardedRead (or call Poison from a deferred
// recover()) so a panic between acquisition and release poisons the guard
// instead of leaving it silently locked.
type RWMutex struct {
	mu      sync.RWMutex
	poison  atomic.Bool
}

// Lock acquires the exclusive lock, or returns ErrLockPoisoned if a prior
// holder panicked.
func (g *RWMutex) Lock() error {
	if g.poison.Load() {
		return chainerrors.ErrLockPoisoned
	}
	g.mu.Lock()
	if g.poison.Load() {
		g.mu.Unlock()
		return chainerrors.ErrLockPoisoned
	}
	return nil
}

// Unlock releases the exclusive lock.
func (g *RWMutex) Unlock() { g.mu.Unlock() }

// RLock acquires a shared lock, or returns ErrLockPoisoned.
func (g *RWMutex) RLock() error {
	if g.poison.Load() {
		return chainerrors.ErrLockPoisoned
	}
	g.mu.RLock()
	if g.poison.Load() {
		g.mu.RUnlock()
		return chainerrors.ErrLockPoisoned
	}
	return nil
}

// RUnlock releases a shared lock.
func (g *RWMutex) RUnlock() { g.mu.RUnlock() }

// Poison marks the guard permanently poisoned. Call from a recover() in a
// deferred function wrapping the critical section.
func (g *RWMutex) Poison() { g.poison.Store(true) }

// Poisoned reports whether the guard has been poisoned.
func (g *RWMutex) Poisoned() bool { return g.poison.Load() }

// Guarded runs fn while holding the exclusive lock, converting any panic
// inside fn into a poisoned guard and a non-nil error instead of letting
// the panic escape.
func (g *RWMutex) Guarded(fn func() error) (err error) {
	if lockErr := g.Lock(); lockErr != nil {
		return lockErr
	}
	defer func() {
		if r := recover(); r != nil {
			g.Poison()
			err = chainerrors.ErrLockPoisoned
		}
		g.Unlock()
	}()
	return fn()
}

// GuardedRead runs fn while holding the shared lock, with the same panic
// containment as Guarded.
func (g *RWMutex) GuardedRead(fn func() error) (err error) {
	if lockErr := g.RLock(); lockErr != nil {
		return lockErr
	}
	defer func() {
		if r := recover(); r != nil {
			g.Poison()
			err = chainerrors.ErrLockPoisoned
		}
		g.RUnlock()
	}()
	return fn()
}
