// Package clock is the narrow wall-clock boundary spec §6 names: used only
// for mempool TTL and block timestamping, never for causality ordering.
package clock

import "github.com/kpango/fastime"

// Clock returns the current wall-clock time in milliseconds since the
// Unix epoch.
type Clock interface {
	NowMillis() int64
}

// Real is a Clock backed by kpango/fastime's cached-read clock, avoiding a
// syscall on every call in the mempool's hot admission path and the block
// pipeline's per-block timestamping.
type Real struct{}

// NowMillis returns fastime's current cached time converted to Unix
// milliseconds.
func (Real) NowMillis() int64 {
	return fastime.Now().UnixMilli()
}

// Fake is a manually-advanced Clock for deterministic tests.
type Fake struct {
	millis int64
}

// NewFake constructs a Fake clock starting at startMillis.
func NewFake(startMillis int64) *Fake { return &Fake{millis: startMillis} }

// NowMillis returns the fake clock's current value.
func (f *Fake) NowMillis() int64 { return f.millis }

// Advance moves the fake clock forward by deltaMillis.
func (f *Fake) Advance(deltaMillis int64) { f.millis += deltaMillis }

// Set pins the fake clock to an exact value.
func (f *Fake) Set(millis int64) { f.millis = millis }
