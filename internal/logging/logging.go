// Package logging wires the node's subsystem loggers onto a single
// github.com/decred/slog backend, mirroring the teacher pack's
// logger.go (daglabs-btcd, itself descended from the decred logging
// convention): one backend, one Logger-per-subsystem, log rotation
// through github.com/jrick/logrotate, and a SetLevel(s) knob callers
// use to adjust verbosity without recompiling.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags, one per consensus-core component that logs (spec
// ambient stack: "subsystem tags CNSS, MMPL, STAT, GOVN, CHST, PIPE").
const (
	SubsystemConsensus  = "CNSS" // fork choice, finality, difficulty, VDF, PoW
	SubsystemMempool    = "MMPL"
	SubsystemState      = "STAT"
	SubsystemGovernance = "GOVN"
	SubsystemChainStore = "CHST"
	SubsystemPipeline   = "PIPE"
	SubsystemGossip     = "GSIP" // loopback gossip bus reference implementation
)

var allSubsystems = []string{
	SubsystemConsensus,
	SubsystemMempool,
	SubsystemState,
	SubsystemGovernance,
	SubsystemChainStore,
	SubsystemPipeline,
	SubsystemGossip,
}

// rotatingWriter fans log output out to stdout and a log-rotator pipe,
// the same split the teacher's logWriter performs.
type rotatingWriter struct {
	rotator *rotator.Rotator
}

func (w rotatingWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return w.rotator.Write(p)
}

// Backend is the node's single logging backend: every subsystem logger
// is created from it, and it owns the rotator's lifecycle.
type Backend struct {
	backend *slog.Backend
	rotator *rotator.Rotator
	loggers map[string]slog.Logger
}

// New opens a rotating log file at logPath (creating its directory if
// needed) and constructs a Backend with a logger for every subsystem
// tag, defaulting to slog.LevelInfo.
func New(logPath string) (*Backend, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("logging: create log directory: %w", err)
	}
	r, err := rotator.New(logPath, 10*1024*1024, false, 3)
	if err != nil {
		return nil, fmt.Errorf("logging: open log rotator: %w", err)
	}

	b := &Backend{
		rotator: r,
		backend: slog.NewBackend(rotatingWriter{rotator: r}),
		loggers: make(map[string]slog.Logger, len(allSubsystems)),
	}
	for _, tag := range allSubsystems {
		l := b.backend.Logger(tag)
		l.SetLevel(slog.LevelInfo)
		b.loggers[tag] = l
	}
	return b, nil
}

// NewDiscard builds a Backend that throws away everything it is given,
// for tests that want a real *slog.Logger without touching the
// filesystem.
func NewDiscard() *Backend {
	b := &Backend{backend: slog.NewBackend(io.Discard), loggers: make(map[string]slog.Logger, len(allSubsystems))}
	for _, tag := range allSubsystems {
		l := b.backend.Logger(tag)
		l.SetLevel(slog.LevelOff)
		b.loggers[tag] = l
	}
	return b
}

// Logger returns the subsystem logger for tag, or a disabled logger if
// tag is not one of the recognized subsystems.
func (b *Backend) Logger(tag string) slog.Logger {
	if l, ok := b.loggers[tag]; ok {
		return l
	}
	l := b.backend.Logger(tag)
	l.SetLevel(slog.LevelOff)
	return l
}

// SetLevel sets every subsystem's logger to level (one of slog's level
// names: trace, debug, info, warn, error, critical), ignoring invalid
// names per the teacher's own SetLogLevels.
func (b *Backend) SetLevel(levelName string) {
	level, ok := slog.LevelFromString(levelName)
	if !ok {
		return
	}
	for _, l := range b.loggers {
		l.SetLevel(level)
	}
}

// SetLevels parses a "subsys=level,subsys=level" or bare "level" string,
// the same syntax the teacher's ParseAndSetDebugLevels accepts.
func (b *Backend) SetLevels(spec string) error {
	if !strings.Contains(spec, ",") && !strings.Contains(spec, "=") {
		if _, ok := slog.LevelFromString(spec); !ok {
			return fmt.Errorf("logging: invalid level %q", spec)
		}
		b.SetLevel(spec)
		return nil
	}
	for _, pair := range strings.Split(spec, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("logging: invalid subsystem=level pair %q", pair)
		}
		tag, levelName := parts[0], parts[1]
		l, ok := b.loggers[tag]
		if !ok {
			return fmt.Errorf("logging: unknown subsystem %q (supported: %s)", tag, strings.Join(b.subsystems(), ", "))
		}
		level, ok := slog.LevelFromString(levelName)
		if !ok {
			return fmt.Errorf("logging: invalid level %q", levelName)
		}
		l.SetLevel(level)
	}
	return nil
}

func (b *Backend) subsystems() []string {
	tags := make([]string, 0, len(b.loggers))
	for tag := range b.loggers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Close closes the underlying log rotator, if one was opened (New, not
// NewDiscard).
func (b *Backend) Close() error {
	if b.rotator == nil {
		return nil
	}
	return b.rotator.Close()
}
