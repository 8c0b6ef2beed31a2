// Package wal implements the append-only write-ahead log the block
// pipeline's commit step writes to before applying a block to the state
// store (spec §4.9 step 7, §4.11, §6 "WAL is append-only"). Every record
// is length- and checksum-framed so a reopen after a power loss can
// replay every complete record and discard a torn trailing write,
// matching the original's own fuzzed recovery contract ("wal_fuzz":
// truncate the log at an arbitrary offset, reopen, and lose only the
// torn tail).
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/ledgerforge/consensuscore/internal/chainerrors"
)

// Log is a single-writer append stream (spec §5 "the WAL is a
// single-writer append stream; commit acquires a short exclusive lock
// on both the WAL and the state store").
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if absent) the WAL file at path for appending,
// leaving any existing content in place for Replay to consume first.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log{file: f}, nil
}

// Append writes one framed record — [4-byte big-endian length][4-byte
// CRC-32 of payload][payload] — and fsyncs before returning, so a
// successful Append is durable before the caller applies the
// corresponding state mutation (spec §4.9 "flush fsync").
func (l *Log) Append(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := l.file.Write(header[:]); err != nil {
		return fmt.Errorf("%w: write header: %v", chainerrors.ErrWalCorrupt, err)
	}
	if _, err := l.file.Write(payload); err != nil {
		return fmt.Errorf("%w: write payload: %v", chainerrors.ErrWalCorrupt, err)
	}
	return l.file.Sync()
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Truncate resets the log to zero length, used once every record has
// been applied and a fresh snapshot makes the old records redundant
// (spec §4.11 "after snapshotting, truncate the WAL up to the
// snapshotted height").
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	_, err := l.file.Seek(0, io.SeekStart)
	return err
}

// Replay reads path from the beginning and calls fn with each complete
// record's payload, in order. A record whose header or payload is cut
// short by a torn trailing write (the power-loss case) stops the replay
// without error — everything before it is still applied, matching spec
// §4.9's "partial records are truncated". Replay opens path read-only on
// its own and needs no Log. No startup path in this module calls it, so a
// reopened node does not replay the WAL.
func Replay(path string, fn func(payload []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var header [8]byte
	for {
		if _, err := io.ReadFull(f, header[:]); err != nil {
			return nil // clean EOF or a torn header: stop, keep everything read so far
		}
		length := binary.BigEndian.Uint32(header[0:4])
		wantCRC := binary.BigEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			return nil // torn payload: this record never completed, stop here
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			return nil // checksum mismatch: treat as a torn/corrupt tail, stop here
		}
		if err := fn(payload); err != nil {
			return err
		}
	}
}
