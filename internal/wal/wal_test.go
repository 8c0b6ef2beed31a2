package wal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ledgerforge/consensuscore/internal/wal"
)

func TestAppendAndReplayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	log, err := wal.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	records := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, r := range records {
		if err := log.Append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	log.Close()

	var got [][]byte
	if err := wal.Replay(path, func(p []byte) error {
		got = append(got, append([]byte(nil), p...))
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(got))
	}
	for i := range records {
		if string(got[i]) != string(records[i]) {
			t.Fatalf("record %d mismatch: want %q got %q", i, records[i], got[i])
		}
	}
}

func TestReplayStopsAtTornTrailingRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	log, err := wal.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := log.Append([]byte("complete")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Append([]byte("also-complete")); err != nil {
		t.Fatalf("append: %v", err)
	}
	log.Close()

	// Simulate a power loss mid-write: truncate off the tail of the last
	// record's payload, leaving its header intact but the body short.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	var got [][]byte
	if err := wal.Replay(path, func(p []byte) error {
		got = append(got, append([]byte(nil), p...))
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != 1 || string(got[0]) != "complete" {
		t.Fatalf("expected only the first complete record to survive, got %v", got)
	}
}

func TestReplayMissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist")
	if err := wal.Replay(path, func([]byte) error { return nil }); err != nil {
		t.Fatalf("expected no error replaying a missing WAL, got %v", err)
	}
}

func TestTruncateResetsLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")
	log, err := wal.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	log.Append([]byte("x"))
	if err := log.Truncate(); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	log.Append([]byte("y"))
	log.Close()

	var got [][]byte
	wal.Replay(path, func(p []byte) error {
		got = append(got, append([]byte(nil), p...))
		return nil
	})
	if len(got) != 1 || string(got[0]) != "y" {
		t.Fatalf("expected only the post-truncate record, got %v", got)
	}
}
