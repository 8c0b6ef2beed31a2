package consensus

import (
	"bytes"
	"encoding/gob"

	"github.com/ledgerforge/consensuscore/internal/core"
)

// encodeWALRecord gob-encodes b for the commit WAL record.
func encodeWALRecord(b *core.Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeWALRecord reverses encodeWALRecord. Nothing in this module calls
// it: no startup path replays the WAL.
func decodeWALRecord(payload []byte) (*core.Block, error) {
	var b core.Block
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
