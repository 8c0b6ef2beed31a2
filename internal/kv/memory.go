package kv

import (
	"bytes"
	"sort"
	"sync"
)

// MemEngine is an in-process Engine used by tests and by ephemeral
// (non-persistent) node configurations. It trades durability for zero
// setup cost; production nodes use LevelEngine.
type MemEngine struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

// NewMem constructs an empty MemEngine.
func NewMem() *MemEngine {
	return &MemEngine{data: make(map[string]map[string][]byte)}
}

func (e *MemEngine) familyMap(family string) map[string][]byte {
	m, ok := e.data[family]
	if !ok {
		m = make(map[string][]byte)
		e.data[family] = m
	}
	return m
}

func (e *MemEngine) Get(family string, key []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.familyMap(family)[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (e *MemEngine) Put(family string, key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.familyMap(family)[string(key)] = append([]byte(nil), value...)
	return nil
}

func (e *MemEngine) Delete(family string, key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.familyMap(family), string(key))
	return nil
}

func (e *MemEngine) Iterate(family string, prefix []byte, fn func(key, value []byte) bool) error {
	e.mu.Lock()
	fm := e.familyMap(family)
	keys := make([]string, 0, len(fm))
	for k := range fm {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	type kvPair struct{ k, v []byte }
	pairs := make([]kvPair, len(keys))
	for i, k := range keys {
		pairs[i] = kvPair{k: []byte(k), v: append([]byte(nil), fm[k]...)}
	}
	e.mu.Unlock()

	for _, p := range pairs {
		if !fn(p.k, p.v) {
			break
		}
	}
	return nil
}

func (e *MemEngine) Batch() Batch { return &memBatch{} }

func (e *MemEngine) WriteBatch(b Batch) error {
	mb, ok := b.(*memBatch)
	if !ok {
		return errWrongBatch
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, op := range mb.ops {
		if op.del {
			delete(e.familyMap(op.family), string(op.key))
			continue
		}
		e.familyMap(op.family)[string(op.key)] = op.value
	}
	return nil
}

func (e *MemEngine) Close() error { return nil }

type memOp struct {
	family string
	key    []byte
	value  []byte
	del    bool
}

type memBatch struct {
	ops []memOp
}

func (b *memBatch) Put(family string, key, value []byte) {
	b.ops = append(b.ops, memOp{family: family, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *memBatch) Delete(family string, key []byte) {
	b.ops = append(b.ops, memOp{family: family, key: append([]byte(nil), key...), del: true})
}
