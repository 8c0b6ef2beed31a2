package kv

import (
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelEngine is the production Engine, backed by goleveldb. Column
// families are multiplexed onto the single leveldb namespace by
// prefixing every key with "<family>\x00".
type LevelEngine struct {
	db *leveldb.DB
}

// OpenLevel opens (creating if absent) a goleveldb database rooted at dir.
func OpenLevel(dir string) (*LevelEngine, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &LevelEngine{db: db}, nil
}

func namespaced(family string, key []byte) []byte {
	out := make([]byte, 0, len(family)+1+len(key))
	out = append(out, family...)
	out = append(out, 0)
	out = append(out, key...)
	return out
}

func (e *LevelEngine) Get(family string, key []byte) ([]byte, error) {
	v, err := e.db.Get(namespaced(family, key), nil)
	if err == ldberrors.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (e *LevelEngine) Put(family string, key, value []byte) error {
	return e.db.Put(namespaced(family, key), value, nil)
}

func (e *LevelEngine) Delete(family string, key []byte) error {
	return e.db.Delete(namespaced(family, key), nil)
}

func (e *LevelEngine) Iterate(family string, prefix []byte, fn func(key, value []byte) bool) error {
	full := namespaced(family, prefix)
	iter := e.db.NewIterator(util.BytesPrefix(full), nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()[len(family)+1:]
		if !fn(append([]byte(nil), key...), append([]byte(nil), iter.Value()...)) {
			break
		}
	}
	return iter.Error()
}

func (e *LevelEngine) Batch() Batch {
	return &levelBatch{b: new(leveldb.Batch)}
}

func (e *LevelEngine) WriteBatch(b Batch) error {
	lb, ok := b.(*levelBatch)
	if !ok {
		return errWrongBatch
	}
	return e.db.Write(lb.b, nil)
}

func (e *LevelEngine) Close() error { return e.db.Close() }

type levelBatch struct{ b *leveldb.Batch }

func (b *levelBatch) Put(family string, key, value []byte) {
	b.b.Put(namespaced(family, key), value)
}

func (b *levelBatch) Delete(family string, key []byte) {
	b.b.Delete(namespaced(family, key))
}

type wrongBatchErr struct{}

func (wrongBatchErr) Error() string { return "kv: batch was not created by this engine" }

var errWrongBatch error = wrongBatchErr{}
