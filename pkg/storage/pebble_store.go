package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is the durable KV backend. Writes are synced so a committed
// operation survives process restart, matching the host environment's
// durability contract for contract state.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Get(key []byte) ([]byte, bool) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false
		}
		panic(fmt.Errorf("pebble get: %w", err))
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true
}

func (s *PebbleStore) Set(key, value []byte) {
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		panic(fmt.Errorf("pebble set: %w", err))
	}
}

func (s *PebbleStore) Delete(key []byte) {
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		panic(fmt.Errorf("pebble delete: %w", err))
	}
}

func (s *PebbleStore) Scan(prefix []byte, fn func(key, value []byte) bool) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		panic(fmt.Errorf("pebble iter: %w", err))
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		k := make([]byte, len(iter.Key()))
		copy(k, iter.Key())
		v := make([]byte, len(iter.Value()))
		copy(v, iter.Value())
		if !fn(k, v) {
			return
		}
	}
}

// keyUpperBound returns the exclusive upper bound for a prefix scan:
// the prefix with its last byte incremented.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff; scan to end
}

var _ KV = (*PebbleStore)(nil)
