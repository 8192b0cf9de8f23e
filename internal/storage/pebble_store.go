// file: internal/storage/pebble_store.go
// version: 1.0.0
// guid: 8a2b4c6d-1e3f-4a5b-8c7d-9e0f1a2b3c4d

package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble/v2"
)

// PebbleStore implements Storage on PebbleDB.
//
// Key Schema:
// - item:<key> -> raw value bytes
type PebbleStore struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

const prefixItem = "item:"

// NewPebbleStore opens or creates a PebbleDB at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{
		FormatMajorVersion: pebble.FormatNewest,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open PebbleDB: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the database.
func (p *PebbleStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

func (p *PebbleStore) GetItem(key string) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, false, ErrClosed
	}

	value, closer, err := p.db.Get([]byte(prefixItem + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	// value is only valid until closer.Close
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (p *PebbleStore) SetItem(key string, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.db.Set([]byte(prefixItem+key), value, pebble.Sync)
}

func (p *PebbleStore) RemoveItem(key string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.db.Delete([]byte(prefixItem+key), pebble.Sync)
}

func (p *PebbleStore) Keys() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixItem),
		UpperBound: []byte("item;"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()[len(prefixItem):]))
	}
	return keys, iter.Error()
}
