// file: internal/storage/storage.go
// version: 1.0.0
// guid: 3f1a9c2e-7b4d-4e8a-9c0b-5d6e7f8a1b2c

package storage

import (
	"errors"
	"fmt"
)

// Storage is the durable key/value primitive the cache sits on. It mirrors
// the browser storage contract: string keys, opaque values and full key
// enumeration for bulk invalidation.
type Storage interface {
	// GetItem returns the value for key. ok is false when the key is absent.
	GetItem(key string) (value []byte, ok bool, err error)

	// SetItem writes value under key, replacing any previous value.
	SetItem(key string, value []byte) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(key string) error

	// Keys lists every key currently stored.
	Keys() ([]string, error)

	// Close releases the underlying resources.
	Close() error
}

var (
	// ErrQuotaExceeded is returned by SetItem when the backend is full.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrClosed is returned by any operation on a closed store.
	ErrClosed = errors.New("storage is closed")
)

// Options selects and configures a backend for Open.
type Options struct {
	Type         string // "pebble" (default), "sqlite" or "memory"
	Path         string
	EnableSQLite bool  // Must be true to use SQLite (safety flag)
	QuotaBytes   int64 // memory backend only; 0 means unlimited
}

// Open creates the backend described by opts.
func Open(opts Options) (Storage, error) {
	switch opts.Type {
	case "sqlite", "sqlite3":
		if !opts.EnableSQLite {
			return nil, fmt.Errorf("SQLite3 is not enabled. To use SQLite3, you must explicitly enable it with --enable-sqlite3-i-know-the-risks or set 'enable_sqlite3_i_know_the_risks: true' in your config file. PebbleDB is the recommended backend")
		}
		store, err := NewSQLiteStore(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		return store, nil
	case "pebble", "":
		if opts.Path == "" {
			return nil, fmt.Errorf("pebble storage requires a path")
		}
		store, err := NewPebbleStore(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PebbleDB store: %w", err)
		}
		return store, nil
	case "memory":
		return NewMemoryStore(opts.QuotaBytes), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (supported: pebble, sqlite, memory)", opts.Type)
	}
}
