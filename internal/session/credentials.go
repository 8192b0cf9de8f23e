// file: internal/session/credentials.go
// version: 1.1.0
// guid: 8b9c0d1e-2f3a-4b4c-9d5e-6f7a8b9c0d1e

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jdfalk/erpcache/internal/storage"
	"golang.org/x/oauth2"
)

// TokenKey is the storage key holding the serialized credential.
const TokenKey = "auth:token"

// ErrNoCredential is returned when nothing is stored. It wraps
// ErrUnauthorized; a stored but unusable credential does not match it.
var ErrNoCredential = fmt.Errorf("%w: no credential stored", ErrUnauthorized)

// Credentials is the authentication-state source. Token returns an error
// wrapping ErrUnauthorized when no credential is present.
type Credentials interface {
	oauth2.TokenSource
	Save(tok *oauth2.Token) error
	Clear() error
	// Keys lists storage keys that belong to the credential and must
	// survive a cache flush.
	Keys() []string
}

// StorageCredentials keeps the token next to cached data in the shared
// storage backend.
type StorageCredentials struct {
	store storage.Storage
}

// NewStorageCredentials returns credentials persisted in store.
func NewStorageCredentials(store storage.Storage) *StorageCredentials {
	return &StorageCredentials{store: store}
}

func (s *StorageCredentials) Token() (*oauth2.Token, error) {
	raw, ok, err := s.store.GetItem(TokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	if !ok {
		return nil, ErrNoCredential
	}
	return decodeToken(raw)
}

func (s *StorageCredentials) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return s.store.SetItem(TokenKey, data)
}

func (s *StorageCredentials) Clear() error {
	return s.store.RemoveItem(TokenKey)
}

func (s *StorageCredentials) Keys() []string {
	return []string{TokenKey}
}

// FileCredentials keeps the token in a JSON file so several processes on
// one machine share a session. Pair it with a Watcher to pick up changes
// made by the others.
type FileCredentials struct {
	path string
	mu   sync.Mutex
}

// NewFileCredentials returns credentials stored at path.
func NewFileCredentials(path string) *FileCredentials {
	return &FileCredentials{path: path}
}

// Path returns the credential file location.
func (f *FileCredentials) Path() string { return f.path }

func (f *FileCredentials) Token() (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	return decodeToken(raw)
}

// Save writes the token through a temporary file and a rename so readers
// never observe a partial file.
func (f *FileCredentials) Save(tok *oauth2.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".token-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}

func (f *FileCredentials) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Keys is empty: the file lives outside the cache storage.
func (f *FileCredentials) Keys() []string { return nil }

func decodeToken(raw []byte) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("%w: malformed credential: %v", ErrUnauthorized, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrUnauthorized)
	}
	return &tok, nil
}
