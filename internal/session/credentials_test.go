// file: internal/session/credentials_test.go
// version: 1.0.0
// guid: 1e2f3a4b-5c6d-4e7f-8a8b-9c0d1e2f3a4b

package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jdfalk/erpcache/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialImplementations(t *testing.T) {
	impls := map[string]func(t *testing.T) Credentials{
		"storage": func(t *testing.T) Credentials {
			return NewStorageCredentials(storage.NewMemoryStore(0))
		},
		"file": func(t *testing.T) Credentials {
			return NewFileCredentials(filepath.Join(t.TempDir(), "nested", "token.json"))
		},
	}

	for name, mk := range impls {
		t.Run(name, func(t *testing.T) {
			creds := mk(t)

			_, err := creds.Token()
			assert.ErrorIs(t, err, ErrUnauthorized)

			require.NoError(t, creds.Save(validToken()))
			tok, err := creds.Token()
			require.NoError(t, err)
			assert.Equal(t, "abc", tok.AccessToken)
			assert.True(t, tok.Valid())

			require.NoError(t, creds.Clear())
			require.NoError(t, creds.Clear(), "clearing twice is fine")
			_, err = creds.Token()
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestStorageCredentialKeys(t *testing.T) {
	assert.Equal(t, []string{TokenKey}, NewStorageCredentials(storage.NewMemoryStore(0)).Keys())
	assert.Empty(t, NewFileCredentials("x").Keys())
}

func TestFileCredentialsPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	creds := NewFileCredentials(path)
	require.NoError(t, creds.Save(validToken()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, path, creds.Path())
}

func TestFileCredentialsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":""}`), 0o600))

	_, err := NewFileCredentials(path).Token()
	assert.ErrorIs(t, err, ErrUnauthorized)
}
