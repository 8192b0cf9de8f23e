// file: internal/session/watcher_test.go
// version: 1.0.0
// guid: 2f3a4b5c-6d7e-4f8a-9b9c-0d1e2f3a4b5c
// last-edited: 2026-10-17

package session

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherSyncsOnExternalRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")
	creds := NewFileCredentials(path)
	require.NoError(t, creds.Save(validToken()))

	hook := NewHook(creds, nil)
	require.True(t, hook.Authenticated())

	var logouts atomic.Int32
	hook.Subscribe(func(tr Transition) {
		if !tr.Authenticated {
			logouts.Add(1)
		}
	})

	w := NewWatcher(hook, path, 50*time.Millisecond, nil)
	require.NoError(t, w.Start())
	defer w.Stop()

	// a second process logs out
	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool { return !hook.Authenticated() }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), logouts.Load())
}

func TestWatcherSyncsOnExternalLogin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")
	hook := NewHook(NewFileCredentials(path), nil)
	require.False(t, hook.Authenticated())

	w := NewWatcher(hook, path, 50*time.Millisecond, nil)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, NewFileCredentials(path).Save(validToken()))
	require.Eventually(t, hook.Authenticated, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")
	creds := NewFileCredentials(path)
	require.NoError(t, creds.Save(validToken()))
	hook := NewHook(creds, nil)

	var calls atomic.Int32
	hook.Subscribe(func(Transition) { calls.Add(1) })

	w := NewWatcher(hook, path, 20*time.Millisecond, nil)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.True(t, hook.Authenticated())
}

func TestWatcherStartMissingDirectory(t *testing.T) {
	hook := NewHook(NewFileCredentials("/nonexistent/dir/token.json"), nil)
	w := NewWatcher(hook, "/nonexistent/dir/token.json", 0, nil)
	assert.Error(t, w.Start())
	w.Stop()
}

func TestWatcherStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	hook := NewHook(NewFileCredentials(filepath.Join(dir, "t.json")), nil)
	w := NewWatcher(hook, filepath.Join(dir, "t.json"), 0, nil)
	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}
