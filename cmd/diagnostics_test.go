// file: cmd/diagnostics_test.go
// version: 2.0.0
// guid: 6e2a9c4f-1b7d-4f3a-8e5c-9d0b2f4a6c8e
// last-edited: 2026-10-17

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDiagnostics(t *testing.T, a *app) {
	t.Helper()
	login(t, a)
	var out bytes.Buffer
	require.NoError(t, runGet(context.Background(), a, &out, "schools", nil, false))
	require.NoError(t, a.store.SetItem("erp:bad", []byte("garbage")))
	stored := fmt.Sprintf(`{"value":[],"storedAt":%d}`, time.Now().UnixMilli())
	require.NoError(t, a.store.SetItem("erp:payroll", []byte(stored)))
	require.NoError(t, a.store.SetItem("other:junk", []byte("garbage")))
}

func TestCleanupInvalidDryRun(t *testing.T) {
	a, _ := newTestApp(t)
	seedDiagnostics(t, a)

	var out bytes.Buffer
	err := runCleanupInvalid(a, &out, strings.NewReader(""), cleanupOptions{dryRun: true, now: time.Now()})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Found 1 invalid records:")
	assert.Contains(t, out.String(), "erp:bad (malformed)")
	assert.Contains(t, out.String(), "Dry run enabled")

	_, ok, err := a.store.GetItem("erp:bad")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCleanupInvalidForce(t *testing.T) {
	a, _ := newTestApp(t)
	seedDiagnostics(t, a)

	var out bytes.Buffer
	err := runCleanupInvalid(a, &out, strings.NewReader(""), cleanupOptions{force: true, now: time.Now()})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Deleted 1 invalid records.")

	_, ok, _ := a.store.GetItem("erp:bad")
	assert.False(t, ok)
	_, ok, _ = a.store.GetItem("other:junk")
	assert.True(t, ok, "keys outside the namespace are left alone")
	_, ok, _ = a.store.GetItem("erp:schools")
	assert.True(t, ok)
}

func TestCleanupInvalidExpired(t *testing.T) {
	a, _ := newTestApp(t)
	seedDiagnostics(t, a)

	var out bytes.Buffer
	later := time.Now().Add(365 * 24 * time.Hour)
	err := runCleanupInvalid(a, &out, strings.NewReader("yes\n"), cleanupOptions{expired: true, now: later})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Found 3 invalid records:")
	assert.Contains(t, out.String(), "erp:payroll (unknown resource)")
	assert.Contains(t, out.String(), "erp:schools (expired")
	assert.Contains(t, out.String(), "Deleted 3 invalid records.")
	assert.Empty(t, a.guard.Entries())
}

func TestCleanupInvalidAborts(t *testing.T) {
	a, _ := newTestApp(t)
	seedDiagnostics(t, a)

	var out bytes.Buffer
	err := runCleanupInvalid(a, &out, strings.NewReader("no\n"), cleanupOptions{now: time.Now()})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Aborted. No records deleted.")
	_, ok, _ := a.store.GetItem("erp:bad")
	assert.True(t, ok)
}

func TestCleanupInvalidNothingToDo(t *testing.T) {
	a, _ := newTestApp(t)
	var out bytes.Buffer
	require.NoError(t, runCleanupInvalid(a, &out, strings.NewReader(""), cleanupOptions{now: time.Now()}))
	assert.Contains(t, out.String(), "No invalid cache records detected.")
}

func TestDiagnosticsQuery(t *testing.T) {
	a, _ := newTestApp(t)
	var out bytes.Buffer
	assert.Error(t, runDiagnosticsQuery(a, &out, 0, ""))

	require.NoError(t, runDiagnosticsQuery(a, &out, 5, ""))
	assert.Contains(t, out.String(), "No keys matched")

	seedDiagnostics(t, a)
	out.Reset()
	require.NoError(t, runDiagnosticsQuery(a, &out, 5, ""))
	assert.Contains(t, out.String(), "Key: erp:bad")
	assert.Contains(t, out.String(), "Key: erp:schools")
	assert.Contains(t, out.String(), "Stored at:")
	assert.NotContains(t, out.String(), "other:junk")

	out.Reset()
	require.NoError(t, runDiagnosticsQuery(a, &out, 1, "erp:"))
	assert.Equal(t, 1, strings.Count(out.String(), "---"))

	out.Reset()
	require.NoError(t, runDiagnosticsQuery(a, &out, 5, "other:"))
	assert.Contains(t, out.String(), "Key: other:junk")
}

func TestResourceOfKey(t *testing.T) {
	assert.Equal(t, "books", resourceOfKey("erp:", "erp:books?class=5"))
	assert.Equal(t, "schools", resourceOfKey("erp:", "erp:schools"))
	assert.Equal(t, "a/b", resourceOfKey("erp:", "erp:a%2Fb"))
}

func TestPromptYesNo(t *testing.T) {
	var out bytes.Buffer
	ok, err := promptYesNo(&out, strings.NewReader("YES\n"), "Delete")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "Delete?")

	ok, err = promptYesNo(&out, strings.NewReader("y"), "Delete")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = promptYesNo(&out, strings.NewReader(""), "Delete")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
}
