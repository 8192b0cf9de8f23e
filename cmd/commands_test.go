// file: cmd/commands_test.go
// version: 2.1.0
// guid: 3f7d0b5a-9c4e-4a1f-b6d8-5e3a7c9d1f4b

package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jdfalk/erpcache/internal/cache"
	"github.com/jdfalk/erpcache/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type backend struct {
	mu   sync.Mutex
	hits map[string]int
}

func (b *backend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits[r.URL.Path]++
	b.mu.Unlock()

	switch r.URL.Path {
	case "/schools":
		_, _ = w.Write([]byte(`[{"id":"s1","name":"Hillview","active":true}]`))
	case "/books":
		_, _ = w.Write([]byte(`[{"id":"b5","title":"Maths 5","class":5,"subject":"math"}]`))
	case "/inventory", "/notifications":
		_, _ = w.Write([]byte(`[]`))
	case "/finance/summary":
		_, _ = w.Write([]byte(`{"schoolId":"s1","period":"2026-Q1","feesBilled":100}`))
	case "/users/me":
		_, _ = w.Write([]byte(`{"id":"u1","name":"Asha","role":"admin"}`))
	default:
		http.NotFound(w, r)
	}
}

func testConfig(t *testing.T, apiURL string) config.Config {
	t.Helper()
	return config.Config{
		StorageType:     "memory",
		CacheNamespace:  "erp:",
		APIBaseURL:      apiURL,
		CredentialsFile: filepath.Join(t.TempDir(), "creds", "token.json"),
		LogLevel:        "info",
		Host:            "localhost",
		Port:            8484,
		TTLOverrides:    map[string]time.Duration{"books": time.Minute},
	}
}

func startBackend(t *testing.T) (*backend, string) {
	t.Helper()
	be := &backend{hits: map[string]int{}}
	srv := httptest.NewServer(be)
	t.Cleanup(srv.Close)
	return be, srv.URL
}

func newTestApp(t *testing.T) (*app, *backend) {
	t.Helper()
	be, url := startBackend(t)
	a, err := newAppWithLogger(testConfig(t, url), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, be
}

// pebbleConfig uses the durable backend so tests see its directory lock.
func pebbleConfig(t *testing.T, url string) config.Config {
	t.Helper()
	cfg := testConfig(t, url)
	cfg.StorageType = "pebble"
	cfg.StoragePath = filepath.Join(t.TempDir(), "cache")
	return cfg
}

func login(t *testing.T, a *app) {
	t.Helper()
	require.NoError(t, a.hook.Login(&oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}))
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    cache.Params
		wantErr bool
	}{
		{"none", nil, nil, false},
		{"single", []string{"class=5"}, cache.Params{"class": "5"}, false},
		{"trims and keeps later value", []string{" class = 5", "class=6"}, cache.Params{"class": "6"}, false},
		{"value with equals", []string{"q=a=b"}, cache.Params{"q": "a=b"}, false},
		{"missing equals", []string{"class"}, nil, true},
		{"empty key", []string{"=5"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParams(tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoginWritesCredential(t *testing.T) {
	s := newSessionApp(testConfig(t, "http://localhost"), nil)
	var out bytes.Buffer
	require.NoError(t, runLogin(s, &out, " tok ", time.Hour, time.Now()))

	assert.True(t, s.hook.Authenticated())
	assert.Contains(t, out.String(), s.creds.Path())
	assert.Contains(t, out.String(), "Token expires at")
	assert.NotContains(t, out.String(), "in use")
	tok, err := s.creds.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)

	assert.Error(t, runLogin(s, &out, "  ", 0, time.Now()))
}

func TestLoginWhileStoreLockedLeavesFlushToDaemon(t *testing.T) {
	_, url := startBackend(t)
	cfg := pebbleConfig(t, url)
	daemon, err := newAppWithLogger(cfg, nil)
	require.NoError(t, err)
	defer daemon.Close()

	login(t, daemon)
	var out bytes.Buffer
	require.NoError(t, runGet(context.Background(), daemon, &out, "profile", nil, false))
	require.Len(t, daemon.guard.Entries(), 1)

	out.Reset()
	require.NoError(t, runLogin(newSessionApp(cfg, nil), &out, "other-user", time.Hour, time.Now()))
	assert.Contains(t, out.String(), "Logged in")
	assert.Contains(t, out.String(), "Cache store is in use")

	// the daemon's credential watcher calls Sync on the file change
	assert.True(t, daemon.hook.Sync())
	assert.Empty(t, daemon.guard.Entries())
	tok, err := daemon.hook.Token()
	require.NoError(t, err)
	assert.Equal(t, "other-user", tok.AccessToken)
}

func TestReadToken(t *testing.T) {
	tok, err := readToken(strings.NewReader("abc\n"))
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = readToken(strings.NewReader("  xyz"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)
}

func TestGetReadsThroughCache(t *testing.T) {
	a, be := newTestApp(t)
	login(t, a)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runGet(ctx, a, &out, "schools", nil, false))
	assert.Contains(t, out.String(), `"name": "Hillview"`)

	out.Reset()
	require.NoError(t, runGet(ctx, a, &out, "schools", nil, false))
	assert.Equal(t, 1, be.count("/schools"))

	require.NoError(t, runGet(ctx, a, &out, "schools", nil, true))
	assert.Equal(t, 2, be.count("/schools"))

	assert.Error(t, runGet(ctx, a, &out, "payroll", nil, false))
}

func TestGetWhileLoggedOut(t *testing.T) {
	a, be := newTestApp(t)
	var out bytes.Buffer
	require.NoError(t, runGet(context.Background(), a, &out, "schools", nil, false))
	assert.Contains(t, out.String(), "Not logged in")
	assert.Contains(t, out.String(), "[]")
	assert.Equal(t, 0, be.count("/schools"))
}

func TestInvalidateFlushAndKeys(t *testing.T) {
	a, _ := newTestApp(t)
	login(t, a)
	ctx := context.Background()
	var out bytes.Buffer
	require.NoError(t, runGet(ctx, a, &out, "books", cache.Params{"class": "5"}, false))
	require.NoError(t, runGet(ctx, a, &out, "schools", nil, false))
	require.NoError(t, runGet(ctx, a, &out, "profile", nil, false))

	out.Reset()
	require.NoError(t, runKeys(a, &out, "", time.Now()))
	assert.Equal(t, 3, strings.Count(out.String(), "\n"))

	out.Reset()
	require.NoError(t, runKeys(a, &out, "bks", time.Now()))
	assert.Contains(t, out.String(), "erp:books?class=5")
	assert.NotContains(t, out.String(), "erp:schools")

	out.Reset()
	require.NoError(t, runInvalidate(a, &out, "books", nil, true))
	assert.Equal(t, "Removed 1 cached books entries\n", out.String())

	out.Reset()
	require.NoError(t, runFlush(a, &out))
	assert.Equal(t, "Flushed 2 entries\n", out.String())
	assert.True(t, a.hook.Authenticated())

	out.Reset()
	require.NoError(t, runKeys(a, &out, "", time.Now()))
	assert.Equal(t, "No cached keys.\n", out.String())
}

func TestWarm(t *testing.T) {
	a, be := newTestApp(t)
	var out bytes.Buffer
	assert.Error(t, runWarm(context.Background(), a, &out))

	login(t, a)
	require.NoError(t, runWarm(context.Background(), a, &out))
	assert.Contains(t, out.String(), "Warmed 6 resources")
	assert.Equal(t, 1, be.count("/users/me"))
	assert.Len(t, a.guard.Entries(), 6)
}

func TestLogout(t *testing.T) {
	_, url := startBackend(t)
	cfg := pebbleConfig(t, url)
	a, err := newAppWithLogger(cfg, nil)
	require.NoError(t, err)
	login(t, a)
	var out bytes.Buffer
	require.NoError(t, runGet(context.Background(), a, &out, "schools", nil, false))
	require.NoError(t, a.Close())

	out.Reset()
	s := newSessionApp(cfg, nil)
	require.NoError(t, runLogout(s, &out))
	assert.Equal(t, "Logged out; cache flushed.\n", out.String())
	_, err = os.Stat(s.creds.Path())
	assert.True(t, os.IsNotExist(err))

	out.Reset()
	require.NoError(t, runLogout(newSessionApp(cfg, nil), &out))
	assert.Equal(t, "Not logged in; cache flushed anyway.\n", out.String())

	a, err = newAppWithLogger(cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.False(t, a.hook.Authenticated())
	assert.Empty(t, a.guard.Entries())
}

func TestLogoutWhileStoreLocked(t *testing.T) {
	_, url := startBackend(t)
	cfg := pebbleConfig(t, url)
	daemon, err := newAppWithLogger(cfg, nil)
	require.NoError(t, err)
	defer daemon.Close()

	login(t, daemon)
	var out bytes.Buffer
	require.NoError(t, runGet(context.Background(), daemon, &out, "schools", nil, false))

	out.Reset()
	s := newSessionApp(cfg, nil)
	require.NoError(t, runLogout(s, &out))
	assert.Contains(t, out.String(), "Logged out.\n")
	assert.Contains(t, out.String(), "Cache store is in use")
	_, err = os.Stat(s.creds.Path())
	assert.True(t, os.IsNotExist(err))

	assert.True(t, daemon.hook.Sync())
	assert.False(t, daemon.hook.Authenticated())
	assert.Empty(t, daemon.guard.Entries())
}

func TestConfigInitAndShow(t *testing.T) {
	orig := config.AppConfig
	t.Cleanup(func() { config.AppConfig = orig })
	config.AppConfig = testConfig(t, "http://erp.example.com/api")

	path := filepath.Join(t.TempDir(), "erpcache.yaml")
	var out bytes.Buffer
	require.NoError(t, runConfigInit(&out, path))
	assert.Contains(t, out.String(), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "api_base_url:")
	assert.Contains(t, string(data), "erp.example.com/api")

	out.Reset()
	require.NoError(t, runConfigShow(&out, config.AppConfig))
	assert.Contains(t, out.String(), "books")
	assert.Contains(t, out.String(), "1m0s (override)")
	assert.Contains(t, out.String(), "localhost:8484")
}

func TestRootRegistersCommands(t *testing.T) {
	for _, name := range []string{"get", "invalidate", "flush", "keys", "warm", "login", "logout", "serve", "config", "diagnostics"} {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
	c, _, err := rootCmd.Find([]string{"config", "init"})
	require.NoError(t, err)
	assert.Equal(t, "init", c.Name())
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t, "ftp://nope")
	_, err := newAppWithLogger(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t, "http://localhost")
	cfg.StorageType = "sqlite"
	_, err = newAppWithLogger(cfg, nil)
	assert.Error(t, err)

	_, err = newApp(config.Config{LogLevel: "loud"})
	assert.Error(t, err)
}
