// file: internal/fetchguard/guard.go
// version: 1.0.0
// guid: d4e5f6a7-b8c9-4d0e-9f1a-2b3c4d5e6f7a

package fetchguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdfalk/erpcache/internal/cache"
	"github.com/jdfalk/erpcache/internal/logging"
	"github.com/jdfalk/erpcache/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrTypeMismatch is returned when a caller attached to a fetch started for
// another result type cannot decode that result.
var ErrTypeMismatch = errors.New("fetchguard: shared result has unexpected type")

// Fetcher performs one backend call for a resource.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Request identifies a cached resource read.
type Request struct {
	Resource string
	Params   cache.Params
	TTL      time.Duration
}

// Gate reports whether fetches are currently allowed.
type Gate interface {
	Authenticated() bool
}

// Stats is a point-in-time view of the guard.
type Stats struct {
	InFlight   int    `json:"in_flight"`
	Generation uint64 `json:"generation"`
}

// Guard gives read-through caching over a Cache and makes sure concurrent
// resolves of one key share a single fetch.
type Guard struct {
	cache  *cache.Cache
	keys   cache.KeyPolicy
	gate   Gate
	logger *zap.Logger

	sf singleflight.Group

	mu       sync.Mutex
	inflight map[string]int

	// generation is bumped by InvalidateAll. It is part of the in-flight key,
	// so requests issued after a flush never attach to a fetch started before
	// it, and those older fetches do not write their result back.
	generation atomic.Uint64
	flushMu    sync.RWMutex
}

// Option configures a Guard.
type Option func(*Guard)

// WithNamespace scopes every derived key to ns.
func WithNamespace(ns string) Option {
	return func(g *Guard) { g.keys = cache.Scoped(ns) }
}

// WithGate installs an authentication gate consulted before every resolve.
func WithGate(gate Gate) Option {
	return func(g *Guard) { g.gate = gate }
}

// WithLogger sets the guard's logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) { g.logger = logging.OrNop(l) }
}

// New creates a Guard over c.
func New(c *cache.Cache, opts ...Option) *Guard {
	g := &Guard{
		cache:    c,
		keys:     cache.Scoped(""),
		logger:   zap.NewNop(),
		inflight: make(map[string]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetGate replaces the authentication gate. The session hook is built after
// the guard it flushes, so it is installed here once both exist.
func (g *Guard) SetGate(gate Gate) {
	g.mu.Lock()
	g.gate = gate
	g.mu.Unlock()
}

// Key returns the cache key for resource and params.
func (g *Guard) Key(resource string, params cache.Params) string {
	return g.keys.DeriveKey(resource, params)
}

// Namespace is the prefix of every key the guard derives.
func (g *Guard) Namespace() string {
	return g.keys.Namespace
}

// Entries returns the cached entries inside the guard's namespace. Keys
// outside it, such as a stored credential, are never decoded.
func (g *Guard) Entries() []cache.Entry {
	var out []cache.Entry
	for _, k := range g.cache.Keys() {
		if !strings.HasPrefix(k, g.keys.Namespace) {
			continue
		}
		if e, ok := g.cache.Peek(k); ok {
			out = append(out, e)
		}
	}
	return out
}

// Cache exposes the underlying cache.
func (g *Guard) Cache() *cache.Cache {
	return g.cache
}

func (g *Guard) authenticated() bool {
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()
	return gate == nil || gate.Authenticated()
}

// Resolve returns the cached value for req, or runs fetch on a miss. While
// one fetch for a key is running every other resolve of that key waits for
// it and receives the same value or error. Cancelling ctx abandons the wait
// but not the fetch, whose result is still cached for the next reader.
func Resolve[T any](ctx context.Context, g *Guard, req Request, fetch Fetcher[T]) (T, error) {
	var zero T
	key := g.Key(req.Resource, req.Params)

	if !g.authenticated() {
		metrics.IncSuppressed(req.Resource)
		return zero, nil
	}

	if v, ok := cache.GetAs[T](g.cache, key, req.TTL); ok {
		metrics.IncCacheHit(req.Resource)
		return v, nil
	}
	metrics.IncCacheMiss(req.Resource)

	started := false
	gen := g.generation.Load()
	flightKey := strconv.FormatUint(gen, 10) + "|" + key
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(flightKey, func() (any, error) {
		started = true
		g.track(flightKey, 1)
		defer g.track(flightKey, -1)

		metrics.IncFetchStarted(req.Resource)
		v, err := fetch(detached)
		if err != nil {
			metrics.IncFetchFailed(req.Resource)
			g.logger.Debug("fetch failed", zap.String("key", key), zap.Error(err))
			return nil, err
		}
		g.flushMu.RLock()
		if g.generation.Load() == gen {
			g.cache.Set(key, v)
		} else {
			g.logger.Debug("discarding fetch result from before flush", zap.String("key", key))
		}
		g.flushMu.RUnlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared && !started {
			metrics.IncInflightJoin(req.Resource)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		if res.Val == nil {
			return zero, nil
		}
		v, ok := res.Val.(T)
		if !ok {
			// the fetch was started by a caller decoding a different type;
			// read its stored result back in ours
			if v, ok := cache.GetAs[T](g.cache, key, req.TTL); ok {
				return v, nil
			}
			return zero, fmt.Errorf("%w: %s got %T", ErrTypeMismatch, key, res.Val)
		}
		return v, nil
	}
}

// ResolveRaw resolves req as undecoded JSON, for callers that only pass the
// payload through.
func ResolveRaw(ctx context.Context, g *Guard, req Request, fetch Fetcher[json.RawMessage]) (json.RawMessage, error) {
	return Resolve(ctx, g, req, fetch)
}

func (g *Guard) track(flightKey string, delta int) {
	g.mu.Lock()
	g.inflight[flightKey] += delta
	if g.inflight[flightKey] <= 0 {
		delete(g.inflight, flightKey)
	}
	n := len(g.inflight)
	g.mu.Unlock()
	metrics.SetInflight(n)
}

// Store writes value as the cached result for resource and params.
func (g *Guard) Store(resource string, params cache.Params, value any) {
	g.cache.Set(g.Key(resource, params), value)
}

// Invalidate drops the cached entry for one request so the next resolve
// misses.
func (g *Guard) Invalidate(resource string, params cache.Params) {
	g.cache.Delete(g.Key(resource, params))
}

// InvalidateResource drops every cached entry of resource regardless of
// parameters.
func (g *Guard) InvalidateResource(resource string) int {
	n := g.cache.DeletePrefix(g.keys.Prefix(resource))
	bare := g.keys.BareKey(resource)
	if _, ok := g.cache.Peek(bare); ok {
		g.cache.Delete(bare)
		n++
	}
	return n
}

// InvalidateAll flushes every cached entry except the keys in except and
// detaches all in-flight requests. Fetches still running finish for their
// current waiters but their results are not written back.
func (g *Guard) InvalidateAll(except ...string) int {
	g.flushMu.Lock()
	g.generation.Add(1)
	n := g.cache.DeleteAll(except...)
	g.flushMu.Unlock()

	g.logger.Info("cache flushed", zap.Int("removed", n))
	return n
}

// Stats reports in-flight and generation counters.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{InFlight: len(g.inflight), Generation: g.generation.Load()}
}
