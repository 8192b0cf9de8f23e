// file: internal/provider/provider.go
// version: 1.0.0
// guid: 3a4b5c6d-7e8f-4a9b-8c0d-1e2f3a4b5c6d

// Package provider exposes one backend resource as observable state
// (data, loading, error) backed by the shared fetch guard.
package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jdfalk/erpcache/internal/cache"
	"github.com/jdfalk/erpcache/internal/fetchguard"
	"github.com/jdfalk/erpcache/internal/logging"
	"github.com/jdfalk/erpcache/internal/session"
	"go.uber.org/zap"
)

// Session is the part of session.Hook a provider depends on.
type Session interface {
	Authenticated() bool
	Logout(reason string) error
	Subscribe(fn func(session.Transition)) (unsubscribe func())
}

// Resource describes one backend resource.
type Resource[T any] struct {
	Name    string
	TTL     time.Duration
	Params  cache.Params
	Fetch   fetchguard.Fetcher[T]
	Default func() T
}

// State is a snapshot of a provider.
type State[T any] struct {
	Data      T         `json:"data"`
	Loading   bool      `json:"loading"`
	Err       error     `json:"-"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Provider holds the last known value of one resource.
type Provider[T any] struct {
	guard  *fetchguard.Guard
	sess   Session
	res    Resource[T]
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	state   State[T]
	pending int
	// epoch changes when the session ends so results of fetches started
	// before that are dropped.
	epoch       uint64
	unsubscribe func()
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	logger *zap.Logger
	now    func() time.Time
}

// WithLogger sets the provider's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the time source for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a provider for res. It does not fetch until Load is called.
func New[T any](guard *fetchguard.Guard, sess Session, res Resource[T], opts ...Option) *Provider[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	p := &Provider[T]{
		guard:  guard,
		sess:   sess,
		res:    res,
		logger: logging.OrNop(o.logger).With(zap.String("resource", res.Name)),
		now:    o.now,
	}
	p.state.Data = p.defaultValue()
	if sess != nil {
		p.unsubscribe = sess.Subscribe(p.onTransition)
	}
	return p
}

// Name returns the resource name.
func (p *Provider[T]) Name() string { return p.res.Name }

// Key returns the cache key of the provider's request.
func (p *Provider[T]) Key() string { return p.guard.Key(p.res.Name, p.res.Params) }

// Snapshot returns the current state.
func (p *Provider[T]) Snapshot() State[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Load resolves the resource, serving it from cache when possible.
func (p *Provider[T]) Load(ctx context.Context) error {
	return p.resolve(ctx)
}

// Refetch resolves the resource again. With bypassCache the cached entry is
// dropped first so the backend is always asked.
func (p *Provider[T]) Refetch(ctx context.Context, bypassCache bool) error {
	if bypassCache && p.authenticated() {
		p.guard.Invalidate(p.res.Name, p.res.Params)
	}
	return p.resolve(ctx)
}

// Mutate replaces the data with fn(data) in memory and in the cache without
// asking the backend. It does nothing while logged out.
func (p *Provider[T]) Mutate(fn func(T) T) {
	if !p.authenticated() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	base := p.state.Data
	if p.state.UpdatedAt.IsZero() {
		if v, ok := cache.GetAs[T](p.guard.Cache(), p.Key(), p.res.TTL); ok {
			base = v
		}
	}
	p.state.Data = fn(base)
	p.state.UpdatedAt = p.now()
	p.guard.Store(p.res.Name, p.res.Params, p.state.Data)
}

// Close stops listening for session changes.
func (p *Provider[T]) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

func (p *Provider[T]) resolve(ctx context.Context) error {
	if !p.authenticated() {
		p.mu.Lock()
		p.resetLocked()
		p.mu.Unlock()
		return nil
	}

	p.mu.Lock()
	p.pending++
	p.state.Loading = true
	epoch := p.epoch
	p.mu.Unlock()

	req := fetchguard.Request{Resource: p.res.Name, Params: p.res.Params, TTL: p.res.TTL}
	v, err := fetchguard.Resolve(ctx, p.guard, req, p.res.Fetch)

	p.mu.Lock()
	p.pending--
	p.state.Loading = p.pending > 0
	if epoch != p.epoch {
		p.mu.Unlock()
		return err
	}
	switch {
	case err == nil:
		p.state.Data = v
		p.state.Err = nil
		p.state.UpdatedAt = p.now()
		p.mu.Unlock()
		return nil
	case errors.Is(err, session.ErrUnauthorized) && p.sess != nil:
		p.mu.Unlock()
		p.logger.Info("backend rejected credential, ending session")
		if logoutErr := p.sess.Logout(session.ReasonUnauthorized); logoutErr != nil {
			p.logger.Warn("logout after unauthorized response failed", zap.Error(logoutErr))
		}
		return err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		p.mu.Unlock()
		return err
	default:
		p.state.Err = err
		p.mu.Unlock()
		p.logger.Warn("fetch failed, keeping previous data", zap.Error(err))
		return err
	}
}

func (p *Provider[T]) authenticated() bool {
	return p.sess == nil || p.sess.Authenticated()
}

func (p *Provider[T]) onTransition(t session.Transition) {
	if t.Authenticated {
		return
	}
	p.mu.Lock()
	p.epoch++
	p.resetLocked()
	p.mu.Unlock()
}

func (p *Provider[T]) resetLocked() {
	p.state.Data = p.defaultValue()
	p.state.Err = nil
	p.state.Loading = false
	p.state.UpdatedAt = time.Time{}
}

func (p *Provider[T]) defaultValue() T {
	if p.res.Default != nil {
		return p.res.Default()
	}
	var zero T
	return zero
}
