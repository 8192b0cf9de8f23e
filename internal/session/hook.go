// file: internal/session/hook.go
// version: 1.2.0
// guid: 7a8b9c0d-1e2f-4a3b-8c4d-5e6f7a8b9c0d

package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jdfalk/erpcache/internal/logging"
	"github.com/jdfalk/erpcache/internal/metrics"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrUnauthorized marks a missing or rejected credential. Transports wrap it
// for 401 responses so callers can treat them as a logout signal.
var ErrUnauthorized = errors.New("unauthorized")

// Flusher drops every cached entry except the listed keys. fetchguard.Guard
// satisfies it.
type Flusher interface {
	InvalidateAll(except ...string) int
}

// Transition is delivered to subscribers once per authentication change.
type Transition struct {
	Authenticated bool      `json:"authenticated"`
	Reason        string    `json:"reason"`
	At            time.Time `json:"at"`
}

// Reasons attached to transitions.
const (
	ReasonLogin        = "login"
	ReasonLogout       = "logout"
	ReasonUnauthorized = "unauthorized"
	ReasonExternal     = "credential_changed"
	ReasonExpired      = "expired"
	ReasonSwitched     = "session_switched"
)

// Hook ties cache lifetime to authentication lifetime.
type Hook struct {
	creds   Credentials
	flusher Flusher
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	token  *oauth2.Token
	authed bool
	subs   map[string]func(Transition)
	order  []string
}

// Option configures a Hook.
type Option func(*Hook)

// WithLogger sets the hook's logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hook) { h.logger = logging.OrNop(l) }
}

// WithClock overrides the time source used for transition stamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hook) { h.now = now }
}

// NewHook creates a Hook and loads the current credential without notifying
// anyone. A stored credential that is no longer usable flushes the cache, so
// data fetched for a lapsed session never reaches the next login.
func NewHook(creds Credentials, flusher Flusher, opts ...Option) *Hook {
	h := &Hook{
		creds:   creds,
		flusher: flusher,
		logger:  zap.NewNop(),
		now:     time.Now,
		subs:    make(map[string]func(Transition)),
	}
	for _, opt := range opts {
		opt(h)
	}
	tok, present := h.load()
	switch {
	case tok.Valid():
		h.token = tok
		h.authed = true
	case present:
		h.flush(ReasonExpired)
	}
	return h
}

// Authenticated reports whether a valid credential is present. It never
// touches the credential store.
func (h *Hook) Authenticated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.authed && h.token.Valid()
}

// Expiry returns the current credential's expiry, zero when logged out or
// when the credential never expires.
func (h *Hook) Expiry() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.authed || h.token == nil {
		return time.Time{}
	}
	return h.token.Expiry
}

// Token returns the current credential. It implements oauth2.TokenSource
// over the hook's in-memory state.
func (h *Hook) Token() (*oauth2.Token, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.authed || !h.token.Valid() {
		return nil, ErrUnauthorized
	}
	return h.token, nil
}

// Login stores tok and moves the session to authenticated. Logging in again
// with the same access token only refreshes the stored credential; any other
// token starts a new session on an empty cache.
func (h *Hook) Login(tok *oauth2.Token) error {
	if !tok.Valid() {
		return fmt.Errorf("%w: token is empty or expired", ErrUnauthorized)
	}
	if err := h.creds.Save(tok); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	h.install(tok, ReasonLogin)
	return nil
}

// Logout clears the credential and flushes the cache. Subscribers hear about
// it only if the session was authenticated.
func (h *Hook) Logout(reason string) error {
	if reason == "" {
		reason = ReasonLogout
	}
	clearErr := h.creds.Clear()
	if clearErr != nil {
		h.logger.Warn("failed to clear credential", zap.Error(clearErr))
	}

	h.mu.Lock()
	changed := h.authed
	h.authed = false
	h.token = nil
	h.mu.Unlock()

	h.flush(reason)
	if changed {
		h.notify(Transition{Authenticated: false, Reason: reason, At: h.now()})
	}
	if clearErr != nil {
		return fmt.Errorf("failed to clear credential: %w", clearErr)
	}
	return nil
}

// Sync re-reads the credential store, typically after another process
// changed it. It reports whether a transition was delivered.
func (h *Hook) Sync() bool {
	tok, _ := h.load()
	if !tok.Valid() {
		tok = nil
	}
	return h.install(tok, ReasonExternal)
}

// install moves the session to tok, nil meaning logged out. Entries cached
// for a different or lapsed credential are flushed while the gate is closed,
// before tok becomes visible. It reports whether a transition was delivered.
func (h *Hook) install(tok *oauth2.Token, reason string) bool {
	h.mu.Lock()
	prev, wasAuthed := h.token, h.authed
	if tok == nil && !wasAuthed {
		h.mu.Unlock()
		return false
	}
	if tok != nil && wasAuthed && sameSession(prev, tok) {
		h.token = tok
		h.mu.Unlock()
		return false
	}
	h.token, h.authed = nil, false
	h.mu.Unlock()

	if wasAuthed {
		closing := reason
		switch {
		case tok == nil:
		case !prev.Valid():
			closing = ReasonExpired
		default:
			closing = ReasonSwitched
		}
		h.flush(closing)
		h.notify(Transition{Authenticated: false, Reason: closing, At: h.now()})
	} else {
		h.flush(reason)
	}
	if tok == nil {
		return true
	}

	h.mu.Lock()
	h.token, h.authed = tok, true
	h.mu.Unlock()
	h.logger.Info("session authenticated", zap.String("reason", reason))
	h.notify(Transition{Authenticated: true, Reason: reason, At: h.now()})
	return true
}

// sameSession reports whether next continues the still-valid session of prev.
func sameSession(prev, next *oauth2.Token) bool {
	return prev.Valid() && prev.AccessToken == next.AccessToken
}

// Subscribe registers fn for transitions and returns a function that
// removes it. Calling the returned function more than once is harmless.
func (h *Hook) Subscribe(fn func(Transition)) (unsubscribe func()) {
	id := ulid.Make().String()
	h.mu.Lock()
	h.subs[id] = fn
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered callbacks.
func (h *Hook) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// load reads the stored credential. present is false only when nothing is
// stored; an unreadable, malformed or expired credential is present but the
// returned token is not valid.
func (h *Hook) load() (tok *oauth2.Token, present bool) {
	tok, err := h.creds.Token()
	if errors.Is(err, ErrNoCredential) {
		return nil, false
	}
	if err != nil {
		if !errors.Is(err, ErrUnauthorized) {
			h.logger.Warn("failed to read credential", zap.Error(err))
		}
		return nil, true
	}
	return tok, true
}

// Flush drops every cached entry except the credential and returns how many
// were removed. The session itself is left alone.
func (h *Hook) Flush(reason string) int {
	return h.flush(reason)
}

func (h *Hook) flush(reason string) int {
	if h.flusher == nil {
		return 0
	}
	n := h.flusher.InvalidateAll(h.creds.Keys()...)
	metrics.IncFlush(reason)
	h.logger.Info("cache flushed", zap.String("reason", reason), zap.Int("removed", n))
	return n
}

// notify calls subscribers in registration order outside the lock.
func (h *Hook) notify(t Transition) {
	h.mu.Lock()
	fns := make([]func(Transition), 0, len(h.order))
	for _, id := range h.order {
		fns = append(fns, h.subs[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}
