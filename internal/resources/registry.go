// file: internal/resources/registry.go
// version: 1.1.0
// guid: 0b1c2d3e-4f5a-4b6c-9d7e-8f9a0b1c2d3e

package resources

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jdfalk/erpcache/internal/api"
	"github.com/jdfalk/erpcache/internal/cache"
	"github.com/jdfalk/erpcache/internal/fetchguard"
	"github.com/jdfalk/erpcache/internal/logging"
	"github.com/jdfalk/erpcache/internal/provider"
	"github.com/jdfalk/erpcache/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Registry resolves catalog resources through the guard and the API client.
type Registry struct {
	guard  *fetchguard.Guard
	client *api.Client
	ttl    map[string]time.Duration
	sess   provider.Session
	logger *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = logging.OrNop(l) }
}

// NewRegistry creates a Registry. overrides replaces catalog TTLs by
// resource name; zero or negative values are ignored.
func NewRegistry(guard *fetchguard.Guard, client *api.Client, overrides map[string]time.Duration, opts ...Option) *Registry {
	ttl := make(map[string]time.Duration, len(overrides))
	for name, d := range overrides {
		if d > 0 {
			ttl[name] = d
		}
	}
	r := &Registry{guard: guard, client: client, ttl: ttl, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetSession makes Resolve end sess when the backend rejects the
// credential.
func (r *Registry) SetSession(sess provider.Session) { r.sess = sess }

// Guard returns the guard the registry resolves through.
func (r *Registry) Guard() *fetchguard.Guard { return r.guard }

// Definition returns the catalog entry for name with its effective TTL.
func (r *Registry) Definition(name string) (Definition, error) {
	d, err := Lookup(name)
	if err != nil {
		return Definition{}, err
	}
	if ttl, ok := r.ttl[name]; ok {
		d.TTL = ttl
	}
	return d, nil
}

// Definitions returns every catalog entry with effective TTLs.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(Catalog))
	for _, d := range Catalog {
		eff, _ := r.Definition(d.Name)
		out = append(out, eff)
	}
	return out
}

// Resolve returns the resource as raw JSON, from cache when valid. refresh
// drops the cached entry first. While logged out it returns the resource's
// empty value without contacting the backend.
func (r *Registry) Resolve(ctx context.Context, name string, params cache.Params, refresh bool) (json.RawMessage, error) {
	d, err := r.Definition(name)
	if err != nil {
		return nil, err
	}
	if err := d.ValidateParams(params); err != nil {
		return nil, err
	}
	path, query, err := d.Request(params)
	if err != nil {
		return nil, err
	}
	if refresh {
		r.guard.Invalidate(name, params)
	}

	req := fetchguard.Request{Resource: name, Params: params, TTL: d.TTL}
	raw, err := fetchguard.ResolveRaw(ctx, r.guard, req, api.FetchRaw(r.client, path, query))
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) && r.sess != nil {
			r.logger.Info("backend rejected credential, ending session", zap.String("resource", name))
			if logoutErr := r.sess.Logout(session.ReasonUnauthorized); logoutErr != nil {
				r.logger.Warn("logout after unauthorized response failed", zap.Error(logoutErr))
			}
		}
		return nil, err
	}
	if raw == nil {
		return emptyValue(d), nil
	}
	return raw, nil
}

// Invalidate drops cached entries of name: the one matching params, or all
// of them when allParams is set.
func (r *Registry) Invalidate(name string, params cache.Params, allParams bool) (int, error) {
	if _, err := Lookup(name); err != nil {
		return 0, err
	}
	if allParams {
		return r.guard.InvalidateResource(name), nil
	}
	key := r.guard.Key(name, params)
	if _, ok := r.guard.Cache().Peek(key); !ok {
		return 0, nil
	}
	r.guard.Invalidate(name, params)
	return 1, nil
}

// Warmable lists resources that can be resolved without parameters.
func (r *Registry) Warmable() []Definition {
	var out []Definition
	for _, d := range r.Definitions() {
		if len(d.PathParams()) == 0 {
			out = append(out, d)
		}
	}
	return out
}

// Warm resolves every warmable resource, calling progress after each one.
func (r *Registry) Warm(ctx context.Context, progress func(name string, err error)) error {
	var errs []error
	for _, d := range r.Warmable() {
		_, err := r.Resolve(ctx, d.Name, nil, false)
		if err != nil {
			errs = append(errs, err)
		}
		if progress != nil {
			progress(d.Name, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func emptyValue(d Definition) json.RawMessage {
	if d.Collection {
		return json.RawMessage(`[]`)
	}
	return json.RawMessage(`{}`)
}

func typedResource[T any](r *Registry, name string, params cache.Params, def func() T) provider.Resource[T] {
	d, err := r.Definition(name)
	res := provider.Resource[T]{Name: name, TTL: d.TTL, Params: params, Default: def}
	if err == nil {
		var path string
		var query cache.Params
		path, query, err = d.Request(params)
		if err == nil {
			res.Fetch = api.Fetch[T](r.client, path, query)
			return res
		}
	}
	res.Fetch = func(context.Context) (T, error) {
		var zero T
		return zero, err
	}
	return res
}

// Schools returns a provider of every school.
func (r *Registry) Schools(sess provider.Session, opts ...provider.Option) *provider.ListProvider[School] {
	return provider.NewList(r.guard, sess, typedResource[[]School](r, "schools", nil, nil), opts...)
}

// Books returns a provider of books, optionally filtered by class and
// subject.
func (r *Registry) Books(sess provider.Session, class *int, subject *string, opts ...provider.Option) *provider.ListProvider[Book] {
	params := cache.Params{"class": class, "subject": subject}
	return provider.NewList(r.guard, sess, typedResource[[]Book](r, "books", params, nil), opts...)
}

// Topics returns a provider of the topics of one book.
func (r *Registry) Topics(sess provider.Session, bookID string, opts ...provider.Option) *provider.ListProvider[Topic] {
	params := cache.Params{"book": bookID}
	return provider.NewList(r.guard, sess, typedResource[[]Topic](r, "topics", params, nil), opts...)
}

// Inventory returns a provider of one school's stock.
func (r *Registry) Inventory(sess provider.Session, schoolID string, opts ...provider.Option) *provider.ListProvider[InventoryItem] {
	params := cache.Params{"school": schoolID}
	return provider.NewList(r.guard, sess, typedResource[[]InventoryItem](r, "inventory", params, nil), opts...)
}

// Finance returns a provider of one school's summary for period.
func (r *Registry) Finance(sess provider.Session, schoolID, period string, opts ...provider.Option) *provider.Provider[FinanceSummary] {
	params := cache.Params{"school": schoolID, "period": period}
	return provider.New(r.guard, sess, typedResource[FinanceSummary](r, "finance", params, nil), opts...)
}

// Profile returns a provider of the signed-in user.
func (r *Registry) Profile(sess provider.Session, opts ...provider.Option) *provider.Provider[Profile] {
	return provider.New(r.guard, sess, typedResource[Profile](r, "profile", nil, nil), opts...)
}

// Notifications returns a provider of the user's inbox.
func (r *Registry) Notifications(sess provider.Session, opts ...provider.Option) *provider.ListProvider[Notification] {
	return provider.NewList(r.guard, sess, typedResource[[]Notification](r, "notifications", nil, nil), opts...)
}

// Dashboard returns a provider of the landing-page counters for role.
func (r *Registry) Dashboard(sess provider.Session, role string, opts ...provider.Option) *provider.Provider[DashboardStats] {
	params := cache.Params{"role": role}
	def := func() DashboardStats { return DashboardStats{Role: role, Counters: map[string]int{}} }
	return provider.New(r.guard, sess, typedResource[DashboardStats](r, "dashboard", params, def), opts...)
}

// Set holds the providers every signed-in screen needs.
type Set struct {
	Schools       *provider.ListProvider[School]
	Profile       *provider.Provider[Profile]
	Notifications *provider.ListProvider[Notification]
}

// NewSet builds the shared providers.
func (r *Registry) NewSet(sess provider.Session, opts ...provider.Option) *Set {
	return &Set{
		Schools:       r.Schools(sess, opts...),
		Profile:       r.Profile(sess, opts...),
		Notifications: r.Notifications(sess, opts...),
	}
}

// Load loads every provider in the set concurrently. One failure does not
// stop the others; every error is reported.
func (s *Set) Load(ctx context.Context) error {
	loaders := []func(context.Context) error{s.Schools.Load, s.Profile.Load, s.Notifications.Load}
	errs := make([]error, len(loaders))
	var g errgroup.Group
	for i, load := range loaders {
		g.Go(func() error {
			errs[i] = load(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close unsubscribes every provider from session changes.
func (s *Set) Close() {
	s.Schools.Close()
	s.Profile.Close()
	s.Notifications.Close()
}
