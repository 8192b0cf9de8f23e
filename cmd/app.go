// file: cmd/app.go
// version: 1.1.0
// guid: 1d4e7a2b-5c8f-4b3e-9a6d-0f2c4e6a8b1d

package cmd

import (
	"errors"
	"fmt"

	"github.com/jdfalk/erpcache/internal/api"
	"github.com/jdfalk/erpcache/internal/cache"
	"github.com/jdfalk/erpcache/internal/config"
	"github.com/jdfalk/erpcache/internal/fetchguard"
	"github.com/jdfalk/erpcache/internal/logging"
	"github.com/jdfalk/erpcache/internal/metrics"
	"github.com/jdfalk/erpcache/internal/resources"
	"github.com/jdfalk/erpcache/internal/session"
	"github.com/jdfalk/erpcache/internal/storage"
	"go.uber.org/zap"
)

// app is every component one command invocation needs, wired together.
type app struct {
	logger *zap.Logger
	store  storage.Storage
	guard  *fetchguard.Guard
	creds  *session.FileCredentials
	hook   *session.Hook
	client *api.Client
	reg    *resources.Registry
}

// newApp builds the component graph described by cfg. The guard exists
// before the hook that flushes it, so the gate is installed afterwards.
func newApp(cfg config.Config) (*app, error) {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return newAppWithLogger(cfg, logger)
}

func newAppWithLogger(cfg config.Config, logger *zap.Logger) (*app, error) {
	logger = logging.OrNop(logger)
	metrics.Register()

	store, err := storage.Open(storageOptions(cfg))
	if err != nil {
		return nil, err
	}

	guard := newGuard(cfg, store, logger)
	creds := session.NewFileCredentials(cfg.CredentialsFile)
	hook := session.NewHook(creds, guard, session.WithLogger(logger.Named("session")))
	guard.SetGate(hook)

	client, err := api.NewClient(api.Config{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.APITimeout,
		RateLimit: cfg.APIRateLimit,
		Burst:     cfg.APIBurst,
		UserAgent: "erpcache/" + Version,
	}, hook, api.WithLogger(logger.Named("api")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	reg := resources.NewRegistry(guard, client, cfg.TTLOverrides, resources.WithLogger(logger.Named("resources")))
	reg.SetSession(hook)

	return &app{
		logger: logger,
		store:  store,
		guard:  guard,
		creds:  creds,
		hook:   hook,
		client: client,
		reg:    reg,
	}, nil
}

// Close releases storage and flushes the logger.
func (a *app) Close() error {
	err := a.store.Close()
	// Sync fails on terminals that do not support fsync
	_ = a.logger.Sync()
	if err != nil && !errors.Is(err, storage.ErrClosed) {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}

func storageOptions(cfg config.Config) storage.Options {
	return storage.Options{
		Type:         cfg.StorageType,
		Path:         cfg.StoragePath,
		EnableSQLite: cfg.EnableSQLite,
		QuotaBytes:   cfg.MemoryQuotaBytes,
	}
}

func newGuard(cfg config.Config, store storage.Storage, logger *zap.Logger) *fetchguard.Guard {
	return fetchguard.New(cache.New(store, cache.WithLogger(logger.Named("cache"))),
		fetchguard.WithNamespace(cfg.CacheNamespace),
		fetchguard.WithLogger(logger.Named("fetchguard")),
	)
}

// storeFlusher opens the cache store only for the duration of a flush. When
// the store cannot be opened, usually because a running daemon holds its
// lock, the flush is skipped and left to the daemon's credential watcher.
type storeFlusher struct {
	cfg      config.Config
	logger   *zap.Logger
	deferred bool
}

func (f *storeFlusher) InvalidateAll(except ...string) int {
	store, err := storage.Open(storageOptions(f.cfg))
	if err != nil {
		f.deferred = true
		f.logger.Warn("cache store unavailable, flush left to the daemon", zap.Error(err))
		return 0
	}
	defer func() {
		if err := store.Close(); err != nil {
			f.logger.Warn("failed to close storage", zap.Error(err))
		}
	}()
	return newGuard(f.cfg, store, f.logger).InvalidateAll(except...)
}

// sessionApp is what login and logout need. It touches the cache store only
// when the session change requires a flush.
type sessionApp struct {
	logger  *zap.Logger
	creds   *session.FileCredentials
	flusher *storeFlusher
	hook    *session.Hook
}

func newSessionApp(cfg config.Config, logger *zap.Logger) *sessionApp {
	logger = logging.OrNop(logger)
	metrics.Register()

	flusher := &storeFlusher{cfg: cfg, logger: logger.Named("flush")}
	creds := session.NewFileCredentials(cfg.CredentialsFile)
	return &sessionApp{
		logger:  logger,
		creds:   creds,
		flusher: flusher,
		hook:    session.NewHook(creds, flusher, session.WithLogger(logger.Named("session"))),
	}
}
