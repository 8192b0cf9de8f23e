// file: internal/session/watcher.go
// version: 1.0.0
// guid: 9c0d1e2f-3a4b-4c5d-8e6f-7a8b9c0d1e2f

package session

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jdfalk/erpcache/internal/logging"
	"go.uber.org/zap"
)

// DefaultDebounce is the default debounce period.
const DefaultDebounce = 250 * time.Millisecond

// Watcher turns changes to a credential file made by other processes into
// Hook.Sync calls.
type Watcher struct {
	hook     *Hook
	path     string
	debounce time.Duration
	logger   *zap.Logger

	fsWatcher *fsnotify.Watcher
	stop      chan struct{}
	stopped   chan struct{}
	mu        sync.Mutex
	timer     *time.Timer
	running   bool
}

// NewWatcher creates a Watcher for the credential file at path. Pass 0 for
// debounce to use DefaultDebounce.
func NewWatcher(hook *Hook, path string, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		hook:     hook,
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   logging.OrNop(logger),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins watching. The parent directory is watched rather than the
// file itself so atomic replaces and deletions are seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.fsWatcher = fsw

	go w.eventLoop()
	return nil
}

// Stop shuts down the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running || w.fsWatcher == nil {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stop)
	w.fsWatcher.Close()
	<-w.stopped

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("credential watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
		return
	}
	w.scheduleSync()
}

func (w *Watcher) scheduleSync() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()

		if w.hook.Sync() {
			w.logger.Info("session changed by another process", zap.String("path", w.path))
		}
	})
}
