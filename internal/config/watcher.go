package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 100 * time.Millisecond

// OnReload is called after a successful hot-reload.
type OnReload func(old, new *Config)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	fsw  *fsnotify.Watcher
	path string

	mu        sync.Mutex
	callbacks []OnReload

	done      chan struct{}
	closeOnce sync.Once
}

// Watch starts watching the given config file. On modification the config is
// re-loaded, validated and made current, then registered callbacks run with
// the old and new values. An invalid file keeps the previous config.
func Watch(filePath string) (*Watcher, error) {
	if filePath == "" {
		return nil, fmt.Errorf("config watcher: file path must not be empty")
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("config watcher: resolving path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	// Editors replace the file by rename, so watch its directory.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config watcher: watching %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{fsw: fsw, path: abs, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

// OnChange registers a callback invoked after each successful reload.
func (w *Watcher) OnChange(fn OnReload) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop() {
	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == w.path && ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				debounce.Reset(reloadDebounce)
			}
		case <-debounce.C:
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	old := Get()
	next, err := Load(w.path)
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous config")
		return
	}
	log.Info().Str("path", w.path).Strs("restart_required", RestartRequired(old, next)).Msg("config reloaded")

	w.mu.Lock()
	cbs := append([]OnReload(nil), w.callbacks...)
	w.mu.Unlock()
	for _, cb := range cbs {
		w.notify(cb, old, next)
	}
}

func (w *Watcher) notify(cb OnReload, old, next *Config) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("config reload callback panicked")
		}
	}()
	cb(old, next)
}

// RestartRequired lists the config sections that differ between old and
// next and only take effect on restart. server.log_level is applied live and
// is ignored.
func RestartRequired(old, next *Config) []string {
	if old == nil || next == nil {
		return nil
	}
	oldServer, nextServer := old.Server, next.Server
	oldServer.LogLevel, nextServer.LogLevel = "", ""

	sections := []struct {
		name string
		a, b any
	}{
		{"server", oldServer, nextServer},
		{"auth", old.Auth, next.Auth},
		{"orders", old.Orders, next.Orders},
		{"fbt", old.FBT, next.FBT},
		{"analytics", old.Analytics, next.Analytics},
		{"tracing", old.Tracing, next.Tracing},
		{"metrics", old.Metrics, next.Metrics},
	}
	var changed []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			changed = append(changed, s.name)
		}
	}
	return changed
}
