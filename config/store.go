package config

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"completiontester/logger"
	"completiontester/types"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors produce on save
const reloadDebounce = 75 * time.Millisecond

// Store holds the live settings. Reads always return a copy.
type Store struct {
	path string

	mu        sync.RWMutex
	current   Settings
	listeners map[string][]func(Settings)
}

// NewStore loads path and returns a store for it
func NewStore(path string) (*Store, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, current: s, listeners: make(map[string][]func(Settings))}, nil
}

// NewStaticStore returns a store that is never reloaded from disk
func NewStaticStore(s Settings) *Store {
	return &Store{current: s.Sanitize(), listeners: make(map[string][]func(Settings))}
}

// Path returns the backing file, or "" for a static store
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns the current settings as the loop's config snapshot
func (s *Store) Snapshot() types.Config {
	return s.Settings().Core()
}

// Settings returns a copy of the full current settings
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.current
	c.Neovim.Commands = maps.Clone(c.Neovim.Commands)
	return c
}

// OnChange registers fn to run with the new settings whenever the setting at
// path changes on reload
func (s *Store) OnChange(path string, fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[path] = append(s.listeners[path], fn)
}

// Update replaces the settings and notifies listeners of changed paths
func (s *Store) Update(next Settings) {
	next = next.Sanitize()

	s.mu.Lock()
	changed := changedPaths(s.current, next)
	s.current = next
	var notify []func(Settings)
	for _, p := range changed {
		notify = append(notify, s.listeners[p]...)
	}
	s.mu.Unlock()

	if len(changed) > 0 {
		logger.Info("config: changed %v", changed)
	}
	for _, fn := range notify {
		fn(next)
	}
}

// Reload re-reads the backing file
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	next, err := Load(s.path)
	if err != nil {
		return err
	}
	s.Update(next)
	return nil
}

// Watch reloads the store whenever its file is written, until ctx is done.
// The parent directory is watched so atomic renames are seen too.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer w.Close()

	target, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(reloadDebounce)
		case <-debounce:
			debounce = nil
			if err := s.Reload(); err != nil {
				logger.Warn("config: reload failed, keeping previous settings: %v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config: watch error: %v", err)
		}
	}
}

func changedPaths(a, b Settings) []string {
	var out []string
	add := func(changed bool, path string) {
		if changed {
			out = append(out, path)
		}
	}
	add(a.Mode != b.Mode, PathMode)
	add(a.InlineTimeout != b.InlineTimeout, PathInlineTimeout)
	add(a.SuggestTimeout != b.SuggestTimeout, PathSuggestTimeout)
	add(a.LoopDelay != b.LoopDelay, PathLoopDelay)
	add(a.PauseOnUserTyping != b.PauseOnUserTyping, PathPauseOnUserTyping)
	add(a.ShowTitleButtonsWithoutFocus != b.ShowTitleButtonsWithoutFocus, PathShowTitleButtonsWithoutFocus)
	add(a.LogLevel != b.LogLevel, PathLogLevel)
	add(a.MetricsAddr != b.MetricsAddr, PathMetricsAddr)
	add(a.TargetPlugin != b.TargetPlugin, PathTargetPlugin)
	add(a.Neovim.Address != b.Neovim.Address || !maps.Equal(a.Neovim.Commands, b.Neovim.Commands), PathNeovim)
	return out
}
