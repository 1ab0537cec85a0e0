package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrUnchanged is returned by [Watcher.Reload] when the file content matches
// the configuration already in use.
var ErrUnchanged = errors.New("config: unchanged")

// Watcher keeps the configuration in sync with a file. It polls the file and
// can be asked to reload at once, e.g. on SIGHUP. Edits that fail to parse or
// validate are rejected and the previous configuration stays in effect.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reloadMu serialises reloads so onChange sees changes in order.
	reloadMu sync.Mutex

	mu       sync.Mutex
	current  *Config
	applied  [sha256.Size]byte
	rejected [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the file at path. The error wraps [os.ErrNotExist] when
// the file is missing. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.applied = sha256.Sum256(data)
	return w, nil
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled. It always returns nil so it can share an
// errgroup with the server.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

// Reload reads the file now. It returns [ErrUnchanged] when the content is
// already in effect and the load error when the edit is rejected.
func (w *Watcher) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("config: reload %q: %w", w.path, err)
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	if sum == w.applied {
		w.mu.Unlock()
		return ErrUnchanged
	}
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.mu.Lock()
		w.rejected = sum
		w.mu.Unlock()
		return fmt.Errorf("config: reload %q: %w", w.path, err)
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.applied = sum
	w.mu.Unlock()

	slog.Info("configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}

// poll reloads on change and warns once per rejected file version.
func (w *Watcher) poll() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}
	sum := sha256.Sum256(data)
	w.mu.Lock()
	seen := sum == w.applied || sum == w.rejected
	w.mu.Unlock()
	if seen {
		return
	}

	err = w.Reload()
	if err != nil && !errors.Is(err, ErrUnchanged) {
		slog.Warn("config watcher: keeping previous configuration", "path", w.path, "err", err)
	}
}
