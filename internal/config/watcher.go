package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fingerprint identifies one version of the config file. size and modTime
// are the cheap check; sum decides whether the content really changed.
type fingerprint struct {
	size    int64
	modTime time.Time
	sum     [sha256.Size]byte
}

func (f fingerprint) sameStat(info os.FileInfo) bool {
	return f.size == info.Size() && f.modTime.Equal(info.ModTime())
}

// Watcher keeps the config file at path loaded. It polls the file, and
// [Watcher.Reload] forces a check (main calls it on SIGHUP). Each content
// change that still validates is passed to onChange with the previous
// config; an invalid edit is logged once and the last good config stays
// current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	prepare  func(*Config)

	// reloadMu serialises Reload so onChange calls never overlap.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	fp      fingerprint
	lastErr string

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds; zero or
// negative keeps it.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithPrepare runs fn on every freshly loaded config before it becomes
// current, e.g. to overlay environment variables with [ApplyEnv].
func WithPrepare(fn func(*Config)) WatcherOption {
	return func(w *Watcher) { w.prepare = fn }
}

// NewWatcher loads path and starts polling it. The initial load must
// succeed.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.fp = cfg, fp

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Reload re-reads the file regardless of its modification time and reports
// whether a new config became current. A file that fails to load or
// validate returns the error and leaves the current config in place.
func (w *Watcher) Reload() (bool, error) {
	return w.reload(true)
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if _, err := w.reload(false); err != nil {
				w.warnOnce(err)
			}
		}
	}
}

func (w *Watcher) reload(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, err
		}
		w.mu.Lock()
		unchanged := w.fp.sameStat(info)
		w.mu.Unlock()
		if unchanged {
			return false, nil
		}
	}

	cfg, fp, err := w.load()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if fp.sum == w.fp.sum {
		// Touched, not edited.
		w.fp = fp
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.fp, w.lastErr = cfg, fp, ""
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

// warnOnce logs err unless it repeats the previous poll's error.
func (w *Watcher) warnOnce(err error) {
	msg := err.Error()
	w.mu.Lock()
	repeat := msg == w.lastErr
	w.lastErr = msg
	w.mu.Unlock()
	if !repeat {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
	}
}

func (w *Watcher) load() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	if w.prepare != nil {
		w.prepare(cfg)
	}
	return cfg, fingerprint{size: info.Size(), modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
