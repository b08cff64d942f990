package config

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// pathWatcher is implemented by providers backed by a single file.
type pathWatcher interface {
	WatchPath() string
}

// ManagerOptions tunes a Manager.
type ManagerOptions struct {
	// PollInterval defaults to one second.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Listener is notified after a new snapshot has been swapped in.
type Listener func(oldCfg, newCfg *Config)

// Manager owns the live config snapshot and reloads it when the backing
// file's content changes. Sessions read Current once at accept time and keep
// that snapshot for their lifetime.
type Manager struct {
	provider ConfigProvider
	logger   *slog.Logger
	interval time.Duration
	path     string

	cur atomic.Pointer[Config]

	stampMu sync.Mutex
	stamp   fileStamp

	listenersMu sync.Mutex
	listeners   []Listener
}

// fileStamp identifies one version of the watched file. Stat fields gate the
// read; the digest decides whether the content actually changed.
type fileStamp struct {
	modTime time.Time
	size    int64
	digest  uint64
}

func NewManager(provider ConfigProvider, opts ManagerOptions) *Manager {
	m := &Manager{
		provider: provider,
		logger:   opts.Logger,
		interval: opts.PollInterval,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.interval <= 0 {
		m.interval = time.Second
	}
	if w, ok := provider.(pathWatcher); ok {
		m.path = w.WatchPath()
	}
	return m
}

// Current returns the latest successfully loaded config, or nil.
func (m *Manager) Current() *Config { return m.cur.Load() }

func (m *Manager) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

func (m *Manager) LoadInitial(ctx context.Context) (*Config, error) {
	cfg, err := m.provider.Load(ctx)
	if err != nil {
		return nil, err
	}
	m.SetCurrent(cfg)
	return cfg, nil
}

// SetCurrent installs cfg without loading or notifying. Used when the caller
// already loaded the file during startup.
func (m *Manager) SetCurrent(cfg *Config) {
	if cfg == nil {
		return
	}
	m.cur.Store(cfg)
	m.remember()
}

// ReloadNow loads the provider unconditionally. On failure the previous
// snapshot stays in place.
func (m *Manager) ReloadNow(ctx context.Context) error {
	cfg, err := m.provider.Load(ctx)
	if err != nil {
		return err
	}
	old := m.cur.Swap(cfg)
	m.remember()
	m.broadcast(old, cfg)
	return nil
}

// Start polls the watched file until ctx ends. It is a no-op for providers
// without a backing file.
func (m *Manager) Start(ctx context.Context) {
	if m.path == "" {
		return
	}
	go m.watch(ctx)
}

func (m *Manager) watch(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		dirty, err := m.modified()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				m.logger.Debug("config: stat failed", "path", m.path, "err", err)
			}
			continue
		}
		if !dirty {
			continue
		}
		if err := m.ReloadNow(ctx); err != nil {
			m.logger.Warn("config: reload failed, keeping previous snapshot", "path", m.path, "err", err)
			continue
		}
		m.logger.Info("config: reloaded", "path", m.path)
	}
}

// modified reports whether the file content differs from the last stamp.
// A touch that leaves the bytes alone refreshes the stamp without a reload.
func (m *Manager) modified() (bool, error) {
	fi, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}

	m.stampMu.Lock()
	defer m.stampMu.Unlock()

	if fi.ModTime().Equal(m.stamp.modTime) && fi.Size() == m.stamp.size {
		return false, nil
	}
	next, err := stampFile(m.path)
	if err != nil {
		return false, err
	}
	same := next.digest == m.stamp.digest && next.size == m.stamp.size
	m.stamp = next
	return !same, nil
}

func (m *Manager) remember() {
	if m.path == "" {
		return
	}
	st, err := stampFile(m.path)
	if err != nil {
		return
	}
	m.stampMu.Lock()
	m.stamp = st
	m.stampMu.Unlock()
}

func (m *Manager) broadcast(oldCfg, newCfg *Config) {
	m.listenersMu.Lock()
	ls := slices.Clone(m.listeners)
	m.listenersMu.Unlock()

	for _, fn := range ls {
		fn(oldCfg, newCfg)
	}
}

func stampFile(path string) (fileStamp, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{
		modTime: fi.ModTime(),
		size:    int64(len(data)),
		digest:  xxhash.Sum64(data),
	}, nil
}
