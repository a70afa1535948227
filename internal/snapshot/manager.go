// Package snapshot publishes immutable vector index snapshots and hot-swaps
// to newer ones as snapshot files appear on disk. Queries in flight keep the
// snapshot they started with; only new queries see a swap.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/stratolab/citeguard/internal/vector"
)

// SnapshotExt is the file extension snapshot files must carry. The filename
// stem is expected to match the version recorded inside the file.
const SnapshotExt = ".vec"

const defaultDebounce = 400 * time.Millisecond

// Manager owns the currently published snapshot. Current is a single atomic
// load, so the hot path never takes a lock.
type Manager struct {
	dir      string
	debounce time.Duration
	logger   *zap.Logger

	current atomic.Pointer[published]

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
}

type published struct {
	index vector.Index
}

// NewManager creates a manager over the snapshot directory.
func NewManager(dir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dir:         dir,
		debounce:    defaultDebounce,
		logger:      logger,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
}

// Current returns the published snapshot, or nil when none has loaded yet.
// Callers hold the returned index for the whole invocation so a concurrent
// swap never changes what a query sees.
func (m *Manager) Current() vector.Index {
	p := m.current.Load()
	if p == nil {
		return nil
	}
	return p.index
}

// Publish installs idx as the current snapshot if it is newer than the one
// already published. Versions compare lexicographically, so timestamped
// names like 20260823T1500 order naturally.
func (m *Manager) Publish(idx vector.Index) bool {
	for {
		old := m.current.Load()
		if old != nil && old.index.Version() >= idx.Version() {
			m.logger.Debug("ignoring stale snapshot",
				zap.String("offered", idx.Version()),
				zap.String("current", old.index.Version()),
			)
			return false
		}
		if m.current.CompareAndSwap(old, &published{index: idx}) {
			prev := ""
			if old != nil {
				prev = old.index.Version()
			}
			m.logger.Info("snapshot published",
				zap.String("version", idx.Version()),
				zap.String("previous", prev),
				zap.Int("size", idx.Size()),
			)
			return true
		}
	}
}

// LoadExisting scans the directory and publishes the newest snapshot found.
// A missing or empty directory is not an error; the manager simply starts
// with no snapshot.
func (m *Manager) LoadExisting() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading snapshot directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), SnapshotExt) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	newest := filepath.Join(m.dir, names[len(names)-1])
	idx, err := vector.LoadSnapshot(newest)
	if err != nil {
		return fmt.Errorf("loading snapshot %s: %w", newest, err)
	}
	m.Publish(idx)
	return nil
}

// Start begins watching the snapshot directory for new snapshot files.
// Events are debounced per path so a file still being written is loaded once,
// after writes settle. Runs until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := watcher.Add(m.dir); err != nil {
		_ = watcher.Close()
		m.mu.Unlock()
		return fmt.Errorf("watching snapshot directory: %w", err)
	}
	m.watcher = watcher
	m.started = true
	m.mu.Unlock()
	m.logger.Debug("snapshot watcher started", zap.String("dir", m.dir))
	go m.run(ctx)
	return nil
}

func (m *Manager) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				m.logger.Debug("snapshot watcher error", zap.Error(err))
			}
		}
	}
}

func (m *Manager) handleEvent(ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, SnapshotExt) {
		return
	}
	switch ev.Op {
	case fsnotify.Create, fsnotify.Write:
		m.debounceLoad(ev.Name)
	case fsnotify.Remove:
		// Removal never unpublishes: the loaded snapshot stays valid in memory.
		m.cancelDebounce(ev.Name)
	}
}

func (m *Manager) debounceLoad(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.debounceMap[path]; ok {
		t.Stop()
	}
	t := time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		delete(m.debounceMap, path)
		m.mu.Unlock()
		m.loadAndPublish(path)
	})
	m.debounceMap[path] = t
}

func (m *Manager) cancelDebounce(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.debounceMap[path]; ok {
		t.Stop()
		delete(m.debounceMap, path)
	}
}

func (m *Manager) loadAndPublish(path string) {
	idx, err := vector.LoadSnapshot(path)
	if err != nil {
		m.logger.Warn("failed to load snapshot, keeping current",
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	m.Publish(idx)
}

// Stop stops the watcher and releases resources. The published snapshot
// remains available through Current.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started || m.watcher == nil {
		m.mu.Unlock()
		return
	}
	for path, t := range m.debounceMap {
		t.Stop()
		delete(m.debounceMap, path)
	}
	_ = m.watcher.Close()
	m.watcher = nil
	m.started = false
	m.mu.Unlock()
	m.stopOnce.Do(func() { close(m.done) })
}
