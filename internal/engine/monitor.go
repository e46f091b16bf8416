// Copyright 2025 The Amelia Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/existential-birds/amelia-sub002/internal/log"
)

// MonitorCancelReason is recorded when a worktree disappears mid-run.
const MonitorCancelReason = "Worktree directory no longer exists"

// Monitor periodically verifies that every active worktree still exists
// and carries its .git marker, cancelling workflows whose worktree is
// gone. A filesystem watcher on the worktrees' parent directories triggers
// an immediate sweep on deletes; the periodic sweep remains authoritative
// because watch registration is best effort.
type Monitor struct {
	supervisor *Supervisor
	interval   time.Duration
	logger     *slog.Logger

	cancel  context.CancelFunc
	trigger chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	watched map[string]bool
}

// NewMonitor creates a monitor sweeping at the given interval (default 30s).
func NewMonitor(sup *Supervisor, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		supervisor: sup,
		interval:   interval,
		logger:     log.WithComponent(logger, "monitor"),
		trigger:    make(chan struct{}, 1),
		watched:    make(map[string]bool),
	}
}

// Start launches the sweep loop and the filesystem watcher.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if watcher, err := fsnotify.NewWatcher(); err != nil {
		m.logger.Warn("filesystem watcher unavailable, relying on periodic sweep", log.Error(err))
	} else {
		m.watcher = watcher
		m.wg.Add(1)
		go m.watch(ctx)
	}

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the monitor and waits for its goroutines.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// loop sweeps on the interval or when the watcher requests it.
func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.trigger:
		}
		m.Sweep(ctx)
	}
}

// watch converts delete/rename notifications on worktree parents into
// immediate sweeps.
func (m *Monitor) watch(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				select {
				case m.trigger <- struct{}{}:
				default:
				}
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("filesystem watcher error", log.Error(err))
		}
	}
}

// Sweep checks every active worktree once, cancelling workflows whose
// directory or .git marker is gone.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, path := range m.supervisor.ActiveWorktrees() {
		m.ensureWatched(path)
		if worktreeHealthy(path) {
			continue
		}
		id, ok := m.supervisor.WorkflowByWorktree(path)
		if !ok {
			continue
		}
		m.logger.Warn("worktree missing, cancelling workflow",
			log.WorkflowIDKey, id, log.WorktreeKey, path)
		monitorCancellations.Inc()
		if _, err := m.supervisor.CancelWithReason(ctx, id, MonitorCancelReason); err != nil {
			m.logger.Error("failed to cancel orphaned workflow",
				log.WorkflowIDKey, id, log.Error(err))
		}
	}
}

// ensureWatched registers the worktree's parent directory with the
// filesystem watcher once.
func (m *Monitor) ensureWatched(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher == nil {
		return
	}
	parent := filepath.Dir(path)
	if m.watched[parent] {
		return
	}
	if err := m.watcher.Add(parent); err != nil {
		m.logger.Debug("cannot watch worktree parent", "path", parent, log.Error(err))
		return
	}
	m.watched[parent] = true
}

// worktreeHealthy checks the directory and its .git marker, which may be a
// file (linked worktree) or a directory (main repository).
func worktreeHealthy(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(path, ".git"))
	return err == nil
}
