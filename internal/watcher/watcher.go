package watcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// StreamRegistry is the stream.Manager surface the watcher drives.
type StreamRegistry interface {
	Add(id, name string, rc io.ReadCloser) bool
	Remove(id string) bool
	RemoveAll()
}

// Watcher opens and closes stats streams as containers come and go, and
// restarts streams that dropped while their container is still running.
type Watcher struct {
	Runtime Runtime
	Streams StreamRegistry

	mu           sync.Mutex
	shuttingDown bool
}

// Watch opens a stats stream for a container. Duplicate calls for an
// already-live id are rejected by the stream registry, which makes Watch
// idempotent. No-op once shutdown has begun.
func (w *Watcher) Watch(ctx context.Context, id, name string) error {
	if w.isShuttingDown() {
		return nil
	}

	rc, err := w.Runtime.OpenStats(ctx, id)
	if err != nil {
		return fmt.Errorf("open stats stream for %s: %w", id, err)
	}
	if !w.Streams.Add(id, name, rc) {
		_ = rc.Close()
		return nil
	}
	slog.Info("watching container", "container", id, "name", name)
	return nil
}

// Unwatch tears down a container's stream, if any.
func (w *Watcher) Unwatch(id string) {
	if w.Streams.Remove(id) {
		slog.Info("unwatched container", "container", id)
	}
}

// WatchRunning lists all currently running containers and opens a stream
// for each. Called once at startup; per-container failures are logged,
// not propagated, so one unwatchable container cannot block the rest.
func (w *Watcher) WatchRunning(ctx context.Context) error {
	containers, err := w.Runtime.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("list running containers: %w", err)
	}

	for _, c := range containers {
		if err := w.Watch(ctx, c.ID, c.Name); err != nil {
			slog.Warn("failed to watch container", "container", c.ID, "err", err)
		}
	}
	slog.Debug("reconciled running containers", "count", len(containers))
	return nil
}

// HandleStreamEnd is wired to the stream manager's OnStreamEnd callback.
// A stream that ended while its container still runs is reopened
// (self-healing from transient drops); a vanished or stopped container
// is left alone.
func (w *Watcher) HandleStreamEnd(ctx context.Context, id string) {
	if w.isShuttingDown() {
		return
	}

	info, err := w.Runtime.Inspect(ctx, id)
	if err != nil {
		slog.Debug("inspect after stream end failed", "container", id, "err", err)
		return
	}
	if !info.Exists || !info.Running {
		slog.Debug("stream ended for stopped container", "container", id)
		return
	}

	slog.Info("stream ended while container still running, restarting", "container", id)
	if err := w.Watch(ctx, id, info.Name); err != nil {
		slog.Warn("failed to restart stream", "container", id, "err", err)
	}
}

// Shutdown makes every subsequent watch call a no-op, then tears down
// all live streams.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	w.shuttingDown = true
	w.mu.Unlock()

	w.Streams.RemoveAll()
}

func (w *Watcher) isShuttingDown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shuttingDown
}
