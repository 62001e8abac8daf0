// Package collector wires discovery, streaming, parsing, batching, and
// shutdown into the running collector process.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"dockstat/config"
	dockeradapter "dockstat/internal/adapter/docker"
	"dockstat/internal/shutdown"
	"dockstat/internal/sink"
	"dockstat/internal/stats"
	"dockstat/internal/stream"
	"dockstat/internal/watcher"
)

// resyncInterval is 30s: long enough to stay cheap, short enough to pick
// up containers whose start event was missed.
const resyncInterval = 30 * time.Second

// Run builds the pipeline and blocks until ctx is done or a fatal error
// occurs. Teardown actions are registered on coord; the caller owns
// triggering it.
func Run(ctx context.Context, cfg *config.Config, coord *shutdown.Coordinator) error {
	rt, err := dockeradapter.NewRuntime()
	if err != nil {
		return err
	}

	client, err := sink.NewClient(sink.Config{
		URL:      cfg.Influx.URL,
		Database: cfg.Influx.Database,
		Username: cfg.Influx.Username,
		Password: cfg.Influx.Password,
		Timeout:  cfg.Influx.Timeout.Std(),
		Retry:    cfg.RetryPolicy(),
	})
	if err != nil {
		return err
	}

	batcher := sink.NewBatcher(ctx, client, cfg.Batch.MaxSize, cfg.Batch.MaxWait.Std())

	manager := &stream.Manager{
		MaxBufferBytes: cfg.Stream.MaxBufferBytes,
		MaxLineBytes:   cfg.Stream.MaxLineBytes,
		Extended:       cfg.ExtendedFields,
		Selection:      stats.NewSelection(cfg.Fields),
		Emit: func(id, name string, snap stats.Snapshot) {
			pt, err := sink.NewPoint(id, name, snap)
			if err != nil {
				slog.Warn("dropping malformed point", "container", id, "err", err)
				return
			}
			batcher.Add(pt)
		},
	}

	w := &watcher.Watcher{Runtime: rt, Streams: manager}
	manager.OnStreamEnd = func(id string) { w.HandleStreamEnd(ctx, id) }

	mon := &watcher.Monitor{
		Runtime: rt,
		OnStart: func(ctx context.Context, id, name string) {
			if err := w.Watch(ctx, id, name); err != nil {
				slog.Warn("failed to watch started container", "container", id, "err", err)
			}
		},
		OnStop: w.Unwatch,
	}

	// Preflight before any container is watched: runtime access first,
	// then the sink. Fatal sink errors (auth, bad database) abort here.
	if err := mon.ValidateAccess(ctx); err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("metrics sink unreachable: %w", err)
	}
	if err := client.EnsureDatabase(ctx); err != nil {
		return err
	}

	coord.Register("watcher", func(context.Context) error {
		w.Shutdown()
		return nil
	})
	// Final flush and client close share one handler so the close can
	// never race the flush write.
	coord.Register("batcher", func(ctx context.Context) error {
		if err := batcher.Shutdown(ctx); err != nil {
			return err
		}
		return client.Close()
	})
	coord.Register("runtime", func(context.Context) error {
		return rt.Close()
	})

	if err := w.WatchRunning(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(ctx) })
	g.Go(func() error { return resyncLoop(ctx, w) })
	return g.Wait()
}

// resyncLoop periodically re-lists running containers and watches any
// that slipped past the event feed. Watch is idempotent, so containers
// already streaming are unaffected.
func resyncLoop(ctx context.Context, w *watcher.Watcher) error {
	ticker := time.NewTicker(resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.WatchRunning(ctx); err != nil {
				slog.Warn("periodic container resync failed", "err", err)
			}
		}
	}
}
