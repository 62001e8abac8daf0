// Package watcher discovers running containers, keeps one live stats
// stream per container, and reacts to container lifecycle events.
package watcher

import (
	"context"
	"io"

	"dockstat"
)

// Runtime is the container-host surface the watcher consumes.
type Runtime interface {
	ListRunning(ctx context.Context) ([]dockstat.Container, error)
	// Inspect reports a vanished container as Exists=false, not as an
	// error.
	Inspect(ctx context.Context, id string) (dockstat.ContainerInfo, error)
	// OpenStats opens a live stats stream: newline-delimited JSON
	// records until the container stops or the handle is closed.
	OpenStats(ctx context.Context, id string) (io.ReadCloser, error)
	// Events subscribes to container lifecycle events. The error
	// channel yields at most one error, after which the event channel
	// is dead.
	Events(ctx context.Context) (<-chan dockstat.ContainerEvent, <-chan error)
	Ping(ctx context.Context) error
	Close() error
}
