// Package docker implements watcher.Runtime using the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"dockstat"
	"dockstat/internal/watcher"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

var _ watcher.Runtime = (*Runtime)(nil)

// Runtime adapts a Docker Engine client to the watcher's Runtime surface.
type Runtime struct {
	cli *client.Client
}

// NewRuntime creates a Runtime with a new Docker client from the
// environment (DOCKER_HOST et al), negotiating the API version.
func NewRuntime(opts ...client.Opt) (*Runtime, error) {
	opts = append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// NewRuntimeFromClient wraps an existing Docker client.
func NewRuntimeFromClient(cli *client.Client) *Runtime {
	return &Runtime{cli: cli}
}

func (r *Runtime) ListRunning(ctx context.Context) ([]dockstat.Container, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]dockstat.Container, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, dockstat.Container{ID: c.ID, Name: name})
	}
	return out, nil
}

func (r *Runtime) Inspect(ctx context.Context, id string) (dockstat.ContainerInfo, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return dockstat.ContainerInfo{Exists: false}, nil
		}
		return dockstat.ContainerInfo{}, fmt.Errorf("inspect container %q: %w", id, err)
	}
	running := info.State != nil && info.State.Running
	return dockstat.ContainerInfo{
		Exists:  true,
		Running: running,
		Name:    strings.TrimPrefix(info.Name, "/"),
	}, nil
}

// OpenStats opens the live stats stream: one JSON record per sample
// interval until the container stops or the reader is closed.
func (r *Runtime) OpenStats(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := r.cli.ContainerStats(ctx, id, true)
	if err != nil {
		return nil, fmt.Errorf("open stats stream %q: %w", id, err)
	}
	return resp.Body, nil
}

func (r *Runtime) Events(ctx context.Context) (<-chan dockstat.ContainerEvent, <-chan error) {
	f := filters.NewArgs()
	f.Add("type", string(events.ContainerEventType))

	msgs, errs := r.cli.Events(ctx, events.ListOptions{Filters: f})

	out := make(chan dockstat.ContainerEvent)
	outErrs := make(chan error, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				outErrs <- err
				return
			case msg := <-msgs:
				select {
				case out <- dockstat.ContainerEvent{Action: string(msg.Action), ID: msg.Actor.ID}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, outErrs
}

func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	return nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}
