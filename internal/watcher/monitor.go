package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dockstat"
)

const (
	// probeTimeout bounds the preflight event-feed probe. The probe
	// only has to confirm the subscription opens, not see an event.
	probeTimeout = 2 * time.Second
)

// Monitor subscribes to the runtime's container lifecycle events and
// maps them to watch/unwatch calls.
type Monitor struct {
	Runtime Runtime
	// OnStart is invoked with the container's id and display name when
	// the runtime reports a container start.
	OnStart func(ctx context.Context, id, name string)
	// OnStop is invoked on stop, die, and kill.
	OnStop func(id string)
}

// Run consumes the event feed until ctx is done. A dead feed is a
// process-fatal condition: the collector cannot observe container churn
// without it, so the error propagates and triggers shutdown.
func (m *Monitor) Run(ctx context.Context) error {
	events, errs := m.Runtime.Events(ctx)
	slog.Info("subscribed to container events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			m.handle(ctx, ev)
		case err := <-errs:
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("container event feed failed: %w", err)
		}
	}
}

func (m *Monitor) handle(ctx context.Context, ev dockstat.ContainerEvent) {
	if ev.ID == "" {
		slog.Debug("skipping malformed container event", "action", ev.Action)
		return
	}

	switch ev.Action {
	case dockstat.ActionStart:
		// The event payload has no display name; inspect for it. A
		// container can vanish between event and inspect; log and
		// move on, the die event will never need the name.
		info, err := m.Runtime.Inspect(ctx, ev.ID)
		if err != nil {
			slog.Debug("inspect on start event failed", "container", ev.ID, "err", err)
			return
		}
		if !info.Exists {
			slog.Debug("container gone before start event handled", "container", ev.ID)
			return
		}
		m.OnStart(ctx, ev.ID, info.Name)
	case dockstat.ActionStop, dockstat.ActionDie, dockstat.ActionKill:
		m.OnStop(ev.ID)
	}
}

// ValidateAccess is the startup preflight: ping the runtime, then hold a
// short probe subscription open. It runs before any container is watched
// and fails fast with a remediation-oriented message.
func (m *Monitor) ValidateAccess(ctx context.Context) error {
	if err := m.Runtime.Ping(ctx); err != nil {
		return remediate(err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, errs := m.Runtime.Events(probeCtx)
	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return remediate(fmt.Errorf("subscribe to event feed: %w", err))
		}
	case <-probeCtx.Done():
		// Subscription stayed open for the probe window: good.
	}

	slog.Info("container runtime access validated")
	return nil
}

// remediate wraps a runtime access failure with operator guidance.
func remediate(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		return fmt.Errorf("container runtime access denied, add this user to the docker group or run with elevated privileges: %w", err)
	case strings.Contains(msg, "no such file or directory"),
		strings.Contains(msg, "cannot connect"),
		strings.Contains(msg, "connection refused"):
		return fmt.Errorf("container runtime endpoint not found, is the docker daemon running and DOCKER_HOST correct? %w", err)
	default:
		return fmt.Errorf("container runtime access check failed: %w", err)
	}
}
