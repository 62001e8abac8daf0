// Package shutdown coordinates process teardown: named async handlers,
// run concurrently, each bounded by a timeout, triggered exactly once.
package shutdown

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds each handler and is the default overall bound.
const DefaultTimeout = 10 * time.Second

// settleGrace is the extra slack past the handler timeout before the
// coordinator stops waiting for stragglers.
const settleGrace = 500 * time.Millisecond

type handler struct {
	name string
	fn   func(ctx context.Context) error
}

// Coordinator is the process-wide registry of teardown actions. A single
// instance is constructed at startup and handed to everything that needs
// to observe or cause shutdown.
type Coordinator struct {
	timeout time.Duration

	mu        sync.Mutex
	handlers  []handler
	triggered bool
	done      chan struct{}
}

// New creates a coordinator with the given per-handler timeout;
// zero means DefaultTimeout.
func New(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{timeout: timeout, done: make(chan struct{})}
}

// Register adds a named teardown action. Registrations after shutdown
// has begun are rejected with a warning; they could never be awaited.
func (c *Coordinator) Register(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.triggered {
		slog.Warn("shutdown already triggered, ignoring handler registration", "handler", name)
		return
	}
	c.handlers = append(c.handlers, handler{name: name, fn: fn})
}

// Trigger starts shutdown. Idempotent: a second trigger while one is in
// flight is a no-op. All handlers run concurrently; a failure or timeout
// in one never aborts the others. Done is closed after all handlers
// settle or the overall bound expires.
func (c *Coordinator) Trigger(reason string) {
	c.mu.Lock()
	if c.triggered {
		c.mu.Unlock()
		return
	}
	c.triggered = true
	handlers := c.handlers
	c.mu.Unlock()

	slog.Info("shutting down", "reason", reason, "handlers", len(handlers), "timeout", c.timeout)

	go func() {
		defer close(c.done)

		var wg sync.WaitGroup
		for _, h := range handlers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.run(h)
			}()
		}

		settled := make(chan struct{})
		go func() {
			wg.Wait()
			close(settled)
		}()

		select {
		case <-settled:
			slog.Info("shutdown complete")
		case <-time.After(c.timeout + settleGrace):
			slog.Warn("shutdown timed out waiting for handlers")
		}
	}()
}

// run executes one handler, raced against the per-handler timeout.
func (c *Coordinator) run(h handler) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- h.fn(ctx) }()

	select {
	case err := <-result:
		if err != nil {
			slog.Warn("shutdown handler failed", "handler", h.name, "err", err)
			return
		}
		slog.Info("shutdown handler finished", "handler", h.name)
	case <-ctx.Done():
		slog.Warn("shutdown handler timed out", "handler", h.name, "timeout", c.timeout)
	}
}

// Done is closed once shutdown has fully settled (or timed out). The
// process should exit as soon as it is closed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Triggered reports whether shutdown has begun.
func (c *Coordinator) Triggered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggered
}

// Go runs fn on a new goroutine, converting a panic into a clean
// shutdown instead of a crash: an unknown failure mode prefers a
// bounded-time exit over an inconsistent running state.
func (c *Coordinator) Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in goroutine", "goroutine", name, "panic", r)
				c.Trigger("panic in " + name)
			}
		}()
		fn()
	}()
}
