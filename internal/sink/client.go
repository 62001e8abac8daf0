package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influx "github.com/influxdata/influxdb1-client/v2"

	"dockstat/internal/retry"
)

// ErrClosed is returned by every call made after Close, without
// attempting any I/O.
var ErrClosed = errors.New("sink client is closed")

// pingTimeout bounds a single ping round-trip.
const pingTimeout = 5 * time.Second

// Config connects and names the target database.
type Config struct {
	URL      string
	Database string
	Username string
	Password string
	Timeout  time.Duration
	Retry    retry.Policy
}

// Client wraps the InfluxDB HTTP client with retry and error
// classification. All calls share one policy: fatal classes (bad
// credentials, bad database) surface immediately, transient classes are
// retried under jittered exponential backoff.
type Client struct {
	influx influx.Client
	db     string
	policy retry.Policy

	mu     sync.Mutex
	closed bool
}

// NewClient builds a sink client. No I/O happens here; use Ping to
// verify connectivity.
func NewClient(cfg Config) (*Client, error) {
	c, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create influxdb client: %w", err)
	}
	return &Client{influx: c, db: cfg.Database, policy: cfg.Retry}, nil
}

// Ping verifies the sink is reachable, with retry.
func (c *Client) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	return retry.Do(ctx, c.policy, "sink.ping", func() error {
		_, _, err := c.influx.Ping(pingTimeout)
		return err
	})
}

// WritePoints writes one detached batch, with retry.
func (c *Client) WritePoints(ctx context.Context, points []*influx.Point) error {
	if c.isClosed() {
		return ErrClosed
	}
	if len(points) == 0 {
		return nil
	}

	return retry.Do(ctx, c.policy, "sink.write", func() error {
		bp, err := influx.NewBatchPoints(influx.BatchPointsConfig{
			Database:  c.db,
			Precision: "ms",
		})
		if err != nil {
			return err
		}
		bp.AddPoints(points)
		return c.influx.Write(bp)
	})
}

// Query runs one InfluxQL statement against the configured database,
// with retry. Response-level errors count as failures so they go through
// classification too.
func (c *Client) Query(ctx context.Context, cmd string) (*influx.Response, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	var resp *influx.Response
	err := retry.Do(ctx, c.policy, "sink.query", func() error {
		r, err := c.influx.Query(influx.NewQuery(cmd, c.db, ""))
		if err != nil {
			return err
		}
		if r.Error() != nil {
			return r.Error()
		}
		resp = r
		return nil
	})
	return resp, err
}

// EnsureDatabase creates the configured database when it does not exist
// yet. Fatal classification (auth, invalid database name) propagates as
// a hard startup failure.
func (c *Client) EnsureDatabase(ctx context.Context) error {
	resp, err := c.Query(ctx, "SHOW DATABASES")
	if err != nil {
		return fmt.Errorf("list databases: %w", err)
	}
	if databaseListed(resp, c.db) {
		slog.Debug("database exists", "database", c.db)
		return nil
	}

	if _, err := c.Query(ctx, fmt.Sprintf("CREATE DATABASE %q", c.db)); err != nil {
		return fmt.Errorf("create database %q: %w", c.db, err)
	}
	slog.Info("created database", "database", c.db)
	return nil
}

// Close marks the client closed; subsequent calls fail fast.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.influx.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// databaseListed scans a SHOW DATABASES response for a database name.
func databaseListed(resp *influx.Response, name string) bool {
	for _, result := range resp.Results {
		for _, series := range result.Series {
			for _, row := range series.Values {
				if len(row) > 0 {
					if s, ok := row[0].(string); ok && s == name {
						return true
					}
				}
			}
		}
	}
	return false
}
