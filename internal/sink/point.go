// Package sink persists metric snapshots to InfluxDB: point shaping,
// size/time batching, and a retrying client with error classification.
package sink

import (
	"fmt"

	influx "github.com/influxdata/influxdb1-client/v2"

	"dockstat/internal/stats"
)

// Measurement is the single measurement every container data point is
// written under.
const Measurement = "docker_stats"

// NewPoint maps one snapshot plus its container identity to a sink-ready
// data point. Point shape (non-empty fields, valid tag values) is
// validated here, before the point can reach a batch.
func NewPoint(id, name string, snap stats.Snapshot) (*influx.Point, error) {
	if len(snap.Fields) == 0 {
		return nil, fmt.Errorf("snapshot for %s has no fields", id)
	}

	tags := map[string]string{
		"container_id":   id,
		"container_name": name,
	}
	fields := make(map[string]interface{}, len(snap.Fields))
	for k, v := range snap.Fields {
		fields[k] = v
	}

	pt, err := influx.NewPoint(Measurement, tags, fields, snap.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("build point for %s: %w", id, err)
	}
	return pt, nil
}
