// Package stats turns raw per-sample container telemetry into normalized,
// validated metric snapshots.
package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// RawSample is one newline-delimited record from the container runtime's
// stats stream. Numeric fields that validation must distinguish from a
// genuine zero are pointers; everything else decodes to its zero value
// when absent.
type RawSample struct {
	Read    string          `json:"read"`
	PreRead string          `json:"preread"`
	CPU     *RawCPU         `json:"cpu_stats"`
	PreCPU  *RawCPU         `json:"precpu_stats"`
	Memory  *RawMemory      `json:"memory_stats"`
	Nets    json.RawMessage `json:"networks"`
	Blkio   *RawBlkio       `json:"blkio_stats"`
	Pids    *RawPids        `json:"pids_stats"`

	// networks decoded from Nets once its shape has been checked.
	networks map[string]RawNetwork
}

// RawCPU is the cpu_stats / precpu_stats block.
type RawCPU struct {
	Usage       *RawCPUUsage   `json:"cpu_usage"`
	SystemUsage *float64       `json:"system_cpu_usage"`
	OnlineCPUs  *float64       `json:"online_cpus"`
	Throttling  *RawThrottling `json:"throttling_data"`
}

type RawCPUUsage struct {
	Total  *float64  `json:"total_usage"`
	PerCPU []float64 `json:"percpu_usage"`
}

type RawThrottling struct {
	Periods          float64 `json:"periods"`
	ThrottledPeriods float64 `json:"throttled_periods"`
	ThrottledTime    float64 `json:"throttled_time"`
}

// RawMemory is the memory_stats block.
type RawMemory struct {
	Usage    *float64 `json:"usage"`
	MaxUsage *float64 `json:"max_usage"`
	Limit    *float64 `json:"limit"`
}

// RawNetwork is one per-interface entry under networks.
type RawNetwork struct {
	RxBytes float64 `json:"rx_bytes"`
	TxBytes float64 `json:"tx_bytes"`
}

// RawBlkio is the blkio_stats block.
type RawBlkio struct {
	IOServiceBytes []RawBlkioEntry `json:"io_service_bytes_recursive"`
}

type RawBlkioEntry struct {
	Op    string  `json:"op"`
	Value float64 `json:"value"`
}

// RawPids is the pids_stats block.
type RawPids struct {
	Current *float64 `json:"current"`
}

// Decode unmarshals one stats line. A decode failure means the line is
// unparsable and counts against the stream's error threshold.
func Decode(line []byte) (*RawSample, error) {
	var raw RawSample
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("decode stats record: %w", err)
	}
	return &raw, nil
}

// networksPresent reports whether the record carries a networks block at
// all (null and absent both count as not present).
func (r *RawSample) networksPresent() bool {
	trimmed := bytes.TrimSpace(r.Nets)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// decodeNetworks parses the networks block. Returns an error when the
// block is present but not a JSON object.
func (r *RawSample) decodeNetworks() error {
	if !r.networksPresent() {
		return nil
	}
	if err := json.Unmarshal(r.Nets, &r.networks); err != nil {
		return fmt.Errorf("networks block is not an object: %w", err)
	}
	return nil
}

// timestamp parses the record's read time.
func (r *RawSample) timestamp() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, r.Read)
}
