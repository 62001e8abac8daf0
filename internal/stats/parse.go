package stats

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Snapshot is a normalized stats sample: named numeric fields plus the
// sample timestamp. Immutable once produced.
type Snapshot struct {
	Fields    map[string]float64
	Timestamp time.Time
}

// fieldRule derives one named metric from a raw record. ok=false means
// the source value is absent and the field is omitted, never zeroed.
type fieldRule struct {
	name    string
	extract func(*RawSample) (float64, bool)
}

// summaryFields is the fixed extraction table for the scalar metrics.
// Per-interface and per-core fields are dynamic and handled separately.
var summaryFields = []fieldRule{
	{"cpu_percent", func(r *RawSample) (float64, bool) {
		return cpuPercent(r), true
	}},
	{"mem_used", func(r *RawSample) (float64, bool) {
		if r.Memory == nil {
			return 0, false
		}
		return deref(r.Memory.Usage)
	}},
	{"mem_total", func(r *RawSample) (float64, bool) {
		if r.Memory == nil {
			return 0, false
		}
		return deref(r.Memory.Limit)
	}},
	{"mem_max", func(r *RawSample) (float64, bool) {
		if r.Memory == nil {
			return 0, false
		}
		return deref(r.Memory.MaxUsage)
	}},
	{"mem_percent", func(r *RawSample) (float64, bool) {
		if r.Memory == nil {
			return 0, false
		}
		used, ok1 := deref(r.Memory.Usage)
		limit, ok2 := deref(r.Memory.Limit)
		if !ok1 || !ok2 || limit <= 0 {
			return 0, false
		}
		return used / limit * 100, true
	}},
	{"net_in_bytes", func(r *RawSample) (float64, bool) {
		in, _ := netTotals(r)
		return in, true
	}},
	{"net_out_bytes", func(r *RawSample) (float64, bool) {
		_, out := netTotals(r)
		return out, true
	}},
	{"pids_current", func(r *RawSample) (float64, bool) {
		if r.Pids == nil {
			return 0, false
		}
		return deref(r.Pids.Current)
	}},
	{"online_cpus", func(r *RawSample) (float64, bool) {
		if r.CPU == nil {
			return 0, false
		}
		return deref(r.CPU.OnlineCPUs)
	}},
	{"cpu_throttling_periods", func(r *RawSample) (float64, bool) {
		if r.CPU == nil || r.CPU.Throttling == nil {
			return 0, false
		}
		return r.CPU.Throttling.Periods, true
	}},
	{"cpu_throttled_periods", func(r *RawSample) (float64, bool) {
		if r.CPU == nil || r.CPU.Throttling == nil {
			return 0, false
		}
		return r.CPU.Throttling.ThrottledPeriods, true
	}},
	{"cpu_throttled_time", func(r *RawSample) (float64, bool) {
		if r.CPU == nil || r.CPU.Throttling == nil {
			return 0, false
		}
		return r.CPU.Throttling.ThrottledTime, true
	}},
	{"preread_time_ms", func(r *RawSample) (float64, bool) {
		t, err := time.Parse(time.RFC3339Nano, r.PreRead)
		if err != nil || t.UnixMilli() < 0 {
			return 0, false
		}
		return float64(t.UnixMilli()), true
	}},
}

// blkioOps are the operation types summed out of io_service_bytes_recursive.
var blkioOps = []string{"read", "write", "sync", "async", "total"}

// Parse derives a Snapshot from a validated record. Extended extraction
// additionally emits per-interface, per-core, and block-I/O fields.
// Fields whose source value is missing or not finite are omitted.
func Parse(raw *RawSample, extended bool) Snapshot {
	_ = raw.decodeNetworks()

	ts, _ := raw.timestamp()
	fields := make(map[string]float64, len(summaryFields))

	for _, rule := range summaryFields {
		v, ok := rule.extract(raw)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		fields[rule.name] = v
	}
	fields["read_time_ms"] = float64(ts.UnixMilli())

	if extended {
		extractExtended(raw, fields)
	}

	return Snapshot{Fields: fields, Timestamp: ts}
}

func extractExtended(raw *RawSample, fields map[string]float64) {
	for iface, n := range raw.networks {
		name := sanitizeName(iface)
		fields["net_"+name+"_in_bytes"] = n.RxBytes
		fields["net_"+name+"_out_bytes"] = n.TxBytes
	}

	if raw.CPU != nil && raw.CPU.Usage != nil {
		for i, v := range raw.CPU.Usage.PerCPU {
			fields[fmt.Sprintf("cpu_core_%d", i)] = v
		}
	}

	if raw.Blkio != nil && len(raw.Blkio.IOServiceBytes) > 0 {
		sums := make(map[string]float64, len(blkioOps))
		for _, e := range raw.Blkio.IOServiceBytes {
			sums[strings.ToLower(e.Op)] += e.Value
		}
		for _, op := range blkioOps {
			if v, ok := sums[op]; ok {
				fields["blkio_"+op+"_bytes"] = v
			}
		}
	}
}

// cpuPercent computes CPU utilization from the current and previous
// sample deltas. The result is pinned to 0 unless the system delta, the
// cpu delta, and the previous total are all positive: a previous total of
// 0 is the first observed sample, where the delta would be a spurious
// spike covering the container's whole lifetime.
func cpuPercent(raw *RawSample) float64 {
	cur := raw.CPU
	pre := raw.PreCPU
	if cur == nil || cur.Usage == nil || cur.Usage.Total == nil ||
		pre == nil || pre.Usage == nil || pre.Usage.Total == nil {
		return 0
	}

	curTotal := *cur.Usage.Total
	preTotal := *pre.Usage.Total
	curSystem := zeroIfNil(cur.SystemUsage)
	preSystem := zeroIfNil(pre.SystemUsage)

	cpuDelta := curTotal - preTotal
	systemDelta := curSystem - preSystem
	if systemDelta <= 0 || cpuDelta <= 0 || preTotal <= 0 {
		return 0
	}
	return (cpuDelta / systemDelta) * onlineCPUs(cur) * 100
}

// onlineCPUs falls back to the per-core sample count when the runtime
// omits online_cpus (older cgroup v1 hosts), and to 1 when both are gone.
func onlineCPUs(cpu *RawCPU) float64 {
	if cpu.OnlineCPUs != nil && *cpu.OnlineCPUs > 0 {
		return *cpu.OnlineCPUs
	}
	if cpu.Usage != nil && len(cpu.Usage.PerCPU) > 0 {
		return float64(len(cpu.Usage.PerCPU))
	}
	return 1
}

// netTotals sums rx/tx across all interfaces. A record without a
// networks block legitimately totals to 0.
func netTotals(raw *RawSample) (in, out float64) {
	for _, n := range raw.networks {
		in += n.RxBytes
		out += n.TxBytes
	}
	return in, out
}

// sanitizeName makes an interface name safe for use inside a field name.
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

func deref(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

func zeroIfNil(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
