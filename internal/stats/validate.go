package stats

import "log/slog"

// Validate runs every structural check against a decoded record and
// returns the full list of violations, not just the first. An empty
// slice means the record is safe to hand to Parse.
//
// A previous-sample total_usage of 0 is accepted: that is the expected
// shape of the very first sample for a container.
func Validate(raw *RawSample) []string {
	var violations []string

	if _, err := raw.timestamp(); err != nil {
		violations = append(violations, "read timestamp missing or unparsable")
	}
	if raw.CPU == nil || raw.CPU.Usage == nil || raw.CPU.Usage.Total == nil {
		violations = append(violations, "cpu_stats.cpu_usage.total_usage missing")
	}
	if raw.CPU == nil || raw.CPU.SystemUsage == nil {
		violations = append(violations, "cpu_stats.system_cpu_usage missing")
	}
	if raw.PreCPU == nil || raw.PreCPU.Usage == nil || raw.PreCPU.Usage.Total == nil {
		violations = append(violations, "precpu_stats.cpu_usage.total_usage missing")
	}
	if raw.Memory == nil || raw.Memory.Usage == nil {
		violations = append(violations, "memory_stats.usage missing")
	}
	if raw.Memory == nil || raw.Memory.Limit == nil {
		violations = append(violations, "memory_stats.limit missing")
	}
	if err := raw.decodeNetworks(); err != nil {
		violations = append(violations, "networks block present but not an object")
	}

	if len(violations) > 0 {
		slog.Debug("stats record failed validation", "violations", violations)
	}
	return violations
}
