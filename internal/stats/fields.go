package stats

import (
	"log/slog"
	"sync"
)

// SelectionEssential is the sentinel that selects the fixed 5-field
// essential subset instead of an explicit name list.
const SelectionEssential = "essential"

// EssentialFields is the fixed subset selected by the essential sentinel.
var EssentialFields = []string{
	"cpu_percent",
	"mem_used",
	"mem_total",
	"net_in_bytes",
	"net_out_bytes",
}

// Selection is the configured field-selection policy, applied to every
// snapshot after extraction. The zero value selects all fields.
type Selection struct {
	names map[string]struct{} // nil means select everything

	mu     sync.Mutex
	warned map[string]struct{}
}

// NewSelection builds a Selection from the configured field list. Empty
// selects all fields; the single entry "essential" selects the fixed
// essential subset; anything else is an explicit name list.
func NewSelection(fields []string) *Selection {
	if len(fields) == 0 {
		return &Selection{}
	}
	if len(fields) == 1 && fields[0] == SelectionEssential {
		fields = EssentialFields
	}
	names := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		names[f] = struct{}{}
	}
	return &Selection{names: names, warned: make(map[string]struct{})}
}

// Apply filters a snapshot's fields down to the selected names. Names
// that were requested but never produced are logged once, not errored.
func (s *Selection) Apply(fields map[string]float64) map[string]float64 {
	if s.names == nil {
		return fields
	}

	out := make(map[string]float64, len(s.names))
	for name := range s.names {
		if v, ok := fields[name]; ok {
			out[name] = v
		} else {
			s.warnMissing(name)
		}
	}
	return out
}

func (s *Selection) warnMissing(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.warned[name]; done {
		return
	}
	s.warned[name] = struct{}{}
	slog.Warn("requested field not produced by parser", "field", name)
}
