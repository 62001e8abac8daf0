package stream

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"dockstat/internal/check"
	"dockstat/internal/stats"
)

const (
	// maxConsecutiveErrors is the number of back-to-back unparsable or
	// invalid lines that tears a stream down. One bad record is noise;
	// three in a row means the stream itself is broken.
	maxConsecutiveErrors = 3
	// readChunkSize is the per-read buffer for a stats stream. Records
	// are ~2 KiB, so 8 KiB keeps one read per sample typical.
	readChunkSize = 8 * 1024
)

// Emit receives every validated, selected snapshot extracted from a
// container's stream.
type Emit func(id, name string, snap stats.Snapshot)

// Manager owns the per-container stream registry. Each stream gets one
// reader goroutine; buffer and error-counter state is touched only by
// that goroutine, so the mutex guards just the registry map and states.
type Manager struct {
	MaxBufferBytes int
	MaxLineBytes   int
	Extended       bool
	Selection      *stats.Selection
	Emit           Emit
	// OnStreamEnd fires after a stream has been fully torn down,
	// exactly once per Add, no matter which trigger ended it.
	OnStreamEnd func(id string)

	mu      sync.Mutex
	streams map[string]*streamInfo
}

// streamInfo is the mutable per-container record. Exclusively owned by
// the Manager; the buffer and error counter are touched only by the
// stream's own reader goroutine.
type streamInfo struct {
	id    string
	name  string
	rc    io.ReadCloser
	buf   []byte
	errs  int
	state State
}

// Add registers a stats stream for a container and starts its reader.
// Returns false, without taking ownership of rc, when a live stream for
// the id already exists; the caller must close rc itself.
func (m *Manager) Add(id, name string, rc io.ReadCloser) bool {
	check.Assert(id != "", "stream container id must not be empty")
	check.Assert(rc != nil, "stream handle must not be nil")

	m.mu.Lock()
	if m.streams == nil {
		m.streams = make(map[string]*streamInfo)
	}
	if existing, ok := m.streams[id]; ok && existing.state != StateStopped {
		m.mu.Unlock()
		slog.Debug("stream already live, rejecting duplicate", "container", id)
		return false
	}

	info := &streamInfo{id: id, name: name, rc: rc, state: StateStarting}
	info.transition(StateActive)
	m.streams[id] = info
	m.mu.Unlock()

	slog.Debug("stream started", "container", id, "name", name)
	go m.readLoop(info)
	return true
}

// Remove tears down a container's stream: stops the state machine,
// closes the handle, deletes the registry entry, and fires OnStreamEnd.
// Idempotent: a second call (or a concurrent trigger) is a no-op, which
// guarantees a single cleanup per container.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	info, ok := m.streams[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	return m.teardownLocked(info)
}

// removeOwned is the teardown path for a stream's own reader goroutine.
// The identity check keeps a stale reader, waking after its stream was
// already replaced, from tearing down the replacement.
func (m *Manager) removeOwned(info *streamInfo) bool {
	m.mu.Lock()
	cur, ok := m.streams[info.id]
	if !ok || cur != info {
		m.mu.Unlock()
		return false
	}
	return m.teardownLocked(info)
}

// teardownLocked finishes a removal. Callers hold m.mu; it is released
// before the OnStreamEnd callback so the callback can re-enter Add.
func (m *Manager) teardownLocked(info *streamInfo) bool {
	if info.state == StateStopping || info.state == StateStopped {
		m.mu.Unlock()
		return false
	}
	info.transition(StateStopping)
	_ = info.rc.Close()
	info.transition(StateStopped)
	delete(m.streams, info.id)
	m.mu.Unlock()

	slog.Debug("stream removed", "container", info.id)
	if m.OnStreamEnd != nil {
		m.OnStreamEnd(info.id)
	}
	return true
}

// RemoveAll tears down every live stream. Used at shutdown.
func (m *Manager) RemoveAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Remove(id)
	}
}

// Len reports the number of live streams.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// readLoop pulls chunks off the stream until it errors, ends, or is torn
// down. Any exit routes through Remove, the single cleanup path.
func (m *Manager) readLoop(info *streamInfo) {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := info.rc.Read(chunk)
		if n > 0 {
			if !m.handleData(info, chunk[:n]) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && m.isLive(info) {
				slog.Warn("stream read error", "container", info.id, "err", err)
			}
			m.removeOwned(info)
			return
		}
	}
}

// handleData folds one chunk into the stream buffer and processes every
// complete line in arrival order. Returns false when the stream was torn
// down by the error threshold; the rest of the buffer is abandoned.
func (m *Manager) handleData(info *streamInfo, chunk []byte) bool {
	if !m.isLive(info) {
		return false
	}

	res := ExtractLines(info.buf, chunk, m.MaxBufferBytes, m.MaxLineBytes)
	info.buf = res.Rest
	if res.BufferOverflow {
		slog.Warn("stream buffer overflow, discarded accumulated data",
			"container", info.id, "max_bytes", m.MaxBufferBytes)
	}
	if res.LineOverflow {
		slog.Warn("oversized unterminated line discarded",
			"container", info.id, "max_bytes", m.MaxLineBytes)
	}

	for _, line := range res.Lines {
		if !m.handleLine(info, line) {
			m.removeOwned(info)
			return false
		}
	}
	return true
}

// handleLine parses and validates one line. Returns false once the
// consecutive-error threshold is reached.
func (m *Manager) handleLine(info *streamInfo, line string) bool {
	snap, ok := m.parseLine(info.id, line)
	if !ok {
		info.errs++
		if info.errs >= maxConsecutiveErrors {
			slog.Warn("stream exceeded consecutive parse error threshold, tearing down",
				"container", info.id, "errors", info.errs)
			return false
		}
		return true
	}

	info.errs = 0
	if m.Emit != nil {
		m.Emit(info.id, info.name, snap)
	}
	return true
}

func (m *Manager) parseLine(id, line string) (stats.Snapshot, bool) {
	raw, err := stats.Decode([]byte(line))
	if err != nil {
		slog.Debug("unparsable stats line", "container", id, "err", err)
		return stats.Snapshot{}, false
	}
	if violations := stats.Validate(raw); len(violations) > 0 {
		return stats.Snapshot{}, false
	}

	snap := stats.Parse(raw, m.Extended)
	if m.Selection != nil {
		snap.Fields = m.Selection.Apply(snap.Fields)
	}
	return snap, true
}

func (m *Manager) isLive(info *streamInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.streams[info.id]
	return ok && cur == info && cur.state == StateActive
}
