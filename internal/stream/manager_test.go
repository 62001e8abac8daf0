package stream

import (
	"fmt"
	"io"
	"testing"
	"time"

	"dockstat/internal/stats"
)

// --- helpers ---

type emitted struct {
	id   string
	name string
	snap stats.Snapshot
}

func newTestManager() (*Manager, chan emitted, chan string) {
	emits := make(chan emitted, 16)
	ends := make(chan string, 16)
	m := &Manager{
		MaxBufferBytes: 1 << 20,
		MaxLineBytes:   256 << 10,
		Emit: func(id, name string, snap stats.Snapshot) {
			emits <- emitted{id: id, name: name, snap: snap}
		},
		OnStreamEnd: func(id string) { ends <- id },
	}
	return m, emits, ends
}

// validLine is a minimal structurally valid stats record. preTotal
// controls the previous-sample CPU total.
func validLine(preTotal int) string {
	return fmt.Sprintf(`{"read":"2026-08-26T12:00:00.000000000Z",`+
		`"cpu_stats":{"cpu_usage":{"total_usage":200},"system_cpu_usage":3000,"online_cpus":2},`+
		`"precpu_stats":{"cpu_usage":{"total_usage":%d},"system_cpu_usage":2000},`+
		`"memory_stats":{"usage":1000,"limit":2000},`+
		`"networks":{"eth0":{"rx_bytes":5,"tx_bytes":7}}}`, preTotal)
}

func recvEmit(t *testing.T, ch chan emitted) emitted {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emitted snapshot")
		return emitted{}
	}
}

func recvEnd(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream end")
		return ""
	}
}

func waitForLen(t *testing.T, m *Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Len() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("manager Len() = %d, want %d", m.Len(), want)
}

// --- tests ---

func TestManager_AddRejectsDuplicate(t *testing.T) {
	m, _, ends := newTestManager()
	r1, w1 := io.Pipe()
	defer w1.Close()

	if !m.Add("c1", "web", r1) {
		t.Fatal("first Add should succeed")
	}
	r2, w2 := io.Pipe()
	defer w2.Close()
	if m.Add("c1", "web", r2) {
		t.Fatal("duplicate Add should be rejected")
	}

	m.Remove("c1")
	recvEnd(t, ends)
}

func TestManager_EmitsValidSnapshots(t *testing.T) {
	m, emits, ends := newTestManager()
	r, w := io.Pipe()
	m.Add("c1", "web", r)

	go w.Write([]byte(validLine(100) + "\n"))
	e := recvEmit(t, emits)

	if e.id != "c1" || e.name != "web" {
		t.Errorf("emit identity = %s/%s, want c1/web", e.id, e.name)
	}
	if got := e.snap.Fields["cpu_percent"]; got != 20.0 {
		t.Errorf("cpu_percent = %v, want 20.0", got)
	}
	if got := e.snap.Fields["net_in_bytes"]; got != 5 {
		t.Errorf("net_in_bytes = %v, want 5", got)
	}

	m.Remove("c1")
	recvEnd(t, ends)
}

func TestManager_ErrorThresholdTearsDownStream(t *testing.T) {
	m, emits, ends := newTestManager()
	r, w := io.Pipe()
	m.Add("c1", "web", r)

	go w.Write([]byte("garbage\nmore garbage\neven more\n"))

	if id := recvEnd(t, ends); id != "c1" {
		t.Errorf("stream end id = %q, want c1", id)
	}
	waitForLen(t, m, 0)
	select {
	case e := <-emits:
		t.Errorf("unexpected emit %v after teardown", e)
	default:
	}
}

func TestManager_TeardownAbandonsRestOfChunk(t *testing.T) {
	m, emits, ends := newTestManager()
	r, w := io.Pipe()
	m.Add("c1", "web", r)

	// Three bad lines trip the threshold; the trailing valid line in
	// the same chunk must never be processed.
	go w.Write([]byte("bad\nbad\nbad\n" + validLine(100) + "\n"))

	recvEnd(t, ends)
	select {
	case e := <-emits:
		t.Errorf("emitted %v from abandoned buffer", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_ErrorCounterResetsOnValidLine(t *testing.T) {
	m, emits, ends := newTestManager()
	r, w := io.Pipe()
	m.Add("c1", "web", r)

	go w.Write([]byte("bad\nbad\n" + validLine(100) + "\n"))
	recvEmit(t, emits)
	go w.Write([]byte("bad\nbad\n" + validLine(100) + "\n"))
	recvEmit(t, emits)

	if m.Len() != 1 {
		t.Errorf("Len() = %d, want stream still live", m.Len())
	}

	m.Remove("c1")
	recvEnd(t, ends)
}

func TestManager_RemoveIsIdempotent(t *testing.T) {
	m, _, ends := newTestManager()
	r, _ := io.Pipe()
	m.Add("c1", "web", r)

	if !m.Remove("c1") {
		t.Fatal("first Remove should report removal")
	}
	recvEnd(t, ends)

	if m.Remove("c1") {
		t.Error("second Remove should be a no-op")
	}
	select {
	case id := <-ends:
		t.Errorf("second OnStreamEnd fired for %q", id)
	default:
	}
}

func TestManager_StreamEOFRoutesToTeardown(t *testing.T) {
	m, _, ends := newTestManager()
	r, w := io.Pipe()
	m.Add("c1", "web", r)

	w.Close()

	if id := recvEnd(t, ends); id != "c1" {
		t.Errorf("stream end id = %q, want c1", id)
	}
	waitForLen(t, m, 0)
}

func TestManager_RemoveAll(t *testing.T) {
	m, _, ends := newTestManager()
	for i := range 3 {
		r, _ := io.Pipe()
		m.Add(fmt.Sprintf("c%d", i), "web", r)
	}

	m.RemoveAll()
	for range 3 {
		recvEnd(t, ends)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after RemoveAll, want 0", m.Len())
	}
}

func TestManager_AddAgainAfterRemoval(t *testing.T) {
	m, emits, ends := newTestManager()
	r1, _ := io.Pipe()
	m.Add("c1", "web", r1)
	m.Remove("c1")
	recvEnd(t, ends)

	r2, w2 := io.Pipe()
	if !m.Add("c1", "web", r2) {
		t.Fatal("Add after removal should create a fresh stream")
	}
	go w2.Write([]byte(validLine(100) + "\n"))
	recvEmit(t, emits)
}
