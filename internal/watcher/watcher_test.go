package watcher

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"dockstat"
)

// --- fakes ---

type fakeRuntime struct {
	mu         sync.Mutex
	containers []dockstat.Container
	inspect    map[string]dockstat.ContainerInfo
	inspectErr error
	listErr    error
	openErr    error
	pingErr    error
	opened     []string
	events     chan dockstat.ContainerEvent
	errs       chan error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		inspect: make(map[string]dockstat.ContainerInfo),
		events:  make(chan dockstat.ContainerEvent, 16),
		errs:    make(chan error, 1),
	}
}

func (f *fakeRuntime) ListRunning(context.Context) ([]dockstat.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers, f.listErr
}

func (f *fakeRuntime) Inspect(_ context.Context, id string) (dockstat.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErr != nil {
		return dockstat.ContainerInfo{}, f.inspectErr
	}
	return f.inspect[id], nil
}

func (f *fakeRuntime) OpenStats(_ context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened = append(f.opened, id)
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeRuntime) openedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func (f *fakeRuntime) Events(context.Context) (<-chan dockstat.ContainerEvent, <-chan error) {
	return f.events, f.errs
}

func (f *fakeRuntime) Ping(context.Context) error { return f.pingErr }
func (f *fakeRuntime) Close() error               { return nil }

type fakeRegistry struct {
	mu       sync.Mutex
	added    []string
	removed  []string
	rejected bool
}

func (f *fakeRegistry) Add(id, name string, rc io.ReadCloser) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejected {
		return false
	}
	f.added = append(f.added, id)
	return true
}

func (f *fakeRegistry) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return true
}

func (f *fakeRegistry) RemoveAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, "*")
}

// --- watcher tests ---

func TestWatcher_WatchOpensStream(t *testing.T) {
	rt := newFakeRuntime()
	reg := &fakeRegistry{}
	w := &Watcher{Runtime: rt, Streams: reg}

	if err := w.Watch(context.Background(), "c1", "web"); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if len(reg.added) != 1 || reg.added[0] != "c1" {
		t.Errorf("registry added = %v, want [c1]", reg.added)
	}
}

func TestWatcher_WatchRunningWatchesEachContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.containers = []dockstat.Container{{ID: "c1", Name: "web"}, {ID: "c2", Name: "db"}}
	reg := &fakeRegistry{}
	w := &Watcher{Runtime: rt, Streams: reg}

	if err := w.WatchRunning(context.Background()); err != nil {
		t.Fatalf("WatchRunning() error = %v", err)
	}
	if len(reg.added) != 2 {
		t.Errorf("registry added = %v, want both containers", reg.added)
	}
}

func TestWatcher_StreamEndRestartsRunningContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.inspect["c1"] = dockstat.ContainerInfo{Exists: true, Running: true, Name: "web"}
	reg := &fakeRegistry{}
	w := &Watcher{Runtime: rt, Streams: reg}

	w.HandleStreamEnd(context.Background(), "c1")

	if got := rt.openedIDs(); len(got) != 1 || got[0] != "c1" {
		t.Errorf("opened streams = %v, want restart for c1", got)
	}
}

func TestWatcher_StreamEndIgnoresStoppedContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.inspect["c1"] = dockstat.ContainerInfo{Exists: true, Running: false}
	reg := &fakeRegistry{}
	w := &Watcher{Runtime: rt, Streams: reg}

	w.HandleStreamEnd(context.Background(), "c1")

	if got := rt.openedIDs(); len(got) != 0 {
		t.Errorf("opened streams = %v, want none for stopped container", got)
	}
}

func TestWatcher_StreamEndIgnoresVanishedContainer(t *testing.T) {
	rt := newFakeRuntime()
	// Inspect of an unknown id reports Exists=false, not an error.
	reg := &fakeRegistry{}
	w := &Watcher{Runtime: rt, Streams: reg}

	w.HandleStreamEnd(context.Background(), "gone")

	if got := rt.openedIDs(); len(got) != 0 {
		t.Errorf("opened streams = %v, want none for vanished container", got)
	}
}

func TestWatcher_ShutdownMakesWatchNoop(t *testing.T) {
	rt := newFakeRuntime()
	rt.inspect["c1"] = dockstat.ContainerInfo{Exists: true, Running: true, Name: "web"}
	reg := &fakeRegistry{}
	w := &Watcher{Runtime: rt, Streams: reg}

	w.Shutdown()

	if err := w.Watch(context.Background(), "c1", "web"); err != nil {
		t.Fatalf("Watch() after shutdown error = %v", err)
	}
	w.HandleStreamEnd(context.Background(), "c1")

	if len(reg.added) != 0 {
		t.Errorf("registry added = %v, want none after shutdown", reg.added)
	}
	if got := rt.openedIDs(); len(got) != 0 {
		t.Errorf("opened streams = %v, want none after shutdown", got)
	}

	found := false
	for _, r := range reg.removed {
		if r == "*" {
			found = true
		}
	}
	if !found {
		t.Error("Shutdown() did not tear down live streams")
	}
}

func TestWatcher_DuplicateWatchClosesHandle(t *testing.T) {
	rt := newFakeRuntime()
	reg := &fakeRegistry{rejected: true}
	w := &Watcher{Runtime: rt, Streams: reg}

	// The registry rejecting the duplicate must not surface an error.
	if err := w.Watch(context.Background(), "c1", "web"); err != nil {
		t.Errorf("Watch() duplicate = %v, want nil", err)
	}
}

// --- monitor tests ---

func TestMonitor_StartEventWatchesContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.inspect["c1"] = dockstat.ContainerInfo{Exists: true, Running: true, Name: "web"}

	started := make(chan string, 1)
	m := &Monitor{
		Runtime: rt,
		OnStart: func(_ context.Context, id, name string) { started <- id + "/" + name },
		OnStop:  func(string) {},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	rt.events <- dockstat.ContainerEvent{Action: dockstat.ActionStart, ID: "c1"}

	if got := <-started; got != "c1/web" {
		t.Errorf("start callback = %q, want c1/web", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil on cancel", err)
	}
}

func TestMonitor_StopDieKillUnwatch(t *testing.T) {
	rt := newFakeRuntime()
	stopped := make(chan string, 3)
	m := &Monitor{
		Runtime: rt,
		OnStart: func(context.Context, string, string) {},
		OnStop:  func(id string) { stopped <- id },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	for _, action := range []string{dockstat.ActionStop, dockstat.ActionDie, dockstat.ActionKill} {
		rt.events <- dockstat.ContainerEvent{Action: action, ID: "c1"}
		if got := <-stopped; got != "c1" {
			t.Errorf("%s callback = %q, want c1", action, got)
		}
	}
}

func TestMonitor_StartEventForVanishedContainerSwallowed(t *testing.T) {
	rt := newFakeRuntime()
	var started bool
	m := &Monitor{
		Runtime: rt,
		OnStart: func(context.Context, string, string) { started = true },
		OnStop:  func(string) {},
	}

	// Synchronous handle keeps this test deterministic.
	m.handle(context.Background(), dockstat.ContainerEvent{Action: dockstat.ActionStart, ID: "vanished"})

	if started {
		t.Error("start callback fired for vanished container")
	}
}

func TestMonitor_MalformedEventSkipped(t *testing.T) {
	rt := newFakeRuntime()
	var fired bool
	m := &Monitor{
		Runtime: rt,
		OnStart: func(context.Context, string, string) { fired = true },
		OnStop:  func(string) { fired = true },
	}

	m.handle(context.Background(), dockstat.ContainerEvent{Action: dockstat.ActionStart, ID: ""})
	m.handle(context.Background(), dockstat.ContainerEvent{Action: dockstat.ActionStop, ID: ""})

	if fired {
		t.Error("callback fired for malformed event")
	}
}

func TestMonitor_DeadFeedIsFatal(t *testing.T) {
	rt := newFakeRuntime()
	m := &Monitor{
		Runtime: rt,
		OnStart: func(context.Context, string, string) {},
		OnStop:  func(string) {},
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	rt.errs <- errors.New("event stream broke")

	if err := <-done; err == nil {
		t.Error("Run() = nil, want error for dead event feed")
	}
}

func TestValidateAccess_PermissionDenied(t *testing.T) {
	rt := newFakeRuntime()
	rt.pingErr = errors.New("dial unix /var/run/docker.sock: permission denied")
	m := &Monitor{Runtime: rt}

	err := m.ValidateAccess(context.Background())
	if err == nil || !strings.Contains(err.Error(), "docker group") {
		t.Errorf("ValidateAccess() = %v, want permission remediation", err)
	}
}

func TestValidateAccess_MissingSocket(t *testing.T) {
	rt := newFakeRuntime()
	rt.pingErr = errors.New("dial unix /var/run/docker.sock: no such file or directory")
	m := &Monitor{Runtime: rt}

	err := m.ValidateAccess(context.Background())
	if err == nil || !strings.Contains(err.Error(), "endpoint not found") {
		t.Errorf("ValidateAccess() = %v, want endpoint remediation", err)
	}
}

func TestValidateAccess_ProbeSucceeds(t *testing.T) {
	rt := newFakeRuntime()
	m := &Monitor{Runtime: rt}

	if err := m.ValidateAccess(context.Background()); err != nil {
		t.Errorf("ValidateAccess() = %v, want nil", err)
	}
}
