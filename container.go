// Package dockstat defines the core container identity and lifecycle
// types shared across the collector.
package dockstat

// Container is one entry from a running-container listing. The ID is
// opaque and stable for the container's lifetime; the name is the
// display name with the leading separator stripped.
type Container struct {
	ID   string
	Name string
}

// ContainerInfo is the result of inspecting a single container. A
// vanished container reports Exists=false rather than an error.
type ContainerInfo struct {
	Exists  bool
	Running bool
	Name    string
}

// ContainerEvent is a single lifecycle event from the runtime's feed.
type ContainerEvent struct {
	Action string
	ID     string
}

// Lifecycle actions the collector reacts to.
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionDie   = "die"
	ActionKill  = "kill"
)
