package manager

import "time"

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
	At      time.Time
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// Event names.
const (
	EventLoadStart       = "load_start"
	EventLoadReady       = "load_ready"
	EventLoadFailed      = "load_failed"
	EventCacheHit        = "load_cache_hit"
	EventPlacementNote   = "placement_note"
	EventStrictViolation = "strict_violation"
	EventUnloadDone      = "unload_done"
	EventTeardownDone    = "teardown_done"
)

func (m *Manager) publish(name string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	m.pub.Publish(Event{Name: name, ModelID: m.source, Fields: fields, At: time.Now()})
}
