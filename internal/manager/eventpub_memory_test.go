package manager

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryPublisher_Ring(t *testing.T) {
	p := NewMemoryPublisher(3)
	if len(p.Events()) != 0 {
		t.Fatalf("new publisher not empty")
	}
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		p.Publish(Event{Name: n})
	}
	var got []string
	for _, e := range p.Events() {
		got = append(got, e.Name)
	}
	if diff := cmp.Diff([]string{"c", "d", "e"}, got); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if NewMemoryPublisher(0).limit != DefaultEventHistory {
		t.Fatalf("default capacity")
	}
}

func TestRecentEvents(t *testing.T) {
	m, _ := newTestManager(t, &fakeProvider{}, newTestPool(true))
	if err := m.EnsureLoaded(context.Background(), "gpu", "bf16"); err != nil {
		t.Fatalf("load: %v", err)
	}
	resp := m.RecentEvents()
	if len(resp.Events) != 2 || resp.Events[1].Name != EventLoadReady {
		t.Fatalf("events=%+v", resp.Events)
	}
	ev := resp.Events[1]
	if ev.ModelID != "test/model" || ev.Fields["config"] != "gpu/bf16" || ev.AtUnixMs == 0 {
		t.Fatalf("event=%+v", ev)
	}

	bare := NewWithConfig(ManagerConfig{Provider: &fakeProvider{}})
	if got := bare.RecentEvents(); got.Events == nil || len(got.Events) != 0 {
		t.Fatalf("no-history publisher should report an empty list: %+v", got)
	}
}
