package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nugget/docket-ai-agent/internal/events"
)

func TestTaskCreatedFromBusEvent(t *testing.T) {
	m := New()
	m.handleEvent(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindTaskCreated,
		Data:      map[string]any{"owner": "mary"},
	})
	m.handleEvent(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAPI,
		Kind:      events.KindTaskCreated,
	})
	m.handleEvent(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAPI,
		Kind:      events.KindTaskDeleted,
	})

	if got := testutil.ToFloat64(m.tasksCreated.WithLabelValues("agent")); got != 1 {
		t.Errorf("agent tasks created = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.tasksCreated.WithLabelValues("api")); got != 1 {
		t.Errorf("api tasks created = %v, want 1", got)
	}
}

func TestAgentStepsFromRequestComplete(t *testing.T) {
	m := New()
	m.handleEvent(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindRequestComplete,
		Data:      map[string]any{"owner": "mary", "steps": 3, "elapsed_ms": int64(12)},
	})
	if got := testutil.CollectAndCount(m.agentSteps); got != 1 {
		t.Errorf("agent steps metric families = %d, want 1", got)
	}
}

func TestRecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest("GET", "/api/tasks", 200, 5*time.Millisecond)
	m.RecordRequest("GET", "/api/tasks", 200, 7*time.Millisecond)
	m.RecordRequest("POST", "/api/tasks", 401, time.Millisecond)

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/tasks", "200")); got != 2 {
		t.Errorf("GET 200 count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/tasks", "401")); got != 1 {
		t.Errorf("POST 401 count = %v, want 1", got)
	}
}

func TestNilReceiverSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("GET", "/", 200, time.Millisecond)
	m.IncProviderError("api")
	m.IncTaskCreated("api")
	m.WSConnectionOpened()
	m.WSConnectionClosed()
	m.WatchBus(context.Background(), nil)
}

func TestWatchBusStopsOnCancel(t *testing.T) {
	m := New()
	bus := events.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.WatchBus(ctx, bus)
		close(done)
	}()

	bus.Publish(events.Event{Timestamp: time.Now(), Source: events.SourceAPI, Kind: events.KindTaskCreated})
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WatchBus did not stop after cancel")
	}
}
