// Package events carries operational events between Docket components.
// The agent loop, HTTP handlers, and importers publish; the WebSocket
// handler, MQTT notifier, CalDAV exporter, and metrics collector
// subscribe. A nil *Bus accepts Publish calls and does nothing, which
// lets every publisher skip the guard.
package events

import (
	"sync"
	"time"
)

// Sources name the component that published an event.
const (
	// SourceAgent identifies events from the orchestration loop.
	SourceAgent = "agent"
	// SourceAPI identifies events from HTTP CRUD handlers.
	SourceAPI = "api"
	// SourceGitHub identifies events from the GitHub issue importer.
	SourceGitHub = "github"
	// SourceMailbox identifies events from the IMAP importer.
	SourceMailbox = "mailbox"
)

// Kinds say what happened. The Data keys each kind carries are listed
// with it.
const (
	// KindTaskCreated signals a task was created.
	// Data: owner, task_id, title.
	KindTaskCreated = "task_created"
	// KindTaskUpdated signals a task's fields changed.
	// Data: owner, task_id.
	KindTaskUpdated = "task_updated"
	// KindTaskCompleted signals a task's completion flag changed.
	// Data: owner, task_id, completed.
	KindTaskCompleted = "task_completed"
	// KindTaskDeleted signals a task was removed.
	// Data: owner, task_id.
	KindTaskDeleted = "task_deleted"

	// KindRequestStart signals the beginning of a chat request.
	// Data: owner, message_len, remember.
	KindRequestStart = "request_start"
	// KindToolCall marks a tool execution starting.
	// Data: owner, action.
	KindToolCall = "tool_call"
	// KindToolDone marks a tool execution finishing.
	// Data: owner, action, ok.
	KindToolDone = "tool_done"
	// KindRequestComplete signals the end of a chat request.
	// Data: owner, steps, elapsed_ms.
	KindRequestComplete = "request_complete"

	// KindSessionEnded signals a provider thread was closed.
	// Data: owner.
	KindSessionEnded = "session_ended"

	// KindImportComplete signals the end of an importer poll cycle.
	// Data: imported.
	KindImportComplete = "import_complete"
)

// Event is one operational occurrence, stamped with where and when it
// happened. Data carries kind-specific detail.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// TaskChanged reports whether the event mutates the task list. Notifiers
// and exporters use this to decide when to republish state.
func (e Event) TaskChanged() bool {
	switch e.Kind {
	case KindTaskCreated, KindTaskUpdated, KindTaskCompleted, KindTaskDeleted:
		return true
	}
	return false
}

// Bus broadcasts events to every subscriber without ever blocking the
// publisher: a subscriber whose buffer is full misses that event.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// Publish delivers e to each subscriber that has buffer room. A nil
// receiver is a no-op.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub <- e:
		default:
			// full; drop
		}
	}
}

// Subscribe registers a new subscriber and returns its channel. bufSize
// sets how many events may queue before drops begin; the WebSocket
// handler uses 64. Callers must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	sub := make(chan Event, bufSize)
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes ch from the bus and closes it. Unknown or
// already-removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// SubscriberCount reports how many subscribers are registered. A nil
// receiver reports zero.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
