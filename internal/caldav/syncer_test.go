package caldav

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	_ "modernc.org/sqlite"

	"github.com/nugget/docket-ai-agent/internal/config"
	"github.com/nugget/docket-ai-agent/internal/events"
	"github.com/nugget/docket-ai-agent/internal/tasks"
)

func newTestStore(t *testing.T) *tasks.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := tasks.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

type recordedRequest struct {
	method string
	path   string
	body   string
}

// newDAVServer records every request and answers like a CalDAV server
// that accepts all writes.
func newDAVServer(t *testing.T) (*httptest.Server, chan recordedRequest) {
	t.Helper()
	reqs := make(chan recordedRequest, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs <- recordedRequest{method: r.Method, path: r.URL.Path, body: string(body)}
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func newTestSyncer(t *testing.T, store *tasks.Store, bus *events.Bus, baseURL string) *Syncer {
	t.Helper()
	cfg := config.CalDAVConfig{
		Enabled:  true,
		URL:      baseURL + "/dav/tasks/",
		Username: "alice",
		Password: "secret",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, store, bus, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func waitRequest(t *testing.T, reqs chan recordedRequest) recordedRequest {
	t.Helper()
	select {
	case r := <-reqs:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a CalDAV request")
		return recordedRequest{}
	}
}

func TestTaskCalendarEncoding(t *testing.T) {
	task := &tasks.Task{
		ID:          "task-1",
		Owner:       "alice",
		Title:       "Buy milk",
		Description: "From the corner store",
		Due:         "2026-09-01",
		Tags:        []tasks.Tag{{Name: "errand"}, {Name: "home"}},
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(taskCalendar(task)); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got := buf.String()

	for _, want := range []string{
		"BEGIN:VTODO",
		"UID:task-1",
		"SUMMARY:Buy milk",
		"DESCRIPTION:From the corner store",
		"DUE;VALUE=DATE:20260901",
		"STATUS:NEEDS-ACTION",
		"CATEGORIES:errand,home",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("encoded calendar missing %q:\n%s", want, got)
		}
	}
}

func TestTaskCalendarCompletedStatus(t *testing.T) {
	task := &tasks.Task{ID: "task-2", Title: "Done thing", Due: "2026-01-15", Completed: true}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(taskCalendar(task)); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(buf.String(), "STATUS:COMPLETED") {
		t.Errorf("encoded calendar missing STATUS:COMPLETED:\n%s", buf.String())
	}
}

func TestObjectPath(t *testing.T) {
	store := newTestStore(t)
	srv, _ := newDAVServer(t)

	// Trailing slash on the collection URL must not double up.
	s := newTestSyncer(t, store, events.New(), srv.URL)
	if got := s.objectPath("task-1"); got != "/dav/tasks/task-1.ics" {
		t.Errorf("objectPath() = %q, want %q", got, "/dav/tasks/task-1.ics")
	}

	cfg := config.CalDAVConfig{URL: srv.URL + "/dav/tasks"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	noSlash, err := New(cfg, store, events.New(), logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := noSlash.objectPath("task-1"); got != "/dav/tasks/task-1.ics" {
		t.Errorf("objectPath() without trailing slash = %q, want %q", got, "/dav/tasks/task-1.ics")
	}
}

func TestSyncSkipsUndatedTasks(t *testing.T) {
	store := newTestStore(t)
	srv, reqs := newDAVServer(t)
	s := newTestSyncer(t, store, events.New(), srv.URL)

	if _, err := store.CreateTask("alice", "Someday", "", "", nil); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	s.syncAll(context.Background())
	if len(reqs) != 0 {
		t.Errorf("syncAll() issued %d requests for an undated task, want 0", len(reqs))
	}
}

func TestSyncRemovesWhenDateCleared(t *testing.T) {
	store := newTestStore(t)
	srv, reqs := newDAVServer(t)
	s := newTestSyncer(t, store, events.New(), srv.URL)

	task, err := store.CreateTask("alice", "Buy milk", "", "2026-09-01", nil)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	wantPath := "/dav/tasks/" + task.ID + ".ics"

	s.syncAll(context.Background())
	put := waitRequest(t, reqs)
	if put.method != http.MethodPut || put.path != wantPath {
		t.Fatalf("first sync = %s %s, want PUT %s", put.method, put.path, wantPath)
	}

	empty := ""
	if _, err := store.UpdateTask(task.ID, tasks.Patch{Due: &empty}); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}

	s.syncAll(context.Background())
	del := waitRequest(t, reqs)
	if del.method != http.MethodDelete || del.path != wantPath {
		t.Errorf("second sync = %s %s, want DELETE %s", del.method, del.path, wantPath)
	}
}

func TestStartSyncsOnTaskEvents(t *testing.T) {
	store := newTestStore(t)
	srv, reqs := newDAVServer(t)
	bus := events.New()
	s := newTestSyncer(t, store, bus, srv.URL)

	task, err := store.CreateTask("alice", "Buy milk", "", "2026-09-01", nil)
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	wantPath := "/dav/tasks/" + task.ID + ".ics"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx)
	}()

	// Startup pushes the existing dated task.
	put := waitRequest(t, reqs)
	if put.method != http.MethodPut || put.path != wantPath {
		t.Fatalf("startup sync = %s %s, want PUT %s", put.method, put.path, wantPath)
	}
	if !strings.Contains(put.body, "SUMMARY:Buy milk") {
		t.Errorf("startup sync body missing SUMMARY:\n%s", put.body)
	}

	// A delete event (agent events carry no task id) triggers a
	// reconcile that removes the stale object.
	if _, err := store.DeleteTask(task.ID); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindTaskDeleted,
		Data:      map[string]any{"owner": "alice"},
	})

	del := waitRequest(t, reqs)
	if del.method != http.MethodDelete || del.path != wantPath {
		t.Errorf("event sync = %s %s, want DELETE %s", del.method, del.path, wantPath)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not stop on context cancel")
	}
}
