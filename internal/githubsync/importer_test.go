package githubsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gogithub "github.com/google/go-github/v69/github"
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

// newTestImporter builds an Importer against a stub GitHub API. The
// test server is closed automatically when the test finishes.
func newTestImporter(t *testing.T, handler http.Handler, store *tasks.Store, bus *events.Bus) *Importer {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	client, err := gogithub.NewClient(ts.Client()).WithEnterpriseURLs(ts.URL, ts.URL)
	if err != nil {
		t.Fatalf("WithEnterpriseURLs() error = %v", err)
	}

	cfg := config.GitHubConfig{
		Enabled:         true,
		Repo:            "acme/todo",
		Owner:           "alice",
		IntervalMinutes: 15,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, cfg, store, bus, logger)
}

func issueListHandler(t *testing.T, issues []map[string]any) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/todo/issues", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("state"); got != "open" {
			t.Errorf("state query = %q, want %q", got, "open")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(issues)
	})
	return mux
}

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		repo    string
		owner   string
		name    string
		wantErr bool
	}{
		{"acme/todo", "acme", "todo", false},
		{"acme/nested/todo", "acme", "nested/todo", false},
		{"acme", "", "", true},
		{"/todo", "", "", true},
		{"acme/", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		owner, name, err := splitRepo(tt.repo)
		if tt.wantErr {
			if err == nil {
				t.Errorf("splitRepo(%q) error = nil, want error", tt.repo)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitRepo(%q) error = %v", tt.repo, err)
			continue
		}
		if owner != tt.owner || name != tt.name {
			t.Errorf("splitRepo(%q) = %q, %q, want %q, %q", tt.repo, owner, name, tt.owner, tt.name)
		}
	}
}

func TestPollImportsOpenIssues(t *testing.T) {
	store := newTestStore(t)
	bus := events.New()
	ch := bus.Subscribe(16)
	t.Cleanup(func() { bus.Unsubscribe(ch) })

	handler := issueListHandler(t, []map[string]any{
		{
			"number":   7,
			"title":    "Fix login crash",
			"body":     "Stack trace attached",
			"state":    "open",
			"html_url": "https://github.com/acme/todo/issues/7",
		},
		{
			"number":   8,
			"title":    "Ship release notes",
			"state":    "open",
			"html_url": "https://github.com/acme/todo/issues/8",
		},
		{
			"number":       9,
			"title":        "A pull request",
			"state":        "open",
			"html_url":     "https://github.com/acme/todo/pull/9",
			"pull_request": map[string]any{"url": "https://api.github.com/repos/acme/todo/pulls/9"},
		},
	})

	imp := newTestImporter(t, handler, store, bus)
	imp.poll(context.Background())

	list, err := store.ListTasks("alice")
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("imported %d tasks, want 2 (pull requests skipped)", len(list))
	}

	byTitle := make(map[string]*tasks.Task, len(list))
	for _, task := range list {
		byTitle[task.Title] = task
	}

	crash := byTitle["Fix login crash"]
	if crash == nil {
		t.Fatal("task for issue 7 not created")
	}
	if !strings.HasPrefix(crash.Description, "https://github.com/acme/todo/issues/7") {
		t.Errorf("description does not lead with the issue URL: %q", crash.Description)
	}
	if !strings.Contains(crash.Description, "Stack trace attached") {
		t.Errorf("description missing issue body: %q", crash.Description)
	}
	if len(crash.Tags) != 1 || crash.Tags[0].Name != "github" {
		t.Errorf("tags = %v, want [github]", crash.Tags)
	}

	// Two created events plus one import-complete summary, all queued
	// before poll returned.
	if len(ch) != 3 {
		t.Fatalf("bus events = %d, want 3", len(ch))
	}
	var created, completes int
	for range 3 {
		e := <-ch
		switch e.Kind {
		case events.KindTaskCreated:
			created++
			if e.Source != events.SourceGitHub {
				t.Errorf("event source = %q, want %q", e.Source, events.SourceGitHub)
			}
		case events.KindImportComplete:
			completes++
			if got := e.Data["imported"]; got != 2 {
				t.Errorf("import_complete imported = %v, want 2", got)
			}
		}
	}
	if created != 2 || completes != 1 {
		t.Errorf("events = %d created, %d complete, want 2 and 1", created, completes)
	}
}

func TestPollSkipsAlreadyImported(t *testing.T) {
	store := newTestStore(t)
	handler := issueListHandler(t, []map[string]any{
		{
			"number":   7,
			"title":    "Fix login crash",
			"state":    "open",
			"html_url": "https://github.com/acme/todo/issues/7",
		},
	})

	imp := newTestImporter(t, handler, store, events.New())
	imp.poll(context.Background())
	imp.poll(context.Background())

	list, err := store.ListTasks("alice")
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("tasks after two polls = %d, want 1", len(list))
	}
}

func TestPollSurvivesAPIFailure(t *testing.T) {
	store := newTestStore(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	})

	imp := newTestImporter(t, handler, store, events.New())
	imp.poll(context.Background())

	list, err := store.ListTasks("alice")
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("tasks after failed poll = %d, want 0", len(list))
	}
}

func TestIssueDescription(t *testing.T) {
	url := "https://github.com/acme/todo/issues/7"
	body := "Details here"
	withBody := &gogithub.Issue{HTMLURL: &url, Body: &body}
	if got := issueDescription(withBody); got != url+"\n\nDetails here" {
		t.Errorf("issueDescription() = %q", got)
	}

	bare := &gogithub.Issue{HTMLURL: &url}
	if got := issueDescription(bare); got != url {
		t.Errorf("issueDescription() without body = %q, want %q", got, url)
	}
}
