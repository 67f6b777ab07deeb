package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nugget/docket-ai-agent/internal/tasks"

	_ "modernc.org/sqlite" // pure-Go driver for tests
)

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, nil); err != nil {
		t.Fatalf("run with no args failed: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: docket") {
		t.Errorf("expected usage text, got %q", out.String())
	}
}

func TestRun_HelpFlag(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"--help"}); err != nil {
		t.Fatalf("run --help failed: %v", err)
	}
	if !strings.Contains(out.String(), "Commands:") {
		t.Errorf("expected command list, got %q", out.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected unknown command error, got %v", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"-frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("expected unknown flag error, got %v", err)
	}
}

func TestRun_UnknownOutputFormat(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"-o", "xml", "version"})
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("expected output format error, got %v", err)
	}
}

func TestRun_AskRequiresQuestion(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"ask"})
	if err == nil || !strings.Contains(err.Error(), "usage: docket ask") {
		t.Errorf("expected ask usage error, got %v", err)
	}
}

func TestRunVersion_Text(t *testing.T) {
	var out bytes.Buffer

	if err := runVersion(&out, "text"); err != nil {
		t.Fatalf("runVersion failed: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "Docket") {
		t.Errorf("expected banner, got %q", s)
	}
	for _, field := range []string{"version:", "git_commit:", "go_version:"} {
		if !strings.Contains(s, field) {
			t.Errorf("version output missing %q", field)
		}
	}
}

func TestRunVersion_JSON(t *testing.T) {
	var out bytes.Buffer

	if err := runVersion(&out, "json"); err != nil {
		t.Fatalf("runVersion failed: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not valid JSON: %v", err)
	}
	if info["version"] == "" {
		t.Error("version field missing from JSON output")
	}
	if info["go_version"] == "" {
		t.Error("go_version field missing from JSON output")
	}
}

func TestDefaultTags(t *testing.T) {
	if len(defaultTags) != 6 {
		t.Fatalf("palette has %d tags, want 6", len(defaultTags))
	}

	seen := make(map[string]bool)
	for _, pt := range defaultTags {
		if seen[pt.name] {
			t.Errorf("duplicate palette tag %q", pt.name)
		}
		seen[pt.name] = true

		if !strings.HasPrefix(pt.color, "#") || len(pt.color) != 7 {
			t.Errorf("tag %s color = %q, want #rrggbb", pt.name, pt.color)
		}
	}

	if !seen["work"] || !seen["urgent"] {
		t.Error("palette missing expected tags")
	}
}

func TestSeedTags(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := tasks.NewStore(db)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	var out bytes.Buffer
	if err := seedTags(&out, store); err != nil {
		t.Fatalf("seedTags failed: %v", err)
	}

	tags, err := store.ListTags()
	if err != nil {
		t.Fatalf("list tags: %v", err)
	}
	if len(tags) != len(defaultTags) {
		t.Fatalf("store has %d tags, want %d", len(tags), len(defaultTags))
	}

	colors := make(map[string]string)
	for _, tag := range tags {
		colors[tag.Name] = tag.Color
	}
	if colors["work"] != "#3b82f6" {
		t.Errorf("work color = %q, want #3b82f6", colors["work"])
	}

	// Seeding again must not duplicate.
	out.Reset()
	if err := seedTags(&out, store); err != nil {
		t.Fatalf("second seedTags failed: %v", err)
	}
	tags, err = store.ListTags()
	if err != nil {
		t.Fatalf("list tags after reseed: %v", err)
	}
	if len(tags) != len(defaultTags) {
		t.Errorf("reseed produced %d tags, want %d", len(tags), len(defaultTags))
	}
}
