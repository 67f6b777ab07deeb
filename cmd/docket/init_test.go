package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/docket-ai-agent/internal/defaults"
)

// clearUmask zeroes the process umask for the duration of a test so
// the permission assertions below see the literal modes init asks for.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	out := buf.String()

	// Verify the data directory exists.
	info, err := os.Stat(filepath.Join(dir, "data"))
	if err != nil {
		t.Errorf("expected data directory: %v", err)
	} else if !info.IsDir() {
		t.Error("data is not a directory")
	}

	// Verify config.yaml exists and matches the embedded default.
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgInfo, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := cfgInfo.Mode().Perm(); got != 0o644 {
		t.Errorf("config.yaml permissions = %o, want 0644", got)
	}
	content, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("read config.yaml: %v", err)
	}
	if !bytes.Equal(content, defaults.ConfigYAML) {
		t.Error("config.yaml does not match the embedded default")
	}

	// Verify output contains the created marker.
	if !strings.Contains(out, "✓") {
		t.Error("output missing ✓ marker for created files")
	}
	if !strings.Contains(out, "config.yaml") {
		t.Error("output missing config.yaml")
	}
}

func TestRunInit_SkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("first runInit failed: %v", err)
	}

	// Replace config.yaml with a sentinel; the rerun must leave it be.
	sentinel := []byte("# sentinel, do not overwrite\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), sentinel, 0o600); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	buf.Reset()
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("second runInit failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("read config.yaml: %v", err)
	}
	if !bytes.Equal(content, sentinel) {
		t.Error("second runInit overwrote existing config.yaml")
	}
}

func TestWriteIfMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")

	if err := writeIfMissing(path, []byte("first")); err != nil {
		t.Fatalf("writeIfMissing (create) failed: %v", err)
	}
	if err := writeIfMissing(path, []byte("second")); err != nil {
		t.Fatalf("writeIfMissing (skip) failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(content) != "first" {
		t.Errorf("content = %q, want %q", content, "first")
	}
}
