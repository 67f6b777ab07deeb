package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/docket-ai-agent/internal/defaults"
)

// runInit initializes a Docket working directory with default files.
// It creates the directory structure and writes the bundled example
// config. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Docket workspace in %s\n", dir)

	// Create the base directory and the data directory the default
	// config points at.
	for _, sub := range []string{".", "data"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// Lay down the example config unless one is already there.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml, set your Backboard API key, then run:")
	fmt.Fprintln(w, "  docket seed    # optional: insert the default tag palette")
	fmt.Fprintln(w, "  docket serve")
	return nil
}

// writeIfMissing creates path with the given content, leaving any
// existing file alone so a rerun of init cannot clobber edits.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // keep what the user has
	}
	return os.WriteFile(path, content, 0o644)
}
