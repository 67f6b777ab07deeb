package main

import (
	"fmt"
	"io"

	"github.com/nugget/docket-ai-agent/internal/tasks"
)

// paletteTag is one entry of the stock tag palette.
type paletteTag struct {
	name  string
	color string
}

// defaultTags is the tag palette seeded by "docket seed". Colors match
// the web frontend's category swatches.
var defaultTags = []paletteTag{
	{"work", "#3b82f6"},
	{"health", "#22c55e"},
	{"meeting", "#a855f7"},
	{"important", "#ef4444"},
	{"personal", "#f59e0b"},
	{"urgent", "#ec4899"},
}

// runSeed handles the "docket seed" subcommand. It inserts the default
// tag palette into the database. Tags that already exist keep their
// stored color, so seeding is safe to repeat.
func runSeed(w io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Seeding tags from %s\n", cfgPath)

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := tasks.NewStore(db)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}

	return seedTags(w, store)
}

// seedTags inserts the palette through the store so existing tags are
// reused rather than duplicated.
func seedTags(w io.Writer, store *tasks.Store) error {
	for _, pt := range defaultTags {
		tag, err := store.CreateOrGetTag(pt.name, pt.color)
		if err != nil {
			return fmt.Errorf("seed tag %s: %w", pt.name, err)
		}
		fmt.Fprintf(w, "  ✓ %s (%s)\n", tag.Name, tag.Color)
	}

	fmt.Fprintf(w, "Seeded %d tags.\n", len(defaultTags))
	return nil
}
