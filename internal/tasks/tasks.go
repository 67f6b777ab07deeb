// Package tasks provides the durable store for tasks and tags. Tasks
// belong to an owner; tags are interned globally by name and shared
// across owners. The store itself is owner-agnostic except for listing;
// callers that act on behalf of an owner (the HTTP layer, the agent
// executor) are responsible for verifying ownership before mutating.
package tasks

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTagColor is assigned when a tag is created without a color.
const DefaultTagColor = "#3b82f6"

// Tag is a shared label. Names are unique across the whole store; the
// first creation wins and later creations with the same name return the
// original tag unchanged.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Task is a single todo item.
type Task struct {
	ID          string    `json:"id"`
	Owner       string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Due         string    `json:"date,omitempty"` // YYYY-MM-DD, empty when unset
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	Tags        []Tag     `json:"tags"`
}

// TagInput names a tag to attach to a task. Color is optional and only
// consulted when the tag does not exist yet.
type TagInput struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Patch holds partial task updates. Nil fields are left unchanged; a
// non-nil Tags pointer replaces the full tag set.
type Patch struct {
	Title       *string
	Description *string
	Due         *string
	Completed   *bool
	Tags        *[]TagInput
}

// ValidationError reports caller input the store rejected. HTTP
// handlers map it to a 400 response; everything else is a server-side
// failure.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// validateTitle rejects empty or whitespace-only titles.
func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return invalidf("title is required")
	}
	return nil
}

// validateDue rejects malformed due dates. Empty means unset and is
// always accepted.
func validateDue(due string) error {
	if due == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", due); err != nil {
		return invalidf("invalid due date %q (want YYYY-MM-DD)", due)
	}
	return nil
}
