package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/docket-ai-agent/internal/tasks"
)

// Action is one validated invocation of a catalog tool. The set of
// variants is closed: Decode is the only constructor, and every variant
// carries typed arguments instead of a loose key/value map.
type Action interface {
	Name() string
	sealed()
}

// CreateTodo creates a task for the calling owner.
type CreateTodo struct {
	Title       string
	Description string
	Date        string
	Tags        []tasks.TagInput
}

// GetAllTodos lists the calling owner's tasks.
type GetAllTodos struct{}

// UpdateTodo applies a partial update to one task.
type UpdateTodo struct {
	TodoID  string
	Updates TodoUpdates
}

// DeleteTodo removes one task.
type DeleteTodo struct {
	TodoID string
}

// MarkComplete flags one task as done.
type MarkComplete struct {
	TodoID string
}

// AnalyzeTodos summarizes the owner's tasks.
type AnalyzeTodos struct{}

func (CreateTodo) Name() string   { return NameCreateTodo }
func (GetAllTodos) Name() string  { return NameGetAllTodos }
func (UpdateTodo) Name() string   { return NameUpdateTodo }
func (DeleteTodo) Name() string   { return NameDeleteTodo }
func (MarkComplete) Name() string { return NameMarkComplete }
func (AnalyzeTodos) Name() string { return NameAnalyzeTodos }

func (CreateTodo) sealed()   {}
func (GetAllTodos) sealed()  {}
func (UpdateTodo) sealed()   {}
func (DeleteTodo) sealed()   {}
func (MarkComplete) sealed() {}
func (AnalyzeTodos) sealed() {}

// TodoUpdates holds the updatable task fields. Nil means leave the
// field alone; a non-nil Tags replaces the whole tag set.
type TodoUpdates struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Date        *string           `json:"date"`
	Completed   *bool             `json:"completed"`
	Tags        *[]tasks.TagInput `json:"tags"`
}

// Patch converts the updates to a store patch.
func (u TodoUpdates) Patch() tasks.Patch {
	return tasks.Patch{
		Title:       u.Title,
		Description: u.Description,
		Due:         u.Date,
		Completed:   u.Completed,
		Tags:        u.Tags,
	}
}

// Decode validates a model-supplied tool name and argument payload into
// a typed Action. Absent, empty, or null input decodes as an empty
// object; tools with required arguments reject it.
func Decode(name string, input json.RawMessage) (Action, error) {
	args := normalizeInput(input)

	switch name {
	case NameCreateTodo:
		var w struct {
			Title       string           `json:"title"`
			Description string           `json:"description"`
			Date        string           `json:"date"`
			Tags        []tasks.TagInput `json:"tags"`
		}
		if err := json.Unmarshal(args, &w); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if strings.TrimSpace(w.Title) == "" {
			return nil, fmt.Errorf("title is required")
		}
		return CreateTodo{Title: w.Title, Description: w.Description, Date: w.Date, Tags: w.Tags}, nil

	case NameGetAllTodos:
		return GetAllTodos{}, nil

	case NameUpdateTodo:
		var w struct {
			TodoID  string          `json:"todo_id"`
			Updates json.RawMessage `json:"updates"`
		}
		if err := json.Unmarshal(args, &w); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if w.TodoID == "" {
			return nil, fmt.Errorf("todo_id is required")
		}
		if isEmptyJSON(w.Updates) {
			return nil, fmt.Errorf("updates is required")
		}
		var updates TodoUpdates
		if err := json.Unmarshal(w.Updates, &updates); err != nil {
			return nil, fmt.Errorf("invalid updates: %w", err)
		}
		return UpdateTodo{TodoID: w.TodoID, Updates: updates}, nil

	case NameDeleteTodo:
		id, err := decodeTodoID(args)
		if err != nil {
			return nil, err
		}
		return DeleteTodo{TodoID: id}, nil

	case NameMarkComplete:
		id, err := decodeTodoID(args)
		if err != nil {
			return nil, err
		}
		return MarkComplete{TodoID: id}, nil

	case NameAnalyzeTodos:
		return AnalyzeTodos{}, nil
	}
	return nil, fmt.Errorf("unknown tool: %s", name)
}

func decodeTodoID(args json.RawMessage) (string, error) {
	var w struct {
		TodoID string `json:"todo_id"`
	}
	if err := json.Unmarshal(args, &w); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if w.TodoID == "" {
		return "", fmt.Errorf("todo_id is required")
	}
	return w.TodoID, nil
}

func normalizeInput(input json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`)
	}
	return trimmed
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
