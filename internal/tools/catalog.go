// Package tools defines the fixed catalog of actions the agent exposes
// to the model, the validated Action type for invocations, and the
// executor that applies actions to the task store.
package tools

import (
	"encoding/json"
	"fmt"
)

// Tool names. The set is fixed for a deployment.
const (
	NameCreateTodo   = "create_todo"
	NameGetAllTodos  = "get_all_todos"
	NameUpdateTodo   = "update_todo"
	NameDeleteTodo   = "delete_todo"
	NameMarkComplete = "mark_complete"
	NameAnalyzeTodos = "analyze_todos"
)

// Descriptor declares one tool to the model: its name, what it does,
// and the JSON schema of its arguments.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

var catalog = []Descriptor{
	{
		Name:        NameCreateTodo,
		Description: "Create a new todo item",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":       map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
				"date":        map[string]any{"type": "string", "description": "ISO date string"},
				"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
			},
			"required": []string{"title"},
		},
	},
	{
		Name:        NameGetAllTodos,
		Description: "Retrieve all todo items",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        NameUpdateTodo,
		Description: "Update an existing todo",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"todo_id": map[string]any{"type": "string"},
				"updates": map[string]any{"type": "object"},
			},
			"required": []string{"todo_id", "updates"},
		},
	},
	{
		Name:        NameDeleteTodo,
		Description: "Delete a todo by ID",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"todo_id": map[string]any{"type": "string"},
			},
			"required": []string{"todo_id"},
		},
	},
	{
		Name:        NameMarkComplete,
		Description: "Mark a todo as complete",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"todo_id": map[string]any{"type": "string"},
			},
			"required": []string{"todo_id"},
		},
	},
	{
		Name:        NameAnalyzeTodos,
		Description: "Get summary statistics and insights about todos",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

// catalogJSON is marshaled once at init. The serialized catalog is a
// wire contract with the model: every prompt must carry the same bytes.
var catalogJSON = func() json.RawMessage {
	data, err := json.Marshal(catalog)
	if err != nil {
		panic(fmt.Sprintf("marshal tool catalog: %v", err))
	}
	return data
}()

// Catalog returns the tool descriptors in declaration order.
func Catalog() []Descriptor { return catalog }

// CatalogJSON returns the serialized catalog. The same bytes on every
// call.
func CatalogJSON() json.RawMessage { return catalogJSON }

// Mutating reports whether the named tool changes task state. The
// caller uses this to signal live UIs that a refresh is due.
func Mutating(name string) bool {
	switch name {
	case NameCreateTodo, NameUpdateTodo, NameDeleteTodo, NameMarkComplete:
		return true
	}
	return false
}
