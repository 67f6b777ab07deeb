package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nugget/docket-ai-agent/internal/tasks"
)

// ErrUnauthorized is returned when an action references a task the
// calling owner does not hold. Absent and foreign-owned tasks report
// identically so probing ids reveals nothing.
var ErrUnauthorized = errors.New("unauthorized_or_not_found")

// Executor applies validated actions to the task store on behalf of one
// owner per call.
type Executor struct {
	store *tasks.Store
}

// NewExecutor creates an executor over the given store.
func NewExecutor(store *tasks.Store) *Executor {
	return &Executor{store: store}
}

// Execute runs the action scoped to owner and returns the observation
// JSON to feed back to the model.
func (e *Executor) Execute(owner string, action Action) (string, error) {
	switch a := action.(type) {
	case CreateTodo:
		task, err := e.store.CreateTask(owner, a.Title, a.Description, a.Date, a.Tags)
		if err != nil {
			return "", err
		}
		return marshalObservation(task)

	case GetAllTodos:
		list, err := e.store.ListTasks(owner)
		if err != nil {
			return "", err
		}
		if list == nil {
			list = []*tasks.Task{}
		}
		return marshalObservation(list)

	case UpdateTodo:
		if err := e.requireOwned(owner, a.TodoID); err != nil {
			return "", err
		}
		updated, err := e.store.UpdateTask(a.TodoID, a.Updates.Patch())
		if err != nil {
			return "", err
		}
		if updated == nil {
			return "", ErrUnauthorized
		}
		return marshalObservation(updated)

	case DeleteTodo:
		if err := e.requireOwned(owner, a.TodoID); err != nil {
			return "", err
		}
		deleted, err := e.store.DeleteTask(a.TodoID)
		if err != nil {
			return "", err
		}
		if !deleted {
			return "", ErrUnauthorized
		}
		return marshalObservation(map[string]bool{"deleted": true})

	case MarkComplete:
		if err := e.requireOwned(owner, a.TodoID); err != nil {
			return "", err
		}
		updated, err := e.store.SetCompleted(a.TodoID, true)
		if err != nil {
			return "", err
		}
		if updated == nil {
			return "", ErrUnauthorized
		}
		return marshalObservation(updated)

	case AnalyzeTodos:
		return e.analyze(owner)
	}
	return "", fmt.Errorf("unknown tool: %s", action.Name())
}

// analysis summarizes an owner's tasks for the model.
type analysis struct {
	Total            int            `json:"total"`
	Completed        int            `json:"completed"`
	Pending          int            `json:"pending"`
	TagsDistribution map[string]int `json:"tags_distribution"`
}

func (e *Executor) analyze(owner string) (string, error) {
	list, err := e.store.ListTasks(owner)
	if err != nil {
		return "", err
	}

	result := analysis{
		Total:            len(list),
		TagsDistribution: map[string]int{},
	}
	for _, t := range list {
		if t.Completed {
			result.Completed++
		}
		for _, tag := range t.Tags {
			result.TagsDistribution[tag.Name]++
		}
	}
	result.Pending = result.Total - result.Completed
	return marshalObservation(result)
}

// requireOwned verifies the task exists and belongs to owner.
func (e *Executor) requireOwned(owner, todoID string) error {
	t, err := e.store.GetTask(todoID)
	if err != nil {
		return err
	}
	if t == nil || t.Owner != owner {
		return ErrUnauthorized
	}
	return nil
}

func marshalObservation(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal observation: %w", err)
	}
	return string(data), nil
}
