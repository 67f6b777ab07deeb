package tasks

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists tasks and tags.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle and ensures the schema exists.
// The caller owns the handle and its lifecycle.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		due TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_tags (
		task_id TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		PRIMARY KEY (task_id, tag_id)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner);
	CREATE INDEX IF NOT EXISTS idx_task_tags_tag ON task_tags(tag_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// NewID returns a UUIDv7 so task ids sort by creation time.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 needs a working entropy source; v4 is the fallback.
		return uuid.New().String()
	}
	return id.String()
}

// CreateTask persists a new task and interns any named tags. Title is
// required; due must be YYYY-MM-DD when set.
func (s *Store) CreateTask(owner, title, description, due string, tagInputs []TagInput) (*Task, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}
	if err := validateDue(due); err != nil {
		return nil, err
	}

	t := &Task{
		ID:          NewID(),
		Owner:       owner,
		Title:       title,
		Description: description,
		Due:         due,
		CreatedAt:   time.Now().UTC(),
		Tags:        []Tag{},
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO tasks (id, owner, title, description, due, completed, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, t.ID, t.Owner, t.Title, t.Description, t.Due, t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}

	tags, err := internAndLink(tx, t.ID, tagInputs)
	if err != nil {
		return nil, err
	}
	t.Tags = tags

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask retrieves a task by id. Returns nil, nil when absent.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, owner, title, description, due, completed, created_at
		FROM tasks WHERE id = ?
	`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t.Tags, err = s.taskTags(t.ID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns the owner's tasks, newest created first.
func (s *Store) ListTasks(owner string) ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT id, owner, title, description, due, completed, created_at
		FROM tasks WHERE owner = ?
		ORDER BY created_at DESC, id DESC
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range list {
		t.Tags, err = s.taskTags(t.ID)
		if err != nil {
			return nil, err
		}
	}
	return list, nil
}

// ListDated returns every task with a due date, across all owners,
// oldest due first. Used by calendar exporters.
func (s *Store) ListDated() ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT id, owner, title, description, due, completed, created_at
		FROM tasks WHERE due != ''
		ORDER BY due ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range list {
		t.Tags, err = s.taskTags(t.ID)
		if err != nil {
			return nil, err
		}
	}
	return list, nil
}

// UpdateTask applies a partial update. Returns nil, nil when the task
// does not exist. A non-nil Tags field replaces the whole tag set.
func (s *Store) UpdateTask(id string, p Patch) (*Task, error) {
	if p.Title != nil {
		if err := validateTitle(*p.Title); err != nil {
			return nil, err
		}
	}
	if p.Due != nil {
		if err := validateDue(*p.Due); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM tasks WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, nil
	}

	set := func(column string, value any) error {
		_, err := tx.Exec(fmt.Sprintf(`UPDATE tasks SET %s = ? WHERE id = ?`, column), value, id)
		return err
	}
	if p.Title != nil {
		if err := set("title", *p.Title); err != nil {
			return nil, err
		}
	}
	if p.Description != nil {
		if err := set("description", *p.Description); err != nil {
			return nil, err
		}
	}
	if p.Due != nil {
		if err := set("due", *p.Due); err != nil {
			return nil, err
		}
	}
	if p.Completed != nil {
		completed := 0
		if *p.Completed {
			completed = 1
		}
		if err := set("completed", completed); err != nil {
			return nil, err
		}
	}
	if p.Tags != nil {
		if _, err := tx.Exec(`DELETE FROM task_tags WHERE task_id = ?`, id); err != nil {
			return nil, err
		}
		if _, err := internAndLink(tx, id, *p.Tags); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetTask(id)
}

// SetCompleted sets the completion flag. Returns nil, nil when absent.
func (s *Store) SetCompleted(id string, completed bool) (*Task, error) {
	return s.UpdateTask(id, Patch{Completed: &completed})
}

// DeleteTask removes a task and its tag links. Reports whether a row
// was deleted.
func (s *Store) DeleteTask(id string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM task_tags WHERE task_id = ?`, id); err != nil {
		return false, err
	}
	res, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateOrGetTag interns a tag by name. An existing name returns the
// original tag, keeping its original color regardless of the color
// argument. Empty color defaults to DefaultTagColor.
func (s *Store) CreateOrGetTag(name, color string) (*Tag, error) {
	if name == "" {
		return nil, invalidf("tag name is required")
	}
	if color == "" {
		color = DefaultTagColor
	}

	_, err := s.db.Exec(`
		INSERT INTO tags (id, name, color) VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, NewID(), name, color)
	if err != nil {
		return nil, err
	}

	tag := &Tag{}
	err = s.db.QueryRow(`SELECT id, name, color FROM tags WHERE name = ?`, name).
		Scan(&tag.ID, &tag.Name, &tag.Color)
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags() ([]*Tag, error) {
	rows, err := s.db.Query(`SELECT id, name, color FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Tag
	for rows.Next() {
		tag := &Tag{}
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Color); err != nil {
			return nil, err
		}
		list = append(list, tag)
	}
	return list, rows.Err()
}

// DeleteTag removes a tag and detaches it from all tasks. Reports
// whether a row was deleted.
func (s *Store) DeleteTag(id string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM task_tags WHERE tag_id = ?`, id); err != nil {
		return false, err
	}
	res, err := tx.Exec(`DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// internAndLink interns each named tag inside tx and links it to the
// task. Returns the resolved tags in input order, skipping empty names.
func internAndLink(tx *sql.Tx, taskID string, inputs []TagInput) ([]Tag, error) {
	tags := []Tag{}
	for _, in := range inputs {
		if in.Name == "" {
			continue
		}
		color := in.Color
		if color == "" {
			color = DefaultTagColor
		}
		if _, err := tx.Exec(`
			INSERT INTO tags (id, name, color) VALUES (?, ?, ?)
			ON CONFLICT(name) DO NOTHING
		`, NewID(), in.Name, color); err != nil {
			return nil, err
		}

		tag := Tag{}
		if err := tx.QueryRow(`SELECT id, name, color FROM tags WHERE name = ?`, in.Name).
			Scan(&tag.ID, &tag.Name, &tag.Color); err != nil {
			return nil, err
		}

		if _, err := tx.Exec(`
			INSERT INTO task_tags (task_id, tag_id) VALUES (?, ?)
			ON CONFLICT(task_id, tag_id) DO NOTHING
		`, taskID, tag.ID); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// taskTags loads the tags linked to a task, ordered by name.
func (s *Store) taskTags(taskID string) ([]Tag, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.name, t.color
		FROM tags t
		JOIN task_tags tt ON tt.tag_id = t.id
		WHERE tt.task_id = ?
		ORDER BY t.name
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		tag := Tag{}
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Color); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// scanner lets scanTask work on both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*Task, error) {
	t := &Task{Tags: []Tag{}}
	var completed int
	var createdAt string
	if err := sc.Scan(&t.ID, &t.Owner, &t.Title, &t.Description, &t.Due, &completed, &createdAt); err != nil {
		return nil, err
	}
	t.Completed = completed != 0

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	t.CreatedAt = ts
	return t, nil
}
