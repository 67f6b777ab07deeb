package tools

import (
	"encoding/json"
	"testing"
)

func TestCatalogJSON_SameBytesEveryCall(t *testing.T) {
	first := CatalogJSON()
	second := CatalogJSON()
	if string(first) != string(second) {
		t.Error("catalog serialization must not vary between calls")
	}
}

func TestCatalog_Shape(t *testing.T) {
	var decoded []map[string]any
	if err := json.Unmarshal(CatalogJSON(), &decoded); err != nil {
		t.Fatalf("catalog is not valid JSON: %v", err)
	}
	if len(decoded) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(decoded))
	}

	wantOrder := []string{
		NameCreateTodo, NameGetAllTodos, NameUpdateTodo,
		NameDeleteTodo, NameMarkComplete, NameAnalyzeTodos,
	}
	for i, name := range wantOrder {
		if decoded[i]["name"] != name {
			t.Errorf("tool %d: expected %s, got %v", i, name, decoded[i]["name"])
		}
		if _, ok := decoded[i]["description"].(string); !ok {
			t.Errorf("tool %s: missing description", name)
		}
		params, ok := decoded[i]["parameters"].(map[string]any)
		if !ok {
			t.Fatalf("tool %s: missing parameters object", name)
		}
		if params["type"] != "object" {
			t.Errorf("tool %s: parameters.type = %v, want object", name, params["type"])
		}
		if _, ok := params["properties"].(map[string]any); !ok {
			t.Errorf("tool %s: missing parameters.properties", name)
		}
	}
}

func TestCatalog_RequiredFields(t *testing.T) {
	var decoded []struct {
		Name       string `json:"name"`
		Parameters struct {
			Required []string `json:"required"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(CatalogJSON(), &decoded); err != nil {
		t.Fatal(err)
	}

	required := map[string][]string{}
	for _, d := range decoded {
		required[d.Name] = d.Parameters.Required
	}

	if got := required[NameCreateTodo]; len(got) != 1 || got[0] != "title" {
		t.Errorf("create_todo required = %v, want [title]", got)
	}
	if got := required[NameUpdateTodo]; len(got) != 2 || got[0] != "todo_id" || got[1] != "updates" {
		t.Errorf("update_todo required = %v, want [todo_id updates]", got)
	}
	if got := required[NameGetAllTodos]; len(got) != 0 {
		t.Errorf("get_all_todos required = %v, want none", got)
	}
	if got := required[NameAnalyzeTodos]; len(got) != 0 {
		t.Errorf("analyze_todos required = %v, want none", got)
	}
}

func TestMutating(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{NameCreateTodo, true},
		{NameUpdateTodo, true},
		{NameDeleteTodo, true},
		{NameMarkComplete, true},
		{NameGetAllTodos, false},
		{NameAnalyzeTodos, false},
		{"final", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := Mutating(tc.name); got != tc.want {
			t.Errorf("Mutating(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
