package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/nugget/docket-ai-agent/internal/tools"
)

// actionPair is one recovered (action, input) invocation.
type actionPair struct {
	Action string
	Input  json.RawMessage
}

// stepReply is the structured form of one model response.
type stepReply struct {
	Thought string
	Final   string
	IsFinal bool
	Actions []actionPair
}

// finalAction is the reserved action name that ends the loop.
const finalAction = "final"

var (
	// actionBlockRe recovers flat {"action": "...", "action_input": {...}}
	// fragments from otherwise unparseable text. Nested objects inside
	// action_input defeat it; that is the accepted limit of the heuristic.
	actionBlockRe = regexp.MustCompile(`"action"\s*:\s*"([^"]+)"[^{}]*?"action_input"\s*:\s*(\{[^{}]*\})`)
	thoughtRe     = regexp.MustCompile(`"thought"\s*:\s*"([^"]*)"`)
	finalRe       = regexp.MustCompile(`"final"\s*:\s*"([^"]*)"`)
	todoIDRe      = regexp.MustCompile(`"todo_id"\s*:\s*"([^"]+)"`)
)

// parseResponse turns raw model output into a stepReply. Strategies run
// in a fixed order, each total: strip code fences, strict JSON parse of
// the outermost object, permissive action-block scan, and finally
// delete_todo id synthesis. Reports false when no strategy recovers
// anything; the caller falls back to the raw text.
func parseResponse(text string) (stepReply, bool) {
	t := stripFences(text)

	if reply, ok := parseStrict(t); ok {
		return reply, true
	}
	if reply, ok := scanActionBlocks(t); ok {
		return reply, true
	}
	return synthesizeDeletes(t)
}

// stripFences removes a leading/trailing fenced code block marker,
// optionally tagged json.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimPrefix(t, "json")
	if end := strings.LastIndex(t, "```"); end >= 0 {
		t = t[:end]
	}
	return strings.TrimSpace(t)
}

type wireAction struct {
	Action      json.RawMessage `json:"action"`
	ActionInput json.RawMessage `json:"action_input"`
}

type wireReply struct {
	Thought     json.RawMessage `json:"thought"`
	Action      json.RawMessage `json:"action"`
	ActionInput json.RawMessage `json:"action_input"`
	Actions     []wireAction    `json:"actions"`
	Final       json.RawMessage `json:"final"`
}

// parseStrict takes the span from the first { to the last } and parses
// it as one JSON object. The object is accepted only if it carries an
// action or actions key.
func parseStrict(t string) (stepReply, bool) {
	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start < 0 || end <= start {
		return stepReply{}, false
	}
	span := []byte(t[start : end+1])

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(span, &keys); err != nil {
		return stepReply{}, false
	}
	if _, hasAction := keys["action"]; !hasAction {
		if _, hasActions := keys["actions"]; !hasActions {
			return stepReply{}, false
		}
	}

	var w wireReply
	if err := json.Unmarshal(span, &w); err != nil {
		return stepReply{}, false
	}

	reply := stepReply{
		Thought: jsonString(w.Thought),
		Final:   jsonString(w.Final),
	}
	if jsonString(w.Action) == finalAction {
		reply.IsFinal = true
		return reply, true
	}
	if len(w.Actions) > 0 {
		for _, a := range w.Actions {
			reply.Actions = append(reply.Actions, actionPair{
				Action: jsonString(a.Action),
				Input:  a.ActionInput,
			})
		}
		return reply, true
	}
	if action := jsonString(w.Action); action != "" {
		reply.Actions = []actionPair{{Action: action, Input: w.ActionInput}}
	}
	return reply, true
}

// scanActionBlocks extracts as many flat action fragments as the text
// contains. Thought and final come from best-effort field regexes and
// default to empty.
func scanActionBlocks(t string) (stepReply, bool) {
	matches := actionBlockRe.FindAllStringSubmatch(t, -1)
	if len(matches) == 0 {
		return stepReply{}, false
	}

	reply := stepReply{
		Thought: firstGroup(thoughtRe, t),
		Final:   firstGroup(finalRe, t),
	}
	for _, m := range matches {
		reply.Actions = append(reply.Actions, actionPair{
			Action: m[1],
			Input:  json.RawMessage(m[2]),
		})
	}
	return reply, true
}

// synthesizeDeletes is the last resort: when the text names delete_todo
// but no block could be recovered, every quoted todo_id becomes one
// delete action.
func synthesizeDeletes(t string) (stepReply, bool) {
	if !strings.Contains(t, tools.NameDeleteTodo) {
		return stepReply{}, false
	}
	ids := todoIDRe.FindAllStringSubmatch(t, -1)
	if len(ids) == 0 {
		return stepReply{}, false
	}

	reply := stepReply{
		Thought: firstGroup(thoughtRe, t),
		Final:   firstGroup(finalRe, t),
	}
	for _, m := range ids {
		input, err := json.Marshal(map[string]string{"todo_id": m[1]})
		if err != nil {
			continue
		}
		reply.Actions = append(reply.Actions, actionPair{
			Action: tools.NameDeleteTodo,
			Input:  input,
		})
	}
	return reply, len(reply.Actions) > 0
}

// jsonString decodes a raw value as a string, returning "" for null,
// absent, or non-string values.
func jsonString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func firstGroup(re *regexp.Regexp, t string) string {
	if m := re.FindStringSubmatch(t); m != nil {
		return m[1]
	}
	return ""
}
