// Package agent implements the tool-calling loop that turns one user
// message into task mutations and a final reply.
//
// One invocation: ensure the owner's provider session, snapshot their
// tasks and attached documents into a context block, then repeatedly
// prompt the model, parse its reply, execute the requested tools, and
// feed observations back until the model answers or the step budget
// runs out. The scratchpad of prior steps lives only for the duration
// of the call.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/docket-ai-agent/internal/backboard"
	"github.com/nugget/docket-ai-agent/internal/events"
	"github.com/nugget/docket-ai-agent/internal/prompts"
	"github.com/nugget/docket-ai-agent/internal/tasks"
	"github.com/nugget/docket-ai-agent/internal/tools"
)

// maxSteps bounds one invocation's provider round trips.
const maxSteps = 5

// Gateway is the provider surface the loop drives. *backboard.Client
// satisfies it.
type Gateway interface {
	SendMessage(ctx context.Context, req backboard.MessageRequest) (*backboard.MessageResponse, error)
	ListDocuments(ctx context.Context, threadID string) ([]backboard.Document, error)
}

// Sessions supplies the provider-side thread for an owner.
// *session.Manager satisfies it.
type Sessions interface {
	StartSession(ctx context.Context, owner string, forceNew bool) (string, error)
}

// ProgressKind classifies loop progress notifications.
type ProgressKind string

const (
	// ProgressAction announces a tool call about to run.
	ProgressAction ProgressKind = "action"
	// ProgressObservation carries a finished tool call's result.
	ProgressObservation ProgressKind = "observation"
	// ProgressCalendarUpdated signals that task state changed and live
	// views should refresh.
	ProgressCalendarUpdated ProgressKind = "calendar_updated"
)

// Progress is one incremental notification from a running invocation.
type Progress struct {
	Kind ProgressKind
	Text string
}

// ProgressFunc receives progress notifications. Delivery is
// fire-and-forget: the loop never waits on the consumer and suppresses
// panics escaping the callback.
type ProgressFunc func(Progress)

// Agent drives the session manager, provider gateway, tool executor,
// and task store together to answer one user message at a time. All
// dependencies are injected; the agent holds no cross-invocation state.
type Agent struct {
	store    *tasks.Store
	sessions Sessions
	gateway  Gateway
	exec     *tools.Executor
	bus      *events.Bus
	logger   *slog.Logger

	inlineSystemPrompt bool
	systemPrompt       string
}

// Options configures an Agent.
type Options struct {
	// InlineSystemPrompt embeds the system prompt into every step
	// request. Leave false when the prompt is already pushed to the
	// assistant, so it is not sent twice.
	InlineSystemPrompt bool
	// SystemPrompt overrides the default persona when non-empty.
	SystemPrompt string
}

// New creates an agent.
func New(store *tasks.Store, sessions Sessions, gateway Gateway, bus *events.Bus, logger *slog.Logger, opts Options) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = prompts.BaseSystemPrompt()
	}
	return &Agent{
		store:              store,
		sessions:           sessions,
		gateway:            gateway,
		exec:               tools.NewExecutor(store),
		bus:                bus,
		logger:             logger,
		inlineSystemPrompt: opts.InlineSystemPrompt,
		systemPrompt:       systemPrompt,
	}
}

// ProcessMessage answers one user message for owner and returns the
// final reply text. Intermediate tool failures degrade into
// observations the model sees; only genuine infrastructure failures
// (session setup, provider round trips) surface as errors. When
// remember is true the provider persists memories from the exchange.
func (a *Agent) ProcessMessage(ctx context.Context, owner, userText string, remember bool, progress ProgressFunc) (string, error) {
	started := time.Now()
	a.logger.Info("processing message", "owner", owner, "chars", len(userText), "remember", remember)
	a.bus.Publish(events.Event{
		Timestamp: started,
		Source:    events.SourceAgent,
		Kind:      events.KindRequestStart,
		Data:      map[string]any{"owner": owner, "message_len": len(userText), "remember": remember},
	})

	threadID, err := a.sessions.StartSession(ctx, owner, false)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}

	contextBlock, err := a.contextBlock(ctx, owner, threadID)
	if err != nil {
		return "", err
	}
	message := userText + contextBlock

	var scratchpad strings.Builder
	for step := 1; step <= maxSteps; step++ {
		prompt := prompts.StepPrompt(a.stepSystemPrompt(), message, string(tools.CatalogJSON()), scratchpad.String())

		resp, err := a.gateway.SendMessage(ctx, backboard.MessageRequest{
			ThreadID: threadID,
			Content:  prompt,
			Memory:   backboard.MemoryMode(remember),
			Tools:    tools.CatalogJSON(),
		})
		if err != nil {
			return "", err
		}

		reply, ok := parseResponse(resp.Content)
		if !ok {
			// Fail open: a reply the parser cannot recover becomes the
			// final answer, never an error to the caller.
			a.logger.Warn("unparseable model reply", "owner", owner, "step", step, "chars", len(resp.Content))
			a.finish(owner, step, started)
			return resp.Content, nil
		}

		if reply.IsFinal {
			final := reply.Final
			if final == "" {
				final = resp.Content
			}
			a.finish(owner, step, started)
			return final, nil
		}

		for _, pair := range reply.Actions {
			observation := a.runAction(owner, pair, progress)
			appendStep(&scratchpad, reply.Thought, pair, observation)
		}

		a.logger.Debug("step complete", "owner", owner, "step", step, "actions", len(reply.Actions))
	}

	a.finish(owner, maxSteps, started)
	return prompts.StepLimitFallback, nil
}

// stepSystemPrompt returns the prompt to inline per step, or "" when
// the assistant-level prompt already covers it.
func (a *Agent) stepSystemPrompt() string {
	if a.inlineSystemPrompt {
		return a.systemPrompt
	}
	return ""
}

// SystemPrompt returns the persona this agent pushes to assistants.
func (a *Agent) SystemPrompt() string { return a.systemPrompt }

// contextBlock snapshots the owner's tasks and the session's attached
// documents. Rebuilt on every invocation so the model always sees
// current state. A document listing failure degrades to a task-only
// block; a store failure is genuine and propagates.
func (a *Agent) contextBlock(ctx context.Context, owner, threadID string) (string, error) {
	list, err := a.store.ListTasks(owner)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}
	if list == nil {
		list = []*tasks.Task{}
	}
	todosJSON, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("serialize tasks: %w", err)
	}
	block := prompts.TaskContext(string(todosJSON))

	docs, err := a.gateway.ListDocuments(ctx, threadID)
	if err != nil {
		a.logger.Warn("listing thread documents failed", "owner", owner, "error", err)
		return block, nil
	}
	if len(docs) > 0 {
		var sb strings.Builder
		sb.WriteString(block)
		sb.WriteString(prompts.DocumentsHeader)
		for _, d := range docs {
			sb.WriteString(prompts.DocumentLine(d.Filename, d.Status, d.Summary))
		}
		block = sb.String()
	}
	return block, nil
}

// runAction executes one recovered action and returns its observation.
// Failures of any kind become {"error": ...} observations; the loop
// never aborts mid-step.
func (a *Agent) runAction(owner string, pair actionPair, progress ProgressFunc) string {
	a.emit(progress, Progress{Kind: ProgressAction, Text: fmt.Sprintf("Running %s %s", pair.Action, inputText(pair.Input))})
	a.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindToolCall,
		Data:      map[string]any{"owner": owner, "action": pair.Action},
	})

	observation, failed := a.executeObservation(owner, pair)

	a.emit(progress, Progress{Kind: ProgressObservation, Text: observation})
	a.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindToolDone,
		Data:      map[string]any{"owner": owner, "action": pair.Action, "ok": !failed},
	})
	if tools.Mutating(pair.Action) {
		if !failed {
			a.bus.Publish(events.Event{
				Timestamp: time.Now(),
				Source:    events.SourceAgent,
				Kind:      taskEventKind(pair.Action),
				Data:      map[string]any{"owner": owner},
			})
		}
		a.emit(progress, Progress{Kind: ProgressCalendarUpdated})
	}
	return observation
}

// taskEventKind maps a mutating tool onto the task-change event kind
// notifiers and exporters subscribe to.
func taskEventKind(action string) string {
	switch action {
	case tools.NameCreateTodo:
		return events.KindTaskCreated
	case tools.NameMarkComplete:
		return events.KindTaskCompleted
	case tools.NameDeleteTodo:
		return events.KindTaskDeleted
	}
	return events.KindTaskUpdated
}

func (a *Agent) executeObservation(owner string, pair actionPair) (observation string, failed bool) {
	action, err := tools.Decode(pair.Action, pair.Input)
	if err != nil {
		return errorObservation(err), true
	}
	observation, err = a.exec.Execute(owner, action)
	if err != nil {
		return errorObservation(err), true
	}
	return observation, false
}

// errorObservation renders a tool failure as the observation object the
// model sees. Ownership failures pass through as their fixed message.
func errorObservation(err error) string {
	data, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return `{"error":"tool execution failed"}`
	}
	return string(data)
}

// emit delivers one progress notification. The callback is an external
// side channel; a panic inside it is logged and suppressed so it cannot
// disturb the loop.
func (a *Agent) emit(progress ProgressFunc, p Progress) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("progress callback panicked", "kind", p.Kind, "panic", r)
		}
	}()
	progress(p)
}

func (a *Agent) finish(owner string, steps int, started time.Time) {
	elapsed := time.Since(started)
	a.logger.Info("message processed", "owner", owner, "steps", steps, "elapsed", elapsed)
	a.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindRequestComplete,
		Data:      map[string]any{"owner": owner, "steps": steps, "elapsed_ms": elapsed.Milliseconds()},
	})
}

// appendStep records one executed action in the transcript format the
// next step's prompt carries.
func appendStep(sb *strings.Builder, thought string, pair actionPair, observation string) {
	fmt.Fprintf(sb, "Thought: %s\nAction: %s\nAction input: %s\nObservation: %s\n\n",
		thought, pair.Action, inputText(pair.Input), observation)
}

func inputText(raw json.RawMessage) string {
	t := strings.TrimSpace(string(raw))
	if t == "" {
		return "null"
	}
	return t
}
