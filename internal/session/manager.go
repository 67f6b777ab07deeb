package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTTL is how long a chat thread stays live before a new one is
// lazily created.
const DefaultTTL = 120 * time.Minute

// Remote is the provider surface the manager drives. *backboard.Client
// satisfies it.
type Remote interface {
	CreateAssistant(ctx context.Context, name, systemPrompt string, tools json.RawMessage) (string, error)
	UpdateAssistant(ctx context.Context, assistantID, systemPrompt string, tools json.RawMessage) error
	CreateThread(ctx context.Context, assistantID string) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
}

// Options configures a Manager.
type Options struct {
	// TTL for new sessions. Zero means DefaultTTL.
	TTL time.Duration
	// NamePrefix for per-owner assistant names ("<prefix>-<owner>").
	// Empty means "user".
	NamePrefix string
	// SystemPrompt pushed to assistants on create and refresh.
	SystemPrompt string
	// Tools is the serialized tool catalog pushed alongside the prompt.
	Tools json.RawMessage
}

// Manager owns the assistant/thread lifecycle for all owners. Remote
// failures on best-effort paths (assistant refresh, thread deletion)
// are returned as warnings, never as errors.
type Manager struct {
	store  *Store
	remote Remote
	logger *slog.Logger

	ttl          time.Duration
	namePrefix   string
	systemPrompt string
	tools        json.RawMessage

	// now is swapped in tests to control expiry.
	now func() time.Time
}

// NewManager creates a session manager on top of a store and a remote
// provider client.
func NewManager(store *Store, remote Remote, logger *slog.Logger, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	prefix := opts.NamePrefix
	if prefix == "" {
		prefix = "user"
	}
	return &Manager{
		store:        store,
		remote:       remote,
		logger:       logger,
		ttl:          ttl,
		namePrefix:   prefix,
		systemPrompt: opts.SystemPrompt,
		tools:        opts.Tools,
		now:          time.Now,
	}
}

// EnsureAssistant returns the owner's assistant id, creating it on
// first use. When an assistant already exists, the manager pushes the
// current instructions and tool schema to it; a failed push is
// reported in warnings and does not fail the call.
func (m *Manager) EnsureAssistant(ctx context.Context, owner string) (string, []string, error) {
	existing, err := m.store.AssistantID(owner)
	if err != nil {
		return "", nil, fmt.Errorf("load assistant id: %w", err)
	}

	if existing != "" {
		var warnings []string
		if err := m.remote.UpdateAssistant(ctx, existing, m.systemPrompt, m.tools); err != nil {
			warnings = append(warnings, fmt.Sprintf("refresh assistant %s: %v", existing, err))
		}
		return existing, warnings, nil
	}

	name := fmt.Sprintf("%s-%s", m.namePrefix, owner)
	assistantID, err := m.remote.CreateAssistant(ctx, name, m.systemPrompt, m.tools)
	if err != nil {
		return "", nil, fmt.Errorf("create assistant: %w", err)
	}
	if err := m.store.SetAssistantID(owner, assistantID); err != nil {
		return "", nil, fmt.Errorf("store assistant id: %w", err)
	}

	m.logger.Info("created assistant", "owner", owner, "assistant_id", assistantID)
	return assistantID, nil, nil
}

// StartSession returns the owner's live thread id. An unexpired thread
// is reused unchanged unless forceNew is set; otherwise a new thread is
// opened under the owner's assistant and stored with a fresh expiry.
// A thread is live strictly while now < expiry.
func (m *Manager) StartSession(ctx context.Context, owner string, forceNew bool) (string, error) {
	if !forceNew {
		threadID, expires, err := m.store.ActiveThread(owner)
		if err != nil {
			return "", fmt.Errorf("load session: %w", err)
		}
		if threadID != "" && m.now().Before(expires) {
			return threadID, nil
		}
	}

	assistantID, warnings, err := m.EnsureAssistant(ctx, owner)
	if err != nil {
		return "", err
	}
	for _, w := range warnings {
		m.logger.Warn("ensure assistant", "owner", owner, "warning", w)
	}

	threadID, err := m.remote.CreateThread(ctx, assistantID)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	expiresAt := m.now().Add(m.ttl)
	if err := m.store.SetActiveThread(owner, threadID, expiresAt); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	m.logger.Debug("session started",
		"owner", owner,
		"thread_id", threadID,
		"expires_at", expiresAt.UTC().Format(time.RFC3339),
	)
	return threadID, nil
}

// ThreadID returns the owner's current unexpired thread without
// creating one. ok is false when no live session exists.
func (m *Manager) ThreadID(owner string) (threadID string, ok bool) {
	id, expires, err := m.store.ActiveThread(owner)
	if err != nil || id == "" || !m.now().Before(expires) {
		return "", false
	}
	return id, true
}

// EndSession deletes the owner's thread. Remote deletion is attempted
// when deleteRemote is set and its failure is returned as a warning;
// the local record is cleared unconditionally so local state never
// outlives a failed remote call.
func (m *Manager) EndSession(ctx context.Context, owner string, deleteRemote bool) ([]string, error) {
	threadID, _, err := m.store.ActiveThread(owner)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if threadID == "" {
		return nil, nil
	}

	var warnings []string
	if deleteRemote {
		if err := m.remote.DeleteThread(ctx, threadID); err != nil {
			warnings = append(warnings, fmt.Sprintf("delete thread %s: %v", threadID, err))
		}
	}

	if err := m.store.ClearActiveThread(owner); err != nil {
		return warnings, fmt.Errorf("clear session: %w", err)
	}

	m.logger.Debug("session ended", "owner", owner, "thread_id", threadID)
	return warnings, nil
}
