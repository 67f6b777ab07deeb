// Package backboard is the HTTP client for the Backboard API, the
// hosted assistant/memory/document provider behind the chat agent.
// Assistants hold long-term instructions and memories; threads hold one
// conversation and its attached documents.
//
// Failures split into two kinds: *ConnectivityError when the provider
// cannot be reached, and *APIError when it answered with an error
// status. Callers that only care about reachability use IsConnectivity.
package backboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/docket-ai-agent/internal/config"
	"github.com/nugget/docket-ai-agent/internal/httpkit"
)

// Config carries the connection settings for New.
type Config struct {
	BaseURL     string
	APIKey      string
	LLMProvider string
	ModelName   string
	// Timeout bounds one full round trip. Zero means 120 seconds.
	Timeout time.Duration
}

// Client talks to one Backboard deployment.
type Client struct {
	baseURL     string
	apiKey      string
	llmProvider string
	modelName   string
	httpClient  *http.Client
	logger      *slog.Logger
}

// New creates a Backboard client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	// A message post blocks on the model run before headers come back,
	// so the transport's header timeout must match the full budget.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = timeout

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		llmProvider: cfg.LLMProvider,
		modelName:   cfg.ModelName,
		logger:      logger.With("provider", "backboard"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithTransport(t),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
	}
}

// CreateAssistant registers a new assistant and returns its id. The
// tool schema rides along when non-nil so the provider knows the
// assistant's action surface.
func (c *Client) CreateAssistant(ctx context.Context, name, systemPrompt string, tools json.RawMessage) (string, error) {
	payload := map[string]any{
		"name":          name,
		"system_prompt": systemPrompt,
	}
	if len(tools) > 0 {
		payload["tools"] = tools
	}

	body, err := c.doJSON(ctx, http.MethodPost, "/assistants", payload, "create assistant")
	if err != nil {
		return "", err
	}

	var resp struct {
		AssistantID string `json:"assistant_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode create assistant response: %w", err)
	}
	if resp.AssistantID == "" {
		return "", fmt.Errorf("create assistant response missing assistant_id")
	}
	return resp.AssistantID, nil
}

// UpdateAssistant pushes fresh instructions and tool schema to an
// existing assistant. Callers treat failures as non-fatal; the provider
// may not support updates at all.
func (c *Client) UpdateAssistant(ctx context.Context, assistantID, systemPrompt string, tools json.RawMessage) error {
	payload := map[string]any{
		"system_prompt": systemPrompt,
	}
	if len(tools) > 0 {
		payload["tools"] = tools
	}

	_, err := c.doJSON(ctx, http.MethodPut, "/assistants/"+assistantID, payload, "update assistant")
	return err
}

// CreateThread opens a new conversation under an assistant.
func (c *Client) CreateThread(ctx context.Context, assistantID string) (string, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/assistants/"+assistantID+"/threads", map[string]any{}, "create thread")
	if err != nil {
		return "", err
	}

	var resp struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode create thread response: %w", err)
	}
	if resp.ThreadID == "" {
		return "", fmt.Errorf("create thread response missing thread_id")
	}
	return resp.ThreadID, nil
}

// DeleteThread removes a conversation and its attachments.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, "/threads/"+threadID, nil, "delete thread")
	return err
}

// ThreadMessage is one entry of a thread's history.
type ThreadMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Thread is a conversation with its message history.
type Thread struct {
	ThreadID string          `json:"thread_id"`
	Messages []ThreadMessage `json:"messages"`
}

// GetThread fetches a conversation including its message history.
func (c *Client) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID, nil, "get thread")
	if err != nil {
		return nil, err
	}

	thread := &Thread{}
	if err := json.Unmarshal(body, thread); err != nil {
		return nil, fmt.Errorf("decode thread: %w", err)
	}
	return thread, nil
}

// Ping reports whether the provider is reachable. Any HTTP answer,
// including an error status, proves reachability; only transport
// failures count as down.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classify(ctx, err)
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

// doJSON performs one JSON round trip. A nil payload sends no body.
// Returns the response body bytes on 2xx, *APIError on an error status,
// and *ConnectivityError when the provider was unreachable.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any, op string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
		c.logger.Log(ctx, config.LevelTrace, "request payload", "op", op, "json", string(data))
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Operation: op,
			Status:    resp.StatusCode,
			Body:      httpkit.ReadErrorBody(resp.Body, errBodyLimit),
		}
		c.logger.Error("API error", "op", op, "status", apiErr.Status, "body", apiErr.Body)
		return nil, apiErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	c.logger.Log(ctx, config.LevelTrace, "response payload", "op", op, "json", string(data))
	return data, nil
}

// classify turns a transport-level failure into the error taxonomy.
// Context cancellation passes through untouched so callers can detect
// their own deadlines.
func (c *Client) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ConnectivityError{BaseURL: c.baseURL, Err: err}
}
