package backboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/nugget/docket-ai-agent/internal/config"
	"github.com/nugget/docket-ai-agent/internal/httpkit"
)

// Memory mode strings accepted by the provider.
const (
	// MemoryAuto lets the provider extract and persist memories from
	// the exchange.
	MemoryAuto = "Auto"
	// MemoryReadonly uses stored memories without writing new ones.
	MemoryReadonly = "Readonly"
)

// MemoryMode maps the caller's remember flag to the provider's wire
// value.
func MemoryMode(remember bool) string {
	if remember {
		return MemoryAuto
	}
	return MemoryReadonly
}

// MessageRequest posts one message to a thread.
type MessageRequest struct {
	ThreadID string
	Content  string
	// Memory is MemoryAuto or MemoryReadonly. Empty means MemoryReadonly.
	Memory string
	// Tools is the serialized tool catalog sent alongside the message.
	Tools json.RawMessage
	// SendToLLM, when non-nil and false, attaches the message without
	// triggering a model run (used for injected document text).
	SendToLLM *bool
	// LLMProvider and ModelName override the client defaults when set.
	LLMProvider string
	ModelName   string
}

// ToolCall is a provider-side tool invocation request.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// MessageResponse is the provider's answer to a posted message.
type MessageResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	RunID     string     `json:"run_id,omitempty"`
}

// SendMessage posts a message and blocks until the model run finishes.
// The provider expects multipart form encoding: booleans as the strings
// "true"/"false", structured fields JSON-encoded.
func (c *Client) SendMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	memory := req.Memory
	if memory == "" {
		memory = MemoryReadonly
	}
	provider := req.LLMProvider
	if provider == "" {
		provider = c.llmProvider
	}
	model := req.ModelName
	if model == "" {
		model = c.modelName
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"content", req.Content},
		{"memory", memory},
		{"stream", "false"},
	}
	if provider != "" {
		fields = append(fields, [2]string{"llm_provider", provider})
	}
	if model != "" {
		fields = append(fields, [2]string{"model_name", model})
	}
	if len(req.Tools) > 0 {
		fields = append(fields, [2]string{"tools", string(req.Tools)})
	}
	if req.SendToLLM != nil {
		v := "false"
		if *req.SendToLLM {
			v = "true"
		}
		fields = append(fields, [2]string{"send_to_llm", v})
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", f[0], err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	c.logger.Debug("sending message",
		"thread_id", req.ThreadID,
		"content_len", len(req.Content),
		"memory", memory,
		"model", model,
	)
	c.logger.Log(ctx, config.LevelTrace, "message content", "content", req.Content)

	body, err := c.doForm(ctx, "/threads/"+req.ThreadID+"/messages", &buf, form.FormDataContentType(), "send message")
	if err != nil {
		return nil, err
	}

	resp := &MessageResponse{}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, fmt.Errorf("decode message response: %w", err)
	}

	c.logger.Debug("message response",
		"thread_id", req.ThreadID,
		"content_len", len(resp.Content),
		"tool_calls", len(resp.ToolCalls),
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", resp.Content)
	return resp, nil
}

// doForm posts a prepared multipart body. Same error taxonomy as doJSON.
func (c *Client) doForm(ctx context.Context, path string, body io.Reader, contentType, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)

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
	return data, nil
}
