package api

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/nugget/docket-ai-agent/internal/prompts"
)

func TestChatEndToEnd(t *testing.T) {
	f := newFixture(t,
		`{"thought": "new todo", "action": "create_todo", "action_input": {"title": "Buy milk", "date": "2026-09-01"}}`,
		`{"thought": "confirm", "action": "final", "final": "Added: Buy milk on 2026-09-01"}`,
	)

	resp := f.request(t, "POST", "/api/chat", "alice", map[string]any{
		"message":  "remind me to buy milk on september 1st",
		"remember": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want 200", resp.StatusCode)
	}

	var reply chatResponse
	decodeInto(t, resp, &reply)
	if reply.Response != "Added: Buy milk on 2026-09-01" {
		t.Errorf("response = %q", reply.Response)
	}
	if !strings.Contains(reply.ResponseHTML, "<p>Added: Buy milk on 2026-09-01</p>") {
		t.Errorf("response_html = %q", reply.ResponseHTML)
	}

	list, err := f.store.ListTasks("alice")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Buy milk" || list[0].Due != "2026-09-01" {
		t.Errorf("stored tasks = %+v", list)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, "POST", "/api/chat", "alice", map[string]any{"message": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatProviderDown(t *testing.T) {
	f := newFixture(t)
	f.providerSrv.Close()

	resp := f.request(t, "POST", "/api/chat", "alice", map[string]any{"message": "hello"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestChatHistory(t *testing.T) {
	f := newFixture(t, `{"action": "final", "final": "Hi there"}`)

	// Without a session the history is empty, not an error.
	resp := f.request(t, "GET", "/api/chat/history", "alice", nil)
	var history struct {
		Messages []historyMessage `json:"messages"`
	}
	decodeInto(t, resp, &history)
	if len(history.Messages) != 0 {
		t.Errorf("history before chat = %+v", history.Messages)
	}

	f.request(t, "POST", "/api/chat", "alice", map[string]any{"message": "hello"})

	resp = f.request(t, "GET", "/api/chat/history", "alice", nil)
	decodeInto(t, resp, &history)
	if len(history.Messages) != 2 {
		t.Fatalf("history length = %d, want 2", len(history.Messages))
	}
	if history.Messages[0].Role != "user" || history.Messages[0].ContentHTML != "" {
		t.Errorf("user turn = %+v", history.Messages[0])
	}
	assistant := history.Messages[1]
	if assistant.Role != "assistant" || assistant.ContentHTML == "" {
		t.Errorf("assistant turn = %+v", assistant)
	}
}

func TestChatReset(t *testing.T) {
	f := newFixture(t, `{"action": "final", "final": "Hello"}`)

	// Reset with no session reports reset=false.
	resp := f.request(t, "POST", "/api/chat/reset", "alice", nil)
	var reset chatResetResponse
	decodeInto(t, resp, &reset)
	if reset.Reset {
		t.Error("reset without session reported true")
	}

	f.request(t, "POST", "/api/chat", "alice", map[string]any{"message": "hi"})

	resp = f.request(t, "POST", "/api/chat/reset", "alice", nil)
	decodeInto(t, resp, &reset)
	if !reset.Reset {
		t.Error("reset with session reported false")
	}

	f.stub.mu.Lock()
	deleted := len(f.stub.deletedThreads)
	f.stub.mu.Unlock()
	if deleted != 1 {
		t.Errorf("deleted threads = %d, want 1", deleted)
	}
}

func uploadFile(t *testing.T, f *apiFixture, owner, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	form.Close()

	req, err := http.NewRequest("POST", f.baseURL+"/api/chat/upload", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-User-ID", owner)
	req.Header.Set("Content-Type", form.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestChatUpload(t *testing.T) {
	f := newFixture(t)

	resp := uploadFile(t, f, "alice", "notes.txt", []byte("project kickoff notes"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	var up uploadResponse
	decodeInto(t, resp, &up)
	if up.DocumentID != "doc-1" || up.Status != "indexed" || up.Fallback != "" {
		t.Errorf("upload response = %+v", up)
	}

	resp = f.request(t, "GET", "/api/chat/documents", "alice", nil)
	var docList struct {
		Count int `json:"count"`
	}
	decodeInto(t, resp, &docList)
	if docList.Count != 1 {
		t.Errorf("document count = %d, want 1", docList.Count)
	}
}

func TestChatUploadRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t)

	resp := uploadFile(t, f, "alice", "setup.exe", []byte{0x4d, 0x5a})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatUploadFallsBackToExtractedText(t *testing.T) {
	f := newFixture(t)
	f.stub.rejectUploads = true

	resp := uploadFile(t, f, "alice", "notes.md", []byte("# Agenda\n\ndiscuss roadmap"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("fallback upload status = %d, want 201", resp.StatusCode)
	}
	var up uploadResponse
	decodeInto(t, resp, &up)
	if up.Fallback != "text_attached" {
		t.Errorf("fallback = %q, want text_attached", up.Fallback)
	}

	f.stub.mu.Lock()
	defer f.stub.mu.Unlock()
	found := false
	for _, msgs := range f.stub.messages {
		for _, m := range msgs {
			if strings.HasPrefix(m.Content, "Extracted text from uploaded document:") &&
				strings.Contains(m.Content, "discuss roadmap") {
				found = true
			}
		}
	}
	if !found {
		t.Error("extracted text was not attached to the thread")
	}
}

func TestChatUploadFallbackImpossibleForPDF(t *testing.T) {
	f := newFixture(t)
	f.stub.rejectUploads = true

	resp := uploadFile(t, f, "alice", "scan.pdf", []byte("%PDF-1.4 binary"))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestChatWaitsForIndexing(t *testing.T) {
	f := newFixture(t, `{"action": "final", "final": "Summary ready."}`)

	resp := uploadFile(t, f, "alice", "notes.txt", []byte("hello"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	f.stub.setDocStatus("processing")
	before := f.stub.messageCount()

	resp = f.request(t, "POST", "/api/chat", "alice", map[string]any{"message": "summarize the doc"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want 200", resp.StatusCode)
	}
	var reply chatResponse
	decodeInto(t, resp, &reply)
	if reply.Response != prompts.DocumentIndexingReply {
		t.Errorf("response = %q, want indexing reply", reply.Response)
	}
	if f.stub.messageCount() != before {
		t.Error("a model round trip happened while indexing")
	}

	// Once indexing finishes the gate opens.
	f.stub.setDocStatus("indexed")
	resp = f.request(t, "POST", "/api/chat", "alice", map[string]any{"message": "summarize the doc"})
	decodeInto(t, resp, &reply)
	if reply.Response != "Summary ready." {
		t.Errorf("post-indexing response = %q", reply.Response)
	}
}

func TestRenderMarkdown(t *testing.T) {
	html, err := renderMarkdown("Hello **world**")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "<strong>world</strong>") {
		t.Errorf("html = %q", html)
	}
}

func TestChatDocumentsWithoutSession(t *testing.T) {
	f := newFixture(t)

	resp := f.request(t, "GET", "/api/chat/documents", "alice", nil)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `"count":0`) {
		t.Errorf("body = %s", body)
	}
}
