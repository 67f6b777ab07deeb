package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/nugget/docket-ai-agent/internal/backboard"
	"github.com/nugget/docket-ai-agent/internal/docs"
	"github.com/nugget/docket-ai-agent/internal/events"
	"github.com/nugget/docket-ai-agent/internal/prompts"
)

// maxUploadBytes caps document uploads. The provider rejects large
// files anyway; failing fast keeps memory bounded.
const maxUploadBytes = 10 << 20

type chatRequest struct {
	Message  string `json:"message"`
	Remember bool   `json:"remember"`
}

type chatResponse struct {
	Response     string `json:"response"`
	ResponseHTML string `json:"response_html,omitempty"`
}

// handleChat runs one agent exchange.
// POST /api/chat {"message": "remind me to buy milk", "remember": true}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, owner string) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	if reply, blocked := s.indexingGate(r.Context(), owner); blocked {
		s.writeJSON(w, http.StatusOK, chatResponse{Response: reply, ResponseHTML: s.renderHTML(reply)})
		return
	}

	text, err := s.agent.ProcessMessage(r.Context(), owner, req.Message, req.Remember, nil)
	if err != nil {
		s.recordProviderError(err)
		s.logger.Error("chat failed", "owner", owner, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "agent error: "+err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, chatResponse{Response: text, ResponseHTML: s.renderHTML(text)})
}

// indexingGate reports whether chat should pause because an uploaded
// document is still being indexed. Sending a message now would run the
// model without the document's content, so the fixed wait reply is
// returned instead. List failures do not block chat.
func (s *Server) indexingGate(ctx context.Context, owner string) (string, bool) {
	threadID, ok := s.sessions.ThreadID(owner)
	if !ok {
		return "", false
	}
	documents, err := s.gateway.ListDocuments(ctx, threadID)
	if err != nil {
		s.logger.Warn("indexing gate: listing documents failed", "owner", owner, "error", err)
		return "", false
	}
	for _, d := range documents {
		if d.Indexing() {
			return prompts.DocumentIndexingReply, true
		}
	}
	return "", false
}

// recordProviderError feeds the error taxonomy into metrics. Unknown
// errors (decode failures, context cancellation) are not counted.
func (s *Server) recordProviderError(err error) {
	var apiErr *backboard.APIError
	switch {
	case backboard.IsConnectivity(err):
		s.metrics.IncProviderError("connectivity")
	case errors.As(err, &apiErr):
		s.metrics.IncProviderError("api")
	}
}

type historyMessage struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentHTML string `json:"content_html,omitempty"`
}

// handleChatHistory returns the active thread's transcript. Assistant
// turns carry rendered HTML for rich clients. No active session means
// an empty history, not an error.
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request, owner string) {
	threadID, ok := s.sessions.ThreadID(owner)
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"messages": []historyMessage{}})
		return
	}

	thread, err := s.gateway.GetThread(r.Context(), threadID)
	if err != nil {
		s.recordProviderError(err)
		s.errorResponse(w, http.StatusInternalServerError, "get thread: "+err.Error())
		return
	}

	messages := make([]historyMessage, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		hm := historyMessage{Role: m.Role, Content: m.Content}
		if m.Role == "assistant" {
			hm.ContentHTML = s.renderHTML(m.Content)
		}
		messages = append(messages, hm)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type chatResetResponse struct {
	Reset    bool     `json:"reset"`
	Warnings []string `json:"warnings,omitempty"`
}

// handleChatReset ends the owner's session and deletes the remote
// thread. Reset reports whether there was a session to end.
func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request, owner string) {
	_, existed := s.sessions.ThreadID(owner)

	warnings, err := s.sessions.EndSession(r.Context(), owner, true)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "end session: "+err.Error())
		return
	}

	if existed {
		s.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAPI,
			Kind:      events.KindSessionEnded,
			Data:      map[string]any{"owner": owner},
		})
	}

	s.writeJSON(w, http.StatusOK, chatResetResponse{Reset: existed, Warnings: warnings})
}

// handleChatDocuments lists the files attached to the active thread.
func (s *Server) handleChatDocuments(w http.ResponseWriter, r *http.Request, owner string) {
	threadID, ok := s.sessions.ThreadID(owner)
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"documents": []backboard.Document{}, "count": 0})
		return
	}

	documents, err := s.gateway.ListDocuments(r.Context(), threadID)
	if err != nil {
		s.recordProviderError(err)
		s.errorResponse(w, http.StatusInternalServerError, "list documents: "+err.Error())
		return
	}
	if documents == nil {
		documents = []backboard.Document{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"documents": documents, "count": len(documents)})
}

type uploadResponse struct {
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Fallback   string `json:"fallback,omitempty"`
}

// handleChatUpload attaches a document to the owner's thread. When the
// provider rejects the file, text-like formats degrade to extracting
// the text locally and attaching it as a hidden thread message.
func (s *Server) handleChatUpload(w http.ResponseWriter, r *http.Request, owner string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		s.errorResponse(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !docs.Allowed(filename) {
		s.errorResponse(w, http.StatusBadRequest, "unsupported file type (allowed: pdf, txt, md, html)")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	threadID, err := s.sessions.StartSession(r.Context(), owner, false)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "start session: "+err.Error())
		return
	}

	doc, err := s.gateway.UploadDocument(r.Context(), threadID, filename, bytes.NewReader(data))
	if err == nil {
		resp := uploadResponse{Filename: filename}
		if doc != nil {
			resp.DocumentID = doc.ID
			resp.Status = doc.Status
		}
		s.writeJSON(w, http.StatusCreated, resp)
		return
	}

	s.recordProviderError(err)
	text, ok := docs.Extract(filename, data)
	if !ok {
		s.logger.Error("document upload failed", "owner", owner, "filename", filename, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "upload document: "+err.Error())
		return
	}

	s.logger.Warn("provider rejected upload, attaching extracted text",
		"owner", owner, "filename", filename, "error", err)

	noRun := false
	_, err = s.gateway.SendMessage(r.Context(), backboard.MessageRequest{
		ThreadID:  threadID,
		Content:   "Extracted text from uploaded document:\n\n" + text,
		Memory:    backboard.MemoryReadonly,
		SendToLLM: &noRun,
	})
	if err != nil {
		s.recordProviderError(err)
		s.errorResponse(w, http.StatusInternalServerError, "attach extracted text: "+err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, uploadResponse{Filename: filename, Fallback: "text_attached"})
}
