package backboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// Document describes one file attached to a thread.
type Document struct {
	ID            string `json:"document_id"`
	Filename      string `json:"filename"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message,omitempty"`
	Summary       string `json:"summary,omitempty"`
}

// Indexing reports whether the document is still being processed and is
// not yet available for retrieval.
func (d Document) Indexing() bool {
	switch strings.ToLower(d.Status) {
	case "pending", "processing", "indexing":
		return true
	}
	return false
}

// ListDocuments returns the documents attached to a thread. The provider
// has returned both a bare array and a wrapper object over time, so both
// shapes decode.
func (c *Client) ListDocuments(ctx context.Context, threadID string) ([]Document, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/documents", nil, "list documents")
	if err != nil {
		return nil, err
	}

	var docs []Document
	if err := json.Unmarshal(body, &docs); err == nil {
		return docs, nil
	}
	var wrapper struct {
		Documents []Document `json:"documents"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode document list: %w", err)
	}
	return wrapper.Documents, nil
}

// DocumentStatus fetches the current indexing state of one document.
func (c *Client) DocumentStatus(ctx context.Context, documentID string) (*Document, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/documents/"+documentID+"/status", nil, "document status")
	if err != nil {
		return nil, err
	}
	doc := &Document{}
	if err := json.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("decode document status: %w", err)
	}
	if doc.ID == "" {
		doc.ID = documentID
	}
	return doc, nil
}

// UploadDocument attaches a file to a thread for indexing. It returns the
// provider's response body decoded as a document when possible; callers
// should treat a nil document with nil error as "accepted, no metadata".
func (c *Client) UploadDocument(ctx context.Context, threadID, filename string, content io.Reader) (*Document, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy upload content: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close upload form: %w", err)
	}

	c.logger.Debug("uploading document", "thread_id", threadID, "filename", filename, "bytes", buf.Len())

	body, err := c.doForm(ctx, "/threads/"+threadID+"/documents", &buf, form.FormDataContentType(), "upload document")
	if err != nil {
		return nil, err
	}

	doc := &Document{}
	if err := json.Unmarshal(body, doc); err != nil || doc.ID == "" {
		// Some deployments answer with a bare acknowledgement.
		return nil, nil
	}
	return doc, nil
}
