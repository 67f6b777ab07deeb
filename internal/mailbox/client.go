// Package mailbox turns unseen IMAP messages into tasks so emailed
// requests land on the todo list. Imported messages are marked seen;
// anything the mail client already read is left alone.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/nugget/docket-ai-agent/internal/config"
	"github.com/nugget/docket-ai-agent/internal/docs"
)

// maxBodySize caps the text extracted from one message. Larger bodies
// are truncated with a note.
const maxBodySize = 32 * 1024

// maxRawMessageSize caps the raw RFC822 bytes buffered from the IMAP
// literal. The remainder of the literal is drained to keep the stream
// in sync.
const maxRawMessageSize = 5 * 1024 * 1024

// Message is one unseen mail message reduced to the fields the
// importer uses.
type Message struct {
	UID      uint32
	From     string
	Subject  string
	Date     time.Time
	TextBody string
}

// Client holds one go-imap/v2 connection behind a mutex. The
// connection is built on first use and rebuilt whenever the server
// stops answering, so callers never see a stale session. Public
// methods may be called from multiple goroutines.
type Client struct {
	cfg    config.MailboxConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewClient prepares a client for the configured account without
// dialing anything yet.
func NewClient(cfg config.MailboxConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "mailbox"),
	}
}

// dialLocked replaces whatever connection exists with a fresh,
// authenticated one. Caller must hold c.mu.
func (c *Client) dialLocked(ctx context.Context) error {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	c.logger.Debug("dialing imap", "host", c.cfg.Host, "port", c.cfg.Port, "insecure", c.cfg.DialInsecure)

	var client *imapclient.Client
	var err error
	if c.cfg.DialInsecure {
		client, err = imapclient.DialInsecure(addr, &imapclient.Options{})
	} else {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: c.cfg.Host},
		})
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("imap login %s: %w", c.cfg.Username, err)
	}

	c.client = client
	c.logger.Info("imap connected", "host", c.cfg.Host, "user", c.cfg.Username)
	return nil
}

// ensureSession hands back the live connection if the server still
// answers a NOOP, and redials otherwise. Caller must hold c.mu.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.client != nil {
		if err := c.client.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Debug("imap session stale, redialing", "host", c.cfg.Host)
	}
	return c.dialLocked(ctx)
}

// Ping verifies the account is reachable, rebuilding the connection if
// it has gone stale. The readiness probe calls this on an interval.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureSession(ctx)
}

// Close drops the connection. Calling it with none open is fine.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// selectFolder selects the configured mailbox. Caller must hold c.mu.
func (c *Client) selectFolder() error {
	folder := c.cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", folder, err)
	}
	return nil
}

// FetchUnseen returns the unseen messages in the configured folder with
// their text bodies parsed. Bodies are fetched with Peek so the seen
// flag stays untouched until the importer explicitly marks it.
func (c *Client) FetchUnseen(ctx context.Context) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	if err := c.selectFolder(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: true},
		},
	}
	fetchCmd := c.client.Fetch(uidSet, fetchOpts)

	var messages []Message
	for {
		data := fetchCmd.Next()
		if data == nil {
			break
		}
		msg, err := c.parseFetchData(data)
		if err != nil {
			c.logger.Debug("skipping message", "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch unseen: %w", err)
	}
	return messages, nil
}

// parseFetchData extracts a Message from IMAP fetch response items.
func (c *Client) parseFetchData(data *imapclient.FetchMessageData) (Message, error) {
	var msg Message
	var rawBody []byte

	for {
		item := data.Next()
		if item == nil {
			break
		}

		switch d := item.(type) {
		case imapclient.FetchItemDataUID:
			msg.UID = uint32(d.UID)
		case imapclient.FetchItemDataEnvelope:
			if d.Envelope != nil {
				msg.Date = d.Envelope.Date
				msg.Subject = d.Envelope.Subject
				if len(d.Envelope.From) > 0 {
					msg.From = formatAddress(d.Envelope.From[0])
				}
			}
		case imapclient.FetchItemDataBodySection:
			// Consume the literal immediately. go-imap/v2 streams data
			// from the IMAP connection; Next() advances past unread
			// literals, so deferring the read would lose the body.
			if d.Literal == nil {
				continue
			}
			var readErr error
			rawBody, readErr = io.ReadAll(io.LimitReader(d.Literal, maxRawMessageSize))
			_, _ = io.Copy(io.Discard, d.Literal)
			if readErr != nil {
				c.logger.Debug("error reading body literal", "uid", msg.UID, "error", readErr)
				rawBody = nil
			}
		}
	}

	if msg.UID == 0 {
		return msg, fmt.Errorf("message missing UID")
	}

	if rawBody != nil {
		body, err := c.parseBody(rawBody)
		if err != nil {
			c.logger.Debug("body parse error", "uid", msg.UID, "error", err)
		}
		msg.TextBody = body
	}
	return msg, nil
}

// MarkSeen adds the seen flag to the given messages.
func (c *Client) MarkSeen(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	if err := c.selectFolder(); err != nil {
		return err
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(imap.UID(uid))
	}

	storeCmd := c.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("store flags: %w", err)
	}
	return nil
}

// parseBody walks the MIME structure and returns the first text/plain
// part, falling back to visible text extracted from the first
// text/html part.
//
// go-message's mail.CreateReader and NextPart may return both a valid
// reader/part AND an error when the message uses an unknown charset or
// transfer encoding. Those are non-fatal; the content may be slightly
// garbled but still usable.
func (c *Client) parseBody(raw []byte) (string, error) {
	mailReader, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil && !message.IsUnknownCharset(err) {
		return "", fmt.Errorf("create mail reader: %w", err)
	}
	if mailReader == nil {
		return "", fmt.Errorf("create mail reader returned nil: %v", err)
	}

	var htmlBody string
	for {
		part, err := mailReader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", fmt.Errorf("next part: %w", err)
		}
		if part == nil {
			continue
		}

		var contentType string
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ = h.ContentType()
		default:
			// Attachments are not task material.
			continue
		}

		switch contentType {
		case "text/plain":
			body, err := io.ReadAll(io.LimitReader(part.Body, maxBodySize+1))
			if err != nil {
				c.logger.Debug("unreadable text/plain part", "error", err)
				continue
			}
			return truncateBody(body), nil
		case "text/html":
			if htmlBody != "" {
				continue
			}
			body, err := io.ReadAll(io.LimitReader(part.Body, maxBodySize+1))
			if err != nil {
				c.logger.Debug("unreadable text/html part", "error", err)
				continue
			}
			htmlBody = truncateBody(body)
		}
	}

	if htmlBody != "" {
		return docs.FromHTML(htmlBody), nil
	}
	return "", nil
}

func truncateBody(body []byte) string {
	text := string(body)
	if len(body) > maxBodySize {
		text = text[:maxBodySize] + "\n\n[truncated: message exceeds 32KB]"
	}
	return strings.TrimSpace(text)
}

// formatAddress renders an envelope address, keeping the display name
// when the sender supplied one.
func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}
