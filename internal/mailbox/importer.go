package mailbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/docket-ai-agent/internal/config"
	"github.com/nugget/docket-ai-agent/internal/events"
	"github.com/nugget/docket-ai-agent/internal/tasks"
)

// MailSource is the slice of the IMAP client the importer needs. Keeps
// the importer testable without an IMAP server.
type MailSource interface {
	FetchUnseen(ctx context.Context) ([]Message, error)
	MarkSeen(ctx context.Context, uids []uint32) error
}

// Importer polls a mailbox and creates one task per unseen message:
// subject becomes the title, the text body becomes the description.
// Messages are marked seen only after their task exists, so a failed
// import is retried on the next poll.
type Importer struct {
	source MailSource
	cfg    config.MailboxConfig
	store  *tasks.Store
	bus    *events.Bus
	logger *slog.Logger
}

// NewImporter creates an Importer reading from the given mail source.
func NewImporter(source MailSource, cfg config.MailboxConfig, store *tasks.Store, bus *events.Bus, logger *slog.Logger) *Importer {
	return &Importer{
		source: source,
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger.With("component", "mailbox"),
	}
}

// Start checks the mailbox on a fixed interval until ctx is
// cancelled. It blocks.
func (i *Importer) Start(ctx context.Context) {
	interval := time.Duration(i.cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	i.logger.Info("starting mailbox import",
		"host", i.cfg.Host,
		"folder", i.cfg.Folder,
		"task_owner", i.cfg.Owner,
		"interval", interval,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Check once right away so a restart picks up waiting mail.
	i.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.poll(ctx)
		}
	}
}

// poll imports the current unseen messages and marks the imported ones
// seen.
func (i *Importer) poll(ctx context.Context) {
	messages, err := i.source.FetchUnseen(ctx)
	if err != nil {
		i.logger.Error("mailbox poll failed", "error", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	var imported []uint32
	for _, msg := range messages {
		title := msg.Subject
		if title == "" {
			title = "(no subject)"
		}

		task, err := i.store.CreateTask(i.cfg.Owner, title, msg.TextBody, "", []tasks.TagInput{{Name: "email"}})
		if err != nil {
			i.logger.Error("mailbox import: creating task failed", "uid", msg.UID, "error", err)
			continue
		}
		imported = append(imported, msg.UID)

		i.logger.Info("imported mail message", "uid", msg.UID, "from", msg.From, "task_id", task.ID)
		i.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceMailbox,
			Kind:      events.KindTaskCreated,
			Data:      map[string]any{"owner": i.cfg.Owner, "task_id": task.ID, "title": task.Title},
		})
	}

	if len(imported) > 0 {
		if err := i.source.MarkSeen(ctx, imported); err != nil {
			// Tasks exist but the flag write failed; the next poll
			// re-imports these messages as duplicates.
			i.logger.Error("mailbox import: marking seen failed", "uids", imported, "error", err)
		}
	}

	i.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceMailbox,
		Kind:      events.KindImportComplete,
		Data:      map[string]any{"owner": i.cfg.Owner, "imported": len(imported), "unseen": len(messages)},
	})
	i.logger.Debug("mailbox poll complete", "unseen", len(messages), "imported", len(imported))
}
