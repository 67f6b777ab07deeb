// Package caldav mirrors dated tasks into a CalDAV collection as VTODO
// objects so calendar clients can display todo deadlines alongside
// regular events.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/nugget/docket-ai-agent/internal/config"
	"github.com/nugget/docket-ai-agent/internal/events"
	"github.com/nugget/docket-ai-agent/internal/tasks"
)

// Syncer keeps a CalDAV collection in step with the task store. Every
// task that carries a due date becomes one VTODO object named by the
// task id; tasks that lose their date or get deleted have their object
// removed again.
type Syncer struct {
	cfg        config.CalDAVConfig
	store      *tasks.Store
	bus        *events.Bus
	logger     *slog.Logger
	client     *caldav.Client
	collection string

	// exported tracks object ids this process has put, so a reconcile
	// can remove objects for tasks that no longer qualify. Only the
	// Start goroutine touches it.
	exported map[string]bool
}

// New validates the collection URL and builds the CalDAV client. It
// does not talk to the server; the first sync happens in Start.
func New(cfg config.CalDAVConfig, store *tasks.Store, bus *events.Bus, logger *slog.Logger) (*Syncer, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse caldav URL: %w", err)
	}

	var hc webdav.HTTPClient = http.DefaultClient
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(nil, cfg.Username, cfg.Password)
	}
	client, err := caldav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}

	collection := u.Path
	if !strings.HasSuffix(collection, "/") {
		collection += "/"
	}

	return &Syncer{
		cfg:        cfg,
		store:      store,
		bus:        bus,
		logger:     logger.With("component", "caldav"),
		client:     client,
		collection: collection,
		exported:   make(map[string]bool),
	}, nil
}

// Start pushes the current dated tasks to the collection, then
// re-syncs whenever a task-change event arrives, until ctx is
// cancelled. Sync failures are logged and retried on the next change.
func (s *Syncer) Start(ctx context.Context) error {
	s.logger.Info("starting CalDAV export", "collection", s.cfg.URL)

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	s.syncAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if !e.TaskChanged() {
				continue
			}
			drain(ch)
			s.syncAll(ctx)
		}
	}
}

// drain discards queued events so a burst of changes costs one sync.
func drain(ch <-chan events.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// syncAll puts every dated task and removes objects for tasks that no
// longer have one.
func (s *Syncer) syncAll(ctx context.Context) {
	list, err := s.store.ListDated()
	if err != nil {
		s.logger.Error("caldav sync: listing dated tasks failed", "error", err)
		return
	}

	current := make(map[string]bool, len(list))
	for _, t := range list {
		current[t.ID] = true
		s.putTask(ctx, t)
	}

	for id := range s.exported {
		if current[id] {
			continue
		}
		s.removeTask(ctx, id)
	}
}

func (s *Syncer) putTask(ctx context.Context, t *tasks.Task) {
	cal := taskCalendar(t)
	if _, err := s.client.PutCalendarObject(ctx, s.objectPath(t.ID), cal); err != nil {
		s.logger.Warn("caldav put failed", "task_id", t.ID, "error", err)
		return
	}
	s.exported[t.ID] = true
	s.logger.Debug("caldav object updated", "task_id", t.ID, "title", t.Title)
}

func (s *Syncer) removeTask(ctx context.Context, id string) {
	if err := s.client.RemoveAll(ctx, s.objectPath(id)); err != nil {
		s.logger.Warn("caldav remove failed", "task_id", id, "error", err)
		return
	}
	delete(s.exported, id)
	s.logger.Debug("caldav object removed", "task_id", id)
}

func (s *Syncer) objectPath(id string) string {
	return s.collection + id + ".ics"
}

// taskCalendar renders one task as a VCALENDAR wrapping a single VTODO.
func taskCalendar(t *tasks.Task) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//Docket//Task Export//EN")

	todo := ical.NewComponent(ical.CompToDo)
	todo.Props.SetText(ical.PropUID, t.ID)
	todo.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	todo.Props.SetText(ical.PropSummary, t.Title)
	if t.Description != "" {
		todo.Props.SetText(ical.PropDescription, t.Description)
	}

	status := "NEEDS-ACTION"
	if t.Completed {
		status = "COMPLETED"
	}
	todo.Props.SetText(ical.PropStatus, status)

	if t.Due != "" {
		due := ical.NewProp(ical.PropDue)
		due.SetValueType(ical.ValueDate)
		due.Value = strings.ReplaceAll(t.Due, "-", "")
		todo.Props.Set(due)
	}

	if len(t.Tags) > 0 {
		names := make([]string, len(t.Tags))
		for i, tag := range t.Tags {
			names[i] = tag.Name
		}
		cats := ical.NewProp(ical.PropCategories)
		cats.SetValueType(ical.ValueText)
		cats.Value = strings.Join(names, ",")
		todo.Props.Set(cats)
	}

	cal.Children = append(cal.Children, todo)
	return cal
}
