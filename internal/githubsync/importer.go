// Package githubsync imports open GitHub issues as tasks so assigned
// work shows up on the todo list without manual copying.
package githubsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/nugget/docket-ai-agent/internal/config"
	"github.com/nugget/docket-ai-agent/internal/events"
	"github.com/nugget/docket-ai-agent/internal/tasks"
)

// Importer polls one repository and creates a task for every open
// issue not imported yet. Issues are matched to existing tasks by the
// issue URL embedded in the task description, so deleting the task
// keeps the issue from coming back only until the next poll.
type Importer struct {
	client *gogithub.Client
	cfg    config.GitHubConfig
	store  *tasks.Store
	bus    *events.Bus
	logger *slog.Logger
}

// New creates an Importer around an authenticated go-github client.
func New(client *gogithub.Client, cfg config.GitHubConfig, store *tasks.Store, bus *events.Bus, logger *slog.Logger) *Importer {
	return &Importer{
		client: client,
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger.With("component", "githubsync"),
	}
}

// splitRepo takes the "owner/name" form from the config apart.
func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("repo %q is not in owner/name form", repo)
	}
	return owner, name, nil
}

// checkRateLimit warns when the API quota is almost spent, since a
// 15-minute poll against a busy repo can burn pages quickly.
func checkRateLimit(logger *slog.Logger, resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining < 100 {
		logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// Start polls until ctx is cancelled. It blocks, so callers run it on
// its own goroutine.
func (i *Importer) Start(ctx context.Context) {
	interval := time.Duration(i.cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	i.logger.Info("starting GitHub issue import",
		"repo", i.cfg.Repo,
		"task_owner", i.cfg.Owner,
		"interval", interval,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First pass without waiting out a full interval.
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

// poll fetches the repository's open issues and imports the new ones.
func (i *Importer) poll(ctx context.Context) {
	issues, err := i.listOpenIssues(ctx)
	if err != nil {
		i.logger.Error("github poll failed", "repo", i.cfg.Repo, "error", err)
		return
	}

	existing, err := i.store.ListTasks(i.cfg.Owner)
	if err != nil {
		i.logger.Error("github poll: listing tasks failed", "error", err)
		return
	}

	imported := 0
	for _, issue := range issues {
		url := issue.GetHTMLURL()
		if url == "" || descriptionsContain(existing, url) {
			continue
		}

		task, err := i.store.CreateTask(i.cfg.Owner, issue.GetTitle(), issueDescription(issue), "", []tasks.TagInput{{Name: "github"}})
		if err != nil {
			i.logger.Error("github import: creating task failed", "issue", issue.GetNumber(), "error", err)
			continue
		}
		imported++

		i.logger.Info("imported GitHub issue", "issue", issue.GetNumber(), "task_id", task.ID)
		i.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceGitHub,
			Kind:      events.KindTaskCreated,
			Data:      map[string]any{"owner": i.cfg.Owner, "task_id": task.ID, "title": task.Title},
		})
	}

	i.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceGitHub,
		Kind:      events.KindImportComplete,
		Data:      map[string]any{"owner": i.cfg.Owner, "imported": imported, "open": len(issues)},
	})
	i.logger.Debug("github poll complete", "open", len(issues), "imported", imported)
}

// listOpenIssues pages through the repository's open issues, skipping
// pull requests returned by the issues endpoint.
func (i *Importer) listOpenIssues(ctx context.Context) ([]*gogithub.Issue, error) {
	owner, name, err := splitRepo(i.cfg.Repo)
	if err != nil {
		return nil, err
	}

	opts := &gogithub.IssueListByRepoOptions{
		State:       "open",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}

	var all []*gogithub.Issue
	for {
		page, resp, err := i.client.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		checkRateLimit(i.logger, resp)

		for _, issue := range page {
			if issue.IsPullRequest() {
				continue
			}
			all = append(all, issue)
		}

		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// issueDescription puts the issue URL on the first line so later polls
// can match it, followed by the issue body.
func issueDescription(issue *gogithub.Issue) string {
	desc := issue.GetHTMLURL()
	if body := strings.TrimSpace(issue.GetBody()); body != "" {
		desc += "\n\n" + body
	}
	return desc
}

func descriptionsContain(list []*tasks.Task, url string) bool {
	for _, t := range list {
		if strings.Contains(t.Description, url) {
			return true
		}
	}
	return false
}
