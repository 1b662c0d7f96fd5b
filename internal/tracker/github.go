package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

// GitHubCLITracker implements Tracker by shelling out to the `gh` CLI,
// grounded on the teacher's own preference for `gh` over a REST client
// library (session/vcs/vcs.go's repo-sync/browse/auth-status commands).
type GitHubCLITracker struct {
	Repo string // "owner/name"; empty uses gh's repo-in-cwd inference
}

type ghIssue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []ghLabel `json:"labels"`
}

type ghLabel struct {
	Name string `json:"name"`
}

func (t *GitHubCLITracker) repoArgs() []string {
	if t.Repo == "" {
		return nil
	}
	return []string{"--repo", t.Repo}
}

// ListOpenItems runs `gh issue list --state open --json ...`.
func (t *GitHubCLITracker) ListOpenItems(ctx context.Context) ([]WorkItem, error) {
	args := append([]string{"issue", "list", "--state", "open", "--json", "number,title,body,labels", "--limit", "200"}, t.repoArgs()...)
	out, err := exec.CommandContext(ctx, "gh", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("gh issue list: %w", err)
	}

	var issues []ghIssue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("parse gh issue list output: %w", err)
	}

	items := make([]WorkItem, 0, len(issues))
	for _, iss := range issues {
		labels := make([]string, 0, len(iss.Labels))
		for _, l := range iss.Labels {
			labels = append(labels, l.Name)
		}
		items = append(items, WorkItem{
			ID:          fmt.Sprintf("%d", iss.Number),
			Title:       iss.Title,
			Description: iss.Body,
			Priority:    priorityFromLabels(labels),
			Labels:      labels,
		})
	}
	return items, nil
}

// priorityFromLabels maps a `P0`..`P3` label to model.Priority, defaulting
// to P3 when no priority label is present (spec's "unlabelled" band is not
// separately representable in the closed Priority enum; see DESIGN.md).
func priorityFromLabels(labels []string) model.Priority {
	for _, l := range labels {
		switch l {
		case "P0":
			return model.PriorityP0
		case "P1":
			return model.PriorityP1
		case "P2":
			return model.PriorityP2
		case "P3":
			return model.PriorityP3
		}
	}
	return model.PriorityP3
}

// UpdateLabels runs `gh issue edit <id> --add-label ...`.
func (t *GitHubCLITracker) UpdateLabels(ctx context.Context, itemID string, labels []string) error {
	args := append([]string{"issue", "edit", itemID}, t.repoArgs()...)
	for _, l := range labels {
		args = append(args, "--add-label", l)
	}
	if out, err := exec.CommandContext(ctx, "gh", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("gh issue edit: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// PostComment runs `gh issue comment <id> --body ...`.
func (t *GitHubCLITracker) PostComment(ctx context.Context, itemID, body string) error {
	args := append([]string{"issue", "comment", itemID, "--body", body}, t.repoArgs()...)
	if out, err := exec.CommandContext(ctx, "gh", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("gh issue comment: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// CreateItem runs `gh issue create --title ... --body ...`.
func (t *GitHubCLITracker) CreateItem(ctx context.Context, title, body string, labels []string) (WorkItem, error) {
	args := append([]string{"issue", "create", "--title", title, "--body", body}, t.repoArgs()...)
	for _, l := range labels {
		args = append(args, "--label", l)
	}
	out, err := exec.CommandContext(ctx, "gh", args...).Output()
	if err != nil {
		return WorkItem{}, fmt.Errorf("gh issue create: %w", err)
	}
	return WorkItem{ID: string(bytes.TrimSpace(out)), Title: title, Description: body, Labels: labels}, nil
}
