// Package tracker defines the external work-item tracker contract (§6):
// list open items with labels, update labels, post comments, create items.
// The one concrete implementation, GitHubCLITracker (github.go), shells out
// to the gh CLI and is what the CLI commands wire; other vendors can supply
// their own Tracker.
package tracker

import (
	"context"
	"fmt"
	"os"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

// WorkItem is one open unit of work as reported by the tracker, prior to
// decomposition into an ExecutionPlan.
type WorkItem struct {
	ID          string
	Title       string
	Description string
	Priority    model.Priority
	Labels      []string
}

// Tracker is the capability every work-item source must implement.
type Tracker interface {
	ListOpenItems(ctx context.Context) ([]WorkItem, error)
	UpdateLabels(ctx context.Context, itemID string, labels []string) error
	PostComment(ctx context.Context, itemID, body string) error
	CreateItem(ctx context.Context, title, body string, labels []string) (WorkItem, error)
}

// TokenEnvVar is the environment variable tracker implementations read
// their auth token from (§6: "Auth via environment token").
const TokenEnvVar = "GITHUB_TOKEN"

// RequireToken returns the configured tracker auth token or an error if
// unset, so callers fail fast with a clear validation error (§7) rather
// than surfacing an opaque 401 from the tracker API later.
func RequireToken() (string, error) {
	tok := os.Getenv(TokenEnvVar)
	if tok == "" {
		return "", fmt.Errorf("%s is not set", TokenEnvVar)
	}
	return tok, nil
}
