package worktree

import (
	"regexp"
	"strings"
)

var (
	disallowedChars = regexp.MustCompile(`[^a-z0-9\-_/.]`)
	multiDash       = regexp.MustCompile(`-+`)
)

// SanitizeBranchName normalizes a free-form string into a valid git branch
// name component: lowercase, spaces to dashes, strip disallowed
// characters, collapse repeated dashes, trim leading/trailing separators,
// and cap the length.
func SanitizeBranchName(s string) string {
	out := strings.ToLower(s)
	out = strings.ReplaceAll(out, " ", "-")
	out = disallowedChars.ReplaceAllString(out, "")
	out = multiDash.ReplaceAllString(out, "-")
	out = strings.Trim(out, "-/.")
	out = strings.TrimSuffix(out, "/")
	out = strings.ReplaceAll(out, "..", "-")

	const maxLen = 100
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}
