package worktree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeBranchNameLowercasesAndDashes(t *testing.T) {
	assert.Equal(t, "implement-feature", SanitizeBranchName("Implement Feature"))
}

func TestSanitizeBranchNameStripsDisallowed(t *testing.T) {
	assert.Equal(t, "fixbug123", SanitizeBranchName("Fix@Bug#123!"))
}

func TestSanitizeBranchNameCollapsesDashes(t *testing.T) {
	assert.Equal(t, "a-b", SanitizeBranchName("a---b"))
}

func TestSanitizeBranchNameTrimsSeparators(t *testing.T) {
	assert.Equal(t, "feature", SanitizeBranchName("/-feature-/"))
}

func TestSanitizeBranchNameCapsLength(t *testing.T) {
	long := strings.Repeat("a", 200)
	assert.Len(t, SanitizeBranchName(long), 100)
}

func TestSanitizeBranchNameReplacesDotDot(t *testing.T) {
	assert.NotContains(t, SanitizeBranchName("path..traversal"), "..")
}
