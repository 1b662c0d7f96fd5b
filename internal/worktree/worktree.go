// Package worktree implements the worktree manager (C4): creating,
// listing, classifying, and destroying isolated git working copies used by
// parallel workers so they never collide on a single filesystem state.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/log"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

// HeartbeatFile is the well-known marker file whose mtime is used to
// compute a worktree's idle age during Scan.
const HeartbeatFile = ".miyabi-heartbeat"

// Thresholds carries C4's default active/stuck age cutoffs.
type Thresholds struct {
	Active time.Duration
	Stuck  time.Duration
}

// DefaultThresholds matches SPEC_FULL.md §4.4: T_active=1h, T_stuck=24h.
func DefaultThresholds() Thresholds {
	return Thresholds{Active: time.Hour, Stuck: 24 * time.Hour}
}

// Manager provisions and tracks worktrees for one source repository.
type Manager struct {
	repoPath   string
	basePath   string
	registry   *Registry
	thresholds Thresholds
}

// NewManager opens (or creates) the registry under stateDir and returns a
// Manager rooted at repoPath, materializing worktrees under basePath.
func NewManager(repoPath, basePath, stateDir string, thresholds Thresholds) (*Manager, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base path: %w", err)
	}
	reg, err := OpenRegistry(stateDir)
	if err != nil {
		return nil, err
	}
	return &Manager{repoPath: repoPath, basePath: basePath, registry: reg, thresholds: thresholds}, nil
}

// Close releases the registry's file handle.
func (m *Manager) Close() error { return m.registry.Close() }

// Create materializes a new working copy at <base>/issue-<issue>/<task> on
// a fresh branch off HEAD, recording the result to the registry. A failed
// create is fatal to the calling task (§4.4 Failure semantics).
func (m *Manager) Create(issue, task, branch string) (*model.Worktree, error) {
	return m.createUnder(m.basePath, issue, task, branch)
}

// CreateScoped materializes a worktree nested under an extra path segment
// ahead of the issue directory, yielding <base>/<scope>/issue-<issue>/<task>.
// Grounded on FiveWorldsManager's worktree layout (five_worlds.rs:142-147),
// which nests every world's attempts under their own "world-<id>" directory
// so five concurrent attempts at the same issue/task never collide on disk.
func (m *Manager) CreateScoped(scope, issue, task, branch string) (*model.Worktree, error) {
	return m.createUnder(filepath.Join(m.basePath, scope), issue, task, branch)
}

func (m *Manager) createUnder(base, issue, task, branch string) (*model.Worktree, error) {
	sanitizedTask := SanitizeBranchName(task)
	path := filepath.Join(base, fmt.Sprintf("issue-%s", issue), sanitizedTask)
	branchName := SanitizeBranchName(branch)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create worktree parent dir: %w", err)
	}

	repo, err := git.PlainOpen(m.repoPath)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	if _, err := m.runGit("worktree", "add", "-b", branchName, path, head.Hash().String()); err != nil {
		return nil, fmt.Errorf("git worktree add: %w", err)
	}

	if err := touchHeartbeat(path); err != nil {
		log.WarningLog.Printf("failed to write heartbeat for %s: %v", path, err)
	}

	w := &model.Worktree{
		ID:            uuid.NewString(),
		OwningIssue:   issue,
		Path:          path,
		BranchName:    branchName,
		CreatedAt:     time.Now(),
		Status:        model.WorktreeActive,
		LastHeartbeat: time.Now(),
	}
	if err := m.registry.Put(w); err != nil {
		return nil, fmt.Errorf("persist worktree record: %w", err)
	}
	return w, nil
}

// Remove detaches and deletes the working copy, deletes its registry entry,
// then runs `git worktree prune`. A failed `git worktree remove` is only
// logged: the registry entry is still deleted and nil is returned, so a
// leftover directory shows up as Orphaned in the next Scan.
func (m *Manager) Remove(id string) error {
	w, ok, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if _, err := m.runGit("worktree", "remove", "-f", w.Path); err != nil {
		if log.WarningLog != nil {
			log.WarningLog.Printf("worktree remove failed for %s: %v", w.Path, err)
		}
	}
	if err := m.registry.Delete(id); err != nil {
		return err
	}
	_, _ = m.runGit("worktree", "prune")
	return nil
}

// List returns every registered worktree record (no status derivation).
func (m *Manager) List() ([]*model.Worktree, error) {
	return m.registry.List()
}

// Scan is the nontrivial operation: for every registered worktree plus
// every directory discovered under <base>/, classify status and collect
// ancillary facts (§4.4).
func (m *Manager) Scan() ([]*model.Worktree, error) {
	registered, err := m.registry.List()
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]*model.Worktree, len(registered))
	for _, w := range registered {
		byPath[w.Path] = w
	}

	discovered, err := m.discoverDirectories()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	seen := make(map[string]bool)
	var out []*model.Worktree

	for _, w := range registered {
		seen[w.Path] = true
		out = append(out, m.classify(w, now))
	}

	for _, dir := range discovered {
		if seen[dir] {
			continue
		}
		out = append(out, &model.Worktree{
			ID:         "",
			Path:       dir,
			Status:     model.WorktreeOrphaned,
			BranchName: "",
		})
	}

	return out, nil
}

func (m *Manager) classify(w *model.Worktree, now time.Time) *model.Worktree {
	info, err := os.Stat(w.Path)
	if err != nil {
		w.Status = model.WorktreeCorrupted
		return w
	}
	_ = info

	if !m.gitInvariantsHold(w.Path) {
		w.Status = model.WorktreeCorrupted
		return w
	}

	heartbeat := w.LastHeartbeat
	if hbInfo, err := os.Stat(filepath.Join(w.Path, HeartbeatFile)); err == nil {
		heartbeat = hbInfo.ModTime()
	}
	age := now.Sub(heartbeat)

	w.Dirty = m.isDirty(w.Path)
	w.DiskBytes = dirSize(w.Path)

	switch {
	case age <= m.thresholds.Active:
		w.Status = model.WorktreeActive
	case age <= m.thresholds.Stuck:
		w.Status = model.WorktreeIdle
	default:
		w.Status = model.WorktreeStuck
	}
	return w
}

func (m *Manager) gitInvariantsHold(path string) bool {
	headPath := filepath.Join(path, ".git")
	if _, err := os.Stat(headPath); err != nil {
		return false
	}
	repo, err := git.PlainOpen(path)
	if err != nil {
		return false
	}
	if _, err := repo.Head(); err != nil {
		// a brand-new worktree with no commits is not itself corrupted;
		// only treat a missing-HEAD error distinct from an empty repo as
		// corruption.
		if err != plumbing.ErrReferenceNotFound {
			return false
		}
	}
	return true
}

func (m *Manager) isDirty(path string) bool {
	out, err := m.runGitIn(path, "status", "--porcelain")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}

func (m *Manager) discoverDirectories() ([]string, error) {
	var dirs []string
	issueDirs, err := os.ReadDir(m.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, issueDir := range issueDirs {
		if !issueDir.IsDir() {
			continue
		}
		issuePath := filepath.Join(m.basePath, issueDir.Name())
		taskDirs, err := os.ReadDir(issuePath)
		if err != nil {
			continue
		}
		for _, taskDir := range taskDirs {
			if !taskDir.IsDir() {
				continue
			}
			dirs = append(dirs, filepath.Join(issuePath, taskDir.Name()))
		}
	}
	return dirs, nil
}

// Prune removes worktrees whose Scan-derived status is Stuck and whose
// CreatedAt is older than ageThreshold; dryRun reports without acting.
func (m *Manager) Prune(ageThreshold time.Duration, dryRun bool) ([]*model.Worktree, error) {
	scanned, err := m.Scan()
	if err != nil {
		return nil, err
	}

	var candidates []*model.Worktree
	now := time.Now()
	for _, w := range scanned {
		if w.Status != model.WorktreeStuck {
			continue
		}
		if now.Sub(w.CreatedAt) < ageThreshold {
			continue
		}
		candidates = append(candidates, w)
	}

	if dryRun {
		return candidates, nil
	}

	for _, w := range candidates {
		if w.ID == "" {
			continue
		}
		if err := m.Remove(w.ID); err != nil && log.WarningLog != nil {
			log.WarningLog.Printf("prune failed to remove %s: %v", w.Path, err)
		}
	}
	return candidates, nil
}

func (m *Manager) runGit(args ...string) ([]byte, error) {
	return m.runGitIn(m.repoPath, args...)
}

func (m *Manager) runGitIn(dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func touchHeartbeat(path string) error {
	return os.WriteFile(filepath.Join(path, HeartbeatFile), []byte(time.Now().Format(time.RFC3339)), 0644)
}

func dirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
