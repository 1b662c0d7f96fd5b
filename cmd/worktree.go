package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/config"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/worktree"
)

var (
	worktreeJSON       bool
	worktreeOrphaned   bool
	worktreeStuck      bool
	worktreeIdle       bool
	worktreeActive     bool
	worktreeCorrupted  bool
	worktreePruneOlder int
	worktreePruneDry   bool
)

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Inspect and reclaim worker worktrees (C4)",
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered worktree",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, close, err := openManager()
		if err != nil {
			return userError(err)
		}
		defer close()

		items, err := mgr.List()
		if err != nil {
			return executionError(err)
		}
		return printWorktrees(items)
	},
}

var worktreeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show derived status for every worktree (alias of scan with no filters)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, close, err := openManager()
		if err != nil {
			return userError(err)
		}
		defer close()

		items, err := mgr.Scan()
		if err != nil {
			return executionError(err)
		}
		return printWorktrees(items)
	},
}

var worktreeScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Classify every worktree as Active/Idle/Stuck/Orphaned/Corrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, close, err := openManager()
		if err != nil {
			return userError(err)
		}
		defer close()

		items, err := mgr.Scan()
		if err != nil {
			return executionError(err)
		}
		return printWorktrees(filterWorktrees(items))
	},
}

var worktreePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove Stuck worktrees older than --older-than days",
	RunE: func(cmd *cobra.Command, args []string) error {
		if worktreePruneOlder <= 0 {
			return userError(fmt.Errorf("--older-than DAYS is required and must be positive"))
		}
		mgr, close, err := openManager()
		if err != nil {
			return userError(err)
		}
		defer close()

		removed, err := mgr.Prune(time.Duration(worktreePruneOlder)*24*time.Hour, worktreePruneDry)
		if err != nil {
			return executionError(err)
		}
		if worktreePruneDry {
			fmt.Printf("%d worktree(s) would be removed:\n", len(removed))
		} else {
			fmt.Printf("removed %d worktree(s):\n", len(removed))
		}
		return printWorktrees(removed)
	},
}

var worktreeRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Force-remove one worktree by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, close, err := openManager()
		if err != nil {
			return userError(err)
		}
		defer close()

		if err := mgr.Remove(args[0]); err != nil {
			return executionError(err)
		}
		fmt.Printf("removed worktree %s\n", args[0])
		return nil
	},
}

func init() {
	worktreeCmd.PersistentFlags().BoolVar(&worktreeJSON, "json", false, "print machine-readable JSON instead of a table")
	worktreeScanCmd.Flags().BoolVar(&worktreeOrphaned, "orphaned", false, "only show orphaned worktrees")
	worktreeScanCmd.Flags().BoolVar(&worktreeStuck, "stuck", false, "only show stuck worktrees")
	worktreeScanCmd.Flags().BoolVar(&worktreeIdle, "idle", false, "only show idle worktrees")
	worktreeScanCmd.Flags().BoolVar(&worktreeActive, "active", false, "only show active worktrees")
	worktreeScanCmd.Flags().BoolVar(&worktreeCorrupted, "corrupted", false, "only show corrupted worktrees")
	worktreePruneCmd.Flags().IntVar(&worktreePruneOlder, "older-than", 0, "remove Stuck worktrees created at least this many days ago")
	worktreePruneCmd.Flags().BoolVar(&worktreePruneDry, "dry-run", false, "report candidates without removing them")

	worktreeCmd.AddCommand(worktreeListCmd, worktreeStatusCmd, worktreeScanCmd, worktreePruneCmd, worktreeRemoveCmd)
}

func openManager() (*worktree.Manager, func() error, error) {
	cfg := config.LoadConfig()
	mgr, err := worktree.NewManager(".", cfg.Worktree.BasePath, cfg.StateDir, worktree.DefaultThresholds())
	if err != nil {
		return nil, nil, fmt.Errorf("open worktree manager: %w", err)
	}
	return mgr, mgr.Close, nil
}

func filterWorktrees(items []*model.Worktree) []*model.Worktree {
	if !worktreeOrphaned && !worktreeStuck && !worktreeIdle && !worktreeActive && !worktreeCorrupted {
		return items
	}
	var out []*model.Worktree
	for _, w := range items {
		switch w.Status {
		case model.WorktreeOrphaned:
			if worktreeOrphaned {
				out = append(out, w)
			}
		case model.WorktreeStuck:
			if worktreeStuck {
				out = append(out, w)
			}
		case model.WorktreeIdle:
			if worktreeIdle {
				out = append(out, w)
			}
		case model.WorktreeActive:
			if worktreeActive {
				out = append(out, w)
			}
		case model.WorktreeCorrupted:
			if worktreeCorrupted {
				out = append(out, w)
			}
		}
	}
	return out
}

func printWorktrees(items []*model.Worktree) error {
	if worktreeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tISSUE\tBRANCH\tSTATUS\tDIRTY\tPATH")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", item.ID, item.OwningIssue, item.BranchName, item.Status, item.Dirty, item.Path)
	}
	return w.Flush()
}
