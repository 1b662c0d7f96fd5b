package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/config"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/orchestrator"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/tracker"
)

var (
	reportType   string
	reportOutput string
	reportSendTo string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate and distribute sprint execution reports",
}

var reportGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Aggregate persisted sprint reports into one summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := windowForType(reportType)
		if err != nil {
			return userError(err)
		}

		cfg := config.LoadConfig()
		summary, err := aggregateReports(cfg.Sprint.LogDir, window)
		if err != nil {
			return executionError(err)
		}

		rendered := renderSummary(reportType, summary)
		if reportOutput == "" {
			fmt.Println(rendered)
			return nil
		}
		return os.WriteFile(reportOutput, []byte(rendered), 0644)
	},
}

var reportSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Post a summary of the last 24 hours of execution reports to a destination",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportSendTo == "" {
			return userError(fmt.Errorf("--to is required (github, slack, ...)"))
		}

		cfg := config.LoadConfig()
		summary, err := aggregateReports(cfg.Sprint.LogDir, 24*time.Hour)
		if err != nil {
			return executionError(err)
		}
		rendered := renderSummary("daily", summary)

		switch reportSendTo {
		case "github":
			t := &tracker.GitHubCLITracker{}
			item, err := t.CreateItem(cmd.Context(), "Sprint report", rendered, []string{"report"})
			if err != nil {
				return executionError(fmt.Errorf("post report to github: %w", err))
			}
			fmt.Printf("posted report as github issue %s\n", item.ID)
			return nil
		default:
			return userError(fmt.Errorf("unsupported --to destination %q (only \"github\" is wired; others require operator-supplied credentials)", reportSendTo))
		}
	},
}

func init() {
	reportGenerateCmd.Flags().StringVar(&reportType, "type", "sprint", "report window: daily, weekly, or sprint (the most recent run)")
	reportGenerateCmd.Flags().StringVar(&reportOutput, "output", "", "file to write the report to (default: stdout)")
	reportSendCmd.Flags().StringVar(&reportSendTo, "to", "", "destination: github (others are not yet wired)")

	reportCmd.AddCommand(reportGenerateCmd, reportSendCmd)
}

func windowForType(t string) (time.Duration, error) {
	switch t {
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	case "sprint":
		return 0, nil // 0 means "most recent report only"
	default:
		return 0, fmt.Errorf("unknown --type %q (want daily, weekly, or sprint)", t)
	}
}

// reportAggregate is the rolled-up view of every LoopReport found within a
// window, used to render both daily/weekly digests and the single most
// recent sprint report.
type reportAggregate struct {
	Runs         int                       `json:"runs"`
	SuccessCount int                       `json:"success_count"`
	FailureCount int                       `json:"failure_count"`
	StopReasons  map[string]int            `json:"stop_reasons"`
	Reports      []orchestrator.LoopReport `json:"reports"`
}

// aggregateReports reads every `infinity-sprint-*.json` file under logDir;
// when window is 0 it returns only the most recently modified one (the
// "sprint" report type), otherwise every file modified within window of
// now.
func aggregateReports(logDir string, window time.Duration) (*reportAggregate, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &reportAggregate{StopReasons: map[string]int{}}, nil
		}
		return nil, fmt.Errorf("read log directory: %w", err)
	}

	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var candidates []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "infinity-sprint-") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, fileInfo{name: e.Name(), modTime: info.ModTime()})
	}

	if window == 0 {
		if len(candidates) == 0 {
			return &reportAggregate{StopReasons: map[string]int{}}, nil
		}
		latest := candidates[0]
		for _, c := range candidates[1:] {
			if c.modTime.After(latest.modTime) {
				latest = c
			}
		}
		candidates = []fileInfo{latest}
	} else {
		cutoff := time.Now().Add(-window)
		var kept []fileInfo
		for _, c := range candidates {
			if c.modTime.After(cutoff) {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}

	agg := &reportAggregate{StopReasons: map[string]int{}}
	for _, c := range candidates {
		data, err := os.ReadFile(filepath.Join(logDir, c.name))
		if err != nil {
			continue
		}
		var lr orchestrator.LoopReport
		if err := json.Unmarshal(data, &lr); err != nil {
			continue
		}
		agg.Runs++
		agg.SuccessCount += lr.SuccessCount
		agg.FailureCount += lr.FailureCount
		agg.StopReasons[string(lr.StopReason)]++
		agg.Reports = append(agg.Reports, lr)
	}
	return agg, nil
}

func renderSummary(reportType string, agg *reportAggregate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s report: %d run(s), %d succeeded, %d failed\n", strings.ToUpper(reportType[:1])+reportType[1:], agg.Runs, agg.SuccessCount, agg.FailureCount)
	for reason, count := range agg.StopReasons {
		fmt.Fprintf(&b, "  stop reason %s: %d\n", reason, count)
	}
	return b.String()
}
