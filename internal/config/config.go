// Package config resolves the orchestrator's on-disk configuration: a
// config directory under the user's home directory, a JSON config file
// with defaults, and environment-variable overrides for tokens and paths
// (see SPEC_FULL.md §6 Environment variables).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/log"
)

const (
	ConfigFileName = "config.json"

	// EnvGithubToken authenticates the work-item tracker (§6).
	EnvGithubToken = "GITHUB_TOKEN"
	// EnvWorktreeBasePath overrides DefaultWorktreeBase (§6).
	EnvWorktreeBasePath = "MIYABI_WORKTREE_BASE_PATH"
)

// GetConfigDir returns the path to the application's configuration
// directory, `~/.miyabi`.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".miyabi"), nil
}

// ScalerConfig mirrors C2's defaults (SPEC_FULL.md §4.2).
type ScalerConfig struct {
	MonitorIntervalSeconds int     `json:"monitor_interval_seconds"`
	UpThreshold            float64 `json:"up_threshold"`
	DownThreshold          float64 `json:"down_threshold"`
	MinConcurrency         int     `json:"min_concurrency"`
	MaxConcurrency         int     `json:"max_concurrency"`
}

// WorktreeConfig mirrors C4's default thresholds (SPEC_FULL.md §4.4).
type WorktreeConfig struct {
	BasePath            string `json:"base_path"`
	ActiveThresholdMins  int   `json:"active_threshold_minutes"`
	StuckThresholdMins   int   `json:"stuck_threshold_minutes"`
	BranchPrefix         string `json:"branch_prefix"`
}

// SprintConfig mirrors C8's orchestrator-level options (SPEC_FULL.md §4.8).
type SprintConfig struct {
	SprintSize             int    `json:"sprint_size"`
	MaxIssues              int    `json:"max_issues"`
	TimeoutMinutes         int    `json:"timeout_minutes"`
	DryRun                 bool   `json:"dry_run"`
	IgnoreDependencies     bool   `json:"ignore_dependencies"`
	LogDir                 string `json:"log_dir"`
	Schedule               string `json:"schedule,omitempty"`
}

// WorkerConfig names the external coding-agent CLI workers run as a
// subprocess attached to a pty (internal/worker.CLIWorker), mirroring the
// teacher's DefaultProgram ("claude").
type WorkerConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// Config is the application configuration.
type Config struct {
	StateDir string         `json:"state_dir"`
	Scaler   ScalerConfig   `json:"scaler"`
	Worktree WorktreeConfig `json:"worktree"`
	Sprint   SprintConfig   `json:"sprint"`
	Worker   WorkerConfig   `json:"worker"`
}

// DefaultConfig returns the default configuration, honoring
// MIYABI_WORKTREE_BASE_PATH when set.
func DefaultConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		configDir = ".miyabi"
	}

	base := filepath.Join(configDir, "worktrees")
	if override := os.Getenv(EnvWorktreeBasePath); override != "" {
		base = override
	}

	return &Config{
		StateDir: configDir,
		Scaler: ScalerConfig{
			MonitorIntervalSeconds: 10,
			UpThreshold:            0.30,
			DownThreshold:          0.80,
			MinConcurrency:         1,
			MaxConcurrency:         10,
		},
		Worktree: WorktreeConfig{
			BasePath:            base,
			ActiveThresholdMins: 60,
			StuckThresholdMins:  24 * 60,
			BranchPrefix:        branchPrefix(),
		},
		Sprint: SprintConfig{
			SprintSize:     5,
			MaxIssues:      0,
			TimeoutMinutes: 0,
			LogDir:         filepath.Join(configDir, "logs"),
		},
		Worker: WorkerConfig{
			Command: "claude",
		},
	}
}

func branchPrefix() string {
	u, err := user.Current()
	if err != nil || u == nil || u.Username == "" {
		if log.ErrorLog != nil {
			log.ErrorLog.Printf("failed to get current user: %v", err)
		}
		return "miyabi/"
	}
	return fmt.Sprintf("%s/", strings.ToLower(u.Username))
}

// LoadConfig reads the config file, creating a default one if absent.
func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		if log.ErrorLog != nil {
			log.ErrorLog.Printf("failed to get config directory: %v", err)
		}
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			defaultCfg := DefaultConfig()
			if saveErr := SaveConfig(defaultCfg); saveErr != nil && log.WarningLog != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}
		if log.WarningLog != nil {
			log.WarningLog.Printf("failed to read config file: %v", err)
		}
		return DefaultConfig()
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		if log.ErrorLog != nil {
			log.ErrorLog.Printf("failed to parse config file: %v", err)
		}
		return DefaultConfig()
	}
	return &cfg
}

// SaveConfig writes the configuration to disk as indented JSON.
func SaveConfig(cfg *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(configPath, data, 0644)
}
