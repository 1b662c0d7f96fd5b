package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConfigDir temporarily overrides HOME so config-dir tests are isolated
// to a temp directory, mirroring the teacher's instance/task test helper.
func mockConfigDir(t *testing.T, tempDir string) func() {
	originalHome := os.Getenv("HOME")

	fakeHome := filepath.Join(tempDir, "home")
	err := os.MkdirAll(fakeHome, 0755)
	require.NoError(t, err)

	err = os.Setenv("HOME", fakeHome)
	require.NoError(t, err)

	return func() {
		os.Setenv("HOME", originalHome)
	}
}

func TestGetConfigDirUsesHome(t *testing.T) {
	tempDir := t.TempDir()
	cleanup := mockConfigDir(t, tempDir)
	defer cleanup()

	dir, err := GetConfigDir()
	require.NoError(t, err)
	assert.Contains(t, dir, tempDir)
	assert.Contains(t, dir, ".miyabi")
}

func TestDefaultConfigScalerDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.Scaler.MonitorIntervalSeconds)
	assert.Equal(t, 0.30, cfg.Scaler.UpThreshold)
	assert.Equal(t, 0.80, cfg.Scaler.DownThreshold)
	assert.Equal(t, 1, cfg.Scaler.MinConcurrency)
	assert.Equal(t, 10, cfg.Scaler.MaxConcurrency)
}

func TestWorktreeBasePathOverride(t *testing.T) {
	tempDir := t.TempDir()
	cleanup := mockConfigDir(t, tempDir)
	defer cleanup()

	override := filepath.Join(tempDir, "custom-worktrees")
	require.NoError(t, os.Setenv(EnvWorktreeBasePath, override))
	defer os.Unsetenv(EnvWorktreeBasePath)

	cfg := DefaultConfig()
	assert.Equal(t, override, cfg.Worktree.BasePath)
}

func TestLoadConfigCreatesDefaultWhenMissing(t *testing.T) {
	tempDir := t.TempDir()
	cleanup := mockConfigDir(t, tempDir)
	defer cleanup()

	cfg := LoadConfig()
	require.NotNil(t, cfg)

	configDir, err := GetConfigDir()
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(configDir, ConfigFileName))
	assert.NoError(t, err, "LoadConfig should persist a default config file")
}
