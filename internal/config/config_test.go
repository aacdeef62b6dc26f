package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDecodesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "velu.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[orchestrator]
addr = "0.0.0.0:9000"
workspace = "/srv/ws"
max_concurrent = 3

[policy]
deny_tasks = ["deploy", "drop_db"]

[tester]
command = ["pytest"]
timeout_seconds = 60

[logging]
level = "debug"
format = "console"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "0.0.0.0:9000", cfg.Orchestrator.Addr)
	assert.Equal(t, "/srv/ws", cfg.Orchestrator.Workspace)
	assert.Equal(t, 3, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, []string{"deploy", "drop_db"}, cfg.Policy.DenyTasks)
	assert.Equal(t, []string{"pytest"}, cfg.Tester.Command)
	assert.Equal(t, 60, cfg.Tester.TimeoutSeconds)
	assert.Equal(t, "console", cfg.Logging.Format)
	// untouched sections keep their defaults
	assert.Equal(t, "data/jobs.db", cfg.Store.DBPath)
	assert.Contains(t, cfg.Raw, "orchestrator")
}

func TestLoadMissingDefaultFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Path)
	assert.Equal(t, Default().Orchestrator, cfg.Orchestrator)
	assert.Equal(t, []string{"deploy"}, cfg.Policy.DenyTasks)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ORCH_LOG", "/tmp/velu/orch.log")
	t.Setenv("TASK_DB", "/tmp/velu/jobs.db")
	t.Setenv("VELU_GIT_DIR", "/repo/.git")
	t.Setenv("VELU_GIT_WORKTREE", "/repo")
	t.Setenv("VELU_WORKSPACE", "/ws")
	t.Setenv("VELU_ADDR", ":7000")
	t.Setenv("VELU_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/velu/orch.log", cfg.Orchestrator.StateLog)
	assert.Equal(t, "/tmp/velu/jobs.db", cfg.Store.DBPath)
	assert.Equal(t, "/repo/.git", cfg.Git.GitDir)
	assert.Equal(t, "/repo", cfg.Git.WorkTree)
	assert.Equal(t, "/ws", cfg.Orchestrator.Workspace)
	assert.Equal(t, ":7000", cfg.Orchestrator.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("VELU_WORKSPACE=/from/dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("VELU_WORKSPACE") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/from/dotenv", cfg.Orchestrator.Workspace)
}

func TestApplyEnvRejectsBadConcurrency(t *testing.T) {
	cfg := Default()
	lookup := func(key string) (string, bool) {
		if key == "VELU_MAX_CONCURRENT" {
			return "zero", true
		}
		return "", false
	}
	assert.Error(t, cfg.applyEnv(lookup))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandHome("~/velu/velu.toml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "velu", "velu.toml"), got)

	got, err = expandHome("relative.toml")
	require.NoError(t, err)
	assert.Equal(t, "relative.toml", got)
}
