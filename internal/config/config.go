package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"velu/internal/logging"
	"velu/internal/telemetry"
)

const DefaultPath = "velu.toml"

type Config struct {
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Store        StoreConfig        `toml:"store"`
	Policy       PolicyConfig       `toml:"policy"`
	Tester       TesterConfig       `toml:"tester"`
	Git          GitConfig          `toml:"git"`
	Logging      logging.Config     `toml:"logging"`
	Telemetry    telemetry.Config   `toml:"telemetry"`
	Raw          map[string]any     `toml:"-"`
	Path         string             `toml:"-"`
}

type OrchestratorConfig struct {
	Addr          string   `toml:"addr"`
	Workspace     string   `toml:"workspace"`
	AllowedRoots  []string `toml:"allowed_roots"`
	StateLog      string   `toml:"state_log"`
	MaxConcurrent int      `toml:"max_concurrent"`
}

type StoreConfig struct {
	DBPath string `toml:"db_path"`
}

type PolicyConfig struct {
	DenyTasks []string `toml:"deny_tasks"`
}

type TesterConfig struct {
	Command        []string `toml:"command"`
	ConfigFiles    []string `toml:"config_files"`
	DefaultArgs    []string `toml:"default_args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

type GitConfig struct {
	GitDir      string `toml:"git_dir"`
	WorkTree    string `toml:"work_tree"`
	AuthorName  string `toml:"author_name"`
	AuthorEmail string `toml:"author_email"`
}

func Default() Config {
	return Config{
		Orchestrator: OrchestratorConfig{
			Addr:          "127.0.0.1:8080",
			Workspace:     ".",
			AllowedRoots:  []string{"src/", "tests/"},
			StateLog:      "data/pointers/orchestrator.log",
			MaxConcurrent: 8,
		},
		Store:   StoreConfig{DBPath: "data/jobs.db"},
		Policy:  PolicyConfig{DenyTasks: []string{"deploy"}},
		Tester:  TesterConfig{TimeoutSeconds: 300},
		Logging: logging.Config{Level: "info", Format: "json"},
		Telemetry: telemetry.Config{
			ServiceName: "velu",
			SampleRatio: 1,
		},
	}
}

// Load reads .env from the working directory if present, then the TOML file
// at path, then environment overrides. An empty path falls back to
// DefaultPath, and a missing default file yields the defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	resolved := path
	if !explicit {
		resolved = DefaultPath
	}
	resolved, err := expandHome(resolved)
	if err != nil {
		return Config{}, err
	}
	resolved = filepath.Clean(resolved)

	cfg := Default()
	bytes, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(bytes), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
		var raw map[string]any
		if _, err := toml.Decode(string(bytes), &raw); err != nil {
			return Config{}, fmt.Errorf("decode raw config: %w", err)
		}
		cfg.Raw = raw
		cfg.Path = resolved
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("ORCH_LOG", &c.Orchestrator.StateLog)
	set("TASK_DB", &c.Store.DBPath)
	set("VELU_GIT_DIR", &c.Git.GitDir)
	set("VELU_GIT_WORKTREE", &c.Git.WorkTree)
	set("VELU_WORKSPACE", &c.Orchestrator.Workspace)
	set("VELU_ADDR", &c.Orchestrator.Addr)
	set("VELU_LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("VELU_MAX_CONCURRENT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("parse VELU_MAX_CONCURRENT %q: must be a positive integer", v)
		}
		c.Orchestrator.MaxConcurrent = n
	}
	if c.Orchestrator.MaxConcurrent < 1 {
		c.Orchestrator.MaxConcurrent = 1
	}
	return nil
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(p, "~")
	trimmed = strings.TrimPrefix(trimmed, "\\")
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Join(home, trimmed), nil
}
