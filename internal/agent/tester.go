package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"velu/internal/proc"
	"velu/internal/task"
)

const (
	defaultTestTimeout = 300 * time.Second
	outputTailBytes    = 20000
	exitNoTests        = 5
)

type TesterConfig struct {
	// Command is the harness invocation without path or arguments.
	Command     []string
	ConfigFiles []string
	DefaultArgs []string
	Timeout     time.Duration
}

func (c TesterConfig) withDefaults() TesterConfig {
	if len(c.Command) == 0 {
		c.Command = []string{"python", "-m", "pytest"}
	}
	if len(c.ConfigFiles) == 0 {
		c.ConfigFiles = []string{"pytest.ini"}
	}
	if len(c.DefaultArgs) == 0 {
		c.DefaultArgs = []string{
			"-q",
			"--maxfail=1",
			"--disable-warnings",
			"--basetemp=" + filepath.Join(os.TempDir(), "pytest"),
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTestTimeout
	}
	return c
}

type testerInput struct {
	RootDir      string   `mapstructure:"rootdir"`
	TestsPath    string   `mapstructure:"tests_path"`
	Args         []string `mapstructure:"args"`
	PythonPath   string   `mapstructure:"pythonpath"`
	Timeout      float64  `mapstructure:"timeout"`
	AllowNoTests *bool    `mapstructure:"allow_no_tests"`
}

// Tester runs the external test harness against a project directory.
type Tester struct {
	cfg    TesterConfig
	runner proc.Runner
	logger *zap.Logger
}

func NewTester(cfg TesterConfig, runner proc.Runner, logger *zap.Logger) *Tester {
	if runner == nil {
		runner = proc.Exec{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tester{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

func (t *Tester) Handle(ctx context.Context, p task.Payload) task.Result {
	var in testerInput
	if err := p.Decode(&in); err != nil {
		return task.Failure(StepTest, "InputError: "+err.Error())
	}

	rootdir := strings.TrimSpace(in.RootDir)
	if rootdir == "" {
		rootdir = "."
	}
	testsPath := t.resolveTestsPath(rootdir, strings.TrimSpace(in.TestsPath))

	args := in.Args
	if len(args) == 0 {
		args = t.cfg.DefaultArgs
	}
	argv := append([]string(nil), t.cfg.Command...)
	if testsPath != "" {
		argv = append(argv, testsPath)
	}
	argv = append(argv, args...)

	timeout := t.cfg.Timeout
	if in.Timeout > 0 {
		timeout = time.Duration(in.Timeout * float64(time.Second))
	}
	allowNoTests := true
	if in.AllowNoTests != nil {
		allowNoTests = *in.AllowNoTests
	}

	var testsPathValue any
	if testsPath != "" {
		testsPathValue = testsPath
	}

	out, err := t.runner.Run(ctx, proc.Spec{
		Argv:    argv,
		Dir:     rootdir,
		Env:     testEnv(os.Environ(), in.PythonPath),
		Timeout: timeout,
	})
	if err != nil {
		kind := "ExecError"
		if errors.Is(err, proc.ErrTimeout) {
			kind = "TimeoutError"
		}
		t.logger.Warn("test harness failed to complete", zap.Strings("cmd", argv), zap.Error(err))
		return task.Failure(StepTest, fmt.Sprintf("%s: %v", kind, err)).
			With("cmd", argv).
			With("rootdir", rootdir).
			With("tests_path", testsPathValue)
	}

	ok := out.ExitCode == 0 || (out.ExitCode == exitNoTests && allowNoTests)
	t.logger.Info("test harness finished",
		zap.Int("returncode", out.ExitCode),
		zap.Bool("ok", ok),
		zap.Duration("duration", out.Duration),
	)
	res := task.Result{
		task.KeyOK:    ok,
		task.KeyAgent: StepTest,
		"returncode":  out.ExitCode,
		"cmd":         argv,
		"rootdir":     rootdir,
		"tests_path":  testsPathValue,
		"stdout":      tail(out.Stdout, outputTailBytes),
		"stderr":      tail(out.Stderr, outputTailBytes),
	}
	if !ok {
		res[task.KeyError] = fmt.Sprintf("tests failed with exit code %d", out.ExitCode)
	}
	return res
}

// resolveTestsPath keeps an explicit path only when it exists under rootdir.
// Without one, a project config file or tests_app/ defers to the harness
// defaults, and a plain tests/ directory is passed explicitly.
func (t *Tester) resolveTestsPath(rootdir, explicit string) string {
	if explicit != "" && exists(filepath.Join(rootdir, explicit)) {
		return explicit
	}
	if exists(filepath.Join(rootdir, "tests_app")) {
		return ""
	}
	for _, name := range t.cfg.ConfigFiles {
		if exists(filepath.Join(rootdir, name)) {
			return ""
		}
	}
	if exists(filepath.Join(rootdir, "tests")) {
		return "tests"
	}
	return ""
}

func testEnv(base []string, pythonPath string) []string {
	env := append([]string(nil), base...)
	if !hasEnv(env, "HOME") {
		env = append(env, "HOME="+os.TempDir())
	}
	if !hasEnv(env, "PYTHONPATH") {
		if pythonPath == "" {
			pythonPath = ".:./src"
		}
		env = append(env, "PYTHONPATH="+pythonPath)
	}
	return env
}

// hasEnv reports whether key is set to a non-empty value.
func hasEnv(env []string, key string) bool {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) && len(kv) > len(prefix) {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.ToValidUTF8(string(b), "")
}
