package agent

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"velu/internal/fs"
	"velu/internal/proc"
)

// Deps carries what the built-in handlers need from the process.
type Deps struct {
	Workspace    string
	AllowedRoots []string
	Jobs         JobReader
	Runner       proc.Runner
	Tester       TesterConfig
	Git          GitConfig
	Sleep        func(time.Duration)
	Logger       *zap.Logger
}

// NewDefaultRegistry registers every built-in handler and stubs any
// pipeline step that is still missing.
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workspace := deps.Workspace
	if workspace == "" {
		workspace = "."
	}
	sandbox, err := fs.NewSandbox(workspace, deps.AllowedRoots, logger.Named("sandbox"))
	if err != nil {
		return nil, fmt.Errorf("create workspace sandbox: %w", err)
	}

	reg := NewRegistry(logger.Named("registry"))
	handlers := []struct {
		name string
		h    Handler
	}{
		{StepPlan, Plan},
		{StepCodegen, Codegen},
		{StepExecute, NewExecutor(sandbox, logger.Named("execute")).Handle},
		{StepTest, NewTester(deps.Tester, deps.Runner, logger.Named("test")).Handle},
		{StepReport, NewReporter(deps.Jobs, logger.Named("report")).Handle},
		{"analyzer", Analyzer},
		{"datamodel", Datamodel},
		{"requirements", Requirements},
		{"security_hardening", SecurityHardening},
		{"gitcommit", NewGitCommitter(deps.Git, logger.Named("gitcommit")).Handle},
		{"sleep", NewSleep(deps.Sleep)},
		{"echo", Echo},
	}
	for _, item := range handlers {
		if err := reg.Register(item.name, item.h); err != nil {
			return nil, err
		}
	}
	reg.EnsureStubs(PipelineOrder())
	return reg, nil
}
