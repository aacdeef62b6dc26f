package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"velu/internal/fs"
	"velu/internal/task"
)

type Refusal struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type WriteError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Executor is the only handler that writes into the workspace.
type Executor struct {
	sandbox *fs.Sandbox
	logger  *zap.Logger
}

func NewExecutor(sandbox *fs.Sandbox, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{sandbox: sandbox, logger: logger}
}

// Handle writes payload files (or seeded defaults) under the workspace root.
// Per-file problems land in refused or errors; the result is always ok.
func (e *Executor) Handle(_ context.Context, p task.Payload) task.Result {
	files := executorFiles(p)
	seeded := false
	if len(files) == 0 {
		files = seedFiles(p.String("module", "hello_mod"))
		seeded = true
	}

	wrote := make([]string, 0, len(files))
	refused := make([]Refusal, 0)
	var writeErrors []WriteError
	for _, f := range files {
		rel := strings.TrimSpace(f.Path)
		if reason, ok := e.sandbox.Check(rel); !ok {
			refused = append(refused, Refusal{Path: rel, Reason: reason})
			continue
		}
		if err := e.sandbox.Write(rel, f.Content); err != nil {
			if errors.Is(err, fs.ErrEscaped) {
				refused = append(refused, Refusal{Path: rel, Reason: fs.ErrEscaped.Error()})
				continue
			}
			writeErrors = append(writeErrors, WriteError{Path: rel, Error: fmt.Sprintf("WriteError: %v", err)})
			continue
		}
		wrote = append(wrote, rel)
	}

	e.logger.Info("workspace files executed",
		zap.Int("wrote", len(wrote)),
		zap.Int("refused", len(refused)),
		zap.Int("errors", len(writeErrors)),
		zap.Bool("seeded", seeded),
	)

	res := task.Success(StepExecute).
		With("seeded", seeded).
		With("cwd", e.sandbox.Root()).
		With("base_dir", e.sandbox.Root()).
		With("wrote", wrote).
		With("refused", refused)
	if len(writeErrors) > 0 {
		res.With("errors", writeErrors)
	} else {
		res.With("errors", nil)
	}
	return res
}

// executorFiles reads "files", falling back to a "files_json" string only
// when "files" is not a list.
func executorFiles(p task.Payload) []task.File {
	if files, isList := task.FilesFrom(p["files"]); isList {
		return files
	}
	raw, _ := p["files_json"].(string)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	files, err := task.FilesFromJSON(raw)
	if err != nil {
		return nil
	}
	return files
}

func seedFiles(module string) []task.File {
	return []task.File{
		{
			Path: "src/" + module + ".py",
			Content: "def greet(name: str) -> str:\n" +
				"    \"\"\"Simple greeter used by smoke tests.\"\"\"\n" +
				"    return f\"Hello, {name}!\"\n",
		},
		{
			Path: "tests/test_" + module + ".py",
			Content: "from " + module + " import greet\n\n" +
				"def test_greet_pipeline():\n" +
				"    assert greet(\"Velu\") == \"Hello, Velu!\"\n",
		},
	}
}
