package agent

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velu/internal/fs"
	"velu/internal/proc"
	"velu/internal/task"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	reg, err := NewDefaultRegistry(Deps{
		Workspace: filepath.Join(dir, "ws"),
		Jobs:      newTestJobStore(t),
		Runner:    &testRunner{out: proc.Output{ExitCode: 0}},
		Git:       GitConfig{GitDir: filepath.Join(dir, "nope", ".git"), WorkTree: filepath.Join(dir, "nope")},
		Sleep:     func(time.Duration) {},
	})
	require.NoError(t, err)
	return reg
}

func TestDefaultRegistryNames(t *testing.T) {
	reg := newTestRegistry(t)
	assert.Equal(t, []string{
		"analyzer", "codegen", "datamodel", "echo", "execute", "gitcommit", "plan",
		"report", "requirements", "security_hardening", "sleep", "test",
	}, reg.Names())
}

// Every handler answers with a boolean ok and a string agent, whatever the
// payload looks like.
func TestEveryHandlerHonorsResultContract(t *testing.T) {
	reg := newTestRegistry(t)
	payloads := []task.Payload{
		nil,
		{},
		{"idea": "demo", "module": "hello_mod"},
		{"files": "not-a-list", "seconds": "x", "parent_job": -1, "entities": 3},
		{"message": 12, "paths": []any{nil, 3}, "ops": []any{}},
	}
	for _, name := range reg.Names() {
		for i, p := range payloads {
			res := reg.Dispatch(context.Background(), task.New(name, p))
			_, isBool := res[task.KeyOK].(bool)
			assert.True(t, isBool, "%s payload %d: ok missing", name, i)
			assert.NotEmpty(t, res.Agent(), "%s payload %d: agent missing", name, i)
			if !res.OK() {
				assert.NotEmpty(t, res.ErrorMessage(), "%s payload %d: error missing", name, i)
			}
		}
	}
}

// Files offered by handlers that target the workspace stay inside the
// allowed roots.
func TestHandlerFilesStayInAllowedRoots(t *testing.T) {
	sb, err := fs.NewSandbox(t.TempDir(), nil, nil)
	require.NoError(t, err)

	for _, res := range []task.Result{
		SecurityHardening(context.Background(), nil),
	} {
		for _, f := range res.Files() {
			_, ok := sb.Check(f.Path)
			assert.True(t, ok, f.Path)
			assert.False(t, strings.HasPrefix(f.Path, "/"))
		}
	}
}
