//go:build unix

package proc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecCapturesOutputAndExitCode(t *testing.T) {
	out, err := Exec{}.Run(context.Background(), Spec{
		Argv:    []string{"sh", "-c", "echo out; echo err >&2; exit 3"},
		Dir:     t.TempDir(),
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "out\n", string(out.Stdout))
	assert.Equal(t, "err\n", string(out.Stderr))
}

func TestExecTimeoutKillsProcessGroup(t *testing.T) {
	started := time.Now()
	_, err := Exec{}.Run(context.Background(), Spec{
		Argv:    []string{"sh", "-c", "sleep 30 & sleep 30"},
		Timeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestExecMissingBinary(t *testing.T) {
	out, err := Exec{}.Run(context.Background(), Spec{Argv: []string{"velu-definitely-missing-binary"}})
	require.Error(t, err)
	assert.Equal(t, -1, out.ExitCode)
}

func TestExecEmptyCommand(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), Spec{})
	assert.Error(t, err)
}
