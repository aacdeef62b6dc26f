package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxCheck(t *testing.T) {
	sb, err := NewSandbox(t.TempDir(), nil, nil)
	require.NoError(t, err)

	tests := []struct {
		path   string
		reason string
		ok     bool
	}{
		{path: "src/app.py", ok: true},
		{path: "tests/test_app.py", ok: true},
		{path: "", reason: ReasonEmpty},
		{path: "/etc/passwd", reason: ReasonAbsolute},
		{path: "../etc/passwd", reason: ReasonTraversal},
		{path: "..hidden/x", reason: ReasonTraversal},
		{path: "src/../../x", reason: ReasonTraversal},
		{path: "hello_mod/main.py", reason: "outside allowed roots (src/, tests/)"},
		{path: "srcx/a.py", reason: "outside allowed roots (src/, tests/)"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			reason, ok := sb.Check(tc.path)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestSandboxWriteCreatesParents(t *testing.T) {
	root := t.TempDir()
	sb, err := NewSandbox(root, nil, nil)
	require.NoError(t, err)

	require.NoError(t, sb.Write("src/pkg/mod.py", "print('hi')\n"))

	content, err := os.ReadFile(filepath.Join(root, "src", "pkg", "mod.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(content))
}

func TestSandboxWriteRefusesSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "src")))

	sb, err := NewSandbox(root, nil, nil)
	require.NoError(t, err)

	err = sb.Write("src/evil.py", "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEscaped))

	_, statErr := os.Stat(filepath.Join(outside, "evil.py"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSandboxCustomRootsReason(t *testing.T) {
	sb, err := NewSandbox(t.TempDir(), []string{"app/"}, nil)
	require.NoError(t, err)

	reason, ok := sb.Check("src/a.py")
	assert.False(t, ok)
	assert.Equal(t, "outside allowed roots (app/)", reason)
}
