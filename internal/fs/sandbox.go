package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrEscaped is returned by Write when the resolved target leaves the root.
var ErrEscaped = errors.New("escaped workspace")

const (
	ReasonEmpty     = "empty path"
	ReasonAbsolute  = "absolute path not allowed"
	ReasonTraversal = "path traversal"
)

// DefaultAllowedRoots are the workspace subtrees handlers may write to.
var DefaultAllowedRoots = []string{"src/", "tests/"}

// Sandbox writes files below a workspace root, restricted to a set of
// allowed top-level prefixes.
type Sandbox struct {
	root     string
	realRoot string
	allowed  []string
	logger   *zap.Logger
}

func NewSandbox(root string, allowed []string, logger *zap.Logger) (*Sandbox, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create root path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve root symlinks: %w", err)
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedRoots
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sandbox{
		root:     absRoot,
		realRoot: realRoot,
		allowed:  append([]string(nil), allowed...),
		logger:   logger,
	}, nil
}

func (s *Sandbox) Root() string {
	return s.root
}

// Check validates a workspace-relative path without touching the disk. It
// returns the refusal reason and false when the path is rejected.
func (s *Sandbox) Check(rel string) (string, bool) {
	if rel == "" {
		return ReasonEmpty, false
	}
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) || filepath.IsAbs(rel) {
		return ReasonAbsolute, false
	}
	if strings.HasPrefix(rel, "..") {
		return ReasonTraversal, false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return ReasonTraversal, false
		}
	}
	for _, prefix := range s.allowed {
		if strings.HasPrefix(rel, prefix) {
			return "", true
		}
	}
	return s.outsideReason(), false
}

func (s *Sandbox) outsideReason() string {
	return fmt.Sprintf("outside allowed roots (%s)", strings.Join(s.allowed, ", "))
}

// Write stores content at rel. Callers are expected to Check rel first; Write
// only guards containment, including escapes through symlinked directories.
func (s *Sandbox) Write(rel, content string) error {
	absPath, err := s.resolve(rel)
	if err != nil {
		s.logger.Warn("workspace write refused", zap.String("path", rel), zap.Error(err))
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	s.logger.Debug("workspace file written", zap.String("path", rel), zap.Int("bytes", len(content)))
	return nil
}

func (s *Sandbox) resolve(rel string) (string, error) {
	absPath := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(rel)))
	if !within(s.root, absPath) || absPath == s.root {
		return "", ErrEscaped
	}
	real, err := evalExisting(absPath)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", rel, err)
	}
	if !within(s.realRoot, real) {
		return "", ErrEscaped
	}
	return absPath, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting resolves symlinks on the longest existing prefix of p and
// re-appends the components that do not exist yet.
func evalExisting(p string) (string, error) {
	var missing []string
	cur := p
	for {
		_, err := os.Lstat(cur)
		if err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			for i := len(missing) - 1; i >= 0; i-- {
				real = filepath.Join(real, missing[i])
			}
			return real, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}
