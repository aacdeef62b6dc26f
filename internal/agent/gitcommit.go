package agent

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"go.uber.org/zap"

	"velu/internal/task"
)

var conventionalSubject = regexp.MustCompile(`^(feat|fix|chore|docs|refactor|test|build|ci|perf|style)(\([^)]+\))?: .+`)

// ValidSubject reports whether msg is a conventional-commit subject.
func ValidSubject(msg string) bool {
	return conventionalSubject.MatchString(msg)
}

type GitConfig struct {
	GitDir      string
	WorkTree    string
	AuthorName  string
	AuthorEmail string
}

func (c GitConfig) withDefaults() GitConfig {
	if c.GitDir == "" {
		c.GitDir = "/git/.git"
	}
	if c.WorkTree == "" {
		c.WorkTree = "/git"
	}
	if c.AuthorName == "" {
		c.AuthorName = "velu"
	}
	if c.AuthorEmail == "" {
		c.AuthorEmail = "velu@localhost"
	}
	return c
}

// GitCommitter stages and commits workspace changes in a repository whose
// git directory may live outside the work tree.
type GitCommitter struct {
	cfg    GitConfig
	now    func() time.Time
	logger *zap.Logger
	mu     sync.Mutex
}

func NewGitCommitter(cfg GitConfig, logger *zap.Logger) *GitCommitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitCommitter{cfg: cfg.withDefaults(), now: time.Now, logger: logger}
}

func (g *GitCommitter) Handle(_ context.Context, p task.Payload) task.Result {
	msg := p.String("message", "chore: snapshot")
	if !ValidSubject(msg) {
		return task.Failure("gitcommit", "invalid subject")
	}
	debug := map[string]any{"git_dir": g.cfg.GitDir, "work_tree": g.cfg.WorkTree}

	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := g.open()
	if err != nil {
		return task.Success("gitcommit").
			With("did_commit", false).
			With("reason", "no repo").
			With("debug", map[string]any{
				"git_dir":       g.cfg.GitDir,
				"work_tree":     g.cfg.WorkTree,
				"rev_parse_err": err.Error(),
			})
	}
	wt, err := repo.Worktree()
	if err != nil {
		return task.Failure("gitcommit", "open worktree: "+err.Error()).With("debug", debug)
	}

	g.stage(wt, payloadPaths(p["paths"]))

	changed, err := hasStagedChanges(wt)
	if err != nil {
		return task.Failure("gitcommit", "read status: "+err.Error()).With("debug", debug)
	}
	if !changed {
		var head any
		if ref, err := repo.Head(); err == nil {
			head = ref.Hash().String()
		}
		return task.Success("gitcommit").
			With("did_commit", false).
			With("reason", "no changes").
			With("head", head).
			With("subject", msg).
			With("debug", debug)
	}

	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: g.cfg.AuthorName, Email: g.cfg.AuthorEmail, When: g.now()},
	})
	if err != nil {
		return task.Failure("gitcommit", "commit failed: "+err.Error()).With("debug", debug)
	}
	files, err := commitFiles(repo, hash)
	if err != nil {
		g.logger.Warn("list committed files", zap.String("head", hash.String()), zap.Error(err))
		files = []string{}
	}
	g.logger.Info("workspace committed", zap.String("head", hash.String()), zap.Int("files", len(files)))

	return task.Success("gitcommit").
		With("did_commit", true).
		With("head", hash.String()).
		With("subject", msg).
		With("files", files).
		With("debug", debug)
}

func (g *GitCommitter) open() (*git.Repository, error) {
	info, err := os.Stat(g.cfg.WorkTree)
	if err != nil {
		return nil, fmt.Errorf("stat work tree: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("work tree %s is not a directory", g.cfg.WorkTree)
	}
	if _, err := os.Stat(g.cfg.GitDir); err != nil {
		return nil, fmt.Errorf("stat git dir: %w", err)
	}
	storage := filesystem.NewStorage(osfs.New(g.cfg.GitDir), cache.NewObjectLRUDefault())
	repo, err := git.Open(storage, osfs.New(g.cfg.WorkTree))
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

// stage adds the given paths, or everything when paths is empty. Paths that
// cannot be added are skipped; the status check decides whether to commit.
func (g *GitCommitter) stage(wt *git.Worktree, paths []string) {
	if len(paths) == 0 {
		if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			g.logger.Warn("stage all changes", zap.Error(err))
		}
		return
	}
	for _, p := range paths {
		if _, err := wt.Add(p); err != nil {
			g.logger.Warn("stage path", zap.String("path", p), zap.Error(err))
		}
	}
}

func hasStagedChanges(wt *git.Worktree) (bool, error) {
	status, err := wt.Status()
	if err != nil {
		return false, err
	}
	for _, st := range status {
		if st.Staging != git.Unmodified && st.Staging != git.Untracked {
			return true, nil
		}
	}
	return false, nil
}

func commitFiles(repo *git.Repository, hash plumbing.Hash) ([]string, error) {
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("load commit: %w", err)
	}
	stats, err := commit.Stats()
	if err != nil {
		return nil, fmt.Errorf("commit stats: %w", err)
	}
	files := make([]string, 0, len(stats))
	for _, s := range stats {
		files = append(files, s.Name)
	}
	return files, nil
}

func payloadPaths(v any) []string {
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []any:
		for _, item := range t {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" && item != nil {
				out = append(out, s)
			}
		}
	}
	return out
}
