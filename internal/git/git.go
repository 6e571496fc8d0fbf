// Package git wraps the git operations workgarden needs. Mutations go
// through the git binary; read-only queries on refs and remotes use go-git.
package git

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/exec"
	"github.com/zhubert/workgarden/internal/logger"
)

// Service runs git commands through a CommandExecutor.
type Service struct {
	executor exec.CommandExecutor
	log      *slog.Logger
}

// NewService returns a service backed by the real git binary.
func NewService() *Service {
	return NewServiceWithExecutor(exec.NewRealExecutor())
}

// NewServiceWithExecutor returns a service using executor, for tests.
func NewServiceWithExecutor(executor exec.CommandExecutor) *Service {
	return &Service{executor: executor, log: logger.ComponentLogger("git")}
}

func (s *Service) git(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := s.executor.CombinedOutput(ctx, dir, "git", args...)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), msg, err)
	}
	return string(out), nil
}

// MainRepoRoot returns the working directory of the main repository that
// dir belongs to, even when dir is inside a linked worktree.
func (s *Service) MainRepoRoot(ctx context.Context, dir string) (string, error) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	out, err := s.executor.Output(ctx, dir, "git", "rev-parse", "--git-common-dir")
	if err != nil {
		return "", wgerrors.GitNotRepo(dir)
	}
	common := strings.TrimSpace(string(out))
	if !filepath.IsAbs(common) {
		common = filepath.Join(dir, common)
	}
	common, err = filepath.Abs(common)
	if err != nil {
		return "", wgerrors.E(wgerrors.Op("git.MainRepoRoot"), wgerrors.KindGit, err)
	}
	if filepath.Base(common) != ".git" {
		return "", wgerrors.E(wgerrors.Op("git.MainRepoRoot"), wgerrors.KindGit,
			fmt.Sprintf("%s is a bare repository", common))
	}
	root := filepath.Dir(common)
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return root, nil
}

// AddWorktree checks out branch at path. With create, the branch is
// created from base (HEAD when base is empty).
func (s *Service) AddWorktree(ctx context.Context, root, path, branch, base string, create bool) error {
	args := []string{"worktree", "add"}
	if create {
		args = append(args, "-b", branch, path)
		if base != "" {
			args = append(args, base)
		}
	} else {
		args = append(args, path, branch)
	}

	s.log.Info("adding worktree", "path", path, "branch", branch, "base", base, "newBranch", create)
	if _, err := s.git(ctx, root, args...); err != nil {
		return wgerrors.GitWorktreeFailed(branch, err)
	}
	return nil
}

// RemoveWorktree removes the working copy at path and prunes its
// administrative files.
func (s *Service) RemoveWorktree(ctx context.Context, root, path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	s.log.Info("removing worktree", "path", path, "force", force)
	if _, err := s.git(ctx, root, args...); err != nil {
		return wgerrors.E(wgerrors.Op("git.RemoveWorktree"), wgerrors.KindGit, err)
	}
	if err := s.PruneWorktrees(ctx, root); err != nil {
		s.log.Warn("worktree prune failed (best-effort)", "error", err)
	}
	return nil
}

// PruneWorktrees drops administrative entries of working copies that no
// longer exist.
func (s *Service) PruneWorktrees(ctx context.Context, root string) error {
	if _, err := s.git(ctx, root, "worktree", "prune"); err != nil {
		return wgerrors.E(wgerrors.Op("git.PruneWorktrees"), wgerrors.KindGit, err)
	}
	return nil
}

// DeleteBranch deletes a local branch. Without force git refuses to delete
// a branch that is not fully merged.
func (s *Service) DeleteBranch(ctx context.Context, root, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	s.log.Info("deleting branch", "branch", branch, "force", force)
	if _, err := s.git(ctx, root, "branch", flag, branch); err != nil {
		return wgerrors.E(wgerrors.Op("git.DeleteBranch"), wgerrors.KindGit, err)
	}
	return nil
}

// CreateBranch creates branch pointing at commit without checking it out.
func (s *Service) CreateBranch(ctx context.Context, root, branch, commit string) error {
	if _, err := s.git(ctx, root, "branch", branch, commit); err != nil {
		return wgerrors.E(wgerrors.Op("git.CreateBranch"), wgerrors.KindGit, err)
	}
	return nil
}

// Worktree is one entry of `git worktree list`.
type Worktree struct {
	Path     string
	Head     string
	Branch   string // short name, empty when detached
	Bare     bool
	Detached bool
	Locked   bool
	Prunable bool
}

// ListWorktrees returns every working copy git knows about, the main one
// first.
func (s *Service) ListWorktrees(ctx context.Context, root string) ([]Worktree, error) {
	out, err := s.git(ctx, root, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, wgerrors.E(wgerrors.Op("git.ListWorktrees"), wgerrors.KindGit, err)
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []Worktree {
	var list []Worktree
	var cur *Worktree
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "worktree":
			list = append(list, Worktree{Path: value})
			cur = &list[len(list)-1]
		case "HEAD":
			if cur != nil {
				cur.Head = value
			}
		case "branch":
			if cur != nil {
				cur.Branch = strings.TrimPrefix(value, "refs/heads/")
			}
		case "bare":
			if cur != nil {
				cur.Bare = true
			}
		case "detached":
			if cur != nil {
				cur.Detached = true
			}
		case "locked":
			if cur != nil {
				cur.Locked = true
			}
		case "prunable":
			if cur != nil {
				cur.Prunable = true
			}
		}
	}
	return list
}

// BranchCheckedOut reports whether any working copy other than exceptPath
// has branch checked out.
func (s *Service) BranchCheckedOut(ctx context.Context, root, branch, exceptPath string) (bool, error) {
	list, err := s.ListWorktrees(ctx, root)
	if err != nil {
		return false, err
	}
	for _, wt := range list {
		if wt.Branch == branch && !samePath(wt.Path, exceptPath) {
			return true, nil
		}
	}
	return false, nil
}

// ChangedFiles returns the paths `git status --porcelain` reports for the
// working copy at path, untracked files included.
func (s *Service) ChangedFiles(ctx context.Context, path string) ([]string, error) {
	out, err := s.executor.Output(ctx, path, "git", "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, wgerrors.E(wgerrors.Op("git.ChangedFiles"), wgerrors.KindGit, fmt.Sprintf("status of %s", path), err)
	}
	return parseStatus(string(out)), nil
}

func parseStatus(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		name := line[3:]
		if _, after, ok := strings.Cut(name, " -> "); ok {
			name = after
		}
		files = append(files, strings.Trim(name, `"`))
	}
	return files
}

// HasUncommittedChanges reports whether the working copy at path has
// changes other than the paths in ignore. Ignored paths are relative to the
// working copy; a directory ignores everything below it.
func (s *Service) HasUncommittedChanges(ctx context.Context, path string, ignore []string) (bool, error) {
	files, err := s.ChangedFiles(ctx, path)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if !ignored(f, ignore) {
			return true, nil
		}
	}
	return false, nil
}

func ignored(file string, ignore []string) bool {
	for _, ig := range ignore {
		ig = strings.TrimSuffix(filepath.ToSlash(filepath.Clean(ig)), "/")
		if file == ig || strings.HasPrefix(file, ig+"/") {
			return true
		}
	}
	return false
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		ra = filepath.Clean(a)
	}
	rb, err := filepath.EvalSymlinks(b)
	if err != nil {
		rb = filepath.Clean(b)
	}
	return ra == rb
}
