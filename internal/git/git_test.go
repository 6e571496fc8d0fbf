package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	wgexec "github.com/zhubert/workgarden/internal/exec"
)

var ctx = context.Background()

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return string(out)
}

// createTestRepo creates a repository with one commit on main.
func createTestRepo(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to resolve temp dir: %v", err)
	}
	dir = filepath.Join(dir, "shop")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create repo dir: %v", err)
	}

	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "user.name", "Test User")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("shop\n"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-m", "Initial commit")
	return dir
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMainRepoRoot(t *testing.T) {
	root := createTestRepo(t)
	svc := NewService()

	got, err := svc.MainRepoRoot(ctx, root)
	mustNoErr(t, err)
	if got != root {
		t.Errorf("MainRepoRoot(root) = %q, want %q", got, root)
	}

	sub := filepath.Join(root, "sub")
	mustNoErr(t, os.MkdirAll(sub, 0o755))
	got, err = svc.MainRepoRoot(ctx, sub)
	mustNoErr(t, err)
	if got != root {
		t.Errorf("MainRepoRoot(sub) = %q, want %q", got, root)
	}

	wt := filepath.Join(filepath.Dir(root), "wt")
	mustNoErr(t, svc.AddWorktree(ctx, root, wt, "feature/x", "", true))
	got, err = svc.MainRepoRoot(ctx, wt)
	mustNoErr(t, err)
	if got != root {
		t.Errorf("linked worktrees resolve to the main repository: got %q, want %q", got, root)
	}
}

func TestMainRepoRoot_NotARepo(t *testing.T) {
	_, err := NewService().MainRepoRoot(ctx, t.TempDir())
	if !wgerrors.Is(err, wgerrors.KindGit) {
		t.Errorf("expected KindGit error, got %v", err)
	}
}

func TestWorktreeLifecycle(t *testing.T) {
	root := createTestRepo(t)
	svc := NewService()
	wt := filepath.Join(filepath.Dir(root), "shop-worktrees", "feature-x")

	exists, err := svc.BranchExists(root, "feature/x")
	mustNoErr(t, err)
	if exists {
		t.Error("branch should not exist yet")
	}

	mustNoErr(t, svc.AddWorktree(ctx, root, wt, "feature/x", "main", true))
	if _, err := os.Stat(filepath.Join(wt, "README.md")); err != nil {
		t.Errorf("expected checked out file: %v", err)
	}

	exists, err = svc.LocalBranchExists(root, "feature/x")
	mustNoErr(t, err)
	if !exists {
		t.Error("expected local branch after AddWorktree")
	}

	list, err := svc.ListWorktrees(ctx, root)
	mustNoErr(t, err)
	if len(list) != 2 {
		t.Fatalf("expected 2 worktrees, got %d", len(list))
	}
	if list[0].Branch != "main" || list[1].Branch != "feature/x" {
		t.Errorf("branches = %q, %q", list[0].Branch, list[1].Branch)
	}
	if list[1].Path != wt {
		t.Errorf("Path = %q, want %q", list[1].Path, wt)
	}

	checkedOut, err := svc.BranchCheckedOut(ctx, root, "feature/x", wt)
	mustNoErr(t, err)
	if checkedOut {
		t.Error("the excepted path does not count")
	}
	checkedOut, err = svc.BranchCheckedOut(ctx, root, "feature/x", "")
	mustNoErr(t, err)
	if !checkedOut {
		t.Error("expected branch to be checked out")
	}

	head, err := svc.BranchHead(root, "feature/x")
	mustNoErr(t, err)
	if len(head) != 40 {
		t.Errorf("BranchHead = %q, want 40 hex chars", head)
	}

	mustNoErr(t, svc.RemoveWorktree(ctx, root, wt, false))
	if _, err := os.Stat(wt); !os.IsNotExist(err) {
		t.Errorf("expected worktree dir removed, stat err = %v", err)
	}

	mustNoErr(t, svc.DeleteBranch(ctx, root, "feature/x", false))
	exists, err = svc.LocalBranchExists(root, "feature/x")
	mustNoErr(t, err)
	if exists {
		t.Error("expected branch deleted")
	}

	mustNoErr(t, svc.CreateBranch(ctx, root, "feature/x", head))
	restored, err := svc.BranchHead(root, "feature/x")
	mustNoErr(t, err)
	if restored != head {
		t.Errorf("restored head = %q, want %q", restored, head)
	}
}

func TestAddWorktree_ExistingBranch(t *testing.T) {
	root := createTestRepo(t)
	run(t, root, "branch", "existing")
	svc := NewService()

	wt := filepath.Join(filepath.Dir(root), "existing")
	mustNoErr(t, svc.AddWorktree(ctx, root, wt, "existing", "", false))
	list, err := svc.ListWorktrees(ctx, root)
	mustNoErr(t, err)
	if len(list) != 2 || list[1].Branch != "existing" {
		t.Errorf("worktrees = %+v, want existing checked out", list)
	}
}

func TestAddWorktree_FailureIsGitError(t *testing.T) {
	root := createTestRepo(t)
	err := NewService().AddWorktree(ctx, root, filepath.Join(root, "..", "x"), "missing", "", false)
	if !wgerrors.Is(err, wgerrors.KindGit) {
		t.Errorf("expected KindGit error, got %v", err)
	}
}

func TestHasUncommittedChanges(t *testing.T) {
	root := createTestRepo(t)
	svc := NewService()

	dirty, err := svc.HasUncommittedChanges(ctx, root, nil)
	mustNoErr(t, err)
	if dirty {
		t.Error("fresh repo should be clean")
	}

	mustNoErr(t, os.WriteFile(filepath.Join(root, "docker-compose.worktree.yml"), []byte("x"), 0o644))
	dirty, err = svc.HasUncommittedChanges(ctx, root, []string{"docker-compose.worktree.yml"})
	mustNoErr(t, err)
	if dirty {
		t.Error("ignored generated files do not count")
	}

	mustNoErr(t, os.MkdirAll(filepath.Join(root, ".claude", "commands"), 0o755))
	mustNoErr(t, os.WriteFile(filepath.Join(root, ".claude", "commands", "a.md"), []byte("x"), 0o644))
	dirty, err = svc.HasUncommittedChanges(ctx, root, []string{"docker-compose.worktree.yml", ".claude"})
	mustNoErr(t, err)
	if dirty {
		t.Error("ignored directories cover their content")
	}

	mustNoErr(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("changed\n"), 0o644))
	dirty, err = svc.HasUncommittedChanges(ctx, root, []string{"docker-compose.worktree.yml", ".claude"})
	mustNoErr(t, err)
	if !dirty {
		t.Error("modified tracked file must count as dirty")
	}
}

func TestRepoName(t *testing.T) {
	root := createTestRepo(t)
	svc := NewService()
	if got := svc.RepoName(root); got != "shop" {
		t.Errorf("RepoName = %q, want %q", got, "shop")
	}

	run(t, root, "remote", "add", "origin", "git@github.com:acme/storefront.git")
	if got := svc.RepoName(root); got != "storefront" {
		t.Errorf("RepoName with origin = %q, want %q", got, "storefront")
	}
}

func TestBranchExists_Remote(t *testing.T) {
	root := createTestRepo(t)
	head, err := NewService().BranchHead(root, "main")
	mustNoErr(t, err)
	run(t, root, "update-ref", "refs/remotes/origin/remote-only", head)

	exists, err := NewService().BranchExists(root, "remote-only")
	mustNoErr(t, err)
	if !exists {
		t.Error("BranchExists should see origin branches")
	}

	local, err := NewService().LocalBranchExists(root, "remote-only")
	mustNoErr(t, err)
	if local {
		t.Error("LocalBranchExists must ignore origin branches")
	}
}

func TestNameFromURL(t *testing.T) {
	tests := map[string]string{
		"git@github.com:acme/storefront.git": "storefront",
		"https://github.com/acme/api":        "api",
		"https://github.com/acme/api/":       "api",
		"/srv/git/tools.git":                 "tools",
	}
	for url, want := range tests {
		if got := nameFromURL(url); got != want {
			t.Errorf("nameFromURL(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestParseWorktreeList(t *testing.T) {
	out := `worktree /repo
HEAD 1111111111111111111111111111111111111111
branch refs/heads/main

worktree /repo-worktrees/feature-x
HEAD 2222222222222222222222222222222222222222
branch refs/heads/feature/x
locked

worktree /repo-worktrees/detached
HEAD 3333333333333333333333333333333333333333
detached
prunable gitdir file points to non-existent location
`
	list := parseWorktreeList(out)
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	if list[1].Branch != "feature/x" || !list[1].Locked {
		t.Errorf("entry 1 = %+v, want locked feature/x", list[1])
	}
	if !list[2].Detached || !list[2].Prunable || list[2].Branch != "" {
		t.Errorf("entry 2 = %+v, want detached prunable without branch", list[2])
	}
}

func TestParseStatus(t *testing.T) {
	out := " M README.md\n?? new.txt\nR  old.go -> new.go\n"
	if got, want := parseStatus(out), []string{"README.md", "new.txt", "new.go"}; !slices.Equal(got, want) {
		t.Errorf("parseStatus = %v, want %v", got, want)
	}
}

func TestDeleteBranch_UsesForceFlag(t *testing.T) {
	mock := wgexec.NewMockExecutor(nil)
	mock.AddPrefixMatch("git", []string{"branch"}, wgexec.MockResponse{})
	svc := NewServiceWithExecutor(mock)

	mustNoErr(t, svc.DeleteBranch(ctx, "/repo", "feature/x", false))
	mustNoErr(t, svc.DeleteBranch(ctx, "/repo", "feature/x", true))

	calls := mock.GetCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if want := []string{"branch", "-d", "feature/x"}; !slices.Equal(calls[0].Args, want) {
		t.Errorf("Args = %v, want %v", calls[0].Args, want)
	}
	if want := []string{"branch", "-D", "feature/x"}; !slices.Equal(calls[1].Args, want) {
		t.Errorf("Args = %v, want %v", calls[1].Args, want)
	}
}
