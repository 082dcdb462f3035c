package gitlocal_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/Strob0t/repodeck/internal/adapter/gitlocal"
	"github.com/Strob0t/repodeck/internal/domain/diff"
	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/git"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
)

func TestRegistration(t *testing.T) {
	b, err := gitbackend.New("local", map[string]string{
		gitlocal.ConfigMaxConcurrent:  "2",
		gitlocal.ConfigCommandTimeout: "30s",
		gitlocal.ConfigLogLimit:       "10",
	})
	if err != nil {
		t.Fatalf("expected local backend to be registered: %v", err)
	}
	if _, ok := b.(gitbackend.Preparer); !ok {
		t.Fatal("local backend must implement Preparer")
	}

	if _, err := gitbackend.New("local", map[string]string{gitlocal.ConfigCommandTimeout: "soon"}); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestDiffIncludesUntrackedFiles(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := initTestRepo(t)
	b := newBackend()

	raw, err := b.Diff(ctx, dir)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if raw != "" {
		t.Fatalf("clean repo diff = %q", raw)
	}

	writeFile(t, dir, "hello.txt", "changed\n")
	writeFile(t, dir, "new.txt", "new\n")

	raw, err = b.Diff(ctx, dir)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	files := diff.Parse(raw)
	if len(files) != 2 {
		t.Fatalf("files = %+v", files)
	}
	if files[0].Path != "hello.txt" || files[0].Status != workcopy.StatusModified {
		t.Fatalf("first file = %+v", files[0])
	}
	if files[1].Path != "new.txt" || files[1].Status != workcopy.StatusAdded {
		t.Fatalf("second file = %+v", files[1])
	}
}

func TestBranchesCheckoutAndCreate(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := initTestRepo(t)
	b := newBackend()
	runGitCmd(t, dir, "branch", "feature-x")

	state, err := b.Branches(ctx, dir)
	if err != nil {
		t.Fatalf("Branches: %v", err)
	}
	if state.Current != "main" || !slices.Equal(state.All, []string{"feature-x", "main"}) {
		t.Fatalf("branches = %+v", state)
	}

	if err := b.Checkout(ctx, dir, "feature-x"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if err := b.CreateBranch(ctx, dir, "topic", "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	state, err = b.Branches(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if state.Current != "topic" || !state.Contains("feature-x") {
		t.Fatalf("branches = %+v", state)
	}

	err = b.Checkout(ctx, dir, "does-not-exist")
	if err == nil {
		t.Fatal("expected checkout error")
	}
	if msg := gitbackend.MessageOf(err); msg == "" {
		t.Fatalf("checkout error carries no user message: %v", err)
	}
}

func TestBranchNamesAreNotOptions(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := initTestRepo(t)
	b := newBackend()

	if err := b.Checkout(ctx, dir, "--orphan=pwned"); err == nil {
		t.Fatal("expected option-like branch name to be rejected")
	} else if gitbackend.MessageOf(err) == "" {
		t.Fatalf("rejection carries no user message: %v", err)
	}
	if err := b.CreateBranch(ctx, dir, "-f", "main"); err == nil {
		t.Fatal("expected option-like new branch name to be rejected")
	}
	if err := b.CreateBranch(ctx, dir, "topic", "--orphan=pwned"); err == nil {
		t.Fatal("expected option-like source to be rejected")
	}

	state, err := b.Branches(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if state.Current != "main" || !slices.Equal(state.All, []string{"main"}) {
		t.Fatalf("branches changed: %+v", state)
	}

	// A branch that shares its name with a file is still checked out.
	runGitCmd(t, dir, "branch", "hello.txt")
	if err := b.Checkout(ctx, dir, "hello.txt"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
}

func TestPushThenPull(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	remote := initBareRemote(t)

	work := initTestRepo(t)
	runGitCmd(t, work, "remote", "add", "origin", remote)
	runGitCmd(t, work, "push", "-q", "-u", "origin", "main")

	other := filepath.Join(t.TempDir(), "other")
	runGitCmd(t, "", "clone", "-q", remote, other)

	b := newBackend()
	writeFile(t, work, "hello.txt", "second\n")
	hash, err := b.CommitAndPush(ctx, work, "repodeck: update 2024-05-01T10:00:00Z")
	if err != nil {
		t.Fatalf("CommitAndPush: %v", err)
	}
	if len(hash) != 40 {
		t.Fatalf("hash = %q", hash)
	}

	st, err := b.Status(ctx, other)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Behind != 1 || st.Ahead != 0 {
		t.Fatalf("status = %+v", st)
	}

	res, err := b.Pull(ctx, other)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if res.BeforeBehind != 1 || res.AfterBehind != 0 || !res.UpToDate || res.Pulled() != 1 {
		t.Fatalf("pull = %+v", res)
	}

	entries, err := b.Log(ctx, other)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(entries) != 2 || entries[0].Hash != hash || entries[0].Message != "repodeck: update 2024-05-01T10:00:00Z" {
		t.Fatalf("log = %+v", entries)
	}
	if entries[0].WebURL != "" {
		t.Fatalf("local remote must not produce a web URL, got %q", entries[0].WebURL)
	}
}

func TestPullWithoutUpstream(t *testing.T) {
	requireGit(t)
	dir := initTestRepo(t)

	_, err := newBackend().Pull(context.Background(), dir)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := gitbackend.MessageOf(err); got != "the current branch has no upstream branch" {
		t.Fatalf("message = %q", got)
	}
}

func TestRollback(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := initTestRepo(t)
	b := newBackend()

	writeFile(t, dir, "hello.txt", "scratch\n")
	writeFile(t, dir, "junk/tmp.txt", "junk\n")
	if err := b.Rollback(ctx, dir); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	raw, err := b.Diff(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if raw != "" {
		t.Fatalf("diff after rollback = %q", raw)
	}
	if _, err := os.Stat(filepath.Join(dir, "junk")); !os.IsNotExist(err) {
		t.Fatal("untracked directory survived rollback")
	}
}

func TestPrepare(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	base := t.TempDir()
	bare := filepath.Join(base, "acme", "alpha.git")
	runGitCmd(t, "", "init", "-q", "--bare", bare)

	root := t.TempDir()
	b := gitlocal.New(gitlocal.Options{Pool: git.NewPool(2), WorkspaceRoot: root, CloneBase: base})

	repo := workcopy.Repository{Provider: "github", Owner: "acme", Name: "alpha", Path: "acme/alpha"}
	if err := b.Prepare(ctx, repo); err != nil {
		t.Fatalf("Prepare (clone): %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "acme", "alpha", ".git")); err != nil {
		t.Fatalf("clone missing: %v", err)
	}
	if err := b.Prepare(ctx, repo); err != nil {
		t.Fatalf("Prepare (existing): %v", err)
	}

	err := b.Prepare(ctx, workcopy.Repository{Path: filepath.Join(root, "nowhere")})
	if err == nil || !strings.Contains(gitbackend.MessageOf(err), "is not a git repository") {
		t.Fatalf("Prepare (missing) = %v", err)
	}
}

// --- Helpers ---

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available in test environment")
	}
}

func newBackend() *gitlocal.Backend {
	return gitlocal.New(gitlocal.Options{Pool: git.NewPool(4)})
}

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGitCmd(t, dir, "init", "-q")
	runGitCmd(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	runGitCmd(t, dir, "config", "user.email", "test@test.com")
	runGitCmd(t, dir, "config", "user.name", "Test")
	runGitCmd(t, dir, "config", "commit.gpgsign", "false")
	writeFile(t, dir, "hello.txt", "hello\n")
	runGitCmd(t, dir, "add", ".")
	runGitCmd(t, dir, "commit", "-q", "-m", "initial commit")
	return dir
}

func initBareRemote(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote.git")
	runGitCmd(t, "", "init", "-q", "--bare", dir)
	runGitCmd(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runGitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}
