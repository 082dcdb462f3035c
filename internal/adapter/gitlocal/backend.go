// Package gitlocal implements the gitbackend.Backend port with the local git CLI.
package gitlocal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/git"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
)

const backendName = "local"

// fetchEvery bounds how often Status contacts the remote for one working copy.
const fetchEvery = time.Minute

// Options configures a Backend.
type Options struct {
	Pool           *git.Pool
	WorkspaceRoot  string // base for relative repository paths and clones
	CloneBase      string // e.g. "https://github.com"
	CommandTimeout time.Duration
	LogLimit       int
}

// Backend runs git commands against working copies on the local disk.
// Reads share the pool; mutations take the per-path lock.
type Backend struct {
	pool      *git.Pool
	root      string
	cloneBase string
	timeout   time.Duration
	logLimit  int

	mu        sync.Mutex
	lastFetch map[string]time.Time
}

var (
	_ gitbackend.Backend  = (*Backend)(nil)
	_ gitbackend.Preparer = (*Backend)(nil)
)

// New creates a Backend.
func New(opts Options) *Backend {
	if opts.LogLimit <= 0 {
		opts.LogLimit = 50
	}
	return &Backend{
		pool:      opts.Pool,
		root:      opts.WorkspaceRoot,
		cloneBase: strings.TrimSuffix(opts.CloneBase, "/"),
		timeout:   opts.CommandTimeout,
		logLimit:  opts.LogLimit,
		lastFetch: make(map[string]time.Time),
	}
}

// dir resolves a repository path against the workspace root.
func (b *Backend) dir(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", messageError("repository path is required")
	}
	if !filepath.IsAbs(path) && b.root != "" {
		path = filepath.Join(b.root, path)
	}
	return filepath.Abs(path)
}

// Prepare makes sure the working copy exists, cloning it when it is missing
// and the repository names an owner and name.
func (b *Backend) Prepare(ctx context.Context, repo workcopy.Repository) error {
	dir, err := b.dir(repo.Path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("gitlocal: stat %s: %w", dir, err)
	}

	if repo.Owner == "" || repo.Name == "" || b.cloneBase == "" {
		return messageError(fmt.Sprintf("%s is not a git repository", repo.Path))
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return messageError(fmt.Sprintf("%s exists and is not a git repository", repo.Path))
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("gitlocal: create workspace: %w", err)
	}

	src := fmt.Sprintf("%s/%s/%s.git", b.cloneBase, repo.Owner, repo.Name)
	slog.InfoContext(ctx, "cloning repository", "url", src, "dir", dir)
	return b.pool.Exclusive(ctx, dir, func() error {
		if _, err := b.git(ctx, "", "clone", src, dir); err != nil {
			return fmt.Errorf("gitlocal: clone: %w", err)
		}
		return nil
	})
}

// Diff returns tracked changes against HEAD followed by untracked files.
func (b *Backend) Diff(ctx context.Context, path string) (string, error) {
	dir, err := b.dir(path)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	err = b.pool.Run(ctx, func() error {
		base := []string{"diff", "--no-color", "--no-ext-diff"}
		if b.hasHead(ctx, dir) {
			base = append(base, "HEAD")
		} else {
			base = append(base, "--cached")
		}
		tracked, err := b.git(ctx, dir, base...)
		if err != nil {
			return fmt.Errorf("gitlocal: diff: %w", err)
		}
		out.WriteString(tracked)

		others, err := b.git(ctx, dir, "ls-files", "--others", "--exclude-standard", "-z")
		if err != nil {
			return fmt.Errorf("gitlocal: list untracked: %w", err)
		}
		for _, file := range strings.Split(others, "\x00") {
			if file == "" {
				continue
			}
			// --no-index exits 1 when the files differ, which they always do here.
			section, err := b.runGit(ctx, dir, []int{1}, "diff", "--no-index", "--no-color", "--no-ext-diff", "--", "/dev/null", file)
			if err != nil {
				return fmt.Errorf("gitlocal: diff untracked %s: %w", file, err)
			}
			out.WriteString(section)
		}
		return nil
	})
	return out.String(), err
}

// Status returns ahead/behind counters against the upstream branch. The remote
// is fetched at most once per fetchEvery; without an upstream both are zero.
func (b *Backend) Status(ctx context.Context, path string) (*gitbackend.Status, error) {
	dir, err := b.dir(path)
	if err != nil {
		return nil, err
	}

	if b.fetchDue(dir) {
		if err := b.pool.Exclusive(ctx, dir, func() error { return b.fetch(ctx, dir) }); err != nil {
			slog.DebugContext(ctx, "background fetch failed", "dir", dir, "error", err)
		}
	}

	st := &gitbackend.Status{}
	err = b.pool.Run(ctx, func() error {
		if !b.hasUpstream(ctx, dir) {
			return nil
		}
		behind, ahead, err := b.aheadBehind(ctx, dir)
		if err != nil {
			return err
		}
		st.Behind, st.Ahead = behind, ahead
		return nil
	})
	return st, err
}

// Branches lists local branches in refname order plus the current one.
// A detached HEAD is reported by its short hash.
func (b *Backend) Branches(ctx context.Context, path string) (*workcopy.BranchState, error) {
	dir, err := b.dir(path)
	if err != nil {
		return nil, err
	}

	state := &workcopy.BranchState{}
	err = b.pool.Run(ctx, func() error {
		out, err := b.git(ctx, dir, "branch", "--list", "--format=%(refname:short)")
		if err != nil {
			return fmt.Errorf("gitlocal: list branches: %w", err)
		}
		for _, line := range strings.Split(out, "\n") {
			if name := strings.TrimSpace(line); name != "" {
				state.All = append(state.All, name)
			}
		}

		current, err := b.git(ctx, dir, "symbolic-ref", "--short", "-q", "HEAD")
		if err == nil {
			state.Current = strings.TrimSpace(current)
			return nil
		}
		hash, err := b.git(ctx, dir, "rev-parse", "--short", "HEAD")
		if err != nil {
			return fmt.Errorf("gitlocal: resolve HEAD: %w", err)
		}
		state.Current = strings.TrimSpace(hash)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Checkout switches the working copy to branch.
func (b *Backend) Checkout(ctx context.Context, path, branch string) error {
	dir, err := b.dir(path)
	if err != nil {
		return err
	}
	if err := workcopy.ValidateBranchName(branch); err != nil {
		return messageError(err.Error())
	}
	return b.pool.Exclusive(ctx, dir, func() error {
		if _, err := b.git(ctx, dir, "checkout", branch, "--"); err != nil {
			return fmt.Errorf("gitlocal: checkout %s: %w", branch, err)
		}
		return nil
	})
}

// CreateBranch creates name from source and checks it out.
func (b *Backend) CreateBranch(ctx context.Context, path, name, source string) error {
	dir, err := b.dir(path)
	if err != nil {
		return err
	}
	if err := workcopy.ValidateBranchName(name); err != nil {
		return messageError(err.Error())
	}
	args := []string{"checkout", "-b", name}
	if source != "" {
		if err := workcopy.ValidateBranchName(source); err != nil {
			return messageError(err.Error())
		}
		args = append(args, source)
	}
	args = append(args, "--")
	return b.pool.Exclusive(ctx, dir, func() error {
		if _, err := b.git(ctx, dir, args...); err != nil {
			return fmt.Errorf("gitlocal: create branch %s: %w", name, err)
		}
		return nil
	})
}

// Pull fetches and merges the upstream branch, reporting the behind counter
// before and after the merge.
func (b *Backend) Pull(ctx context.Context, path string) (*workcopy.PullResult, error) {
	dir, err := b.dir(path)
	if err != nil {
		return nil, err
	}

	res := &workcopy.PullResult{}
	err = b.pool.Exclusive(ctx, dir, func() error {
		if !b.hasUpstream(ctx, dir) {
			return messageError("the current branch has no upstream branch")
		}
		if err := b.fetch(ctx, dir); err != nil {
			return err
		}
		before, _, err := b.aheadBehind(ctx, dir)
		if err != nil {
			return err
		}
		if before > 0 {
			if _, err := b.git(ctx, dir, "merge", "--no-edit", "@{upstream}"); err != nil {
				return fmt.Errorf("gitlocal: merge: %w", err)
			}
		}
		after, _, err := b.aheadBehind(ctx, dir)
		if err != nil {
			return err
		}
		res.BeforeBehind, res.AfterBehind, res.UpToDate = before, after, after == 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CommitAndPush stages everything, commits it with message and pushes. A
// branch without upstream is pushed to origin and starts tracking it.
func (b *Backend) CommitAndPush(ctx context.Context, path, message string) (string, error) {
	dir, err := b.dir(path)
	if err != nil {
		return "", err
	}

	var hash string
	err = b.pool.Exclusive(ctx, dir, func() error {
		if _, err := b.git(ctx, dir, "add", "-A"); err != nil {
			return fmt.Errorf("gitlocal: add: %w", err)
		}
		if _, err := b.git(ctx, dir, "commit", "-m", message); err != nil {
			return fmt.Errorf("gitlocal: commit: %w", err)
		}
		out, err := b.git(ctx, dir, "rev-parse", "HEAD")
		if err != nil {
			return fmt.Errorf("gitlocal: rev-parse: %w", err)
		}
		hash = strings.TrimSpace(out)

		push := []string{"push"}
		if !b.hasUpstream(ctx, dir) {
			push = append(push, "-u", "origin", "HEAD")
		}
		if _, err := b.git(ctx, dir, push...); err != nil {
			return fmt.Errorf("gitlocal: push: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

// Rollback discards tracked modifications and removes untracked files.
func (b *Backend) Rollback(ctx context.Context, path string) error {
	dir, err := b.dir(path)
	if err != nil {
		return err
	}
	return b.pool.Exclusive(ctx, dir, func() error {
		if b.hasHead(ctx, dir) {
			if _, err := b.git(ctx, dir, "reset", "--hard", "HEAD"); err != nil {
				return fmt.Errorf("gitlocal: reset: %w", err)
			}
		} else if _, err := b.git(ctx, dir, "rm", "-r", "-q", "--cached", "--ignore-unmatch", "."); err != nil {
			return fmt.Errorf("gitlocal: unstage: %w", err)
		}
		if _, err := b.git(ctx, dir, "clean", "-fd"); err != nil {
			return fmt.Errorf("gitlocal: clean: %w", err)
		}
		return nil
	})
}

// Log returns up to LogLimit commits of HEAD, newest first. Commit links are
// derived from the origin remote when it points at a web host.
func (b *Backend) Log(ctx context.Context, path string) ([]workcopy.CommitLogEntry, error) {
	dir, err := b.dir(path)
	if err != nil {
		return nil, err
	}

	var entries []workcopy.CommitLogEntry
	err = b.pool.Run(ctx, func() error {
		if !b.hasHead(ctx, dir) {
			return nil
		}
		out, err := b.git(ctx, dir, "log", "-n", strconv.Itoa(b.logLimit), "--format=%H%x1f%s")
		if err != nil {
			return fmt.Errorf("gitlocal: log: %w", err)
		}

		var web string
		if remote, err := b.git(ctx, dir, "remote", "get-url", "origin"); err == nil {
			web = webBase(strings.TrimSpace(remote))
		}
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			hash, subject, ok := strings.Cut(line, "\x1f")
			if !ok || hash == "" {
				continue
			}
			e := workcopy.CommitLogEntry{Hash: hash, Message: subject}
			if web != "" {
				e.WebURL = web + "/commit/" + hash
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

func (b *Backend) hasHead(ctx context.Context, dir string) bool {
	_, err := b.git(ctx, dir, "rev-parse", "--verify", "-q", "HEAD")
	return err == nil
}

func (b *Backend) hasUpstream(ctx context.Context, dir string) bool {
	_, err := b.git(ctx, dir, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{upstream}")
	return err == nil
}

func (b *Backend) aheadBehind(ctx context.Context, dir string) (behind, ahead int, err error) {
	out, err := b.git(ctx, dir, "rev-list", "--left-right", "--count", "@{upstream}...HEAD")
	if err != nil {
		return 0, 0, fmt.Errorf("gitlocal: rev-list: %w", err)
	}
	parts := strings.Fields(out)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("gitlocal: unexpected rev-list output %q", out)
	}
	if behind, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("gitlocal: parse behind: %w", err)
	}
	if ahead, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("gitlocal: parse ahead: %w", err)
	}
	return behind, ahead, nil
}

func (b *Backend) fetch(ctx context.Context, dir string) error {
	if _, err := b.git(ctx, dir, "fetch", "--quiet", "--no-tags"); err != nil {
		return fmt.Errorf("gitlocal: fetch: %w", err)
	}
	b.mu.Lock()
	b.lastFetch[dir] = time.Now()
	b.mu.Unlock()
	return nil
}

func (b *Backend) fetchDue(dir string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	last, ok := b.lastFetch[dir]
	if ok && time.Since(last) < fetchEvery {
		return false
	}
	// Claim the slot so concurrent polls do not all fetch.
	b.lastFetch[dir] = time.Now()
	return true
}

// webBase turns an https or scp-style remote into the repository's web URL.
// Remotes that are local paths yield "".
func webBase(remote string) string {
	remote = strings.TrimSuffix(remote, ".git")
	if host, repoPath, ok := strings.Cut(strings.TrimPrefix(remote, "git@"), ":"); ok && strings.HasPrefix(remote, "git@") {
		return "https://" + host + "/" + strings.TrimPrefix(repoPath, "/")
	}
	u, err := url.Parse(remote)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https", "http":
	case "ssh":
		u.Host = u.Hostname()
	default:
		return ""
	}
	u.Scheme = "https"
	u.User = nil
	return strings.TrimSuffix(u.String(), "/")
}
