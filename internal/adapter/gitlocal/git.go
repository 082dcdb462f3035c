package gitlocal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
)

// CommandError is a failed git invocation. Its stderr is shown to the user.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s: %s: %v", strings.Join(e.Args, " "), e.Stderr, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// UserMessage returns the last meaningful stderr line, which is where git
// puts the reason ("fatal: ...", "error: ...").
func (e *CommandError) UserMessage() string {
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" && !strings.HasPrefix(l, "hint:") {
			return l
		}
	}
	return ""
}

// messageError is a precondition failure detected before running git.
type messageError string

func (e messageError) Error() string       { return "gitlocal: " + string(e) }
func (e messageError) UserMessage() string { return string(e) }

// runGit executes git in dir and returns its stdout. Exit codes listed in
// allowed are not treated as failures.
func (b *Backend) runGit(ctx context.Context, dir string, allowed []int, args ...string) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && slices.Contains(allowed, exitErr.ExitCode()) {
			return stdout.String(), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return "", &CommandError{Args: args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return stdout.String(), nil
}

func (b *Backend) git(ctx context.Context, dir string, args ...string) (string, error) {
	return b.runGit(ctx, dir, nil, args...)
}
