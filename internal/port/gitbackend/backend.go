// Package gitbackend defines the git backend port consumed by the sync engines.
package gitbackend

import (
	"context"
	"errors"

	"github.com/Strob0t/repodeck/internal/domain/workcopy"
)

// Status is the ahead/behind summary of the checked-out branch.
type Status struct {
	Ahead  int `json:"ahead"`
	Behind int `json:"behind"`
}

// Backend performs git operations on a working copy identified by its path.
// Implementations return errors whose message is suitable for display.
type Backend interface {
	// Diff returns the unified diff of all pending changes ("" when clean).
	Diff(ctx context.Context, path string) (string, error)

	// Status returns the ahead/behind counters against the upstream branch.
	Status(ctx context.Context, path string) (*Status, error)

	// Branches lists local branches and the current one.
	Branches(ctx context.Context, path string) (*workcopy.BranchState, error)

	Checkout(ctx context.Context, path, branch string) error
	CreateBranch(ctx context.Context, path, name, source string) error

	// Pull fetches and merges the upstream, reporting behind counts around it.
	Pull(ctx context.Context, path string) (*workcopy.PullResult, error)

	// CommitAndPush stages everything, commits with message and pushes.
	// It returns the new commit hash.
	CommitAndPush(ctx context.Context, path, message string) (string, error)

	// Rollback discards every pending change.
	Rollback(ctx context.Context, path string) error

	// Log returns the branch history, newest first.
	Log(ctx context.Context, path string) ([]workcopy.CommitLogEntry, error)
}

// Preparer is implemented by backends that must set up a working copy
// (for example clone it) before it can be opened.
type Preparer interface {
	Prepare(ctx context.Context, repo workcopy.Repository) error
}

// UserError is implemented by backend errors carrying a message meant for display.
type UserError interface {
	error
	UserMessage() string
}

// MessageOf returns the display message carried anywhere in err's chain, or "".
func MessageOf(err error) string {
	var ue UserError
	if errors.As(err, &ue) {
		return ue.UserMessage()
	}
	return ""
}
