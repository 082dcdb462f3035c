package service

import (
	"context"
	"errors"
)

// Lifecycle keys. Each key is single-flight within the active repository.
const (
	keyDiff           = "diff"
	keyStatus         = "status"
	keyBranches       = "branches"
	keyLog            = "log"
	keyBranchMutation = "branch-mutation"
	keyPull           = "pull"
	keyPush           = "push"
	keyRollback       = "rollback"
)

// cancelled reports whether err is the result of cancellation rather than a
// real failure. Cancelled work is dropped silently.
func cancelled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}
