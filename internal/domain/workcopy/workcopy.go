// Package workcopy defines the working-copy entities shared by the sync engines.
package workcopy

import (
	"path"
	"strings"
	"time"
)

// Repository identifies the active working copy. It is a value: switching
// repositories replaces it wholesale.
type Repository struct {
	Provider string `json:"provider" yaml:"provider"`
	Owner    string `json:"owner" yaml:"owner"`
	Name     string `json:"name" yaml:"name"`
	Path     string `json:"path" yaml:"path"`
}

// IsZero reports whether no repository is set.
func (r Repository) IsZero() bool {
	return r == Repository{}
}

// Key returns a stable identifier for logs, metrics and journal rows.
func (r Repository) Key() string {
	if r.Owner == "" && r.Name == "" {
		return r.Path
	}
	return path.Join(strings.ToLower(r.Provider), r.Owner, r.Name)
}

// FileStatus classifies a file section of a unified diff.
type FileStatus string

const (
	StatusAdded    FileStatus = "added"
	StatusModified FileStatus = "modified"
	StatusDeleted  FileStatus = "deleted"
	StatusRenamed  FileStatus = "renamed"
)

// FileChange is one file entry derived from a diff snapshot.
type FileChange struct {
	Path      string     `json:"path"`
	Status    FileStatus `json:"status"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
}

// DiffSnapshot is the raw diff text as fetched at one point in time.
type DiffSnapshot struct {
	Raw       string    `json:"raw"`
	FetchedAt time.Time `json:"fetched_at"`
}

// BranchState holds the current branch and all local branches in backend order.
type BranchState struct {
	Current string   `json:"current"`
	All     []string `json:"all"`
}

// Contains reports whether name is one of the listed branches.
func (b BranchState) Contains(name string) bool {
	for _, n := range b.All {
		if n == name {
			return true
		}
	}
	return false
}

// PullStatus summarises how far the local branch trails its upstream.
// UpToDate is always Behind == 0. A nil LastCheckedAt means the counters have
// not been fetched yet and are zero, not known.
type PullStatus struct {
	UpToDate      bool       `json:"up_to_date"`
	Behind        int        `json:"behind"`
	Ahead         int        `json:"ahead"`
	LastCheckedAt *time.Time `json:"last_checked_at"`
}

// UncheckedStatus is the status before the first fetch.
func UncheckedStatus() PullStatus {
	return PullStatus{UpToDate: true}
}

// Checked reports whether the counters come from an actual fetch.
func (p PullStatus) Checked() bool {
	return p.LastCheckedAt != nil
}

// CommitLogEntry is one commit of the branch history, newest first.
type CommitLogEntry struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	WebURL  string `json:"web_url,omitempty"`
}

// PullResult reports the behind counters captured around a pull.
type PullResult struct {
	BeforeBehind int  `json:"before_behind"`
	AfterBehind  int  `json:"after_behind"`
	UpToDate     bool `json:"up_to_date"`
}

// Pulled returns the number of commits the pull brought in.
func (p PullResult) Pulled() int {
	return max(0, p.BeforeBehind-p.AfterBehind)
}

// Action names a user-triggered mutation.
type Action string

const (
	ActionCheckout     Action = "checkout"
	ActionCreateBranch Action = "create-branch"
	ActionPull         Action = "pull"
	ActionPush         Action = "push"
	ActionRollback     Action = "rollback"
)

// Outcome is the user-visible result of a mutation.
type Outcome struct {
	Action     Action    `json:"action"`
	Repository string    `json:"repository"`
	OK         bool      `json:"ok"`
	Message    string    `json:"message"`
	CommitHash string    `json:"commit_hash,omitempty"`
	At         time.Time `json:"at"`
}
