// Package journal defines the port for persisting mutation outcomes.
package journal

import (
	"context"
	"time"

	"github.com/Strob0t/repodeck/internal/domain/workcopy"
)

// Entry is one recorded mutation.
type Entry struct {
	ID        int64            `json:"id"`
	SessionID string           `json:"session_id"`
	Outcome   workcopy.Outcome `json:"outcome"`
	Duration  time.Duration    `json:"duration_ns"`
}

// Store appends and lists journal entries.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	// List returns the newest entries for a repository key, newest first.
	List(ctx context.Context, repository string, limit int) ([]Entry, error)
}
