package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/repodeck/internal/domain/workcopy"
)

// Event type constants for WebSocket messages.
const (
	EventSessionSwitched = "session.switched"
	EventDiffUpdated     = "diff.updated"
	EventStatusUpdated   = "status.updated"
	EventBranchesUpdated = "branches.updated"
	EventLogUpdated      = "log.updated"
	EventActionOutcome   = "action.outcome"
)

// SessionSwitchedEvent is broadcast when the active repository changes.
type SessionSwitchedEvent struct {
	SessionID  string               `json:"session_id"`
	Repository *workcopy.Repository `json:"repository"`
}

// DiffUpdatedEvent is broadcast when a new diff snapshot replaces the old one.
type DiffUpdatedEvent struct {
	Repository string                `json:"repository"`
	Files      []workcopy.FileChange `json:"files"`
	Selected   string                `json:"selected,omitempty"`
}

// StatusUpdatedEvent is broadcast after every successful status poll.
type StatusUpdatedEvent struct {
	Repository string              `json:"repository"`
	Status     workcopy.PullStatus `json:"status"`
}

// BranchesUpdatedEvent is broadcast when the branch list or current branch changes.
type BranchesUpdatedEvent struct {
	Repository string               `json:"repository"`
	Branches   workcopy.BranchState `json:"branches"`
	Source     string               `json:"source"`
}

// LogUpdatedEvent is broadcast when the commit history changes.
type LogUpdatedEvent struct {
	Repository string                    `json:"repository"`
	Commits    []workcopy.CommitLogEntry `json:"commits"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
