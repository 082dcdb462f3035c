package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/repodeck/internal/domain/workcopy"
)

const (
	defaultJournalLimit = 20
	maxJournalLimit     = 200
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.getSessionTool(),
		s.listChangedFilesTool(),
		s.getFileDiffTool(),
		s.listBranchesTool(),
		s.getCommitLogTool(),
		s.listJournalTool(),
	)
}

func readOnlyTool(name, description string, opts ...mcplib.ToolOption) mcplib.Tool {
	opts = append([]mcplib.ToolOption{
		mcplib.WithDescription(description),
		mcplib.WithReadOnlyHintAnnotation(true),
	}, opts...)
	return mcplib.NewTool(name, opts...)
}

func (s *Server) getSessionTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool:    readOnlyTool("get_session", "Get the active repository, its pull status and the last action outcome"),
		Handler: s.handleGetSession,
	}
}

func (s *Server) listChangedFilesTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool:    readOnlyTool("list_changed_files", "List the files with pending changes in the active repository"),
		Handler: s.handleListChangedFiles,
	}
}

func (s *Server) getFileDiffTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: readOnlyTool("get_file_diff", "Get the unified diff of one changed file, or of all files when path is omitted",
			mcplib.WithString("path", mcplib.Description("Repository-relative path of the file")),
		),
		Handler: s.handleGetFileDiff,
	}
}

func (s *Server) listBranchesTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool:    readOnlyTool("list_branches", "List local branches and the checked-out branch"),
		Handler: s.handleListBranches,
	}
}

func (s *Server) getCommitLogTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool:    readOnlyTool("get_commit_log", "Get the commit history of the current branch, newest first"),
		Handler: s.handleGetCommitLog,
	}
}

func (s *Server) listJournalTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: readOnlyTool("list_journal", "List recorded pull, push, rollback and branch actions of the active repository",
			mcplib.WithNumber("limit", mcplib.Description("Maximum number of entries (default 20)")),
		),
		Handler: s.handleListJournal,
	}
}

type sessionSummary struct {
	Repository  *workcopy.Repository `json:"repository"`
	Status      workcopy.PullStatus  `json:"status"`
	Branch      string               `json:"branch"`
	Changed     int                  `json:"changed_files"`
	LastOutcome *workcopy.Outcome    `json:"last_outcome"`
}

func (s *Server) handleGetSession(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Session == nil {
		return mcplib.NewToolResultError("session not configured"), nil
	}
	sess := s.deps.Session
	sum := sessionSummary{
		Status:      sess.Status(),
		Branch:      sess.Branches().Current,
		Changed:     len(sess.Files()),
		LastOutcome: sess.LastOutcome(),
	}
	if repo := sess.Repository(); !repo.IsZero() {
		sum.Repository = &repo
	}
	return jsonResult(sum, "session")
}

func (s *Server) handleListChangedFiles(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if res := s.requireRepository(); res != nil {
		return res, nil
	}
	files := s.deps.Session.Files()
	if files == nil {
		files = []workcopy.FileChange{}
	}
	return jsonResult(files, "files")
}

func (s *Server) handleGetFileDiff(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if res := s.requireRepository(); res != nil {
		return res, nil
	}
	path := req.GetString("path", "")
	if path != "" && !hasFile(s.deps.Session.Files(), path) {
		return mcplib.NewToolResultError(fmt.Sprintf("file %s has no pending changes", path)), nil
	}
	diff := s.deps.Session.DisplayedDiff(ctx, path)
	if diff == "" {
		return mcplib.NewToolResultText("no pending changes"), nil
	}
	return mcplib.NewToolResultText(diff), nil
}

func (s *Server) handleListBranches(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if res := s.requireRepository(); res != nil {
		return res, nil
	}
	return jsonResult(s.deps.Session.Branches(), "branches")
}

func (s *Server) handleGetCommitLog(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if res := s.requireRepository(); res != nil {
		return res, nil
	}
	entries := s.deps.Session.Log()
	if entries == nil {
		entries = []workcopy.CommitLogEntry{}
	}
	return jsonResult(entries, "commit log")
}

func (s *Server) handleListJournal(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Journal == nil {
		return mcplib.NewToolResultError("action journal not configured"), nil
	}
	if res := s.requireRepository(); res != nil {
		return res, nil
	}
	limit := int(req.GetFloat("limit", defaultJournalLimit))
	if limit < 1 {
		return mcplib.NewToolResultError("limit must be positive"), nil
	}
	limit = min(limit, maxJournalLimit)

	entries, err := s.deps.Journal.List(ctx, s.deps.Session.Repository().Key(), limit)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read journal", err), nil
	}
	return jsonResult(entries, "journal")
}

// requireRepository returns an error result when no repository is open.
func (s *Server) requireRepository() *mcplib.CallToolResult {
	if s.deps.Session == nil {
		return mcplib.NewToolResultError("session not configured")
	}
	if s.deps.Session.Repository().IsZero() {
		return mcplib.NewToolResultError("no repository is open")
	}
	return nil
}

func jsonResult(v any, what string) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func hasFile(files []workcopy.FileChange, path string) bool {
	for _, f := range files {
		if f.Path == path {
			return true
		}
	}
	return false
}
