package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceFiles = "repodeck://session/files"
	resourceDiff  = "repodeck://session/diff"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			resourceFiles,
			"Changed Files",
			mcplib.WithResourceDescription("Files with pending changes in the active repository"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleFilesResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			resourceDiff,
			"Pending Diff",
			mcplib.WithResourceDescription("Unified diff of all pending changes"),
			mcplib.WithMIMEType("text/x-diff"),
		),
		s.handleDiffResource,
	)
}

func (s *Server) handleFilesResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Session == nil {
		return textResource(req.Params.URI, "application/json", `{"error":"session not configured"}`), nil
	}
	data, err := json.Marshal(s.deps.Session.Files())
	if err != nil {
		return nil, err
	}
	return textResource(req.Params.URI, "application/json", string(data)), nil
}

func (s *Server) handleDiffResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Session == nil {
		return textResource(req.Params.URI, "text/x-diff", ""), nil
	}
	return textResource(req.Params.URI, "text/x-diff", s.deps.Session.DisplayedDiff(ctx, "")), nil
}

func textResource(uri, mime, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: uri, MIMEType: mime, Text: text},
	}
}
