// Package mcp exposes read-only views of the active session to an AI
// assistant over the Model Context Protocol.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/port/journal"
	"github.com/Strob0t/repodeck/internal/service"
)

// SessionReader is the read side of a session the tools report on.
type SessionReader interface {
	Repository() workcopy.Repository
	Files() []workcopy.FileChange
	DisplayedDiff(ctx context.Context, path string) string
	Status() workcopy.PullStatus
	Branches() workcopy.BranchState
	Log() []workcopy.CommitLogEntry
	LastOutcome() *workcopy.Outcome
}

// ServerConfig holds the identity announced to MCP clients.
type ServerConfig struct {
	Name    string
	Version string
	Path    string // endpoint path of the streamable HTTP transport
	APIKey  string
}

// ServerDeps holds the readers the tools use. Nil readers make the
// corresponding tools answer with an error result.
type ServerDeps struct {
	Session SessionReader
	Journal journal.Store
}

// Server wraps the mcp-go server and its HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates the MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP transport, guarded by the API key.
func (s *Server) Handler() http.Handler {
	path := s.cfg.Path
	if path == "" {
		path = "/mcp"
	}
	h := mcpserver.NewStreamableHTTPServer(s.mcpServer, mcpserver.WithEndpointPath(path))
	return AuthMiddleware(s.cfg.APIKey, h)
}

// sessionView adapts *service.Session to SessionReader.
type sessionView struct {
	s *service.Session
}

// FromSession returns a SessionReader backed by sess.
func FromSession(sess *service.Session) SessionReader {
	return sessionView{s: sess}
}

func (v sessionView) Repository() workcopy.Repository { return v.s.Repository() }
func (v sessionView) Files() []workcopy.FileChange { return v.s.Diff().Files() }
func (v sessionView) Status() workcopy.PullStatus { return v.s.Diff().Status() }
func (v sessionView) Branches() workcopy.BranchState { return v.s.Branches().Branches() }
func (v sessionView) Log() []workcopy.CommitLogEntry { return v.s.Log().Entries() }
func (v sessionView) LastOutcome() *workcopy.Outcome { return v.s.LastOutcome() }

func (v sessionView) DisplayedDiff(ctx context.Context, path string) string {
	return v.s.Diff().DisplayedDiff(ctx, path)
}
