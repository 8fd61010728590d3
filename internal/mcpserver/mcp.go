// Package mcpserver implements the MCP control channel for Vesper: a
// stdio JSON-RPC server whose tools are thin wrappers over
// internal/memoryservice.Service.
package mcpserver

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/vesper/internal/memoryservice"
)

// serverInstructions is sent to every MCP client during the initialize
// handshake so agents discover the store/retrieve workflow without
// per-project configuration.
const serverInstructions = `You have access to Vesper, a persistent associative memory service.

WORKFLOW:

1. Call retrieve_memory at the start of a task to recall anything relevant
   already known about this namespace before acting.
2. Call store_memory after learning a durable fact, preference, or
   project detail worth remembering across sessions.
3. Call store_decision instead of store_memory when recording a choice
   you made — it runs conflict detection immediately so a contradicting
   prior decision surfaces right away.

TOOLS:
- store_memory / retrieve_memory: the core read/write path
- list_recent / get_stats / namespace_stats: situational awareness
- delete_memory: remove a single record by id
- share_context: copy recent memories from one namespace to another
- list_namespaces: enumerate known namespaces
- vesper_enable / vesper_disable / vesper_status: pause/resume the service
- load_skill / record_skill_outcome: reuse and rate a stored procedure

Namespaces default to "default" when omitted.`

// Server wraps the MCP server with Vesper's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *memoryservice.Service
	logger    *slog.Logger
}

// New creates and configures the MCP server with every tool registered.
func New(svc *memoryservice.Service, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger}

	s.mcpServer = mcpserver.NewMCPServer(
		"vesper",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}
