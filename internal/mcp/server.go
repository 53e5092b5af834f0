package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/membrane-ai/membrane/internal/memory"
)

// Server exposes the unified store as MCP tools so agent clients can store
// and recall memories without going through the REST surface.
type Server struct {
	mcpServer *mcp.Server
	store     *memory.UnifiedStore
}

func NewServer(store *memory.UnifiedStore, version string) *Server {
	s := &Server{store: store}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "membrane",
		Version: version,
	}, nil)

	s.registerTools()

	return s
}

func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}

func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
