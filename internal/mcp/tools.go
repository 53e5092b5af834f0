package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/membrane-ai/membrane/internal/model"
)

// Tool input structs with jsonschema tags

type StoreMemoryInput struct {
	Content        string         `json:"content" jsonschema:"Content of the memory,required"`
	Metadata       map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary metadata merged into the record"`
	Importance     *float64       `json:"importance,omitempty" jsonschema:"Importance score 0.0-1.0. Computed when omitted."`
	UserID         string         `json:"user_id,omitempty" jsonschema:"User the memory belongs to"`
	ConversationID string         `json:"conversation_id,omitempty" jsonschema:"Conversation the memory belongs to"`
}

type QueryMemoriesInput struct {
	Query          string         `json:"query" jsonschema:"Natural language query. Empty returns the most recent memories."`
	Limit          int            `json:"limit,omitempty" jsonschema:"Max results (default 10)"`
	MinSimilarity  *float64       `json:"min_similarity,omitempty" jsonschema:"Similarity threshold (default 0.7)"`
	Filters        map[string]any `json:"filters,omitempty" jsonschema:"Metadata equality filters"`
	Providers      []string       `json:"providers,omitempty" jsonschema:"Restrict to these backend names"`
	UserID         string         `json:"user_id,omitempty" jsonschema:"Scope results to this user"`
	ConversationID string         `json:"conversation_id,omitempty" jsonschema:"Scope results to this conversation"`
}

type GetStatsInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"Reconcile counters against the backends first"`
}

type AuditVisibilityInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "store_memory",
		Description: "Store a memory with automatic embedding, importance scoring, and duplicate detection. Writes durably to the primary backend and replicates to the others.",
	}, s.storeMemory)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "query_memories",
		Description: "Search memories by semantic similarity, falling back to full-text and fuzzy search when vector retrieval comes up empty. An empty query returns the most recent memories.",
	}, s.queryMemories)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_stats",
		Description: "Report orchestrator counters and per-backend health. Set refresh to reconcile against backend-reported totals first.",
	}, s.getStats)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "audit_visibility",
		Description: "Diagnostic audit of the primary backend: total rows, embedding coverage, and samples of rows invisible to similarity search.",
	}, s.auditVisibility)
}

func (s *Server) storeMemory(ctx context.Context, req *mcp.CallToolRequest, input *StoreMemoryInput) (*mcp.CallToolResult, any, error) {
	record, err := s.store.Store(ctx, model.StoreRequest{
		Content:         input.Content,
		Metadata:        input.Metadata,
		ImportanceScore: input.Importance,
		UserID:          input.UserID,
		ConversationID:  input.ConversationID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("store memory: %w", err)
	}

	return makeTextResult(fmt.Sprintf("Stored memory %s (importance: %.2f)",
		record.ID, record.ImportanceScore)), nil, nil
}

func (s *Server) queryMemories(ctx context.Context, req *mcp.CallToolRequest, input *QueryMemoriesInput) (*mcp.CallToolResult, any, error) {
	queryReq := model.QueryRequest{
		Query:          input.Query,
		Limit:          input.Limit,
		Filters:        input.Filters,
		Providers:      input.Providers,
		UserID:         input.UserID,
		ConversationID: input.ConversationID,
	}
	if input.MinSimilarity != nil {
		queryReq.MinSimilarity = *input.MinSimilarity
	}

	resp, err := s.store.Query(ctx, queryReq)
	if err != nil {
		return nil, nil, fmt.Errorf("query memories: %w", err)
	}

	return makeJSONResult(resp)
}

func (s *Server) getStats(ctx context.Context, req *mcp.CallToolRequest, input *GetStatsInput) (*mcp.CallToolResult, any, error) {
	if input.Refresh {
		s.store.RefreshStats(ctx)
	}

	result := map[string]any{
		"orchestrator": s.store.Stats(),
		"providers":    s.store.ProviderReport(ctx),
	}
	return makeJSONResult(result)
}

func (s *Server) auditVisibility(ctx context.Context, req *mcp.CallToolRequest, input *AuditVisibilityInput) (*mcp.CallToolResult, any, error) {
	report := s.store.VisibilityAudit(ctx)
	return makeJSONResult(report)
}

// Helper functions

func makeTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func makeJSONResult(data any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}, nil, nil
}
