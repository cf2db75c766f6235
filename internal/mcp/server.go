// Package mcp exposes the helpdesk over the Model Context Protocol so
// operator-side agents can search the knowledge base and inspect live
// conversations without going through the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/atendeai/helpdesk/internal/retrieval"
	"github.com/atendeai/helpdesk/internal/storage"
)

// Searcher abstracts solution retrieval for the MCP layer.
// Implemented by *retrieval.Engine.
type Searcher interface {
	Search(ctx context.Context, query string, opts retrieval.SearchOptions) ([]retrieval.RankedResult, error)
}

// Deps holds the MCP server dependencies.
type Deps struct {
	Store    *storage.Store
	Searcher Searcher
}

// NewServer creates an MCP server with all helpdesk tools registered.
func NewServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"helpdesk",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("helpdesk technical-support dialog service: solution catalog search and conversation inspection."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_solutions",
			mcp.WithDescription("Search the remediation solution catalog by free-text query."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			mcp.WithString("category", mcp.Description("Optional category filter")),
		),
		toolSearchSolutions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_thread",
			mcp.WithDescription("Inspect one support conversation: thread state plus its message history."),
			mcp.WithString("thread_id", mcp.Description("Thread ID"), mcp.Required()),
		),
		toolGetThread(deps),
	)

	s.AddTool(
		mcp.NewTool("cache_stats",
			mcp.WithDescription("Report retrieval cache statistics (entry count and accumulated hits)."),
		),
		toolCacheStats(deps),
	)

	return s
}

// ServeStdio runs the MCP server over stdin/stdout until EOF.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func toolSearchSolutions(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Searcher.Search(ctx, query, retrieval.SearchOptions{
			MaxResults: limit,
			Category:   req.GetString("category", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type solutionResult struct {
			ID         string  `json:"id"`
			ProblemTag string  `json:"problem_tag"`
			Step       int     `json:"step"`
			Title      string  `json:"title"`
			Category   string  `json:"category,omitempty"`
			Score      float64 `json:"score"`
		}
		out := make([]solutionResult, len(results))
		for i, r := range results {
			out[i] = solutionResult{
				ID:         r.Solution.ID,
				ProblemTag: r.Solution.ProblemTag,
				Step:       r.Solution.Step,
				Title:      r.Solution.Title,
				Category:   r.Solution.Category,
				Score:      r.Score,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func toolGetThread(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}

		thread, err := deps.Store.GetThread(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("thread %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading thread: %v", err)), nil
		}

		messages, err := deps.Store.ListMessages(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("listing messages: %v", err)), nil
		}

		type messageView struct {
			Role     string `json:"role"`
			Content  string `json:"content"`
			Sequence int    `json:"sequence"`
		}
		view := struct {
			ID            string          `json:"id"`
			Status        string          `json:"status"`
			CustomerID    string          `json:"customer_id,omitempty"`
			IssueResolved bool            `json:"issue_resolved"`
			Context       json.RawMessage `json:"context"`
			Messages      []messageView   `json:"messages"`
		}{
			ID:            thread.ID,
			Status:        thread.Status,
			CustomerID:    thread.CustomerID,
			IssueResolved: thread.IssueResolved,
			Context:       json.RawMessage(thread.ContextJSON),
			Messages:      make([]messageView, len(messages)),
		}
		if len(view.Context) == 0 {
			view.Context = json.RawMessage("{}")
		}
		for i, m := range messages {
			view.Messages[i] = messageView{Role: m.Role, Content: m.Content, Sequence: m.SequenceNumber}
		}

		b, err := json.Marshal(view)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal thread: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func toolCacheStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Store.CacheStatistics(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("reading cache statistics: %v", err)), nil
		}
		b, err := json.Marshal(map[string]any{
			"entries":    stats.Entries,
			"total_hits": stats.TotalHits,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
