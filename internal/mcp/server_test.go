package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/atendeai/helpdesk/internal/retrieval"
	"github.com/atendeai/helpdesk/internal/storage"
)

type mockSearcher struct {
	results []retrieval.RankedResult
	err     error
}

func (m *mockSearcher) Search(_ context.Context, _ string, _ retrieval.SearchOptions) ([]retrieval.RankedResult, error) {
	return m.results, m.err
}

func newTestDeps(t *testing.T) (Deps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return Deps{Store: store, Searcher: &mockSearcher{}}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestToolSearchSolutions(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Searcher = &mockSearcher{
		results: []retrieval.RankedResult{
			{Solution: storage.Solution{ID: "s-1", ProblemTag: "boot_issue", Step: 1, Title: "Verificar alimentação"}, Score: 0.92},
		},
	}
	handler := toolSearchSolutions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_solutions", map[string]interface{}{
		"query": "pc não liga",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var out []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(out) != 1 || out[0]["problem_tag"] != "boot_issue" {
		t.Errorf("results = %v", out)
	}
}

func TestToolSearchSolutionsMissingQuery(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := toolSearchSolutions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_solutions", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error without query")
	}
}

func TestToolSearchSolutionsFailure(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Searcher = &mockSearcher{err: errors.New("store unavailable")}
	handler := toolSearchSolutions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_solutions", map[string]interface{}{
		"query": "algo",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error on search failure")
	}
}

func TestToolGetThread(t *testing.T) {
	deps, store := newTestDeps(t)

	now := time.Now().UTC()
	thread := storage.Thread{
		ID: "t-1", CustomerID: "c-1", Status: storage.StatusActive,
		StartedAt: now, LastActiveAt: now,
		ContextJSON: `{"attempt_count":1}`,
	}
	if err := store.CreateThread(context.Background(), thread); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if _, err := store.AppendMessage(context.Background(), storage.Message{
		ID: "m-1", ThreadID: "t-1", Role: "user", Content: "meu pc não liga", CreatedAt: now,
	}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	handler := toolGetThread(deps)
	result, err := handler(context.Background(), makeCallToolRequest("get_thread", map[string]interface{}{
		"thread_id": "t-1",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if !strings.Contains(text, `"attempt_count":1`) || !strings.Contains(text, "meu pc não liga") {
		t.Errorf("thread view = %s", text)
	}
}

func TestToolGetThreadNotFound(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := toolGetThread(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_thread", map[string]interface{}{
		"thread_id": "ghost",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for missing thread")
	}
}

func TestToolCacheStats(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := toolCacheStats(deps)

	result, err := handler(context.Background(), makeCallToolRequest("cache_stats", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), `"entries":0`) {
		t.Errorf("stats = %s", toolText(t, result))
	}
}
