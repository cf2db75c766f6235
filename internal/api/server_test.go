package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atendeai/helpdesk/internal/dialog"
	"github.com/atendeai/helpdesk/internal/storage"
)

const testToken = "test-token"

type mockEvents struct {
	handleFunc func(ctx context.Context, ev dialog.Event) (*dialog.Result, error)
}

func (m *mockEvents) HandleEvent(ctx context.Context, ev dialog.Event) (*dialog.Result, error) {
	return m.handleFunc(ctx, ev)
}

type mockThreads struct {
	getFunc  func(ctx context.Context, id string) (storage.Thread, error)
	listFunc func(ctx context.Context, threadID string) ([]storage.Message, error)
}

func (m *mockThreads) GetThread(ctx context.Context, id string) (storage.Thread, error) {
	return m.getFunc(ctx, id)
}

func (m *mockThreads) ListMessages(ctx context.Context, threadID string) ([]storage.Message, error) {
	return m.listFunc(ctx, threadID)
}

type mockCache struct {
	statsFunc func(ctx context.Context) (storage.CacheStats, error)
}

func (m *mockCache) CacheStatistics(ctx context.Context) (storage.CacheStats, error) {
	return m.statsFunc(ctx)
}

func newTestHandler(deps AppDeps) http.Handler {
	if deps.Token == "" {
		deps.Token = testToken
	}
	return NewHandler(deps)
}

func authedRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	r.Header.Set("Authorization", "Bearer "+testToken)
	return r
}

func TestHealthNoAuth(t *testing.T) {
	h := newTestHandler(AppDeps{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	h := newTestHandler(AppDeps{})

	for _, header := range []string{"", "Bearer wrong", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestPostEvent(t *testing.T) {
	events := &mockEvents{
		handleFunc: func(ctx context.Context, ev dialog.Event) (*dialog.Result, error) {
			if ev.EventKey != "evt-1" || ev.Message != "meu pc não liga" {
				t.Errorf("event = %+v", ev)
			}
			return &dialog.Result{
				ThreadID:     "t-1",
				Reply:        "Vamos tentar o seguinte",
				Status:       storage.StatusActive,
				AttemptCount: 1,
			}, nil
		},
	}
	h := newTestHandler(AppDeps{Events: events})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodPost, "/events",
		`{"eventKey":"evt-1","customerId":"c-1","message":"meu pc não liga"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp eventResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ThreadID != "t-1" || resp.AttemptCount != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestPostEventValidation(t *testing.T) {
	h := newTestHandler(AppDeps{Events: &mockEvents{
		handleFunc: func(ctx context.Context, ev dialog.Event) (*dialog.Result, error) {
			t.Fatal("handler should not be reached")
			return nil, nil
		},
	}})

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"missing event key", `{"message":"oi"}`},
		{"missing message", `{"eventKey":"k"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, authedRequest(http.MethodPost, "/events", tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestPostEventTerminalThreadConflict(t *testing.T) {
	h := newTestHandler(AppDeps{Events: &mockEvents{
		handleFunc: func(ctx context.Context, ev dialog.Event) (*dialog.Result, error) {
			return nil, dialog.ErrTerminalThread
		},
	}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodPost, "/events",
		`{"eventKey":"k","message":"oi"}`))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestPostEventDuplicateNoOp(t *testing.T) {
	h := newTestHandler(AppDeps{Events: &mockEvents{
		handleFunc: func(ctx context.Context, ev dialog.Event) (*dialog.Result, error) {
			return &dialog.Result{Status: dialog.StatusAccepted, Duplicate: true}, nil
		},
	}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodPost, "/events",
		`{"eventKey":"k","message":"oi"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got eventResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !got.Duplicate || got.Status != dialog.StatusAccepted {
		t.Errorf("response = %+v, want accepted duplicate", got)
	}
}

func TestGetThread(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threads := &mockThreads{
		getFunc: func(ctx context.Context, id string) (storage.Thread, error) {
			if id != "t-1" {
				return storage.Thread{}, storage.ErrNotFound
			}
			return storage.Thread{
				ID:          "t-1",
				Status:      storage.StatusActive,
				StartedAt:   now,
				ContextJSON: `{"attempt_count":2}`,
			}, nil
		},
	}
	h := newTestHandler(AppDeps{Threads: threads})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/threads/t-1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"attempt_count":2`) {
		t.Errorf("context not embedded: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/threads/ghost", ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing thread status = %d, want 404", rec.Code)
	}
}

func TestListMessages(t *testing.T) {
	threads := &mockThreads{
		getFunc: func(ctx context.Context, id string) (storage.Thread, error) {
			return storage.Thread{ID: id}, nil
		},
		listFunc: func(ctx context.Context, threadID string) ([]storage.Message, error) {
			return []storage.Message{
				{ID: "m-1", Role: "user", Content: "oi", SequenceNumber: 1},
				{ID: "m-2", Role: "assistant", Content: "olá", SequenceNumber: 2},
			}, nil
		},
	}
	h := newTestHandler(AppDeps{Threads: threads})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/threads/t-1/messages", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Messages []messageResponse `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(resp.Messages) != 2 || resp.Messages[1].Role != "assistant" {
		t.Errorf("messages = %+v", resp.Messages)
	}
}

func TestCacheStats(t *testing.T) {
	h := newTestHandler(AppDeps{Cache: &mockCache{
		statsFunc: func(ctx context.Context) (storage.CacheStats, error) {
			return storage.CacheStats{Entries: 7, TotalHits: 41}, nil
		},
	}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/cache/stats", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"entries":7`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestImportSolutionsNotConfigured(t *testing.T) {
	h := newTestHandler(AppDeps{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodPost, "/solutions",
		`{"problemTag":"boot_issue","content":"# Passo\ntexto"}`))
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

type mockCustomers struct {
	getFunc func(ctx context.Context, id string) (storage.Customer, error)
}

func (m *mockCustomers) Get(ctx context.Context, id string) (storage.Customer, error) {
	return m.getFunc(ctx, id)
}

func TestGetCustomer(t *testing.T) {
	h := newTestHandler(AppDeps{
		Customers: &mockCustomers{
			getFunc: func(ctx context.Context, id string) (storage.Customer, error) {
				if id != "cust-1" {
					return storage.Customer{}, storage.ErrNotFound
				}
				return storage.Customer{
					ID:          "cust-1",
					Name:        "Maria Souza",
					Phone:       "+55 11 91234-5678",
					AddressJSON: `{"city":"São Paulo"}`,
				}, nil
			},
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/customers/cust-1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var got customerResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Name != "Maria Souza" {
		t.Errorf("name = %q", got.Name)
	}
	if !strings.Contains(string(got.Address), "São Paulo") {
		t.Errorf("address = %s", got.Address)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/customers/nope", ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown customer: status = %d, want 404", rec.Code)
	}
}

func TestGetCustomerNotConfigured(t *testing.T) {
	h := newTestHandler(AppDeps{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(http.MethodGet, "/customers/cust-1", ""))
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}
