// Package api exposes the service over HTTP: the inbound webhook surface for
// customer messages plus a small management API for threads, the knowledge
// base and the retrieval cache.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atendeai/helpdesk/internal/dialog"
	"github.com/atendeai/helpdesk/internal/kb"
	"github.com/atendeai/helpdesk/internal/storage"
)

const maxEventBodySize = 1 << 20   // 1MB
const maxImportBodySize = 10 << 20 // 10MB

// EventHandler abstracts the turn service for the inbound surface.
// Implemented by *dialog.Service.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev dialog.Event) (*dialog.Result, error)
}

// CacheReader exposes the retrieval cache statistics.
// Implemented by storage.Store.
type CacheReader interface {
	CacheStatistics(ctx context.Context) (storage.CacheStats, error)
}

// ThreadReader exposes the thread inspection reads.
// Implemented by storage.Store.
type ThreadReader interface {
	GetThread(ctx context.Context, id string) (storage.Thread, error)
	ListMessages(ctx context.Context, threadID string) ([]storage.Message, error)
}

// CustomerReader exposes customer profile reads.
// Implemented by *customer.Cache.
type CustomerReader interface {
	Get(ctx context.Context, id string) (storage.Customer, error)
}

// AppDeps carries everything the handler graph needs.
type AppDeps struct {
	Events    EventHandler
	Threads   ThreadReader
	Cache     CacheReader
	Customers CustomerReader // optional; nil disables GET /customers/{id}
	Importer  *kb.Importer   // optional; nil disables POST /solutions
	Token     string
}

// NewHandler builds the full router. /health is unauthenticated; everything
// else requires the bearer token.
func NewHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/events", handleEvent(deps))
		r.Get("/threads/{id}", handleGetThread(deps))
		r.Get("/threads/{id}/messages", handleListMessages(deps))
		r.Get("/customers/{id}", handleGetCustomer(deps))
		r.Post("/solutions", handleImportSolutions(deps))
		r.Get("/cache/stats", handleCacheStats(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type eventRequest struct {
	EventKey   string `json:"eventKey"`
	ThreadID   string `json:"threadId"`
	CustomerID string `json:"customerId"`
	Message    string `json:"message"`
}

type eventResponse struct {
	ThreadID     string `json:"threadId"`
	Response     string `json:"response"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attemptCount"`
	Duplicate    bool   `json:"duplicate,omitempty"`
}

func handleEvent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxEventBodySize)
		defer r.Body.Close()

		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.EventKey == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "eventKey is required")
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		res, err := deps.Events.HandleEvent(r.Context(), dialog.Event{
			EventKey:   req.EventKey,
			ThreadID:   req.ThreadID,
			CustomerID: req.CustomerID,
			Message:    req.Message,
		})
		switch {
		case errors.Is(err, dialog.ErrTerminalThread):
			httpError(w, http.StatusConflict, "invalid_request_error", "thread %s is closed", req.ThreadID)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "processing event: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(eventResponse{
			ThreadID:     res.ThreadID,
			Response:     res.Reply,
			Status:       res.Status,
			AttemptCount: res.AttemptCount,
			Duplicate:    res.Duplicate,
		})
	}
}

type threadResponse struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customerId"`
	Status        string          `json:"status"`
	StartedAt     time.Time       `json:"startedAt"`
	LastActiveAt  time.Time       `json:"lastActiveAt"`
	TotalMessages int             `json:"totalMessages"`
	IssueResolved bool            `json:"issueResolved"`
	Context       json.RawMessage `json:"context"`
}

func handleGetThread(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		thread, err := deps.Threads.GetThread(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "thread %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading thread: %v", err)
			return
		}

		ctxJSON := json.RawMessage(thread.ContextJSON)
		if len(ctxJSON) == 0 {
			ctxJSON = json.RawMessage("{}")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(threadResponse{
			ID:            thread.ID,
			CustomerID:    thread.CustomerID,
			Status:        thread.Status,
			StartedAt:     thread.StartedAt,
			LastActiveAt:  thread.LastActiveAt,
			TotalMessages: thread.TotalMessages,
			IssueResolved: thread.IssueResolved,
			Context:       ctxJSON,
		})
	}
}

type messageResponse struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	SequenceNumber int       `json:"sequenceNumber"`
	CreatedAt      time.Time `json:"createdAt"`
	ResponseType   string    `json:"responseType,omitempty"`
	SolutionID     string    `json:"solutionId,omitempty"`
}

func handleListMessages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := deps.Threads.GetThread(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "thread %s not found", id)
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading thread: %v", err)
			return
		}

		msgs, err := deps.Threads.ListMessages(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing messages: %v", err)
			return
		}

		out := make([]messageResponse, len(msgs))
		for i, m := range msgs {
			out[i] = messageResponse{
				ID:             m.ID,
				Role:           m.Role,
				Content:        m.Content,
				SequenceNumber: m.SequenceNumber,
				CreatedAt:      m.CreatedAt,
				ResponseType:   m.ResponseType,
				SolutionID:     m.SolutionID,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"messages": out})
	}
}

type customerResponse struct {
	ID      string          `json:"id"`
	Name    string          `json:"name,omitempty"`
	Email   string          `json:"email,omitempty"`
	Phone   string          `json:"phone,omitempty"`
	Address json.RawMessage `json:"address"`
}

func handleGetCustomer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Customers == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "customer directory is not configured")
			return
		}

		id := chi.URLParam(r, "id")
		cust, err := deps.Customers.Get(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "customer %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading customer: %v", err)
			return
		}

		addr := json.RawMessage(cust.AddressJSON)
		if len(addr) == 0 {
			addr = json.RawMessage("{}")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(customerResponse{
			ID:      cust.ID,
			Name:    cust.Name,
			Email:   cust.Email,
			Phone:   cust.Phone,
			Address: addr,
		})
	}
}

type importRequest struct {
	ProblemTag string `json:"problemTag"`
	Category   string `json:"category"`
	Difficulty int    `json:"difficulty"`
	Keywords   string `json:"keywords"`
	Format     string `json:"format"`
	Content    string `json:"content"`
	// ContentBase64 carries binary formats (pdf).
	ContentBase64 string `json:"contentBase64"`
}

func handleImportSolutions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Importer == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "knowledge-base import is not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		var req importRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ProblemTag == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "problemTag is required")
			return
		}

		content := []byte(req.Content)
		if req.ContentBase64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid contentBase64: %v", err)
				return
			}
			content = decoded
		}
		if len(content) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of content or contentBase64 is required")
			return
		}

		report, err := deps.Importer.Import(r.Context(), kb.Document{
			ProblemTag: req.ProblemTag,
			Category:   req.Category,
			Difficulty: req.Difficulty,
			Keywords:   req.Keywords,
			Format:     req.Format,
			Content:    content,
		})
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "importing document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"problemTag": report.ProblemTag,
			"steps":      report.Steps,
			"vectors":    report.Vectors,
		})
	}
}

func handleCacheStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Cache.CacheStatistics(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading cache statistics: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"entries":   stats.Entries,
			"totalHits": stats.TotalHits,
		})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
