package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atendeai/helpdesk/internal/conversation"
	"github.com/atendeai/helpdesk/internal/guard"
	"github.com/atendeai/helpdesk/internal/storage"
	"github.com/atendeai/helpdesk/internal/ticketing"
)

// StatusAccepted is the Result status of a mid-flight duplicate: the
// original delivery is still producing the reply, so this one is
// acknowledged as a no-op rather than failed (a failure would make
// at-least-once webhook providers keep retrying).
const StatusAccepted = "accepted"

// Event is one inbound customer message, as delivered by the messaging
// webhook. EventKey is the delivery's idempotency key: redelivering the same
// key is always a no-op.
type Event struct {
	EventKey   string
	ThreadID   string
	CustomerID string
	Message    string
}

// Result is what the service hands back to the inbound surface.
type Result struct {
	ThreadID     string
	Reply        string
	Status       string
	AttemptCount int
	// Duplicate marks a redelivered event; Reply carries the original answer.
	Duplicate bool
}

// Ticketer is the outbound ticketing surface the service notifies.
// Implemented by *ticketing.Client.
type Ticketer interface {
	PostReply(ctx context.Context, r ticketing.Reply) error
	AddNote(ctx context.Context, n ticketing.Note) error
	UpdateStatus(ctx context.Context, u ticketing.StatusUpdate) error
}

// CustomerDirectory is the customer profile surface.
// Implemented by *customer.Cache.
type CustomerDirectory interface {
	Get(ctx context.Context, id string) (storage.Customer, error)
	Put(ctx context.Context, c storage.Customer) error
}

// Service runs one full inbound event: admission, persistence, the
// orchestrator turn, and the fire-and-forget ticketing updates.
type Service struct {
	store        *storage.Store
	orchestrator *Orchestrator
	guard        *guard.Guard
	ticketer     Ticketer
	customers    CustomerDirectory
	clock        Clock
	logger       *slog.Logger

	// ticketingTimeout bounds the detached notification calls.
	ticketingTimeout time.Duration
}

// NewService wires the turn service. ticketer and customers may be nil when
// no ticketing system or customer directory is configured.
func NewService(store *storage.Store, orch *Orchestrator, g *guard.Guard, ticketer Ticketer, customers CustomerDirectory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:            store,
		orchestrator:     orch,
		guard:            g,
		ticketer:         ticketer,
		customers:        customers,
		clock:            realClock{},
		logger:           logger,
		ticketingTimeout: 30 * time.Second,
	}
}

// HandleEvent processes one inbound event end to end. Redelivered events
// (same key, whether mid-flight or already persisted) never run a second
// turn: mid-flight duplicates are acknowledged as a no-op, persisted
// duplicates return the original reply.
func (s *Service) HandleEvent(ctx context.Context, ev Event) (*Result, error) {
	if ev.EventKey == "" {
		return nil, errors.New("event key is required")
	}
	if ev.Message == "" {
		return nil, errors.New("message is required")
	}

	if !s.guard.TryAdmit(ev.EventKey) {
		return &Result{
			ThreadID:  ev.ThreadID,
			Status:    StatusAccepted,
			Duplicate: true,
		}, nil
	}
	defer s.guard.Release(ev.EventKey)

	thread, created, err := s.loadOrCreateThread(ctx, &ev)
	if err != nil {
		return nil, err
	}

	var customerName string
	if created && ev.CustomerID != "" {
		customerName = s.ensureCustomer(ctx, ev.CustomerID)
	}

	messages, err := s.store.ListMessages(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for thread %s: %w", thread.ID, err)
	}

	// A persisted duplicate: the user message derived from this event key is
	// already stored, so replay the answer instead of running another turn.
	if reply, ok := replayedReply(messages, ev.EventKey); ok {
		return &Result{
			ThreadID:     thread.ID,
			Reply:        reply,
			Status:       thread.Status,
			AttemptCount: 0,
			Duplicate:    true,
		}, nil
	}

	// Terminal threads take no further turns; only the persisted-duplicate
	// replay above is allowed, as an idempotent re-read. Checked before the
	// append so a rejected event leaves no trace in the message log.
	if storage.TerminalStatus(thread.Status) {
		return nil, fmt.Errorf("%w: thread %s is %s", ErrTerminalThread, thread.ID, thread.Status)
	}

	now := s.clock.Now()
	userMsg, err := s.store.AppendMessage(ctx, storage.Message{
		ID:        ev.EventKey,
		ThreadID:  thread.ID,
		Role:      "user",
		Content:   ev.Message,
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("appending user message: %w", err)
	}
	messages = conversation.MergeMessages(messages, []storage.Message{userMsg})

	st, err := conversation.Load(thread, messages)
	if err != nil {
		return nil, err
	}

	step, err := s.orchestrator.Step(ctx, st, ev.Message)
	if err != nil {
		return nil, err
	}

	// A known customer opening a new thread gets greeted by name.
	if customerName != "" {
		step.Reply = fmt.Sprintf("Olá, %s! %s", customerName, step.Reply)
	}

	if err := s.persistTurn(ctx, st, step, now); err != nil {
		return nil, err
	}

	s.notifyTicketing(st.Thread, step)

	return &Result{
		ThreadID:     st.Thread.ID,
		Reply:        step.Reply,
		Status:       step.Status,
		AttemptCount: step.AttemptCount,
	}, nil
}

func (s *Service) loadOrCreateThread(ctx context.Context, ev *Event) (storage.Thread, bool, error) {
	if ev.ThreadID != "" {
		thread, err := s.store.GetThread(ctx, ev.ThreadID)
		if err == nil {
			return thread, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.Thread{}, false, fmt.Errorf("loading thread %s: %w", ev.ThreadID, err)
		}
	}

	id := ev.ThreadID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.clock.Now()
	thread := storage.Thread{
		ID:           id,
		CustomerID:   ev.CustomerID,
		Status:       storage.StatusActive,
		StartedAt:    now,
		LastActiveAt: now,
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return storage.Thread{}, false, fmt.Errorf("creating thread %s: %w", id, err)
	}
	ev.ThreadID = id
	return thread, true, nil
}

// ensureCustomer returns the known display name for the customer, creating a
// bare directory record on first contact. Directory failures never block the
// turn.
func (s *Service) ensureCustomer(ctx context.Context, id string) string {
	if s.customers == nil {
		return ""
	}
	cust, err := s.customers.Get(ctx, id)
	if err == nil {
		return cust.Name
	}
	if errors.Is(err, storage.ErrNotFound) {
		if err := s.customers.Put(ctx, storage.Customer{ID: id, UpdatedAt: s.clock.Now()}); err != nil {
			s.logger.Warn("registering customer failed", "customer_id", id, "error", err)
		}
		return ""
	}
	s.logger.Warn("customer lookup failed", "customer_id", id, "error", err)
	return ""
}

// persistTurn writes the assistant reply, the system audit notes, and the
// updated thread record.
func (s *Service) persistTurn(ctx context.Context, st *conversation.State, step *StepResult, now time.Time) error {
	assistant := storage.Message{
		ID:           uuid.NewString(),
		ThreadID:     st.Thread.ID,
		Role:         "assistant",
		Content:      step.Reply,
		CreatedAt:    now,
		ResponseType: step.ResponseType,
		SolutionID:   step.SolutionID,
	}
	if _, err := s.store.AppendMessage(ctx, assistant); err != nil {
		return fmt.Errorf("appending assistant message: %w", err)
	}

	systemCount := 0
	for _, note := range step.SystemNotes {
		if _, err := s.store.AppendMessage(ctx, storage.Message{
			ID:        uuid.NewString(),
			ThreadID:  st.Thread.ID,
			Role:      "system",
			Content:   note,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("appending system message: %w", err)
		}
		systemCount++
	}

	if err := st.Encode(); err != nil {
		return err
	}
	st.Thread.LastActiveAt = now
	st.Thread.TotalMessages += 2 + systemCount
	st.Thread.UserMessages++
	st.Thread.AssistantMessages++
	st.Thread.SystemMessages += systemCount

	if err := s.store.UpdateThread(ctx, st.Thread); err != nil {
		return fmt.Errorf("updating thread %s: %w", st.Thread.ID, err)
	}
	return nil
}

// notifyTicketing mirrors the turn onto the ticketing system in a detached
// goroutine. Failures are logged and swallowed; the customer already has
// their reply.
func (s *Service) notifyTicketing(thread storage.Thread, step *StepResult) {
	if s.ticketer == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.ticketingTimeout)
		defer cancel()

		if err := s.ticketer.PostReply(ctx, ticketing.Reply{ThreadID: thread.ID, Message: step.Reply}); err != nil {
			s.logger.Warn("ticketing reply failed", "thread_id", thread.ID, "error", err)
		}
		for _, note := range step.SystemNotes {
			if err := s.ticketer.AddNote(ctx, ticketing.Note{ThreadID: thread.ID, Body: note}); err != nil {
				s.logger.Warn("ticketing note failed", "thread_id", thread.ID, "error", err)
			}
		}
		if storage.TerminalStatus(step.Status) {
			update := ticketing.StatusUpdate{ThreadID: thread.ID, Status: step.Status}
			if step.Status == storage.StatusEscalated {
				update.Priority = "high"
				update.Tags = []string{"needs-human"}
			}
			if err := s.ticketer.UpdateStatus(ctx, update); err != nil {
				s.logger.Warn("ticketing status update failed", "thread_id", thread.ID, "error", err)
			}
		}
	}()
}

// replayedReply finds the assistant message that immediately followed the
// user message stored under eventKey, if any.
func replayedReply(messages []storage.Message, eventKey string) (string, bool) {
	for i, m := range messages {
		if m.ID != eventKey {
			continue
		}
		for _, later := range messages[i+1:] {
			if later.Role == "assistant" {
				return later.Content, true
			}
		}
		return "", true
	}
	return "", false
}
