package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atendeai/helpdesk/internal/conversation"
	"github.com/atendeai/helpdesk/internal/customer"
	"github.com/atendeai/helpdesk/internal/guard"
	"github.com/atendeai/helpdesk/internal/retrieval"
	"github.com/atendeai/helpdesk/internal/storage"
	"github.com/atendeai/helpdesk/internal/ticketing"
)

type mockTicketer struct {
	mu       sync.Mutex
	replies  []ticketing.Reply
	notes    []ticketing.Note
	statuses []ticketing.StatusUpdate
	done     chan struct{}
}

func newMockTicketer() *mockTicketer {
	return &mockTicketer{done: make(chan struct{}, 16)}
}

func (m *mockTicketer) PostReply(ctx context.Context, r ticketing.Reply) error {
	m.mu.Lock()
	m.replies = append(m.replies, r)
	m.mu.Unlock()
	m.done <- struct{}{}
	return nil
}

func (m *mockTicketer) AddNote(ctx context.Context, n ticketing.Note) error {
	m.mu.Lock()
	m.notes = append(m.notes, n)
	m.mu.Unlock()
	return nil
}

func (m *mockTicketer) UpdateStatus(ctx context.Context, u ticketing.StatusUpdate) error {
	m.mu.Lock()
	m.statuses = append(m.statuses, u)
	m.mu.Unlock()
	return nil
}

func newTestService(t *testing.T, r Retriever) (*Service, *storage.Store, *mockTicketer) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	orch := testOrchestrator(r)
	ticketer := newMockTicketer()
	svc := NewService(store, orch, guard.NewWithDelay(0), ticketer, nil, nil)
	svc.clock = fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return svc, store, ticketer
}

func solutionRetriever(sol storage.Solution) *mockRetriever {
	return &mockRetriever{
		searchFunc: func(ctx context.Context, query string, opts retrieval.SearchOptions) ([]retrieval.RankedResult, error) {
			return []retrieval.RankedResult{{Solution: sol, Score: 0.9}}, nil
		},
	}
}

func TestHandleEventFullTurn(t *testing.T) {
	svc, store, ticketer := newTestService(t, solutionRetriever(bootSolution(1)))

	res, err := svc.HandleEvent(context.Background(), Event{
		EventKey:   "evt-1",
		CustomerID: "cust-1",
		Message:    "meu pc não liga",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if res.ThreadID == "" {
		t.Fatal("no thread id assigned")
	}
	if res.Status != storage.StatusActive {
		t.Errorf("status = %q, want active", res.Status)
	}
	if res.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", res.AttemptCount)
	}
	if res.Duplicate {
		t.Error("fresh event marked duplicate")
	}

	msgs, err := store.ListMessages(context.Background(), res.ThreadID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	// user + assistant + at least one system audit note.
	if len(msgs) < 3 {
		t.Fatalf("got %d messages, want >= 3", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].ID != "evt-1" {
		t.Errorf("first message = %+v, want user message keyed by event", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != res.Reply {
		t.Errorf("second message = %+v", msgs[1])
	}
	for i := range msgs {
		if msgs[i].SequenceNumber != i+1 {
			t.Errorf("message %d sequence = %d, want %d", i, msgs[i].SequenceNumber, i+1)
		}
	}

	thread, err := store.GetThread(context.Background(), res.ThreadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.UserMessages != 1 || thread.AssistantMessages != 1 {
		t.Errorf("counters = %d user / %d assistant", thread.UserMessages, thread.AssistantMessages)
	}
	if thread.TotalMessages != len(msgs) {
		t.Errorf("total = %d, want %d", thread.TotalMessages, len(msgs))
	}

	// Ticketing mirror is detached; wait for it.
	select {
	case <-ticketer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("ticketing reply never posted")
	}
	ticketer.mu.Lock()
	defer ticketer.mu.Unlock()
	if len(ticketer.replies) != 1 || ticketer.replies[0].ThreadID != res.ThreadID {
		t.Errorf("ticketing replies = %+v", ticketer.replies)
	}
}

func TestHandleEventRedeliveryReturnsOriginalReply(t *testing.T) {
	calls := 0
	r := &mockRetriever{
		searchFunc: func(ctx context.Context, query string, opts retrieval.SearchOptions) ([]retrieval.RankedResult, error) {
			calls++
			return []retrieval.RankedResult{{Solution: bootSolution(1), Score: 0.9}}, nil
		},
	}
	svc, store, _ := newTestService(t, r)

	ev := Event{EventKey: "evt-dup", CustomerID: "cust-1", Message: "meu pc não liga"}
	first, err := svc.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	ev.ThreadID = first.ThreadID
	second, err := svc.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if !second.Duplicate {
		t.Error("redelivery not marked duplicate")
	}
	if second.Reply != first.Reply {
		t.Errorf("redelivery reply = %q, want original %q", second.Reply, first.Reply)
	}
	if calls != 1 {
		t.Errorf("search ran %d times, want 1 (no second turn)", calls)
	}

	msgs, err := store.ListMessages(context.Background(), first.ThreadID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	users := 0
	for _, m := range msgs {
		if m.Role == "user" {
			users++
		}
	}
	if users != 1 {
		t.Errorf("got %d user messages, want 1", users)
	}
}

func TestHandleEventMidFlightDuplicateNoOp(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	r := &mockRetriever{
		searchFunc: func(ctx context.Context, query string, opts retrieval.SearchOptions) ([]retrieval.RankedResult, error) {
			close(started)
			<-release
			return []retrieval.RankedResult{{Solution: bootSolution(1), Score: 0.9}}, nil
		},
	}
	svc, _, _ := newTestService(t, r)

	ev := Event{EventKey: "evt-race", CustomerID: "cust-1", Message: "meu pc não liga"}

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.HandleEvent(context.Background(), ev)
		errCh <- err
	}()
	<-started

	// The redelivery is acknowledged as a no-op while the original delivery
	// is still producing the reply; it must not run a second turn.
	res, err := svc.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("mid-flight duplicate: %v", err)
	}
	if !res.Duplicate {
		t.Error("mid-flight duplicate not marked duplicate")
	}
	if res.Status != StatusAccepted {
		t.Errorf("status = %q, want %q", res.Status, StatusAccepted)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first delivery: %v", err)
	}
}

func TestHandleEventTerminalThreadRejected(t *testing.T) {
	svc, store, _ := newTestService(t, &mockRetriever{})

	thread := storage.Thread{
		ID:           "t-done",
		CustomerID:   "cust-1",
		Status:       storage.StatusResolved,
		StartedAt:    time.Now().UTC(),
		LastActiveAt: time.Now().UTC(),
	}
	if err := store.CreateThread(context.Background(), thread); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	ev := Event{EventKey: "evt-late", ThreadID: "t-done", Message: "oi de novo"}
	_, err := svc.HandleEvent(context.Background(), ev)
	if !errors.Is(err, ErrTerminalThread) {
		t.Errorf("err = %v, want ErrTerminalThread", err)
	}

	// The rejected event must leave no trace in the message log, and its
	// redelivery must keep failing the same way instead of replaying an
	// empty reply as a persisted duplicate.
	msgs, err := store.ListMessages(context.Background(), "t-done")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages on terminal thread, want 0", len(msgs))
	}

	res, err := svc.HandleEvent(context.Background(), ev)
	if !errors.Is(err, ErrTerminalThread) {
		t.Errorf("redelivery err = %v, want ErrTerminalThread", err)
	}
	if res != nil {
		t.Errorf("redelivery result = %+v, want nil", res)
	}

	// A persisted duplicate of the closing turn is still replayed: terminal
	// threads allow idempotent re-reads.
	now := time.Now().UTC()
	for _, m := range []storage.Message{
		{ID: "evt-final", ThreadID: "t-done", Role: "user", Content: "funcionou", CreatedAt: now},
		{ID: "msg-final", ThreadID: "t-done", Role: "assistant", Content: "Que ótimo!", CreatedAt: now},
	} {
		if _, err := store.AppendMessage(context.Background(), m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	replay, err := svc.HandleEvent(context.Background(), Event{
		EventKey: "evt-final", ThreadID: "t-done", Message: "funcionou",
	})
	if err != nil {
		t.Fatalf("replaying closing turn: %v", err)
	}
	if !replay.Duplicate || replay.Reply != "Que ótimo!" {
		t.Errorf("replay = %+v, want duplicate with original reply", replay)
	}
}

func TestHandleEventValidation(t *testing.T) {
	svc, _, _ := newTestService(t, &mockRetriever{})

	if _, err := svc.HandleEvent(context.Background(), Event{Message: "oi"}); err == nil {
		t.Error("missing event key accepted")
	}
	if _, err := svc.HandleEvent(context.Background(), Event{EventKey: "k"}); err == nil {
		t.Error("missing message accepted")
	}
}

func TestHandleEventPersistsDurableContext(t *testing.T) {
	svc, store, _ := newTestService(t, solutionRetriever(bootSolution(1)))

	res, err := svc.HandleEvent(context.Background(), Event{
		EventKey: "evt-ctx",
		Message:  "meu pc não liga",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	thread, err := store.GetThread(context.Background(), res.ThreadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	st, err := conversation.Load(thread, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(st.Context.ProblemsDiscussed) != 1 || st.Context.ProblemsDiscussed[0] != "boot_issue" {
		t.Errorf("persisted problems = %v", st.Context.ProblemsDiscussed)
	}
	if st.Scratch.CurrentProblemTag != "boot_issue" || st.Scratch.CurrentStep != 1 {
		t.Errorf("persisted scratch = %+v", st.Scratch)
	}
}

func TestHandleEventCustomerDirectory(t *testing.T) {
	svc, store, _ := newTestService(t, solutionRetriever(bootSolution(1)))
	svc.customers = customer.NewCache(store)
	ctx := context.Background()

	if err := store.SaveCustomer(ctx, storage.Customer{
		ID:        "cust-known",
		Name:      "João",
		UpdatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("SaveCustomer: %v", err)
	}

	// A known customer opening a new thread is greeted by name.
	res, err := svc.HandleEvent(ctx, Event{
		EventKey:   "evt-known",
		CustomerID: "cust-known",
		Message:    "meu pc não liga",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if !strings.HasPrefix(res.Reply, "Olá, João!") {
		t.Errorf("reply = %q, want greeting prefix", res.Reply)
	}

	// The greeting belongs to the thread opening only.
	followUp, err := svc.HandleEvent(ctx, Event{
		EventKey:   "evt-known-2",
		ThreadID:   res.ThreadID,
		CustomerID: "cust-known",
		Message:    "não funcionou",
	})
	if err != nil {
		t.Fatalf("HandleEvent follow-up: %v", err)
	}
	if strings.HasPrefix(followUp.Reply, "Olá,") {
		t.Errorf("follow-up reply = %q, greeted twice", followUp.Reply)
	}

	// First contact from an unknown customer registers a bare record.
	res2, err := svc.HandleEvent(ctx, Event{
		EventKey:   "evt-new",
		CustomerID: "cust-new",
		Message:    "tela azul",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if strings.HasPrefix(res2.Reply, "Olá,") {
		t.Errorf("reply = %q, unexpected greeting for unnamed customer", res2.Reply)
	}
	cust, err := store.GetCustomer(ctx, "cust-new")
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if cust.ID != "cust-new" {
		t.Errorf("registered customer = %+v", cust)
	}
}
