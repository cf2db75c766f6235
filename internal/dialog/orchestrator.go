// Package dialog implements the finite-state conversation orchestrator: the
// node graph that turns one inbound customer utterance plus prior thread
// state into the next state and an outbound reply.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atendeai/helpdesk/internal/conversation"
	"github.com/atendeai/helpdesk/internal/retrieval"
	"github.com/atendeai/helpdesk/internal/storage"
)

// Node identifies one state of the dialog graph.
type Node string

const (
	NodeAnalyzeQuery    Node = "analyze_query"
	NodeSearchSolutions Node = "search_solutions"
	NodeProvideSupport  Node = "provide_support"
	NodeHandleFeedback  Node = "handle_feedback"
	NodeRequestAddress  Node = "request_address"
	NodeAnalyzeLocation Node = "analyze_location"
	NodeHandleChoice    Node = "handle_choice"
	NodeFinalizeTicket  Node = "finalize_ticket"
)

// Response types recorded on outbound messages.
const (
	ResponseSolution      = "solution"
	ResponseClarification = "clarification"
	ResponseAddressPrompt = "address_prompt"
	ResponseOptions       = "options"
	ResponseHandoff       = "handoff"
	ResponseResolved      = "resolved"
	ResponseEscalation    = "escalation"
)

// ErrTerminalThread is returned when a step is attempted on a thread that
// already reached a terminal status.
var ErrTerminalThread = errors.New("thread is terminal")

// maxNodeHops bounds a single turn. The graph is small; hitting the bound
// means a transition bug, handled like any other internal failure.
const maxNodeHops = 10

// Retriever is the retrieval surface the orchestrator consumes.
// Implemented by *retrieval.Engine.
type Retriever interface {
	Search(ctx context.Context, query string, opts retrieval.SearchOptions) ([]retrieval.RankedResult, error)
	ByTagStep(ctx context.Context, tag string, step int) (storage.Solution, error)
	HasNextStep(ctx context.Context, tag string, step int) (bool, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// StepResult is the outcome of one orchestrator turn.
type StepResult struct {
	Reply        string
	ResponseType string
	SolutionID   string
	Status       string
	AttemptCount int
	// SystemNotes are audit lines the caller persists as system messages.
	SystemNotes []string
	// Trace lists the nodes visited, in order.
	Trace []Node
}

// Orchestrator drives the dialog graph.
type Orchestrator struct {
	retriever Retriever
	templates *Templates
	clock     Clock
	logger    *slog.Logger
}

// New creates an Orchestrator.
func New(retriever Retriever, templates *Templates) *Orchestrator {
	return &Orchestrator{
		retriever: retriever,
		templates: templates,
		clock:     realClock{},
		logger:    slog.Default(),
	}
}

// NewWithClock creates an Orchestrator with a custom clock (for testing).
func NewWithClock(retriever Retriever, templates *Templates, clock Clock) *Orchestrator {
	o := New(retriever, templates)
	o.clock = clock
	return o
}

// turn carries intra-turn signals between nodes. It is rebuilt every step;
// anything that must survive the turn goes through the reducer instead.
type turn struct {
	utterance string
	analysis  Analysis
	solution  *storage.Solution
	resolved  bool
	result    StepResult
}

// Step runs one turn of the dialog for an utterance. Node failures never
// escape: any error (or panic) inside the graph is converted into an
// escalation outcome with a generic apology, and the raw cause is recorded
// only in the system-message audit trail.
func (o *Orchestrator) Step(ctx context.Context, st *conversation.State, utterance string) (res *StepResult, err error) {
	if storage.TerminalStatus(st.Thread.Status) {
		return nil, fmt.Errorf("%w: thread %s is %s", ErrTerminalThread, st.Thread.ID, st.Thread.Status)
	}

	t := &turn{utterance: utterance}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("dialog node panicked", "thread_id", st.Thread.ID, "panic", r)
			res = o.escalateOnFailure(st, t, fmt.Errorf("panic: %v", r))
			err = nil
		}
	}()

	node := NodeAnalyzeQuery
	for hops := 0; hops < maxNodeHops; hops++ {
		t.result.Trace = append(t.result.Trace, node)

		next, yield, nodeErr := o.runNode(ctx, node, st, t)
		if nodeErr != nil {
			o.logger.Warn("dialog node failed, escalating", "thread_id", st.Thread.ID, "node", node, "error", nodeErr)
			return o.escalateOnFailure(st, t, nodeErr), nil
		}
		if yield {
			t.result.Status = st.Thread.Status
			t.result.AttemptCount = st.Context.AttemptCount
			return &t.result, nil
		}
		node = next
	}

	return o.escalateOnFailure(st, t, fmt.Errorf("node budget exhausted after %d hops", maxNodeHops)), nil
}

func (o *Orchestrator) runNode(ctx context.Context, node Node, st *conversation.State, t *turn) (Node, bool, error) {
	switch node {
	case NodeAnalyzeQuery:
		return o.analyzeQuery(st, t)
	case NodeSearchSolutions:
		return o.searchSolutions(ctx, st, t)
	case NodeProvideSupport:
		return o.provideSupport(st, t)
	case NodeHandleFeedback:
		return o.handleFeedback(ctx, st, t)
	case NodeRequestAddress:
		return o.requestAddress(st, t)
	case NodeAnalyzeLocation:
		return o.analyzeLocation(st, t)
	case NodeHandleChoice:
		return o.handleChoice(st, t)
	case NodeFinalizeTicket:
		return o.finalizeTicket(st, t)
	}
	return "", false, fmt.Errorf("unknown node %q", node)
}

// escalateOnFailure is the orchestrator failure boundary: the thread is
// marked escalated, the customer gets a generic apology, and the raw error
// goes only into the audit trail.
func (o *Orchestrator) escalateOnFailure(st *conversation.State, t *turn, cause error) *StepResult {
	now := o.clock.Now()
	st.Thread.Status = storage.StatusEscalated
	st.Context = conversation.Reduce(st.Context, conversation.Context{
		EscalationHistory: []conversation.EscalationEntry{{Reason: "internal_error", Timestamp: now}},
	})
	st.Scratch = conversation.Scratch{RequiresEscalation: true}

	t.result.Reply = o.templates.EscalationApology()
	t.result.ResponseType = ResponseEscalation
	t.result.Status = storage.StatusEscalated
	t.result.AttemptCount = st.Context.AttemptCount
	t.result.SystemNotes = append(t.result.SystemNotes, fmt.Sprintf("escalated on internal failure: %v", cause))
	return &t.result
}
