package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atendeai/helpdesk/internal/conversation"
	"github.com/atendeai/helpdesk/internal/retrieval"
	"github.com/atendeai/helpdesk/internal/storage"
)

// analyzeQuery classifies the utterance and routes the turn: waiting-for
// states take precedence, then feedback on a prior solution, then a fresh
// search.
func (o *Orchestrator) analyzeQuery(st *conversation.State, t *turn) (Node, bool, error) {
	t.analysis = Analyze(t.utterance)
	now := o.clock.Now()

	delta := conversation.Context{
		ExtractedKeywords: t.analysis.Keywords,
		ClientAttempts:    t.analysis.ClientAttempts,
	}
	if t.analysis.FrustrationLevel > st.Context.FrustrationLevel {
		delta.FrustrationLevel = t.analysis.FrustrationLevel
	}
	if t.analysis.ProblemTag != "" && !contains(st.Context.ProblemsDiscussed, t.analysis.ProblemTag) {
		delta.ProblemsDiscussed = []string{t.analysis.ProblemTag}
		delta.TopicEvolution = []conversation.TopicEntry{{
			Topic:      t.analysis.ProblemTag,
			Timestamp:  now,
			Confidence: t.analysis.Confidence,
		}}
	}
	st.Context = conversation.Reduce(st.Context, delta)

	t.result.SystemNotes = append(t.result.SystemNotes, fmt.Sprintf(
		"analysis: tag=%s confidence=%.2f frustration=%d attempts=%d",
		orDash(t.analysis.ProblemTag), t.analysis.Confidence,
		t.analysis.FrustrationLevel, len(t.analysis.ClientAttempts)))

	switch st.Scratch.WaitingFor {
	case conversation.WaitingAddress:
		return NodeAnalyzeLocation, false, nil
	case conversation.WaitingServiceChoice:
		return NodeHandleChoice, false, nil
	}

	if st.Scratch.LastSolutionID != "" && st.Context.AttemptCount > 0 {
		return NodeHandleFeedback, false, nil
	}
	return NodeSearchSolutions, false, nil
}

// searchSolutions fetches the next candidate: a direct (tag, step) lookup
// when continuing a known procedure, a ranked search otherwise.
func (o *Orchestrator) searchSolutions(ctx context.Context, st *conversation.State, t *turn) (Node, bool, error) {
	// An escalation signal persisted by an earlier turn short-circuits
	// straight to finalization; no further candidates are fetched.
	if st.Scratch.RequiresEscalation {
		return NodeFinalizeTicket, false, nil
	}

	// Continuing a known procedure: direct step lookup.
	if st.Scratch.CurrentProblemTag != "" && st.Scratch.CurrentStep > 0 {
		next := st.Scratch.CurrentStep + 1
		sol, err := o.retriever.ByTagStep(ctx, st.Scratch.CurrentProblemTag, next)
		if err == nil {
			t.solution = &sol
			st.Context = conversation.Reduce(st.Context, conversation.Context{SolutionsAttempted: []string{sol.ID}})
			return NodeProvideSupport, false, nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			// End of procedure: no more remote steps, move to logistics.
			st.Scratch.ShouldRequestAddress = true
			return NodeRequestAddress, false, nil
		}
		return "", false, fmt.Errorf("looking up (%s, %d): %w", st.Scratch.CurrentProblemTag, next, err)
	}

	if st.Scratch.ShouldRequestAddress {
		return NodeRequestAddress, false, nil
	}

	query := t.utterance
	if t.analysis.ProblemTag != "" {
		query = t.analysis.ProblemTag + " " + query
	}
	results, err := o.retriever.Search(ctx, query, retrieval.SearchOptions{})
	if err != nil {
		// Store failure is not "no solution found": escalate.
		return "", false, fmt.Errorf("searching solutions: %w", err)
	}
	if len(results) == 0 {
		return NodeFinalizeTicket, false, nil
	}

	top := results[0].Solution
	t.solution = &top
	st.Context = conversation.Reduce(st.Context, conversation.Context{SolutionsAttempted: []string{top.ID}})
	return NodeProvideSupport, false, nil
}

// provideSupport formats the chosen solution into the outbound reply and
// always counts the attempt.
func (o *Orchestrator) provideSupport(st *conversation.State, t *turn) (Node, bool, error) {
	st.Context = conversation.Reduce(st.Context, conversation.Context{AttemptCount: st.Context.AttemptCount + 1})

	if t.solution == nil {
		st.Context = conversation.Reduce(st.Context, conversation.Context{
			EscalationHistory: []conversation.EscalationEntry{{Reason: "no_solution", Timestamp: o.clock.Now()}},
		})
		t.result.Reply = o.templates.EscalationApology()
		t.result.ResponseType = ResponseEscalation
		st.Thread.Status = storage.StatusEscalated
		return "", true, nil
	}

	st.Scratch = conversation.Scratch{
		CurrentProblemTag: t.solution.ProblemTag,
		CurrentStep:       t.solution.Step,
		LastSolutionID:    t.solution.ID,
	}

	t.result.Reply = o.templates.SolutionReply(*t.solution)
	t.result.ResponseType = ResponseSolution
	t.result.SolutionID = t.solution.ID
	return "", true, nil
}

// handleFeedback classifies the reply to the previous solution. Feedback is
// recorded unconditionally, whatever the classification.
func (o *Orchestrator) handleFeedback(ctx context.Context, st *conversation.State, t *turn) (Node, bool, error) {
	label := ClassifyFeedback(t.utterance)
	now := o.clock.Now()

	st.Context = conversation.Reduce(st.Context, conversation.Context{
		FeedbackHistory: []conversation.FeedbackEntry{{
			SolutionID: st.Scratch.LastSolutionID,
			Helpful:    label == FeedbackPositive,
			Comment:    strings.TrimSpace(t.utterance),
			Timestamp:  now,
		}},
	})
	t.result.SystemNotes = append(t.result.SystemNotes, fmt.Sprintf("feedback on %s: %s", st.Scratch.LastSolutionID, label))

	switch label {
	case FeedbackPositive:
		t.resolved = true
		return NodeFinalizeTicket, false, nil
	case FeedbackNegative:
		hasNext, err := o.retriever.HasNextStep(ctx, st.Scratch.CurrentProblemTag, st.Scratch.CurrentStep)
		if err != nil {
			return "", false, fmt.Errorf("checking next step for %s: %w", st.Scratch.CurrentProblemTag, err)
		}
		if hasNext {
			return NodeSearchSolutions, false, nil
		}
		st.Scratch.ShouldRequestAddress = true
		return NodeRequestAddress, false, nil
	}

	st.Scratch.WaitingFor = conversation.WaitingClarification
	t.result.Reply = o.templates.ClarifyFeedback()
	t.result.ResponseType = ResponseClarification
	return "", true, nil
}

// requestAddress asks for the customer's address and yields.
func (o *Orchestrator) requestAddress(st *conversation.State, t *turn) (Node, bool, error) {
	st.Scratch = conversation.Scratch{
		CurrentProblemTag:    st.Scratch.CurrentProblemTag,
		CurrentStep:          st.Scratch.CurrentStep,
		LastSolutionID:       st.Scratch.LastSolutionID,
		ShouldRequestAddress: true,
		WaitingFor:           conversation.WaitingAddress,
	}
	t.result.Reply = o.templates.RequestAddress()
	t.result.ResponseType = ResponseAddressPrompt
	return "", true, nil
}

// analyzeLocation interprets the customer's address and presents the
// logistics options. A malformed address routes back to clarification, not
// to an error.
func (o *Orchestrator) analyzeLocation(st *conversation.State, t *turn) (Node, bool, error) {
	addr, ok := ParseAddress(t.utterance)
	if !ok {
		t.result.Reply = o.templates.ClarifyAddress()
		t.result.ResponseType = ResponseClarification
		return "", true, nil
	}

	t.result.SystemNotes = append(t.result.SystemNotes, fmt.Sprintf("address collected: %s", addr.Raw))
	st.Scratch.WaitingFor = conversation.WaitingServiceChoice

	t.result.Reply = o.templates.LocationOptions(addr)
	t.result.ResponseType = ResponseOptions
	return "", true, nil
}

// handleChoice interprets the service choice and hands the thread off to
// logistics. The orchestrator never completes logistics itself.
func (o *Orchestrator) handleChoice(st *conversation.State, t *turn) (Node, bool, error) {
	choice := ParseChoice(t.utterance)
	if choice == ChoiceUnknown {
		t.result.Reply = o.templates.ClarifyChoice()
		t.result.ResponseType = ResponseClarification
		return "", true, nil
	}

	now := o.clock.Now()
	st.Thread.Status = storage.StatusEscalated
	st.Context = conversation.Reduce(st.Context, conversation.Context{
		EscalationHistory: []conversation.EscalationEntry{{
			Reason:    "logistics:" + string(choice),
			Timestamp: now,
		}},
	})
	st.Scratch = conversation.Scratch{}

	t.result.SystemNotes = append(t.result.SystemNotes, fmt.Sprintf("handed off to logistics: %s", choice))
	t.result.Reply = o.templates.ChoiceConfirmed(choice)
	t.result.ResponseType = ResponseHandoff
	return "", true, nil
}

// finalizeTicket closes the thread as resolved or escalated and always
// leaves a terminal audit message.
func (o *Orchestrator) finalizeTicket(st *conversation.State, t *turn) (Node, bool, error) {
	if t.resolved {
		st.Thread.Status = storage.StatusResolved
		st.Thread.IssueResolved = true
		st.Scratch = conversation.Scratch{}
		t.result.Reply = o.templates.Resolved()
		t.result.ResponseType = ResponseResolved
		t.result.SystemNotes = append(t.result.SystemNotes, "ticket finalized: resolved")
		return "", true, nil
	}

	st.Thread.Status = storage.StatusEscalated
	st.Context = conversation.Reduce(st.Context, conversation.Context{
		EscalationHistory: []conversation.EscalationEntry{{Reason: "no_solution_found", Timestamp: o.clock.Now()}},
	})
	st.Scratch = conversation.Scratch{}
	t.result.Reply = o.templates.EscalationApology()
	t.result.ResponseType = ResponseEscalation
	t.result.SystemNotes = append(t.result.SystemNotes, "ticket finalized: escalated")
	return "", true, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
