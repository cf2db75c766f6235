// Package conversation defines the per-thread dialog state and the pure
// reduction rules that merge turn outputs into it. Durable context only
// grows; scratch signals are last-write-wins and rewritten every turn.
package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atendeai/helpdesk/internal/storage"
)

// WaitingFor is the closed set of things a turn can leave the dialog waiting
// on. It replaces the free-form signal bag so transitions stay exhaustively
// checkable.
type WaitingFor string

const (
	WaitingNone          WaitingFor = ""
	WaitingAddress       WaitingFor = "customer_address"
	WaitingServiceChoice WaitingFor = "service_choice"
	WaitingClarification WaitingFor = "clarification"
)

// Scratch holds transient per-turn signals passed between dialog nodes.
// Merging is last-write-wins; it is persisted with the thread only for
// resumability and carries no history.
type Scratch struct {
	WaitingFor           WaitingFor `json:"waiting_for,omitempty"`
	CurrentProblemTag    string     `json:"current_problem_tag,omitempty"`
	CurrentStep          int        `json:"current_step,omitempty"`
	LastSolutionID       string     `json:"last_solution_id,omitempty"`
	ShouldRequestAddress bool       `json:"should_request_address,omitempty"`
	RequiresEscalation   bool       `json:"requires_escalation,omitempty"`
}

// FeedbackEntry records one piece of customer feedback on an attempted solution.
type FeedbackEntry struct {
	SolutionID string    `json:"solution_id"`
	Helpful    bool      `json:"helpful"`
	Comment    string    `json:"comment,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EscalationEntry records one escalation decision.
type EscalationEntry struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// TopicEntry records one detected topic shift.
type TopicEntry struct {
	Topic      string    `json:"topic"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// Context is the accumulated durable state of a thread. Every list is
// append-only; a later turn can never erase a prior attempt or feedback
// entry. Mutation happens exclusively through Reduce.
type Context struct {
	ProblemsDiscussed  []string          `json:"problems_discussed,omitempty"`
	SolutionsAttempted []string          `json:"solutions_attempted,omitempty"`
	ClientAttempts     []string          `json:"client_attempts,omitempty"`
	FeedbackHistory    []FeedbackEntry   `json:"feedback_history,omitempty"`
	EscalationHistory  []EscalationEntry `json:"escalation_history,omitempty"`
	ExtractedKeywords  []string          `json:"extracted_keywords,omitempty"`
	TopicEvolution     []TopicEntry      `json:"topic_evolution,omitempty"`
	FrustrationLevel   int               `json:"frustration_level,omitempty"`
	AttemptCount       int               `json:"attempt_count,omitempty"`
}

// State is the in-memory view of one thread during a turn.
type State struct {
	Thread   storage.Thread
	Messages []storage.Message
	Context  Context
	Scratch  Scratch
}

// Load decodes the durable context and scratch blobs stored with a thread.
func Load(thread storage.Thread, messages []storage.Message) (*State, error) {
	s := &State{Thread: thread, Messages: messages}
	if thread.ContextJSON != "" && thread.ContextJSON != "{}" {
		if err := json.Unmarshal([]byte(thread.ContextJSON), &s.Context); err != nil {
			return nil, fmt.Errorf("decoding context for thread %s: %w", thread.ID, err)
		}
	}
	if thread.ScratchJSON != "" && thread.ScratchJSON != "{}" {
		if err := json.Unmarshal([]byte(thread.ScratchJSON), &s.Scratch); err != nil {
			return nil, fmt.Errorf("decoding scratch for thread %s: %w", thread.ID, err)
		}
	}
	return s, nil
}

// Encode serializes context and scratch back onto the thread record.
func (s *State) Encode() error {
	ctxData, err := json.Marshal(s.Context)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	scratchData, err := json.Marshal(s.Scratch)
	if err != nil {
		return fmt.Errorf("encoding scratch: %w", err)
	}
	s.Thread.ContextJSON = string(ctxData)
	s.Thread.ScratchJSON = string(scratchData)
	return nil
}
