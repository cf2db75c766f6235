package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Thread statuses. Transitions are monotone toward the terminal set
// (resolved, escalated, archived); a terminal thread accepts no further
// orchestrator steps.
const (
	StatusActive    = "active"
	StatusResolved  = "resolved"
	StatusEscalated = "escalated"
	StatusAbandoned = "abandoned"
	StatusArchived  = "archived"
)

// TerminalStatus reports whether a thread status permits no further steps.
func TerminalStatus(status string) bool {
	switch status {
	case StatusResolved, StatusEscalated, StatusArchived:
		return true
	}
	return false
}

type Thread struct {
	ID                string
	CustomerID        string
	Status            string
	StartedAt         time.Time
	LastActiveAt      time.Time
	TotalMessages     int
	UserMessages      int
	AssistantMessages int
	SystemMessages    int
	IssueResolved     bool
	ContextJSON       string // durable ConversationContext, JSON
	ScratchJSON       string // per-turn scratch signals, JSON (last write wins)
}

type Message struct {
	ID              string
	ThreadID        string
	Role            string // "user", "assistant", "system"
	Content         string
	SequenceNumber  int
	CreatedAt       time.Time
	UserIntent      string
	UserSentiment   string
	ResponseType    string
	SolutionID      string
	ConfidenceScore float64
}

// Solution is one step of a multi-step remediation procedure. Steps for a
// problem tag form a contiguous 1..N sequence; the absence of step N+1 is
// the terminal signal for the dialog.
type Solution struct {
	ID             string
	ProblemTag     string
	Step           int
	Title          string
	Content        string
	ProceduresJSON string // ordered instruction list, JSON
	ResourcesJSON  string
	Keywords       string // space-separated lexical search terms
	Category       string
	Difficulty     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CacheEntry struct {
	QueryHash       string
	NormalizedQuery string
	ResultsJSON     string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	LastHitAt       time.Time
	HitCount        int
}

type Customer struct {
	ID          string
	Name        string
	Email       string
	Phone       string
	AddressJSON string
	UpdatedAt   time.Time
}
