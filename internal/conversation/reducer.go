package conversation

import "github.com/atendeai/helpdesk/internal/storage"

// Reduce structurally merges a turn's partial context delta into the prior
// context. List fields concatenate; scalar fields take the new value when it
// is set and keep the old one otherwise. Partial deltas are the norm: a
// dialog node returns only the fields it produced, and no node can erase
// accumulated history.
func Reduce(prev, delta Context) Context {
	out := Context{
		ProblemsDiscussed:  appendStrings(prev.ProblemsDiscussed, delta.ProblemsDiscussed),
		SolutionsAttempted: appendStrings(prev.SolutionsAttempted, delta.SolutionsAttempted),
		ClientAttempts:     appendStrings(prev.ClientAttempts, delta.ClientAttempts),
		ExtractedKeywords:  appendStrings(prev.ExtractedKeywords, delta.ExtractedKeywords),
		FrustrationLevel:   prev.FrustrationLevel,
		AttemptCount:       prev.AttemptCount,
	}

	out.FeedbackHistory = append(append([]FeedbackEntry(nil), prev.FeedbackHistory...), delta.FeedbackHistory...)
	out.EscalationHistory = append(append([]EscalationEntry(nil), prev.EscalationHistory...), delta.EscalationHistory...)
	out.TopicEvolution = append(append([]TopicEntry(nil), prev.TopicEvolution...), delta.TopicEvolution...)

	if delta.FrustrationLevel != 0 {
		out.FrustrationLevel = delta.FrustrationLevel
	}
	if delta.AttemptCount != 0 {
		out.AttemptCount = delta.AttemptCount
	}
	return out
}

// MergeMessages merges incoming messages into an existing log, dropping any
// incoming message whose ID is already present. Order is preserved as
// existing-then-new-by-arrival; sequence numbers are assigned by the writer
// before merge, never here.
func MergeMessages(existing, incoming []storage.Message) []storage.Message {
	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		seen[m.ID] = true
	}

	out := append([]storage.Message(nil), existing...)
	for _, m := range incoming {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

func appendStrings(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	return append(append([]string(nil), a...), b...)
}
