package dialog

import "strings"

// Feedback classification outcomes for a customer reply to an attempted
// solution.
const (
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
	FeedbackUnclear  = "unclear"
)

// Negative phrases are checked first: "não funcionou" contains "funcionou"
// and must not read as positive.
var negativeFeedback = []string{
	"não funcionou", "nao funcionou", "não deu certo", "nao deu certo",
	"não resolveu", "nao resolveu", "não adiantou", "nao adiantou",
	"continua", "ainda não", "ainda nao", "mesmo problema", "piorou",
	"nada mudou", "sem sucesso",
}

var positiveFeedback = []string{
	"funcionou", "resolvido", "resolveu", "deu certo", "consegui",
	"obrigado", "obrigada", "valeu", "perfeito", "ótimo", "otimo",
	"era isso", "problema resolvido",
}

// ClassifyFeedback labels an utterance as positive, negative, or unclear
// using the fixed keyword sets.
func ClassifyFeedback(utterance string) string {
	lower := strings.ToLower(utterance)

	for _, phrase := range negativeFeedback {
		if strings.Contains(lower, phrase) {
			return FeedbackNegative
		}
	}
	for _, phrase := range positiveFeedback {
		if strings.Contains(lower, phrase) {
			return FeedbackPositive
		}
	}
	return FeedbackUnclear
}
