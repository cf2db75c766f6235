package dialog

import (
	"strings"
)

// Analysis is the structured output of the query-analysis node: a problem
// family, the lexical evidence for it, self-reported remediation attempts,
// and a frustration score. All classification is fixed-vocabulary keyword
// matching; there is no model call on this path.
type Analysis struct {
	ProblemTag       string
	Confidence       float64
	Keywords         []string
	ClientAttempts   []string
	FrustrationLevel int
}

// problemVocabulary maps each problem family to the phrases that indicate it.
// Multi-word phrases are matched first and count double toward confidence.
var problemVocabulary = map[string][]string{
	"boot_issue":    {"não liga", "nao liga", "não inicia", "nao inicia", "não dá boot", "desliga sozinho", "ligar", "boot"},
	"screen_issue":  {"sem imagem", "tela preta", "tela azul", "tela quebrada", "tela piscando", "tela", "monitor", "imagem"},
	"network_issue": {"sem internet", "não conecta", "nao conecta", "internet", "wifi", "wi-fi", "rede", "conexão", "conexao"},
	"perf_issue":    {"muito lento", "travando", "travado", "lento", "demora", "congela"},
	"audio_issue":   {"sem som", "áudio", "audio", "som", "microfone"},
	"printer_issue": {"não imprime", "nao imprime", "impressora", "imprimir"},
}

// problemTagOrder fixes the evaluation order so equal-score ties resolve the
// same way on every run.
var problemTagOrder = []string{
	"boot_issue", "screen_issue", "network_issue",
	"perf_issue", "audio_issue", "printer_issue",
}

// attemptMarkers signal that the customer already tried a remediation step.
// The full sentence containing the marker is recorded as a client attempt.
var attemptMarkers = []string{
	"já tentei", "ja tentei", "já reiniciei", "ja reiniciei",
	"já troquei", "ja troquei", "tentei", "reiniciei", "troquei",
	"verifiquei", "testei", "desliguei e liguei",
}

// frustrationWeights scores frustration markers; the total is capped at 5.
var frustrationWeights = map[string]int{
	"absurdo":       2,
	"ridículo":      2,
	"ridiculo":      2,
	"péssimo":       2,
	"pessimo":       2,
	"horrível":      2,
	"horrivel":      2,
	"inaceitável":   2,
	"inaceitavel":   2,
	"cansado":       1,
	"cansada":       1,
	"de novo":       1,
	"novamente":     1,
	"nada funciona": 2,
	"não aguento":   2,
	"nao aguento":   2,
	"droga":         1,
	"urgente":       1,
}

const maxFrustration = 5

// Analyze classifies a customer utterance against the fixed vocabularies.
func Analyze(utterance string) Analysis {
	lower := strings.ToLower(utterance)

	a := Analysis{
		ProblemTag:       "",
		FrustrationLevel: frustrationScore(lower),
		ClientAttempts:   detectAttempts(lower),
	}

	bestHits := 0
	for _, tag := range problemTagOrder {
		phrases := problemVocabulary[tag]
		hits := 0
		var matched []string
		for _, phrase := range phrases {
			if !strings.Contains(lower, phrase) {
				continue
			}
			weight := 1
			if strings.Contains(phrase, " ") {
				weight = 2
			}
			hits += weight
			matched = append(matched, phrase)
		}
		if hits > bestHits {
			bestHits = hits
			a.ProblemTag = tag
			a.Keywords = matched
		}
	}

	if bestHits > 0 {
		a.Confidence = float64(bestHits) / float64(bestHits+2)
	}
	return a
}

func frustrationScore(lower string) int {
	score := 0
	for marker, weight := range frustrationWeights {
		if strings.Contains(lower, marker) {
			score += weight
		}
	}
	// Shouting counts.
	if strings.Count(lower, "!") >= 2 {
		score++
	}
	if score > maxFrustration {
		score = maxFrustration
	}
	return score
}

func detectAttempts(lower string) []string {
	var attempts []string
	for _, sentence := range splitSentences(lower) {
		for _, marker := range attemptMarkers {
			if strings.Contains(sentence, marker) {
				attempts = append(attempts, strings.TrimSpace(sentence))
				break
			}
		}
	}
	return attempts
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == ',' || r == ';' || r == '\n'
	})
}
