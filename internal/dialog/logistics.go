package dialog

import (
	"strings"
	"unicode"
)

// ServiceChoice is the customer's pick among the logistics options offered
// once remote remediation is exhausted.
type ServiceChoice string

const (
	ChoiceUnknown    ServiceChoice = ""
	ChoiceStoreVisit ServiceChoice = "store_visit"
	ChoicePickup     ServiceChoice = "courier_pickup"
	ChoiceVoucher    ServiceChoice = "voucher"
)

var choiceVocabulary = map[ServiceChoice][]string{
	ChoiceStoreVisit: {"loja", "presencial", "levar", "ir até", "ir ate", "balcão", "balcao", "1"},
	ChoicePickup:     {"coleta", "buscar", "retirada", "retirar", "transportadora", "courier", "2"},
	ChoiceVoucher:    {"vale", "voucher", "reembolso", "crédito", "credito", "estorno", "3"},
}

// choiceOrder matches the order the options are presented in; an utterance
// mentioning several options deterministically takes the first.
var choiceOrder = []ServiceChoice{ChoiceStoreVisit, ChoicePickup, ChoiceVoucher}

// ParseChoice maps a customer utterance onto a service choice, or
// ChoiceUnknown when no option is recognizable (routes to clarification).
func ParseChoice(utterance string) ServiceChoice {
	lower := strings.ToLower(utterance)
	for _, choice := range choiceOrder {
		for _, phrase := range choiceVocabulary[choice] {
			if len(phrase) == 1 {
				// Bare option numbers only match as a standalone token.
				if isStandaloneToken(lower, phrase) {
					return choice
				}
				continue
			}
			if strings.Contains(lower, phrase) {
				return choice
			}
		}
	}
	return ChoiceUnknown
}

// Address is the structured form collected before logistics handoff.
type Address struct {
	Street string
	City   string
	Raw    string
}

// ParseAddress extracts a best-effort structured address. The bar is
// deliberately low: one comma-separated line with a street number is enough;
// a short or number-free utterance is malformed and routes to clarification.
func ParseAddress(utterance string) (Address, bool) {
	raw := strings.TrimSpace(utterance)
	if len([]rune(raw)) < 10 || !containsDigit(raw) {
		return Address{}, false
	}

	addr := Address{Raw: raw}
	parts := strings.Split(raw, ",")
	addr.Street = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		addr.City = strings.TrimSpace(parts[len(parts)-1])
	}
	return addr, true
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func isStandaloneToken(text, token string) bool {
	for _, f := range strings.Fields(text) {
		if f == token {
			return true
		}
	}
	return false
}
