package dialog

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/atendeai/helpdesk/internal/storage"
)

// Templates renders the canned customer-facing replies. Variant selection is
// seeded so tests are deterministic; production passes a time-derived seed.
type Templates struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewTemplates creates a template renderer with the given seed.
func NewTemplates(seed int64) *Templates {
	return &Templates{rng: rand.New(rand.NewSource(seed))}
}

func (t *Templates) pick(variants []string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return variants[t.rng.Intn(len(variants))]
}

// procedure mirrors the JSON stored in Solution.ProceduresJSON.
type procedure struct {
	Order            int    `json:"order"`
	Instruction      string `json:"instruction"`
	SafetyWarning    string `json:"safety_warning,omitempty"`
	EstimatedMinutes int    `json:"estimated_minutes,omitempty"`
}

// SolutionReply formats one remediation step into the outbound message.
func (t *Templates) SolutionReply(sol storage.Solution) string {
	intro := t.pick([]string{
		"Vamos tentar o seguinte:",
		"Certo, tente este procedimento:",
		"Entendi o problema. Siga estes passos:",
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n*%s*", intro, sol.Title)
	if sol.Step > 1 {
		fmt.Fprintf(&b, " (passo %d)", sol.Step)
	}
	b.WriteString("\n")

	var procs []procedure
	if err := json.Unmarshal([]byte(sol.ProceduresJSON), &procs); err != nil || len(procs) == 0 {
		fmt.Fprintf(&b, "\n%s\n", sol.Content)
	} else {
		for _, p := range procs {
			fmt.Fprintf(&b, "\n%d. %s", p.Order, p.Instruction)
			if p.SafetyWarning != "" {
				fmt.Fprintf(&b, "\n   ⚠ %s", p.SafetyWarning)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("\nMe avise se funcionou, por favor.")
	return b.String()
}

// EscalationApology is the universal fallback reply when the system cannot
// make forward progress.
func (t *Templates) EscalationApology() string {
	return t.pick([]string{
		"Sinto muito, não consegui resolver por aqui. Vou encaminhar seu caso para um de nossos técnicos, que entrará em contato em breve.",
		"Peço desculpas pelo transtorno. Seu atendimento foi encaminhado para nossa equipe técnica e você receberá um retorno em breve.",
	})
}

// RequestAddress asks for the customer's address once remote steps are
// exhausted.
func (t *Templates) RequestAddress() string {
	return t.pick([]string{
		"Esgotamos os procedimentos remotos para esse problema. Para seguirmos com o atendimento presencial, pode me informar seu endereço completo (rua, número e cidade)?",
		"Não há mais passos que possamos tentar à distância. Me passe seu endereço completo (rua, número e cidade) para verificarmos as opções de atendimento, por favor.",
	})
}

// LocationOptions presents the logistics choices after an address is
// collected.
func (t *Templates) LocationOptions(addr Address) string {
	where := addr.City
	if where == "" {
		where = "sua região"
	}
	return fmt.Sprintf(
		"Obrigado! Para %s temos as seguintes opções:\n\n"+
			"1. Levar o equipamento a uma loja credenciada\n"+
			"2. Coleta do equipamento no seu endereço\n"+
			"3. Vale-compra no valor do reparo\n\n"+
			"Qual opção prefere?", where)
}

// ChoiceConfirmed acknowledges the logistics handoff.
func (t *Templates) ChoiceConfirmed(choice ServiceChoice) string {
	switch choice {
	case ChoiceStoreVisit:
		return "Perfeito! Você receberá por e-mail o endereço da loja credenciada mais próxima e o número do seu atendimento. Obrigado pela paciência!"
	case ChoicePickup:
		return "Combinado! Nossa transportadora entrará em contato para agendar a coleta do equipamento. Obrigado pela paciência!"
	case ChoiceVoucher:
		return "Perfeito! O vale-compra será emitido e enviado para seu e-mail em até 2 dias úteis. Obrigado pela paciência!"
	}
	return t.EscalationApology()
}

// ClarifyFeedback asks whether the last step worked.
func (t *Templates) ClarifyFeedback() string {
	return t.pick([]string{
		"Só para confirmar: o procedimento que sugeri funcionou ou o problema continua?",
		"Não entendi bem — o passo anterior resolveu o problema?",
	})
}

// ClarifyAddress asks again for a usable address.
func (t *Templates) ClarifyAddress() string {
	return "Não consegui identificar o endereço. Pode enviar rua, número e cidade em uma única mensagem? Por exemplo: Rua das Flores, 123, São Paulo."
}

// ClarifyChoice asks again for a recognizable option.
func (t *Templates) ClarifyChoice() string {
	return "Não identifiquei a opção. Responda com 1 (loja), 2 (coleta) ou 3 (vale-compra), por favor."
}

// Resolved closes a successfully remediated thread.
func (t *Templates) Resolved() string {
	return t.pick([]string{
		"Que ótimo! Fico feliz que tenha resolvido. Se precisar de algo mais, é só chamar. 😊",
		"Excelente! Atendimento encerrado como resolvido. Qualquer coisa, estamos à disposição!",
	})
}
