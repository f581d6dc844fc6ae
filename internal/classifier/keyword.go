package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/intentrouter/internal/intent"
	"github.com/nextlevelbuilder/intentrouter/internal/turn"
)

type keywordRule struct {
	label   intent.Label
	urgency int
	terms   []string
}

// keywordRules are checked in rank order; every matching rule contributes its label.
var keywordRules = []keywordRule{
	{intent.MedicalAssessment, 4, []string{
		"dor", "doendo", "alergia", "inchaço", "inchado", "inchada", "vermelhidão", "sangramento",
		"febre", "coceira", "reação", "hematoma", "infecção", "pus",
		"pain", "allergy", "swelling", "swollen", "bleeding", "fever", "rash", "reaction",
	}},
	{intent.Scheduling, 2, []string{
		"agendar", "agenda", "marcar", "remarcar", "desmarcar", "cancelar", "horário", "sessão", "consulta",
		"amanhã", "segunda", "terça", "quarta", "quinta", "sexta", "sábado",
		"schedule", "book", "reschedule", "cancel", "appointment", "tomorrow",
	}},
	{intent.Sales, 2, []string{
		"preço", "valor", "quanto custa", "custa", "promoção", "desconto", "pacote", "parcela", "parcelar", "pix",
		"anúncio", "oferta", "price", "cost", "discount", "offer", "promo", "package",
	}},
	{intent.TechFAQ, 1, []string{
		"como funciona", "recuperação", "quanto tempo dura", "dura quanto", "resultado", "anestesia",
		"cuidados", "pós-operatório", "contraindicação", "procedimento",
		"how does", "recovery", "how long", "downtime", "procedure",
	}},
	{intent.GeneralInfo, 1, []string{
		"endereço", "onde fica", "funcionamento", "abre", "fecha", "estacionamento", "telefone",
		"address", "opening hours", "parking",
	}},
}

// KeywordClassifier is a deterministic classifier for standalone and dev use.
// It matches whole words (or phrases) against fixed pt-BR and English tables.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

func (KeywordClassifier) Classify(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}

	msg := " " + strings.Join(strings.FieldsFunc(req.Message, isSeparator), " ") + " "
	var (
		labels  []intent.Label
		urgency = 1
		hits    []string
	)
	for _, r := range keywordRules {
		for _, term := range r.terms {
			if strings.Contains(msg, " "+term+" ") {
				labels = append(labels, r.label)
				hits = append(hits, term)
				if r.urgency > urgency {
					urgency = r.urgency
				}
				break
			}
		}
	}

	if len(labels) == 0 {
		if len([]rune(strings.TrimSpace(req.Message))) < MinMessageLength {
			return Result{Urgency: turn.MinScore, Reasoning: "message too short to classify"}, nil
		}
		return Result{
			Labels:    []intent.Label{intent.GeneralInfo},
			Urgency:   turn.MinScore,
			Reasoning: "no keyword matched",
		}, nil
	}

	return Result{
		Labels:     labels,
		Urgency:    turn.Clamp(urgency),
		Reasoning:  "keywords: " + strings.Join(hits, ", "),
		Confidence: 0.6,
	}, nil
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\n', ',', '.', ';', ':', '!', '?', '(', ')', '"', '\'':
		return true
	}
	return false
}
