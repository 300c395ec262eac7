// Package intent классифицирует ответ клиента на звонок подтверждения.
package intent

import (
	"strings"
	"unicode"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// MinConfidence задаёт порог уверенности распознавания речи.
const MinConfidence = 0.6

const (
	digitConfirm = "1"
	digitCancel  = "2"
)

var (
	confirmPhrases = compile(
		// es
		"sí", "si", "confirmo", "confirmar", "confirmado", "vale", "de acuerdo", "correcto", "claro",
		"no cancelar",
		// it
		"confermo", "confermare", "confermato", "va bene", "certo", "esatto", "giusto",
		"non annullare",
		// en
		"yes", "yeah", "confirm", "confirmed", "ok", "okay", "sure", "correct",
		"don't cancel",
	)
	cancelPhrases = compile(
		// es
		"no", "cancelar", "cancela", "cancelo", "anular", "anula", "no quiero",
		// it
		"annulla", "annullare", "cancellare", "non voglio", "non lo voglio",
		// en
		"cancel", "cancelled", "don't want", "nope",
	)
)

// Input содержит то, что прислал голосовой провайдер.
type Input struct {
	Digits     string
	Speech     string
	Confidence float64
}

// Classify сопоставляет нажатые клавиши или речь с намерением клиента.
// Клавиши всегда важнее речи.
func Classify(in Input) domain.CallIntent {
	switch strings.Trim(in.Digits, " #*") {
	case digitConfirm:
		return domain.IntentConfirmed
	case digitCancel:
		return domain.IntentCancelled
	}

	if in.Confidence < MinConfidence {
		return domain.IntentUnclear
	}

	tokens := tokenize(in.Speech)
	if len(tokens) == 0 {
		return domain.IntentUnclear
	}

	confirm := matchAny(tokens, confirmPhrases)
	cancel := matchAny(tokens, cancelPhrases)
	switch {
	case confirm && !cancel:
		return domain.IntentConfirmed
	case cancel && !confirm:
		return domain.IntentCancelled
	default:
		return domain.IntentUnclear
	}
}

// tokenize приводит фразу к нижнему регистру и режет по пробелам и пунктуации.
func tokenize(s string) []string {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "’", "'")
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func compile(phrases ...string) [][]string {
	out := make([][]string, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, tokenize(p))
	}
	return out
}

// matchAny ищет фразу целиком как непрерывную последовательность токенов.
func matchAny(tokens []string, phrases [][]string) bool {
	for _, phrase := range phrases {
		if containsSeq(tokens, phrase) {
			return true
		}
	}
	return false
}

func containsSeq(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j := range phrase {
			if tokens[i+j] != phrase[j] {
				continue outer
			}
		}
		return true
	}
	return false
}
