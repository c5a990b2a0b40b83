package stages

import (
	"context"
	"fmt"
	"strings"

	"math-mentor/api/internal/llm"
	"math-mentor/api/internal/types"
)

type Interpreter struct {
	gen    llm.Generator
	system string
}

func NewInterpreter(gen llm.Generator, system string) *Interpreter {
	return &Interpreter{gen: gen, system: orDefault(system, defaultParserPrompt)}
}

// ApplyCorrections: буквальные замены из правок ревьюеров, по порядку.
func ApplyCorrections(text string, patterns []types.CorrectionPattern) string {
	for _, p := range patterns {
		if p.Original == "" || p.Correction == "" {
			continue
		}
		text = strings.ReplaceAll(text, p.Original, p.Correction)
	}
	return text
}

// InterpretFallback возвращается, когда разбор не удался; просим пользователя уточнить.
func InterpretFallback(text string) types.ParsedProblem {
	return types.ParsedProblem{
		Text:                text,
		Topic:               types.TopicOther,
		NeedsClarification:  true,
		ClarificationReason: "Failed to parse structure",
		Confidence:          0.3,
	}
}

// Interpret превращает сырой ввод в ParsedProblem. Шаблоны исправлений
// применяются до вызова модели; при ошибке возвращается InterpretFallback.
func (r *Interpreter) Interpret(ctx context.Context, raw string, kind types.InputKind, patterns []types.CorrectionPattern) (types.ParsedProblem, error) {
	text := ApplyCorrections(raw, patterns)
	if kind == "" {
		kind = types.InputText
	}
	user := fmt.Sprintf("Input type: %s\nRaw input:\n%s\n\nParse this into structured JSON.", kind, text)

	var p types.ParsedProblem
	if err := askJSON(ctx, r.gen, r.system, user, jsonOpts, &p); err != nil {
		return InterpretFallback(text), err
	}
	return NormalizeParsed(p, text), nil
}

// NormalizeParsed чистит ответ модели или ручную правку: тема из списка,
// уверенность в [0,1], без пустых и повторяющихся элементов.
func NormalizeParsed(p types.ParsedProblem, fallbackText string) types.ParsedProblem {
	p.Text = strings.TrimSpace(p.Text)
	if p.Text == "" {
		p.Text = strings.TrimSpace(fallbackText)
	}
	p.Topic = types.NormalizeTopic(string(p.Topic))
	p.Subtopic = strings.TrimSpace(p.Subtopic)
	p.Variables = types.UniqueStrings(p.Variables)
	p.Constraints = types.UniqueStrings(p.Constraints)
	p.Given = types.UniqueStrings(p.Given)
	p.Asked = strings.TrimSpace(p.Asked)
	p.ClarificationReason = strings.TrimSpace(p.ClarificationReason)
	p.Confidence = types.Clamp01(p.Confidence)
	return p
}
