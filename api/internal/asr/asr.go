// Package asr: распознавание речи и приведение продиктованной математики к символам.
package asr

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var ErrEmptyAudio = errors.New("asr: empty audio")

type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, filename string) (Result, error)
}

// NeedsReview сообщает, что текст пуст или уверенность ниже порога и его надо показать на правку.
func NeedsReview(r Result, threshold float64) bool {
	return strings.TrimSpace(r.Text) == "" || r.Confidence < threshold
}

type phrase struct {
	re  *regexp.Regexp
	sym string
}

// порядок важен: длинные фразы раньше своих подстрок
var mathPhrases = compilePhrases([][2]string{
	{"square root of", "sqrt("},
	{"raised to the power of", "^"},
	{"to the power of", "^"},
	{"raised to", "^"},
	{"squared", "^2"},
	{"cubed", "^3"},
	{"divided by", "/"},
	{"multiplied by", "*"},
	{"times", "*"},
	{"plus", "+"},
	{"minus", "-"},
	{"is equal to", "="},
	{"equals", "="},
	{"natural log of", "ln("},
	{"natural log", "ln"},
	{"log base", "log_"},
	{"sine of", "sin("},
	{"cosine of", "cos("},
	{"tangent of", "tan("},
	{"infinity", "∞"},
	{"pi", "π"},
})

func compilePhrases(pairs [][2]string) []phrase {
	out := make([]phrase, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, phrase{re: regexp.MustCompile(`\b` + regexp.QuoteMeta(p[0]) + `\b`), sym: p[1]})
	}
	return out
}

var (
	spaceBeforeCaret = regexp.MustCompile(`\s+\^`)
	spaceAfterParen  = regexp.MustCompile(`\(\s+`)
	manySpaces       = regexp.MustCompile(`\s{2,}`)
)

// NormalizeMathSpeech переводит текст в нижний регистр и заменяет словесные
// обороты на символы только по границам слов ("pi" не трогает "pizza").
func NormalizeMathSpeech(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	for _, p := range mathPhrases {
		s = p.re.ReplaceAllLiteralString(s, p.sym)
	}
	s = spaceBeforeCaret.ReplaceAllString(s, "^")
	s = spaceAfterParen.ReplaceAllString(s, "(")
	s = manySpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
