package types

import "strings"

type Topic string

const (
	TopicAlgebra       Topic = "algebra"
	TopicProbability   Topic = "probability"
	TopicCalculus      Topic = "calculus"
	TopicLinearAlgebra Topic = "linear_algebra"
	TopicOther         Topic = "other"
)

// NormalizeTopic приводит ответ модели к допустимому значению; всё неизвестное: other.
func NormalizeTopic(s string) Topic {
	t := strings.ToLower(strings.TrimSpace(s))
	t = strings.NewReplacer(" ", "_", "-", "_").Replace(t)
	switch Topic(t) {
	case TopicAlgebra, TopicProbability, TopicCalculus, TopicLinearAlgebra:
		return Topic(t)
	}
	return TopicOther
}

type InputKind string

const (
	InputText  InputKind = "text"
	InputImage InputKind = "image"
	InputAudio InputKind = "audio"
)

func ParseInputKind(s string) (InputKind, bool) {
	switch k := InputKind(strings.ToLower(strings.TrimSpace(s))); k {
	case InputText, InputImage, InputAudio:
		return k, true
	case "":
		return InputText, true
	}
	return "", false
}

// ParsedProblem: результат этапа интерпретации (или ручная правка пользователя).
type ParsedProblem struct {
	Text                string   `json:"problem_text"`
	Topic               Topic    `json:"topic"`
	Subtopic            string   `json:"subtopic"`
	Variables           []string `json:"variables"`
	Constraints         []string `json:"constraints"`
	Given               []string `json:"given"`
	Asked               string   `json:"asked"`
	NeedsClarification  bool     `json:"needs_clarification"`
	ClarificationReason string   `json:"clarification_reason"`
	Confidence          float64  `json:"confidence"`
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func NormalizeDifficulty(s string) Difficulty {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d
	}
	return DifficultyMedium
}

// RouteInfo: план решения, только подсказка для решателя.
type RouteInfo struct {
	Topic                 Topic      `json:"topic"`
	Subtopic              string     `json:"subtopic"`
	SolutionStrategy      string     `json:"solution_strategy"`
	ToolsNeeded           []string   `json:"tools_needed"`
	Difficulty            Difficulty `json:"difficulty"`
	EstimatedSteps        int        `json:"estimated_steps"`
	SpecialConsiderations []string   `json:"special_considerations"`
}

// RetrievedChunk: фрагмент справочника с оценкой релевантности.
type RetrievedChunk struct {
	Text           string  `json:"text"`
	SourceID       string  `json:"source"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Clamp01 ограничивает уверенность диапазоном [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// UniqueStrings убирает пустые строки и дубликаты, сохраняя порядок.
func UniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
