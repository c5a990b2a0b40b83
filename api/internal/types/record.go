package types

import (
	"strings"
	"time"
)

type Feedback string

const (
	FeedbackPending   Feedback = "pending"
	FeedbackCorrect   Feedback = "correct"
	FeedbackIncorrect Feedback = "incorrect"
)

func ParseFeedback(s string) (Feedback, bool) {
	switch f := Feedback(strings.ToLower(strings.TrimSpace(s))); f {
	case FeedbackPending, FeedbackCorrect, FeedbackIncorrect:
		return f, true
	}
	return "", false
}

// CaseRecord: запись об одном завершённом прогоне.
// После создания меняются только Feedback и ReviewerComment.
type CaseRecord struct {
	ID               string              `json:"id"`
	CreatedAt        time.Time           `json:"created_at"`
	InputKind        InputKind           `json:"input_kind"`
	RawInput         string              `json:"raw_input"`
	Parsed           ParsedProblem       `json:"parsed"`
	RetrievedContext []RetrievedChunk    `json:"retrieved_context"`
	Answer           string              `json:"answer"`
	Explanation      string              `json:"explanation"`
	Verification     VerificationOutcome `json:"verification"`
	Feedback         *Feedback           `json:"feedback"`         // nil, пока нет отзыва
	ReviewerComment  *string             `json:"reviewer_comment"` // nil, пока нет отзыва
}

// FeedbackState возвращает pending для записей без отзыва.
func (r CaseRecord) FeedbackState() Feedback {
	if r.Feedback == nil {
		return FeedbackPending
	}
	return *r.Feedback
}

func (r CaseRecord) Comment() string {
	if r.ReviewerComment == nil {
		return ""
	}
	return *r.ReviewerComment
}

// CorrectionPattern: литеральная замена, выведенная из правки ревьюера.
type CorrectionPattern struct {
	Original    string        `json:"original"`
	Correction  string        `json:"correction"`
	DerivedFrom ParsedProblem `json:"derived_from"`
}

type Stats struct {
	Total     int `json:"total"`
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
	Pending   int `json:"pending"`
}
