package telegram

import (
	"sync"
	"time"

	"math-mentor/api/internal/types"
)

const (
	defaultDebounce = 1200 * time.Millisecond
	maxPixels       = 18_000_000
)

const (
	modeAwaitInputEdit     = "await_input_edit"
	modeAwaitClarification = "await_clarification"
	modeAwaitComment       = "await_comment"
)

var chatMode sync.Map // chatID -> string

func setMode(chatID int64, mode string) { chatMode.Store(chatID, mode) }
func getMode(chatID int64) string {
	if v, ok := chatMode.Load(chatID); ok {
		if s, _ := v.(string); s != "" {
			return s
		}
	}
	return ""
}
func clearMode(chatID int64) { chatMode.Delete(chatID) }

// capturedInput: распознанный текст, ждущий подтверждения пользователя.
type capturedInput struct {
	Text       string
	Kind       types.InputKind
	Confidence float64
}

// clarification: разбор, остановленный на уточнении; следующий текст
// пользователя заменяет problem_text и уходит в прогон как правка.
type clarification struct {
	Parsed types.ParsedProblem
	Kind   types.InputKind
}

type photoBatch struct {
	ChatID int64
	Key    string // "grp:<mediaGroupID>" | "chat:<chatID>"

	mu     sync.Mutex
	images [][]byte
	timer  *time.Timer
}

var (
	batches        sync.Map // key -> *photoBatch
	pendingInput   sync.Map // chatID -> *capturedInput
	pendingClarify sync.Map // chatID -> *clarification
	pendingComment sync.Map // chatID -> case id
)

func resetChat(chatID int64) {
	clearMode(chatID)
	pendingInput.Delete(chatID)
	pendingClarify.Delete(chatID)
	pendingComment.Delete(chatID)
}
