package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"math-mentor/api/internal/types"
)

func (r *Router) handleCallback(cb tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	cid := cb.Message.Chat.ID
	data := cb.Data
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cb.ID, "")) // ack

	switch {
	case data == cbInputYes:
		r.onInputYes(cid, cb.Message.MessageID)
	case data == cbInputNo:
		r.onInputNo(cid, cb.Message.MessageID)
	case strings.HasPrefix(data, cbFbOK):
		r.dropKeyboard(cid, cb.Message.MessageID)
		r.saveFeedback(cid, strings.TrimPrefix(data, cbFbOK), types.FeedbackCorrect, "")
	case strings.HasPrefix(data, cbFbBad):
		r.dropKeyboard(cid, cb.Message.MessageID)
		pendingComment.Store(cid, strings.TrimPrefix(data, cbFbBad))
		setMode(cid, modeAwaitComment)
		r.send(cid, "What is wrong? Send the correct answer or a short comment, or /skip.")
	}
}

func (r *Router) onInputYes(chatID int64, msgID int) {
	v, ok := pendingInput.LoadAndDelete(chatID)
	if !ok {
		r.send(chatID, "Nothing to confirm: send the problem again.")
		return
	}
	clearMode(chatID)
	r.dropKeyboard(chatID, msgID)
	in := v.(*capturedInput)
	r.solve(chatID, pipelineRequest(*in))
}

func (r *Router) onInputNo(chatID int64, msgID int) {
	if _, ok := pendingInput.Load(chatID); !ok {
		r.send(chatID, "Nothing to fix: send the problem again.")
		return
	}
	r.dropKeyboard(chatID, msgID)
	setMode(chatID, modeAwaitInputEdit)
	r.send(chatID, "Please type the problem exactly as it should be read.")
	// pendingInput остаётся: из него возьмём вид входа
}
