// Package telegram реализует чат-интерфейс. Задача приходит текстом, фото или голосом,
// дальше идут подтверждение распознанного текста, уточнение и отзыв о решении.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"math-mentor/api/internal/asr"
	"math-mentor/api/internal/ocr"
	"math-mentor/api/internal/pipeline"
	"math-mentor/api/internal/types"
)

const maxMessageLen = 3900

// Bot: то, что роутер использует из *tgbotapi.BotAPI.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type Cases interface {
	SetFeedback(ctx context.Context, id string, fb types.Feedback, comment string) (bool, error)
	Stats() types.Stats
}

type Router struct {
	Bot    Bot
	Runner Runner
	Cases  Cases
	OCR    ocr.Recognizer // nil: фото не принимаем
	ASR    asr.Transcriber

	OCRThreshold float64
	ASRThreshold float64
	Debounce     time.Duration // пауза перед склейкой альбома
	RunTimeout   time.Duration
	Log          *zap.Logger

	fetch func(ctx context.Context, url string) ([]byte, error)
}

func (r *Router) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	cid := msg.Chat.ID

	if msg.IsCommand() {
		r.HandleCommand(msg)
		return
	}

	switch {
	case len(msg.Photo) > 0:
		r.acceptPhoto(*msg)
	case msg.Voice != nil:
		r.acceptVoice(cid, msg.Voice.FileID, "voice.ogg")
	case msg.Audio != nil:
		r.acceptVoice(cid, msg.Audio.FileID, msg.Audio.FileName)
	case strings.TrimSpace(msg.Text) != "":
		r.acceptText(cid, strings.TrimSpace(msg.Text))
	}
}

// acceptText: текст либо отвечает на ожидание (правка, уточнение,
// комментарий к отзыву), либо новая задача.
func (r *Router) acceptText(chatID int64, text string) {
	switch getMode(chatID) {
	case modeAwaitInputEdit:
		kind := types.InputText
		if v, ok := pendingInput.LoadAndDelete(chatID); ok {
			kind = v.(*capturedInput).Kind
		}
		clearMode(chatID)
		r.solve(chatID, pipeline.Request{RawInput: text, InputKind: kind})
		return
	case modeAwaitClarification:
		clearMode(chatID)
		v, ok := pendingClarify.LoadAndDelete(chatID)
		if !ok {
			break
		}
		pc := v.(*clarification)
		ov := pc.Parsed
		ov.Text = text
		ov.NeedsClarification = false
		ov.ClarificationReason = ""
		r.solve(chatID, pipeline.Request{RawInput: text, InputKind: pc.Kind, Override: &ov})
		return
	case modeAwaitComment:
		clearMode(chatID)
		if v, ok := pendingComment.LoadAndDelete(chatID); ok {
			r.saveFeedback(chatID, v.(string), types.FeedbackIncorrect, text)
			return
		}
	}
	r.solve(chatID, pipeline.Request{RawInput: text, InputKind: types.InputText})
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, "Send a math problem as text, a photo or a voice message.\n"+
			"I will parse it, solve it step by step, check the solution and explain it.\n"+
			"Commands: /stats, /cancel, /skip, /health")
	case "health":
		r.send(cid, "✅ OK")
	case "stats":
		st := r.Cases.Stats()
		r.send(cid, fmt.Sprintf("Solved: %d\n✅ correct: %d\n❌ incorrect: %d\n⏳ pending: %d",
			st.Total, st.Correct, st.Incorrect, st.Pending))
	case "cancel":
		resetChat(cid)
		r.send(cid, "Ok, cancelled. Send a new problem.")
	case "skip":
		if getMode(cid) == modeAwaitComment {
			clearMode(cid)
			if v, ok := pendingComment.LoadAndDelete(cid); ok {
				r.saveFeedback(cid, v.(string), types.FeedbackIncorrect, "")
				return
			}
		}
		r.send(cid, "Nothing to skip.")
	default:
		r.send(cid, "Unknown command")
	}
}

func (r *Router) send(chatID int64, text string) {
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen] + "…"
	}
	if _, err := r.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log().Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) sendWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen] + "…"
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	if _, err := r.Bot.Send(msg); err != nil {
		r.log().Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) SendError(chatID int64, op string, err error) {
	r.log().Warn("telegram: "+op+" failed", zap.Int64("chat_id", chatID), zap.Error(err))
	r.send(chatID, fmt.Sprintf("%s error: %v", op, err))
}

// dropKeyboard убирает кнопки у уже отправленного сообщения.
func (r *Router) dropKeyboard(chatID int64, msgID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = r.Bot.Request(edit)
}
