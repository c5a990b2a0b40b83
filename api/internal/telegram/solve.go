package telegram

import (
	"context"
	"errors"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"math-mentor/api/internal/pipeline"
	"math-mentor/api/internal/types"
)

// solve запускает прогон и редактирует статусное сообщение на каждом этапе.
func (r *Router) solve(chatID int64, req pipeline.Request) {
	timeout := r.RunTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	status, err := r.Bot.Send(tgbotapi.NewMessage(chatID, "⏳ "+types.StageInterpreting.Label()+"…"))
	if err == nil {
		req.Progress = func(s types.Stage) {
			text := "⏳ " + s.Label() + "…"
			if s == types.StageDone {
				text = "✅ " + s.Label()
			}
			_, _ = r.Bot.Send(tgbotapi.NewEditMessageText(chatID, status.MessageID, text))
		}
	}

	res, err := r.Runner.Run(ctx, req)
	if err != nil {
		var runErr *pipeline.RunError
		if errors.As(err, &runErr) {
			r.SendError(chatID, string(runErr.Stage), runErr.Err)
			return
		}
		r.SendError(chatID, "solve", err)
		return
	}

	if res.Stage == types.StageHaltClarify {
		pendingClarify.Store(chatID, &clarification{Parsed: res.Parsed, Kind: req.InputKind})
		setMode(chatID, modeAwaitClarification)
		r.send(chatID, formatClarification(res))
		return
	}
	r.log().Info("telegram: solved",
		zap.Int64("chat_id", chatID),
		zap.String("record_id", res.RecordID),
		zap.Bool("needs_hitl", res.NeedsHITL))
	r.sendWithKeyboard(chatID, formatResult(res), makeFeedbackKeyboard(res.RecordID))
}

func (r *Router) saveFeedback(chatID int64, id string, fb types.Feedback, comment string) {
	ok, err := r.Cases.SetFeedback(context.Background(), id, fb, comment)
	switch {
	case err != nil:
		r.SendError(chatID, "feedback", err)
	case !ok:
		r.send(chatID, "This solution is no longer in memory.")
	case fb == types.FeedbackCorrect:
		r.send(chatID, "Thanks! Marked as correct.")
	default:
		r.send(chatID, "Thanks! The correction will be used for similar problems.")
	}
}

func pipelineRequest(in capturedInput) pipeline.Request {
	return pipeline.Request{RawInput: in.Text, InputKind: in.Kind}
}
