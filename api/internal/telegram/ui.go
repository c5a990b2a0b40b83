package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"math-mentor/api/internal/pipeline"
)

const (
	cbInputYes = "input_yes"
	cbInputNo  = "input_no"
	cbFbOK     = "fb_ok:"
	cbFbBad    = "fb_bad:"
)

// Подтверждение распознанного с фото/голоса текста
func makeInputConfirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	yes := tgbotapi.NewInlineKeyboardButtonData("Yes, solve it", cbInputYes)
	no := tgbotapi.NewInlineKeyboardButtonData("No, I'll fix it", cbInputNo)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(yes, no))
}

func makeFeedbackKeyboard(recordID string) tgbotapi.InlineKeyboardMarkup {
	ok := tgbotapi.NewInlineKeyboardButtonData("✅ Correct", cbFbOK+recordID)
	bad := tgbotapi.NewInlineKeyboardButtonData("❌ Incorrect", cbFbBad+recordID)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(ok, bad))
}

func formatCapture(text string, confidence float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I read the problem like this (confidence %.0f%%):\n\n", confidence*100)
	b.WriteString(text)
	b.WriteString("\n\nIs it right?")
	return b.String()
}

func formatClarification(res *pipeline.Result) string {
	var b strings.Builder
	b.WriteString("🤔 I need a clarification before solving.\n")
	b.WriteString(strings.TrimPrefix(res.HITLReason, "Parser: "))
	if t := strings.TrimSpace(res.Parsed.Text); t != "" {
		b.WriteString("\n\nMy reading: ")
		b.WriteString(t)
	}
	b.WriteString("\n\nPlease send the corrected problem text.")
	return b.String()
}

func formatResult(res *pipeline.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📘 Topic: %s\n", res.Parsed.Topic)
	fmt.Fprintf(&b, "🎯 Answer: %s\n", res.FinalAnswer)
	fmt.Fprintf(&b, "Confidence: %.0f%%", res.Confidence*100)
	if !res.Verification.IsCorrect {
		b.WriteString(" · ⚠️ verifier disagrees")
	}
	b.WriteString("\n")
	if res.NeedsHITL {
		fmt.Fprintf(&b, "🔎 Needs human review: %s\n", res.HITLReason)
	}
	if e := strings.TrimSpace(res.Explanation); e != "" {
		b.WriteString("\n")
		b.WriteString(e)
		b.WriteString("\n")
	}
	if len(res.Similar) > 0 {
		b.WriteString("\nSimilar solved problems:\n")
		for _, s := range res.Similar {
			fmt.Fprintf(&b, "• %s → %s\n", s.Problem, s.Answer)
		}
	}
	b.WriteString("\nWas this solution correct?")
	return b.String()
}
