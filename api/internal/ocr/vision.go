package ocr

import (
	"strings"

	"math-mentor/api/internal/types"
	"math-mentor/api/internal/util"
)

// VisionPrompt: системная инструкция для мультимодальных моделей (gemini, gpt).
const VisionPrompt = `You read photos and scans of math problems.
Transcribe the problem exactly as written. Write formulas in plain text math notation
(x^2, sqrt(x), a/b, integral from 0 to 1 of ...). Do not solve the problem.

Reply with JSON only:
{"text": "the transcribed problem", "confidence": 0.0}

confidence is how sure you are that the transcription is complete and correct, from 0 to 1.
Use a low value for blurry, cut off or handwritten text you could not read well.`

const VisionUser = "Transcribe the math problem in this image. JSON only."

// plainTextConfidence: модель ответила текстом без JSON.
const plainTextConfidence = 0.3

// ParseVisionReply разбирает ответ {text, confidence}; текст без JSON берём
// как есть с низкой уверенностью.
func ParseVisionReply(engine, reply string) Result {
	var out struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := util.DecodeLoose(reply, &out); err != nil {
		return Result{Text: strings.TrimSpace(util.StripCodeFences(reply)), Confidence: plainTextConfidence, Engine: engine}
	}
	return Result{Text: strings.TrimSpace(out.Text), Confidence: types.Clamp01(out.Confidence), Engine: engine}
}
