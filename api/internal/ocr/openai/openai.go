// Package openai: распознавание фото задачи vision-моделью OpenAI (gpt-4o и совместимые).
package openai

import (
	"context"

	llmopenai "math-mentor/api/internal/llm/openai"
	"math-mentor/api/internal/ocr"
	"math-mentor/api/internal/util"
)

type Recognizer struct {
	eng *llmopenai.Engine
}

func New(e *llmopenai.Engine) *Recognizer { return &Recognizer{eng: e} }

func (r *Recognizer) Name() string { return "gpt" }

func (r *Recognizer) Recognize(ctx context.Context, image []byte, mime string) (ocr.Result, error) {
	if len(image) == 0 {
		return ocr.Result{}, ocr.ErrEmptyImage
	}
	txt, err := r.eng.Vision(ctx, ocr.VisionPrompt, ocr.VisionUser, image, util.PickMIME(mime, "", image))
	if err != nil {
		return ocr.Result{}, err
	}
	return ocr.ParseVisionReply(r.Name(), txt), nil
}
