// Package ocr: распознавание текста задачи с фото.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"math-mentor/api/internal/types"
)

// DefaultFallbackBelow: ниже этой уверенности Chain пробует запасной движок.
const DefaultFallbackBelow = 0.3

var ErrEmptyImage = errors.New("ocr: empty image")

type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine"`
}

type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, image []byte, mime string) (Result, error)
}

// NeedsReview сообщает, что текст пуст или уверенность ниже порога и его надо показать пользователю на правку.
func NeedsReview(r Result, threshold float64) bool {
	return strings.TrimSpace(r.Text) == "" || r.Confidence < threshold
}

// Chain: основной движок и запасной на случай ошибки, пустого текста или низкой уверенности.
type Chain struct {
	Primary       Recognizer
	Secondary     Recognizer
	FallbackBelow float64
	Log           *zap.Logger
}

func (c *Chain) Name() string {
	if c.Secondary == nil {
		return c.Primary.Name()
	}
	return c.Primary.Name() + "+" + c.Secondary.Name()
}

func (c *Chain) Recognize(ctx context.Context, image []byte, mime string) (Result, error) {
	if len(image) == 0 {
		return Result{}, ErrEmptyImage
	}
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	below := c.FallbackBelow
	if below <= 0 {
		below = DefaultFallbackBelow
	}

	res, err := c.Primary.Recognize(ctx, image, mime)
	if err == nil && strings.TrimSpace(res.Text) != "" && res.Confidence >= below {
		return finish(res, c.Primary.Name()), nil
	}
	if c.Secondary == nil {
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", c.Primary.Name(), err)
		}
		return finish(res, c.Primary.Name()), nil
	}
	log.Info("ocr: falling back",
		zap.String("primary", c.Primary.Name()),
		zap.String("secondary", c.Secondary.Name()),
		zap.Float64("confidence", res.Confidence),
		zap.Error(err),
	)

	alt, altErr := c.Secondary.Recognize(ctx, image, mime)
	switch {
	case altErr != nil && err != nil:
		return Result{}, errors.Join(
			fmt.Errorf("%s: %w", c.Primary.Name(), err),
			fmt.Errorf("%s: %w", c.Secondary.Name(), altErr),
		)
	case altErr != nil:
		return finish(res, c.Primary.Name()), nil
	case err != nil || alt.Confidence >= res.Confidence:
		return finish(alt, c.Secondary.Name()), nil
	}
	return finish(res, c.Primary.Name()), nil
}

func finish(r Result, engine string) Result {
	r.Text = strings.TrimSpace(r.Text)
	r.Confidence = types.Clamp01(r.Confidence)
	if r.Engine == "" {
		r.Engine = engine
	}
	return r
}
