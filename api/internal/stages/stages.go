// Package stages реализует роли конвейера поверх llm.Generator (разбор, план, решение,
// проверка, объяснение). При ошибке каждая роль вместе с ошибкой отдаёт свой
// детерминированный запасной результат; решать, что с ним делать, вызывающему.
package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"math-mentor/api/internal/llm"
	"math-mentor/api/internal/util"
)

// ErrUnparsable: ответ модели не разобрался в ожидаемую структуру.
var ErrUnparsable = errors.New("stages: unparsable model reply")

var (
	jsonOpts    = llm.Options{Temperature: 0.1, MaxTokens: 2000, JSON: true}
	solveOpts   = llm.Options{Temperature: 0.1, MaxTokens: 3000, JSON: true}
	explainOpts = llm.Options{Temperature: 0.3, MaxTokens: 2000}
)

// askJSON спрашивает модель и разбирает ответ в v.
func askJSON(ctx context.Context, gen llm.Generator, system, user string, opt llm.Options, v any) error {
	text, err := gen.Generate(ctx, llm.Prompt{System: system, User: user}, opt)
	if err != nil {
		return fmt.Errorf("%s: %w", gen.Name(), err)
	}
	if err := util.DecodeLoose(text, v); err != nil {
		return fmt.Errorf("%w: %s", ErrUnparsable, util.Truncate(strings.TrimSpace(text), 120))
	}
	return nil
}

func listOrNone(xs []string) string {
	if len(xs) == 0 {
		return "none"
	}
	return strings.Join(xs, "; ")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
