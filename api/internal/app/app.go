// Package app собирает сервис из конфигурации: провайдеры, индекс, журнал, конвейер.
package app

import (
	"context"
	"errors"
	"path/filepath"

	"go.uber.org/zap"

	"math-mentor/api/internal/asr"
	"math-mentor/api/internal/config"
	"math-mentor/api/internal/handle"
	"math-mentor/api/internal/llm"
	"math-mentor/api/internal/memory"
	"math-mentor/api/internal/ocr"
	"math-mentor/api/internal/pipeline"
	"math-mentor/api/internal/rag"
	"math-mentor/api/internal/stages"
	"math-mentor/api/internal/telegram"
)

type App struct {
	Cfg        *config.Config
	Log        *zap.Logger
	Index      *rag.Index
	Memory     *memory.Memory
	Controller *pipeline.Controller
	OCR        ocr.Recognizer
	ASR        asr.Transcriber

	p *providers
}

func newApp(cfg *config.Config, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	return &App{Cfg: cfg, Log: log, p: &providers{cfg: cfg, log: log}}
}

// OpenIndex поднимает только индекс (для команд index ...).
func OpenIndex(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := newApp(cfg, log)
	if err := a.openIndex(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// OpenMemory поднимает только журнал задач (для команд cases ...).
func OpenMemory(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := newApp(cfg, log)
	if err := a.openMemory(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// New собирает всё. Индекс, который не удалось открыть или пересобрать,
// не мешает старту: конвейер идёт без справочного контекста до index rebuild.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := newApp(cfg, log)
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	gen, err := a.p.NewGenerator(ctx)
	if err != nil {
		return err
	}
	if err := a.openIndex(ctx); err != nil {
		return err
	}
	if err := a.openMemory(ctx); err != nil {
		return err
	}
	if a.OCR, err = a.p.NewRecognizer(ctx); err != nil {
		return err
	}
	a.ASR = a.p.NewTranscriber()

	prompts := stages.LoadPrompts(a.Cfg.PromptDir)
	a.Controller, err = pipeline.New(Roles(gen, prompts), a.Index, a.Memory, pipeline.Config{
		TopK:            a.Cfg.Retrieval.TopK,
		VerifyThreshold: a.Cfg.Thresholds.Verifier,
	}, a.Log)
	if err != nil {
		return err
	}
	a.Log.Info("app: ready",
		zap.String("llm", gen.Name()),
		zap.Int("chunks", a.Index.Len()),
		zap.Bool("ocr", a.OCR != nil),
		zap.Bool("asr", a.ASR != nil))
	return nil
}

// Roles собирает исполнителей этапов поверх одного генератора.
func Roles(gen llm.Generator, p stages.Prompts) pipeline.Roles {
	return pipeline.Roles{
		Interpreter: stages.NewInterpreter(gen, p.Parser),
		Planner:     stages.NewPlanner(gen, p.Router),
		Solver:      stages.NewSolver(gen, p.Solver),
		Verifier:    stages.NewVerifier(gen, p.Verifier),
		Explainer:   stages.NewExplainer(gen, p.Explainer),
	}
}

func (a *App) openIndex(ctx context.Context) error {
	emb, err := a.p.NewEmbedder(ctx)
	if err != nil {
		return err
	}
	r := a.Cfg.Retrieval
	var bundle rag.Bundle
	if r.VectorStorePath != "" {
		b, err := rag.OpenBadgerBundle(filepath.Join(r.VectorStorePath, "bundle"))
		if err != nil {
			return err
		}
		a.p.closers = append(a.p.closers, b.Close)
		bundle = b
	}
	ix, err := rag.New(emb, bundle, rag.Options{
		CorpusDir: r.KnowledgeBasePath,
		StoreDir:  r.VectorStorePath,
		ChunkSize: r.ChunkSize,
		Overlap:   r.ChunkOverlap,
	}, a.Log)
	if err != nil {
		return err
	}
	a.p.closers = append(a.p.closers, ix.Close)
	a.Index = ix
	if err := ix.Open(ctx); err != nil {
		a.Log.Warn("rag: index is not ready, retrieval disabled until rebuild", zap.Error(err))
	}
	return nil
}

func (a *App) openMemory(ctx context.Context) error {
	st, err := a.p.NewStore(ctx)
	if err != nil {
		return err
	}
	a.Memory, err = memory.New(ctx, st, a.Log)
	return err
}

// Handler: HTTP API поверх собранного сервиса.
func (a *App) Handler() *handle.Handle {
	return handle.New(handle.Deps{
		Runner:       a.Controller,
		Cases:        a.Memory,
		Index:        a.Index,
		OCR:          a.OCR,
		ASR:          a.ASR,
		OCRThreshold: a.Cfg.Thresholds.OCR,
		ASRThreshold: a.Cfg.Thresholds.ASR,
	}, a.Log)
}

func (a *App) TelegramRouter(bot telegram.Bot) *telegram.Router {
	return &telegram.Router{
		Bot:          bot,
		Runner:       a.Controller,
		Cases:        a.Memory,
		OCR:          a.OCR,
		ASR:          a.ASR,
		OCRThreshold: a.Cfg.Thresholds.OCR,
		ASRThreshold: a.Cfg.Thresholds.ASR,
		Log:          a.Log,
	}
}

// Close закрывает ресурсы в обратном порядке открытия.
func (a *App) Close() error {
	var errs []error
	for i := len(a.p.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.p.closers[i]())
	}
	a.p.closers = nil
	return errors.Join(errs...)
}
