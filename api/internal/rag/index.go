// Package rag собирает индекс справочных материалов (нарезка, эмбеддинги, поиск ближайших кусков).
package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"math-mentor/api/internal/llm"
	"math-mentor/api/internal/types"
)

// ErrNoEmbedder: индекс без эмбеддера не собрать, это ошибка конфигурации.
var ErrNoEmbedder = errors.New("rag: embedder is not configured")

// Файл ANN свой у каждой сборки; мета бандла хранит его имя.
const annSuffix = ".vec.db"

type Options struct {
	CorpusDir   string
	StoreDir    string // здесь лежат файлы ANN-индекса; пусто, значит без ANN
	ChunkSize   int
	Overlap     int
	BatchSize   int
	Concurrency int
}

type Index struct {
	emb    llm.Embedder
	bundle Bundle
	ann    annBackend
	opt    Options
	log    *zap.Logger

	buildMu sync.Mutex // одна сборка за раз
	cur     atomic.Pointer[snapshot]
}

// snapshot неизменяем после публикации; читатели берут его целиком.
type snapshot struct {
	chunks []Chunk
	vecs   [][]float32
	ann    ANN
}

// New создаёт индекс. bundle может быть nil, тогда индекс живёт только в памяти.
func New(emb llm.Embedder, bundle Bundle, opt Options, log *zap.Logger) (*Index, error) {
	if emb == nil {
		return nil, ErrNoEmbedder
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = DefaultChunkSize
	}
	if opt.Overlap < 0 {
		opt.Overlap = DefaultOverlap
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = 32
	}
	if opt.Concurrency <= 0 {
		opt.Concurrency = 4
	}
	ix := &Index{emb: emb, bundle: bundle, ann: defaultANN(), opt: opt, log: log}
	ix.cur.Store(&snapshot{})
	return ix, nil
}

// Open поднимает сохранённую сборку, если она согласована и сделана тем же эмбеддером;
// иначе делает полную пересборку из корпуса.
func (ix *Index) Open(ctx context.Context) error {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	if ix.bundle != nil {
		p, err := ix.bundle.Load(ctx)
		switch {
		case err != nil:
			ix.log.Warn("rag: bundle unreadable, rebuilding", zap.Error(err))
		case p == nil:
			ix.log.Info("rag: no stored index, building")
		case !p.Consistent():
			ix.log.Warn("rag: stored index inconsistent, rebuilding",
				zap.Int("chunks", len(p.Chunks)), zap.Int("vectors", len(p.Vectors)))
		case p.Meta.Chunks == 0:
			ix.log.Info("rag: stored index is empty, rescanning corpus")
		case p.Meta.Embedder != ix.emb.Name():
			ix.log.Info("rag: embedder changed, rebuilding",
				zap.String("stored", p.Meta.Embedder), zap.String("current", ix.emb.Name()))
		default:
			snap := &snapshot{chunks: p.Chunks, vecs: p.Vectors}
			snap.ann = ix.openOrRepairANN(ctx, p)
			ix.swap(snap)
			recordBuild("reload", nil, len(snap.chunks))
			ix.log.Info("rag: index loaded",
				zap.Int("chunks", len(snap.chunks)), zap.Bool("ann", snap.ann != nil))
			return nil
		}
	}
	return ix.rebuildLocked(ctx)
}

// Rebuild: всегда полная пересборка из каталога корпуса, кэш игнорируется.
func (ix *Index) Rebuild(ctx context.Context) error {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()
	return ix.rebuildLocked(ctx)
}

// Build собирает индекс по переданным документам и атомарно подменяет текущий.
func (ix *Index) Build(ctx context.Context, docs []Document) error {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()
	return ix.buildLocked(ctx, docs)
}

func (ix *Index) rebuildLocked(ctx context.Context) error {
	docs, err := LoadCorpus(ix.opt.CorpusDir)
	if err != nil {
		recordBuild("full", err, 0)
		return err
	}
	return ix.buildLocked(ctx, docs)
}

func (ix *Index) buildLocked(ctx context.Context, docs []Document) error {
	start := time.Now()
	var chunks []Chunk
	for _, d := range docs {
		chunks = append(chunks, ChunkDocument(d, ix.opt.ChunkSize, ix.opt.Overlap)...)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := ix.embedAll(ctx, texts)
	if err != nil {
		recordBuild("full", err, 0)
		return err
	}

	snap := &snapshot{chunks: chunks, vecs: vecs}
	dim := 0
	if len(vecs) > 0 {
		dim = len(vecs[0])
		for i, v := range vecs {
			if len(v) != dim {
				err := fmt.Errorf("rag: vector %d has dim %d, want %d", i, len(v), dim)
				recordBuild("full", err, 0)
				return err
			}
		}
	}
	annName := ix.buildANNFile(ctx, vecs)

	persisted := true
	if ix.bundle != nil {
		p := &Persisted{
			Meta: Meta{
				Embedder: ix.emb.Name(),
				Dim:      dim,
				Chunks:   len(chunks),
				BuiltAt:  time.Now().UTC(),
				HasANN:   annName != "",
				ANNFile:  annName,
			},
			Chunks:  chunks,
			Vectors: vecs,
		}
		// индекс в памяти рабочий и без сохранения; следующий Open пересоберёт
		if err := ix.bundle.Save(ctx, p); err != nil {
			persisted = false
			recordBuild("persist", err, len(chunks))
			ix.log.Error("rag: persist index", zap.Error(err))
			ix.removeANN(annName)
			annName = ""
		}
	}
	if persisted {
		ix.pruneANN(annName)
	}
	snap.ann = ix.openANN(annName, vecs)

	ix.swap(snap)
	recordBuild("full", nil, len(chunks))
	ix.log.Info("rag: index built",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Bool("ann", snap.ann != nil),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// embedAll режет тексты на батчи и эмбеддит их параллельно; порядок сохраняется.
func (ix *Index) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opt.Concurrency)
	for start := 0; start < len(texts); start += ix.opt.BatchSize {
		end := min(start+ix.opt.BatchSize, len(texts))
		g.Go(func() error {
			vs, err := ix.emb.Embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed chunks %d..%d: %w", start, end, err)
			}
			if len(vs) != end-start {
				return fmt.Errorf("embed chunks %d..%d: got %d vectors", start, end, len(vs))
			}
			for i, v := range vs {
				out[start+i] = normalize(v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (ix *Index) annEnabled() bool { return ix.opt.StoreDir != "" && ix.ann.Available() }

func (ix *Index) annPath(name string) string { return filepath.Join(ix.opt.StoreDir, name) }

// buildANNFile пишет ANN по vecs в новый файл и возвращает его имя; "" без ANN.
// Недописанный файл удаляется, чтобы его нельзя было принять за целый.
func (ix *Index) buildANNFile(ctx context.Context, vecs [][]float32) string {
	if !ix.annEnabled() || len(vecs) == 0 {
		return ""
	}
	if err := os.MkdirAll(ix.opt.StoreDir, 0o755); err != nil {
		ix.log.Warn("rag: ann dir", zap.Error(err))
		return ""
	}
	name := fmt.Sprintf("index-%d%s", time.Now().UnixNano(), annSuffix)
	if err := ix.ann.Build(ctx, ix.annPath(name), vecs); err != nil {
		ix.log.Warn("rag: ann build failed, using brute force", zap.Error(err))
		ix.removeANN(name)
		return ""
	}
	return name
}

// openANN открывает ANN сборки и принимает его, только если в нём ровно
// столько строк, сколько векторов: иначе id указывали бы не на те куски.
func (ix *Index) openANN(name string, vecs [][]float32) ANN {
	if name == "" || len(vecs) == 0 || !ix.annEnabled() {
		return nil
	}
	a, err := ix.ann.Open(ix.annPath(name), len(vecs[0]))
	if err != nil {
		ix.log.Warn("rag: ann open", zap.String("file", name), zap.Error(err))
		return nil
	}
	if a.Len() != len(vecs) {
		ix.log.Warn("rag: ann does not match stored vectors",
			zap.String("file", name), zap.Int("rows", a.Len()), zap.Int("vectors", len(vecs)))
		_ = a.Close()
		return nil
	}
	return a
}

// openOrRepairANN: ANN из меты бандла, а если его нет или он не сходится с
// векторами, пересобирается только ANN, без эмбеддингов.
func (ix *Index) openOrRepairANN(ctx context.Context, p *Persisted) ANN {
	if !ix.annEnabled() || len(p.Vectors) == 0 {
		return nil
	}
	if p.Meta.HasANN {
		if a := ix.openANN(p.Meta.ANNFile, p.Vectors); a != nil {
			return a
		}
	}
	name := ix.buildANNFile(ctx, p.Vectors)
	if name == "" {
		recordBuild("ann_repair", ErrANNUnavailable, 0)
		return nil
	}
	if ix.bundle != nil {
		fixed := *p
		fixed.Meta.HasANN = true
		fixed.Meta.ANNFile = name
		if err := ix.bundle.Save(ctx, &fixed); err != nil {
			recordBuild("ann_repair", err, 0)
			ix.log.Warn("rag: ann repair not persisted", zap.Error(err))
			ix.removeANN(name)
			return nil
		}
	}
	ix.pruneANN(name)
	recordBuild("ann_repair", nil, len(p.Vectors))
	return ix.openANN(name, p.Vectors)
}

func (ix *Index) removeANN(name string) {
	if name == "" {
		return
	}
	if err := os.Remove(ix.annPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		ix.log.Warn("rag: remove ann", zap.String("file", name), zap.Error(err))
	}
}

// pruneANN удаляет файлы ANN, на которые бандл больше не ссылается. Открытые
// читатели прежней сборки держат свой inode и дорабатывают на нём.
func (ix *Index) pruneANN(keep string) {
	if ix.opt.StoreDir == "" {
		return
	}
	matches, err := filepath.Glob(filepath.Join(ix.opt.StoreDir, "*"+annSuffix))
	if err != nil {
		return
	}
	for _, m := range matches {
		if name := filepath.Base(m); name != keep {
			ix.removeANN(name)
		}
	}
}

func (ix *Index) swap(s *snapshot) {
	old := ix.cur.Swap(s)
	// DB.Close дожидается начатых запросов; опоздавшие уйдут в перебор
	if old != nil && old.ann != nil {
		_ = old.ann.Close()
	}
}

// Search возвращает до k кусков по убыванию релевантности.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]types.RetrievedChunk, error) {
	snap := ix.cur.Load()
	if len(snap.chunks) == 0 || k <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	start := time.Now()
	defer func() { searchLatencySeconds.Observe(time.Since(start).Seconds()) }()

	qv, err := ix.emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(qv))
	}
	q := normalize(qv[0])
	k = min(k, len(snap.chunks))

	var hits []Neighbor
	backend := "brute"
	if snap.ann != nil {
		if hits, err = snap.ann.Search(ctx, q, k); err == nil {
			backend = "ann"
		} else {
			ix.log.Warn("rag: ann search failed, brute force", zap.Error(err))
		}
	}
	if backend == "brute" {
		hits = bruteForce(q, snap.vecs, k)
	}
	searchesTotal.WithLabelValues(backend).Inc()

	out := make([]types.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		if h.ID < 0 || h.ID >= len(snap.chunks) {
			continue
		}
		c := snap.chunks[h.ID]
		out = append(out, types.RetrievedChunk{
			Text:           c.Text,
			SourceID:       c.Source,
			RelevanceScore: Score(h.Distance),
		})
	}
	return out, nil
}

// Len: число кусков в активной сборке.
func (ix *Index) Len() int { return len(ix.cur.Load().chunks) }

// Close освобождает ANN активной сборки.
func (ix *Index) Close() error {
	if s := ix.cur.Swap(&snapshot{}); s != nil && s.ann != nil {
		return s.ann.Close()
	}
	return nil
}
