//go:build sqlite_vec && cgo

package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-mentor/api/internal/llm/llmtest"
)

func TestVecIndex_MatchesBruteForce(t *testing.T) {
	ctx := context.Background()
	corpus := seededCorpus(t)
	docs, err := LoadCorpus(corpus)
	require.NoError(t, err)

	emb := &llmtest.HashEmbedder{Dim: 128}
	var texts []string
	for _, d := range docs {
		for _, c := range ChunkDocument(d, DefaultChunkSize, DefaultOverlap) {
			texts = append(texts, c.Text)
		}
	}
	raw, err := emb.Embed(ctx, texts)
	require.NoError(t, err)
	vecs := make([][]float32, len(raw))
	for i, v := range raw {
		vecs[i] = normalize(v)
	}

	path := filepath.Join(t.TempDir(), "index"+annSuffix)
	be := vecBackend{}
	require.NoError(t, be.Build(ctx, path, vecs))
	a, err := be.Open(path, len(vecs[0]))
	require.NoError(t, err)
	defer a.Close()
	require.Equal(t, len(vecs), a.Len())

	for _, q := range annQueries {
		qv, err := emb.Embed(ctx, []string{q})
		require.NoError(t, err)
		nq := normalize(qv[0])

		got, err := a.Search(ctx, nq, 5)
		require.NoError(t, err)
		want := bruteForce(nq, vecs, 5)
		require.Len(t, got, len(want), q)
		for i := range want {
			assert.Equal(t, want[i].ID, got[i].ID, "%s: rank %d", q, i)
			assert.InDelta(t, want[i].Distance, got[i].Distance, 1e-4, "%s: rank %d", q, i)
		}
	}
}

func TestVecIndex_KeepsFileAfterRemoval(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index"+annSuffix)
	vecs := [][]float32{{1, 0}, {0, 1}}
	be := vecBackend{}
	require.NoError(t, be.Build(ctx, path, vecs))
	a, err := be.Open(path, 2)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, os.Remove(path))
	got, err := a.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].ID)
}
