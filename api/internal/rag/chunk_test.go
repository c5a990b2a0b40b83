package rag

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-mentor/api/internal/types"
)

func makeLines(n, width int) []string {
	lines := make([]string, n)
	for i := range lines {
		head := fmt.Sprintf("L%02d:", i)
		lines[i] = head + strings.Repeat(string(rune('a'+i)), width-len(head))
	}
	return lines
}

// reconstruct склеивает куски, выкидывая повторённые строки перекрытия.
func reconstruct(chunks []Chunk) []string {
	var out []string
	next := 0
	for _, c := range chunks {
		lines := strings.Split(c.Text, "\n")
		skip := next - c.StartLine
		out = append(out, lines[skip:]...)
		next = c.EndLine + 1
	}
	return out
}

func TestChunkDocument_TwelveLinesReconstruct(t *testing.T) {
	lines := makeLines(12, 60)
	doc := Document{ID: "algebra.txt", Text: strings.Join(lines, "\n")}

	chunks := ChunkDocument(doc, 500, 3)
	require.Len(t, chunks, 2)

	assert.Equal(t, 0, chunks[0].StartLine)
	assert.Equal(t, 7, chunks[0].EndLine)
	assert.Equal(t, 5, chunks[1].StartLine, "second chunk is seeded with the last 3 lines")
	assert.Equal(t, 11, chunks[1].EndLine)

	assert.Equal(t, lines, reconstruct(chunks))
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 500)
		assert.Equal(t, "algebra.txt", c.Source)
	}
}

func TestChunkDocument_Edges(t *testing.T) {
	t.Run("empty text", func(t *testing.T) {
		assert.Empty(t, ChunkDocument(Document{ID: "x", Text: ""}, 500, 3))
		assert.Empty(t, ChunkDocument(Document{ID: "x", Text: "\n \n\t\n"}, 500, 3))
	})

	t.Run("short text is one trailing chunk", func(t *testing.T) {
		chunks := ChunkDocument(Document{ID: "x", Text: "a\r\nb"}, 500, 3)
		require.Len(t, chunks, 1)
		assert.Equal(t, "a\nb", chunks[0].Text)
	})

	t.Run("overlap seed trimmed to fit", func(t *testing.T) {
		lines := append(makeLines(4, 100), strings.Repeat("z", 399))
		chunks := ChunkDocument(Document{ID: "x", Text: strings.Join(lines, "\n")}, 500, 3)
		require.Len(t, chunks, 2)
		assert.Equal(t, 3, chunks[1].StartLine, "only one overlap line fits next to the long line")
		assert.Equal(t, lines, reconstruct(chunks))
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 500)
		}
	})

	t.Run("single line over budget stands alone", func(t *testing.T) {
		lines := []string{"short", strings.Repeat("y", 700), "tail"}
		chunks := ChunkDocument(Document{ID: "x", Text: strings.Join(lines, "\n")}, 500, 3)
		assert.Equal(t, lines, reconstruct(chunks))
	})

	t.Run("zero overlap", func(t *testing.T) {
		lines := makeLines(12, 60)
		chunks := ChunkDocument(Document{ID: "x", Text: strings.Join(lines, "\n")}, 500, 0)
		require.Len(t, chunks, 2)
		assert.Equal(t, 8, chunks[1].StartLine)
	})
}

func TestContextString(t *testing.T) {
	got := ContextString([]types.RetrievedChunk{
		{Text: "x = (-b ± sqrt(D)) / 2a", SourceID: "algebra.txt"},
		{Text: "P(A|B) = P(AB)/P(B)", SourceID: "probability.txt"},
	})
	assert.Equal(t,
		"[Source: algebra.txt]\nx = (-b ± sqrt(D)) / 2a\n\n---\n\n[Source: probability.txt]\nP(A|B) = P(AB)/P(B)",
		got)
	assert.Empty(t, ContextString(nil))
}
