package rag

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 3
)

// Document: один исходный файл справочника.
type Document struct {
	ID   string
	Text string
}

// Chunk: кусок документа; строки [StartLine, EndLine] включительно, с нуля.
type Chunk struct {
	Source    string `json:"source"`
	Text      string `json:"text"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// ChunkDocument режет текст по строкам: копит строки, пока длина не превысит size,
// затем закрывает кусок и начинает следующий с последних overlap строк.
// Хвост сбрасывается всегда. Размер считается в символах вместе с переводами строк.
// Если затравка из overlap строк вместе со следующей строкой не влезает, затравка
// укорачивается с начала; кусок больше size возможен только из одной длинной строки.
func ChunkDocument(doc Document, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	lines := strings.Split(strings.ReplaceAll(doc.Text, "\r\n", "\n"), "\n")
	lens := make([]int, len(lines))
	for i, l := range lines {
		lens[i] = utf8.RuneCountInString(l)
	}
	joined := func(idx []int) int {
		if len(idx) == 0 {
			return 0
		}
		n := len(idx) - 1
		for _, i := range idx {
			n += lens[i]
		}
		return n
	}

	var (
		out []Chunk
		cur []int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		parts := make([]string, len(cur))
		for j, i := range cur {
			parts[j] = lines[i]
		}
		text := strings.Join(parts, "\n")
		if strings.TrimSpace(text) == "" {
			return
		}
		out = append(out, Chunk{Source: doc.ID, Text: text, StartLine: cur[0], EndLine: cur[len(cur)-1]})
	}

	for i := range lines {
		if len(cur) > 0 && joined(cur)+1+lens[i] > size {
			flush()
			seed := cur[max(0, len(cur)-overlap):]
			for len(seed) > 0 && joined(seed)+1+lens[i] > size {
				seed = seed[1:]
			}
			cur = append([]int(nil), seed...)
		}
		cur = append(cur, i)
	}
	flush()
	return out
}
