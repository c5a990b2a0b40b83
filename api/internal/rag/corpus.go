package rag

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"math-mentor/api/internal/types"
)

// LoadCorpus читает *.txt и *.md из dir в порядке имён.
// Отсутствующая или пустая папка: пустой корпус, не ошибка.
func LoadCorpus(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read corpus dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".txt", ".md":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	docs := make([]Document, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if strings.TrimSpace(string(b)) == "" {
			continue
		}
		docs = append(docs, Document{ID: name, Text: string(b)})
	}
	return docs, nil
}

// ContextString склеивает куски в контекст для решателя и проверяющего.
func ContextString(chunks []types.RetrievedChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, fmt.Sprintf("[Source: %s]\n%s", c.SourceID, c.Text))
	}
	return strings.Join(parts, "\n\n---\n\n")
}
