package rag

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed kb/*.txt
var builtinKB embed.FS

// SeedKnowledgeBase кладёт встроенные справочники в dir; существующие файлы не трогает.
// Возвращает имена записанных файлов.
func SeedKnowledgeBase(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	entries, err := fs.ReadDir(builtinKB, "kb")
	if err != nil {
		return nil, err
	}
	var written []string
	for _, e := range entries {
		dst := filepath.Join(dir, e.Name())
		if _, err := os.Stat(dst); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return written, err
		}
		b, err := builtinKB.ReadFile("kb/" + e.Name())
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(dst, b, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", dst, err)
		}
		written = append(written, e.Name())
	}
	return written, nil
}
