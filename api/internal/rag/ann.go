package rag

import (
	"context"
	"errors"
)

// ErrANNUnavailable: бинарник собран без sqlite-vec; поиск идёт перебором.
var ErrANNUnavailable = errors.New("ann index capability unavailable")

// ANN: открытый на чтение индекс ближайших соседей по L2.
type ANN interface {
	Search(ctx context.Context, q []float32, k int) ([]Neighbor, error)
	// Len: число строк в индексе; должно совпадать с числом векторов сборки.
	Len() int
	Close() error
}

// annBackend реализуется в ann_vec.go (sqlite_vec && cgo) или ann_stub.go.
type annBackend interface {
	// Build пишет индекс по vecs (ID = позиция) в новый файл path.
	Build(ctx context.Context, path string, vecs [][]float32) error
	Open(path string, dim int) (ANN, error)
	Available() bool
}
