//go:build !(sqlite_vec && cgo)

package rag

import "context"

func defaultANN() annBackend { return noANN{} }

type noANN struct{}

func (noANN) Available() bool { return false }

func (noANN) Build(context.Context, string, [][]float32) error { return ErrANNUnavailable }

func (noANN) Open(string, int) (ANN, error) { return nil, ErrANNUnavailable }
