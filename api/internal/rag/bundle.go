package rag

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	keyMeta    = []byte("rag/v1/meta")
	keyChunks  = []byte("rag/v1/chunks")
	keyVectors = []byte("rag/v1/vectors")
)

type Meta struct {
	Embedder string    `json:"embedder"`
	Dim      int       `json:"dim"`
	Chunks   int       `json:"chunks"`
	BuiltAt  time.Time `json:"built_at"`
	HasANN   bool      `json:"has_ann"`
	ANNFile  string    `json:"ann_file,omitempty"` // имя файла ANN этой сборки в StoreDir
}

type vectorPayload struct {
	Data [][]float32
}

// Persisted: то, что лежит в хранилище после сборки.
type Persisted struct {
	Meta    Meta
	Chunks  []Chunk
	Vectors [][]float32
}

// Consistent: число кусков совпадает с числом векторов, размерность одна.
func (p *Persisted) Consistent() bool {
	if p == nil || len(p.Chunks) != len(p.Vectors) || p.Meta.Chunks != len(p.Chunks) {
		return false
	}
	for _, v := range p.Vectors {
		if len(v) != p.Meta.Dim {
			return false
		}
	}
	return true
}

// Bundle: долговременное хранилище индекса. Load возвращает nil, nil, если пусто.
type Bundle interface {
	Load(ctx context.Context) (*Persisted, error)
	Save(ctx context.Context, p *Persisted) error
}

// BadgerBundle хранит мету, куски и векторы под префиксом rag/v1/ одной транзакцией.
type BadgerBundle struct {
	db *badger.DB
}

func NewBadgerBundle(db *badger.DB) *BadgerBundle { return &BadgerBundle{db: db} }

// OpenBadgerBundle открывает (или создаёт) badger в dir.
func OpenBadgerBundle(dir string) (*BadgerBundle, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open rag bundle %s: %w", dir, err)
	}
	return &BadgerBundle{db: db}, nil
}

func (b *BadgerBundle) Close() error { return b.db.Close() }

func (b *BadgerBundle) Load(ctx context.Context) (*Persisted, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var metaRaw, chunksRaw, vecRaw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		for _, kv := range []struct {
			key []byte
			dst *[]byte
		}{{keyMeta, &metaRaw}, {keyChunks, &chunksRaw}, {keyVectors, &vecRaw}} {
			item, err := txn.Get(kv.key)
			if err != nil {
				return err
			}
			if *kv.dst, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rag bundle load: %w", err)
	}

	p := &Persisted{}
	if err := json.Unmarshal(metaRaw, &p.Meta); err != nil {
		return nil, fmt.Errorf("rag bundle meta: %w", err)
	}
	if err := json.Unmarshal(chunksRaw, &p.Chunks); err != nil {
		return nil, fmt.Errorf("rag bundle chunks: %w", err)
	}
	var vp vectorPayload
	if err := gob.NewDecoder(bytes.NewReader(vecRaw)).Decode(&vp); err != nil {
		return nil, fmt.Errorf("rag bundle vectors: %w", err)
	}
	p.Vectors = vp.Data
	return p, nil
}

func (b *BadgerBundle) Save(ctx context.Context, p *Persisted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	metaRaw, err := json.Marshal(p.Meta)
	if err != nil {
		return err
	}
	chunksRaw, err := json.Marshal(p.Chunks)
	if err != nil {
		return err
	}
	var vecBuf bytes.Buffer
	if err := gob.NewEncoder(&vecBuf).Encode(vectorPayload{Data: p.Vectors}); err != nil {
		return fmt.Errorf("rag bundle encode vectors: %w", err)
	}
	// одна транзакция: читатель видит либо старую, либо новую сборку целиком
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyMeta, metaRaw); err != nil {
			return err
		}
		if err := txn.Set(keyChunks, chunksRaw); err != nil {
			return err
		}
		return txn.Set(keyVectors, vecBuf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("rag bundle save: %w", err)
	}
	return nil
}
