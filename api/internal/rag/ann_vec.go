//go:build sqlite_vec && cgo

package rag

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// регистрирует vec0 во всех соединениях mattn/go-sqlite3
	vec.Auto()
}

func defaultANN() annBackend { return vecBackend{} }

type vecBackend struct{}

func (vecBackend) Available() bool { return true }

func (vecBackend) Build(ctx context.Context, path string, vecs [][]float32) error {
	if len(vecs) == 0 {
		return fmt.Errorf("ann build: no vectors")
	}
	_ = os.Remove(path)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("ann open %s: %w", path, err)
	}
	defer db.Close()

	q := fmt.Sprintf(`CREATE VIRTUAL TABLE vec_chunks USING vec0(embedding float[%d])`, len(vecs[0]))
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ann create: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vec_chunks(rowid, embedding) VALUES (?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i, v := range vecs {
		// rowid = позиция + 1
		if _, err := stmt.ExecContext(ctx, i+1, encodeFloat32s(v)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("ann insert %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (vecBackend) Open(path string, dim int) (ANN, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	// одно соединение, открытое сразу: сборка держит свой файл, даже когда
	// его удалят или на его место ляжет новый
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ann open %s: %w", path, err)
	}
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM vec_chunks`).Scan(&n); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ann probe: %w", err)
	}
	return &vecIndex{db: db, dim: dim, n: n}, nil
}

type vecIndex struct {
	db  *sql.DB
	dim int
	n   int
}

func (x *vecIndex) Search(ctx context.Context, q []float32, k int) ([]Neighbor, error) {
	if len(q) != x.dim {
		return nil, fmt.Errorf("ann search: query dim %d, index dim %d", len(q), x.dim)
	}
	rows, err := x.db.QueryContext(ctx,
		`SELECT rowid, distance FROM vec_chunks WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		encodeFloat32s(q), min(k, x.n))
	if err != nil {
		return nil, fmt.Errorf("ann search: %w", err)
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var (
			rowid int64
			dist  float64
		)
		if err := rows.Scan(&rowid, &dist); err != nil {
			return nil, err
		}
		out = append(out, Neighbor{ID: int(rowid - 1), Distance: dist})
	}
	return out, rows.Err()
}

func (x *vecIndex) Len() int { return x.n }

func (x *vecIndex) Close() error { return x.db.Close() }
