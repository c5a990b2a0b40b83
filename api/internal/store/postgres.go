package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"math-mentor/api/internal/types"
)

const schema = `
create table if not exists solved_cases (
  seq         integer primary key,
  id          text not null unique,
  created_at  timestamptz not null,
  input_kind  text not null,
  topic       text not null,
  feedback    text,
  record_json jsonb not null
)`

// PostgresStore: журнал в таблице solved_cases; seq задаёт порядок.
type PostgresStore struct{ DB *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{DB: db} }

// EnsureSchema создаёт таблицу, если её нет.
func (r *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

func (r *PostgresStore) Load(ctx context.Context) ([]types.CaseRecord, error) {
	const q = `select record_json from solved_cases order by seq`
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []types.CaseRecord
	for rows.Next() {
		var js []byte
		if err := rows.Scan(&js); err != nil {
			return nil, err
		}
		var rec types.CaseRecord
		if err := json.Unmarshal(js, &rec); err != nil {
			return nil, fmt.Errorf("decode case: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Save переписывает таблицу в одной транзакции; при ошибке откатываемся к старой версии.
func (r *PostgresStore) Save(ctx context.Context, recs []types.CaseRecord) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `delete from solved_cases`); err != nil {
		return err
	}
	const ins = `
insert into solved_cases (seq, id, created_at, input_kind, topic, feedback, record_json)
values ($1,$2,$3,$4,$5,$6,$7)`
	stmt, err := tx.PrepareContext(ctx, ins)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range recs {
		js, mErr := json.Marshal(rec)
		if mErr != nil {
			err = fmt.Errorf("encode case %s: %w", rec.ID, mErr)
			return err
		}
		var fb sql.NullString
		if rec.Feedback != nil {
			fb = sql.NullString{String: string(*rec.Feedback), Valid: true}
		}
		if _, err = stmt.ExecContext(ctx, i, rec.ID, rec.CreatedAt, string(rec.InputKind),
			string(rec.Parsed.Topic), fb, js); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Put вставляет или обновляет одну строку по seq.
func (r *PostgresStore) Put(ctx context.Context, pos int, rec types.CaseRecord) error {
	js, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode case %s: %w", rec.ID, err)
	}
	var fb sql.NullString
	if rec.Feedback != nil {
		fb = sql.NullString{String: string(*rec.Feedback), Valid: true}
	}
	const q = `
insert into solved_cases (seq, id, created_at, input_kind, topic, feedback, record_json)
values ($1,$2,$3,$4,$5,$6,$7)
on conflict (seq) do update set
  id = excluded.id, created_at = excluded.created_at, input_kind = excluded.input_kind,
  topic = excluded.topic, feedback = excluded.feedback, record_json = excluded.record_json`
	_, err = r.DB.ExecContext(ctx, q, pos, rec.ID, rec.CreatedAt, string(rec.InputKind),
		string(rec.Parsed.Topic), fb, js)
	return err
}
