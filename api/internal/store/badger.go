package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"math-mentor/api/internal/types"
)

// Раскладка ключей:
//
//	cases/head              -> номер текущего поколения (uint64, big endian)
//	cases/v1/<gen>/<pos>    -> запись журнала
//
// Put пишет один ключ текущего поколения одной транзакцией. Save пишет
// новое поколение пачками и последним шагом переключает head, поэтому
// размер журнала не упирается в лимит одной транзакции.
var headKey = []byte("cases/head")

func genPrefix(gen uint64) []byte { return []byte(fmt.Sprintf("cases/v1/%020d/", gen)) }

func caseKey(gen uint64, pos int) []byte {
	return []byte(fmt.Sprintf("cases/v1/%020d/%020d", gen, pos))
}

// BadgerStore кладёт каждую запись под ключ с порядковым номером;
// порядок ключей и есть порядок журнала.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(db *badger.DB) *BadgerStore { return &BadgerStore{db: db} }

func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func readHead(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(headKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var gen uint64
	err = item.Value(func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("bad %s value", headKey)
		}
		gen = binary.BigEndian.Uint64(v)
		return nil
	})
	return gen, err
}

func (s *BadgerStore) Load(_ context.Context) ([]types.CaseRecord, error) {
	var recs []types.CaseRecord
	err := s.db.View(func(txn *badger.Txn) error {
		gen, err := readHead(txn)
		if err != nil {
			return err
		}
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: genPrefix(gen)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec types.CaseRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}

// Put записывает одну запись журнала (новую в конец или изменённую на месте).
func (s *BadgerStore) Put(_ context.Context, pos int, rec types.CaseRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode case %s: %w", rec.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		gen, err := readHead(txn)
		if err != nil {
			return err
		}
		return txn.Set(caseKey(gen, pos), v)
	})
}

// Save переписывает журнал целиком в новое поколение. До переключения head
// читатели видят старую версию; недописанное поколение стирается следующим Save.
func (s *BadgerStore) Save(_ context.Context, recs []types.CaseRecord) error {
	var cur uint64
	if err := s.db.View(func(txn *badger.Txn) (err error) {
		cur, err = readHead(txn)
		return err
	}); err != nil {
		return err
	}
	next := cur + 1
	if err := s.dropGeneration(next); err != nil {
		return fmt.Errorf("drop leftover generation: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, rec := range recs {
		v, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode case %s: %w", rec.ID, err)
		}
		if err := wb.Set(caseKey(next, i), v); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write generation %d: %w", next, err)
	}

	head := make([]byte, 8)
	binary.BigEndian.PutUint64(head, next)
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.Set(headKey, head) }); err != nil {
		return fmt.Errorf("switch head: %w", err)
	}
	// старое поколение больше не читается; ошибка очистки не портит журнал
	_ = s.dropGeneration(cur)
	return nil
}

func (s *BadgerStore) dropGeneration(gen uint64) error {
	var keys [][]byte
	if err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: genPrefix(gen)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	}); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}
