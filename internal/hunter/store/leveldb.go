package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/wastelandfi/wasteland/internal/hunter"
)

var recordPrefix = []byte("hunter/")

// LevelStore persists records as JSON values in a LevelDB database.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore creates or opens a LevelDB database at dir.
func OpenLevelStore(dir string) (*LevelStore, error) {
	if dir == "" {
		return nil, errors.New("leveldb store requires a data directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", dir, err)
	}
	return &LevelStore{db: db}, nil
}

func recordKey(address string) []byte {
	return append(append([]byte{}, recordPrefix...), key(address)...)
}

func (s *LevelStore) Get(_ context.Context, address string) (hunter.Record, error) {
	data, err := s.db.Get(recordKey(address), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return hunter.Record{}, ErrNotFound
	}
	if err != nil {
		return hunter.Record{}, fmt.Errorf("failed to read record: %w", err)
	}
	var rec hunter.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return hunter.Record{}, fmt.Errorf("failed to decode record for %s: %w", address, err)
	}
	return rec, nil
}

func (s *LevelStore) Put(_ context.Context, rec hunter.Record) error {
	if rec.Address == "" {
		return errors.New("record has no address")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Put(recordKey(rec.Address), data, nil)
}

func (s *LevelStore) List(ctx context.Context) ([]hunter.Record, error) {
	iter := s.db.NewIterator(util.BytesPrefix(recordPrefix), nil)
	defer iter.Release()

	var out []hunter.Record
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec hunter.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *LevelStore) Close() error {
	return s.db.Close()
}
