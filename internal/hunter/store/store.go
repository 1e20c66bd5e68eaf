// Package store persists hunter performance records.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wastelandfi/wasteland/internal/hunter"
)

// ErrNotFound is returned when an address has no record yet.
var ErrNotFound = errors.New("hunter record not found")

// Store is a key-value home for hunter records, keyed by address.
type Store interface {
	Get(ctx context.Context, address string) (hunter.Record, error)
	Put(ctx context.Context, rec hunter.Record) error
	List(ctx context.Context) ([]hunter.Record, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
)

// Open returns the store for backend. dir is only used by LevelDB.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendLevelDB:
		return OpenLevelStore(dir)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// NormalizeAddress returns the checksummed form of a hex address.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address %q", address)
	}
	return common.HexToAddress(address).Hex(), nil
}

// key is case-insensitive so checksummed and lower-case forms share a record.
func key(address string) string {
	return strings.ToLower(address)
}

// MemoryStore keeps records in a map. Used in tests and when no data
// directory is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]hunter.Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]hunter.Record)}
}

func (s *MemoryStore) Get(_ context.Context, address string) (hunter.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key(address)]
	if !ok {
		return hunter.Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Put(_ context.Context, rec hunter.Record) error {
	if rec.Address == "" {
		return errors.New("record has no address")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key(rec.Address)] = rec
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]hunter.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]hunter.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
