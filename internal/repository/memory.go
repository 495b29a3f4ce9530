package repository

import (
	"context"
	"sync"
)

// MemoryKVStore keeps records in process memory. It backs tests, the
// local-only CLI and the failover path.
type MemoryKVStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{records: make(map[string][]byte)}
}

func (r *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.records[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), val...), nil
}

func (r *MemoryKVStore) Set(ctx context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[key] = append([]byte(nil), value...)
	return nil
}

func (r *MemoryKVStore) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
	return nil
}
