package state

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryBackend is an in-memory Backend intended for tests and examples.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	data []byte
	meta Meta
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: map[string]memoryRecord{},
		now:     time.Now,
	}
}

func (b *MemoryBackend) Read(ctx context.Context, key string) ([]byte, Meta, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, Meta{}, false, err
	}
	b.mu.RLock()
	record, ok := b.records[key]
	b.mu.RUnlock()
	if !ok {
		return nil, Meta{}, false, nil
	}
	return bytes.Clone(record.data), cloneMeta(record.meta), true, nil
}

func (b *MemoryBackend) Write(ctx context.Context, key string, data []byte, meta Meta) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	if key == "" {
		return Meta{}, fmt.Errorf("state: key is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	current, exists := b.records[key]
	if err := checkPrecondition(key, meta.ETag, current.meta.ETag, exists); err != nil {
		return Meta{}, err
	}
	stored := describe(data, cloneMeta(meta))
	stored.UpdatedAt = b.now().UTC()
	b.records[key] = memoryRecord{data: bytes.Clone(data), meta: stored}
	return cloneMeta(stored), nil
}

func (b *MemoryBackend) Stat(ctx context.Context, key string) (Meta, bool, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, false, err
	}
	b.mu.RLock()
	record, ok := b.records[key]
	b.mu.RUnlock()
	if !ok {
		return Meta{}, false, nil
	}
	return cloneMeta(record.meta), true, nil
}

// Keys returns the stored keys in lexical order.
func (b *MemoryBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.records))
	for key := range b.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
