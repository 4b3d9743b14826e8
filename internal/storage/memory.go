package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"casekeeper/internal/apperr"
)

// Memory is a process-local Backend. A positive capacity bounds the summed
// key and value bytes the same way the primary store does.
type Memory struct {
	mu       sync.Mutex
	data     map[string][]byte
	capacity int64
	closed   bool
}

var _ Backend = (*Memory)(nil)

func NewMemory(capacity int64) *Memory {
	return &Memory{data: map[string][]byte{}, capacity: capacity}
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	return m.PutMany(ctx, []Entry{{Key: key, Value: value}})
}

func (m *Memory) PutMany(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperr.BackendUnavailable(fmt.Errorf("memory backend closed"))
	}
	if m.capacity > 0 {
		used := m.usedLocked()
		pending := map[string]int64{}
		for _, e := range entries {
			prev, ok := pending[e.Key]
			if !ok {
				if v, exists := m.data[e.Key]; exists {
					prev = int64(len(e.Key) + len(v))
				}
			}
			size := int64(len(e.Key) + len(e.Value))
			used += size - prev
			pending[e.Key] = size
		}
		if used > m.capacity {
			return apperr.QuotaExceeded(fmt.Errorf("memory backend: %d of %d bytes", used, m.capacity))
		}
	}
	for _, e := range entries {
		m.data[e.Key] = append([]byte(nil), e.Value...)
	}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// UsedBytes returns the summed key and value bytes.
func (m *Memory) UsedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedLocked()
}

func (m *Memory) usedLocked() int64 {
	var n int64
	for k, v := range m.data {
		n += int64(len(k) + len(v))
	}
	return n
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
