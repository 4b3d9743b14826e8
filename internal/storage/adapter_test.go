package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casekeeper/internal/apperr"
)

// memBackend is an in-memory Backend with an optional byte ceiling.
type memBackend struct {
	mu       sync.Mutex
	data     map[string][]byte
	capacity int
	failGet  error
}

func newMemBackend(capacity int) *memBackend {
	return &memBackend{data: map[string][]byte{}, capacity: capacity}
}

func (m *memBackend) used() int {
	n := 0
	for k, v := range m.data {
		n += len(k) + len(v)
	}
	return n
}

func (m *memBackend) Put(ctx context.Context, key string, value []byte) error {
	return m.PutMany(ctx, []Entry{{Key: key, Value: value}})
}

func (m *memBackend) PutMany(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capacity > 0 {
		used := m.used()
		for _, e := range entries {
			if prev, ok := m.data[e.Key]; ok {
				used -= len(e.Key) + len(prev)
			}
			used += len(e.Key) + len(e.Value)
		}
		if used > m.capacity {
			return apperr.QuotaExceeded(fmt.Errorf("full"))
		}
	}
	for _, e := range entries {
		m.data[e.Key] = append([]byte(nil), e.Value...)
	}
	return nil
}

func (m *memBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, false, m.failGet
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBackend) List(_ context.Context, prefix string) ([]string, error) {
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

func (m *memBackend) Close() error { return nil }

func (m *memBackend) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func newTestAdapter(t *testing.T, primary, secondary *memBackend) *Adapter {
	t.Helper()
	opts := []AdapterOption{}
	if secondary != nil {
		opts = append(opts, WithSecondary(func() (Backend, error) { return secondary, nil }))
	}
	a, err := NewAdapter(primary, opts...)
	require.NoError(t, err)
	return a
}

func TestAdapter_PrefersSecondary(t *testing.T) {
	primary, secondary := newMemBackend(0), newMemBackend(0)
	a := newTestAdapter(t, primary, secondary)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "k", []byte("v")))
	assert.True(t, secondary.has("k"))
	assert.False(t, primary.has("k"))

	got, found, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", string(got))
}

func TestAdapter_FallsBackWhenSecondaryFailsToOpen(t *testing.T) {
	primary := newMemBackend(0)
	opens := 0
	a, err := NewAdapter(primary, WithSecondary(func() (Backend, error) {
		opens++
		return nil, errors.New("unsupported environment")
	}))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "k1", []byte("v1")))
	require.NoError(t, a.Put(ctx, "k2", []byte("v2")))
	assert.True(t, primary.has("k1"))
	assert.Equal(t, 1, opens, "secondary initialisation is attempted once")

	st := a.Status()
	assert.False(t, st.SecondaryActive)
	assert.Contains(t, st.SecondaryError, "unsupported environment")
	assert.Equal(t, 2.0, testutil.ToFloat64(a.Metrics().fallbacks.WithLabelValues("put", fallbackUnavailable)))
}

func TestAdapter_QuotaFallbackToPrimary(t *testing.T) {
	primary, secondary := newMemBackend(0), newMemBackend(10)
	a := newTestAdapter(t, primary, secondary)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "big", []byte("0123456789abcdef")))
	assert.True(t, primary.has("big"))
	assert.False(t, secondary.has("big"))

	got, found, err := a.Get(ctx, "big")
	require.NoError(t, err)
	require.True(t, found, "reads fall through to the primary")
	assert.Equal(t, "0123456789abcdef", string(got))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics().fallbacks.WithLabelValues("put", fallbackQuota)))
}

func TestAdapter_SecondaryWriteErrorFallsBackToPrimary(t *testing.T) {
	primary, secondary := newMemBackend(0), NewMemory(0)
	a, err := NewAdapter(primary, WithSecondary(func() (Backend, error) { return secondary, nil }))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "k", []byte("before")))
	require.NoError(t, secondary.Close())

	require.NoError(t, a.Put(ctx, "k", []byte("after")))
	assert.True(t, primary.has("k"))
	got, found, err := a.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "after", string(got), "stale secondary copy must not shadow the primary")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics().fallbacks.WithLabelValues("put", fallbackWriteError)))
}

func TestAdapter_QuotaOnBothBackends(t *testing.T) {
	primary, secondary := newMemBackend(8), newMemBackend(8)
	a := newTestAdapter(t, primary, secondary)

	err := a.Put(context.Background(), "big", []byte("0123456789"))
	require.ErrorIs(t, err, apperr.ErrQuotaExceeded)
	assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(err))
}

func TestAdapter_NewerWriteDropsStaleCopy(t *testing.T) {
	primary, secondary := newMemBackend(0), newMemBackend(12)
	a := newTestAdapter(t, primary, secondary)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "k", []byte("short")))
	assert.True(t, secondary.has("k"))

	// Too big for the secondary: lands on the primary and the old copy goes away.
	require.NoError(t, a.Put(ctx, "k", []byte("much longer value")))
	assert.False(t, secondary.has("k"))
	got, _, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "much longer value", string(got))

	// Small again: back on the secondary, primary copy dropped.
	require.NoError(t, a.Put(ctx, "k", []byte("tiny")))
	assert.False(t, primary.has("k"))
}

func TestAdapter_DeleteAndListSpanBothBackends(t *testing.T) {
	primary, secondary := newMemBackend(0), newMemBackend(0)
	a := newTestAdapter(t, primary, secondary)
	ctx := context.Background()

	require.NoError(t, primary.Put(ctx, "backup:1", []byte("old")))
	require.NoError(t, a.Put(ctx, "backup:2", []byte("new")))

	keys, err := a.List(ctx, "backup:")
	require.NoError(t, err)
	assert.Equal(t, []string{"backup:1", "backup:2"}, keys)

	require.NoError(t, a.Delete(ctx, "backup:1"))
	require.NoError(t, a.Delete(ctx, "backup:1"))
	_, found, err := a.Get(ctx, "backup:1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAdapter_GetErrorIsSurfaced(t *testing.T) {
	primary, secondary := newMemBackend(0), newMemBackend(0)
	secondary.failGet = errors.New("io error")
	a := newTestAdapter(t, primary, secondary)

	_, _, err := a.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestAdapter_PutManyFallsBackAsOneUnit(t *testing.T) {
	primary, secondary := newMemBackend(0), newMemBackend(20)
	a := newTestAdapter(t, primary, secondary)
	ctx := context.Background()

	err := a.PutMany(ctx, []Entry{
		{Key: "a", Value: []byte("0123456789")},
		{Key: "b", Value: []byte("0123456789")},
	})
	require.NoError(t, err)
	assert.True(t, primary.has("a"))
	assert.True(t, primary.has("b"))
	assert.False(t, secondary.has("a"))
}

func TestNewAdapterRequiresPrimary(t *testing.T) {
	_, err := NewAdapter(nil)
	assert.Error(t, err)
}
