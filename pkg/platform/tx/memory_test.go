package tx

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterStore struct {
	mu     sync.Mutex
	values map[string]int
}

func (s *counterStore) Snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

func (s *counterStore) Restore(state any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = state.(map[string]int)
}

func (s *counterStore) incr(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key]++
}

func (s *counterStore) get(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

func TestInMemory_RollsBackOnError(t *testing.T) {
	store := &counterStore{values: map[string]int{"a": 1}}
	runner := NewInMemory(store)

	err := runner.RunInTx(context.Background(), func(ctx context.Context) error {
		store.incr("a")
		store.incr("b")
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, store.get("a"))
	assert.Equal(t, 0, store.get("b"))
}

func TestInMemory_NestedJoinsOuter(t *testing.T) {
	store := &counterStore{values: map[string]int{}}
	runner := NewInMemory(store)

	err := runner.RunInTx(context.Background(), func(ctx context.Context) error {
		store.incr("outer")
		return runner.RunInTx(ctx, func(ctx context.Context) error {
			store.incr("inner")
			return nil
		})
	})

	require.NoError(t, err)
	assert.Equal(t, 1, store.get("outer"))
	assert.Equal(t, 1, store.get("inner"))
}

func TestInMemory_SerializesWriters(t *testing.T) {
	store := &counterStore{values: map[string]int{}}
	runner := NewInMemory(store)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = runner.RunInTx(context.Background(), func(ctx context.Context) error {
				store.incr("n")
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, store.get("n"))
}

func TestFrom_IsKeyedByPool(t *testing.T) {
	ctx := context.Background()
	_, ok := From(ctx, PoolVendor)
	assert.False(t, ok)

	assert.Equal(t, ctx, WithTx(ctx, PoolVendor, nil))
}
