package tx

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory stores that take part in InMemory
// transactions. Snapshot must return a deep copy; Restore replaces the store's
// contents with a value previously returned by Snapshot.
type Snapshotter interface {
	Snapshot() any
	Restore(state any)
}

type memoryKey struct{ owner *InMemory }

// InMemory serializes transactions with a single mutex and rolls back by
// restoring snapshots of every registered store when fn fails.
type InMemory struct {
	mu     sync.Mutex
	stores []Snapshotter
}

func NewInMemory(stores ...Snapshotter) *InMemory {
	return &InMemory{stores: stores}
}

// Register adds stores after construction. It must not be called while a
// transaction is running.
func (t *InMemory) Register(stores ...Snapshotter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stores = append(t.stores, stores...)
}

func (t *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryKey{owner: t}) != nil {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	snapshots := make([]any, len(t.stores))
	for i, s := range t.stores {
		snapshots[i] = s.Snapshot()
	}

	if err := fn(context.WithValue(ctx, memoryKey{owner: t}, struct{}{})); err != nil {
		for i, s := range t.stores {
			s.Restore(snapshots[i])
		}
		return err
	}
	return nil
}
