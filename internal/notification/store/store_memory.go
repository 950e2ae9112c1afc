package store

import (
	"context"
	"sync"

	"grc/internal/notification"
	id "grc/pkg/domain"
)

type recipient struct {
	tenantID id.TenantID
	userID   id.UserID
}

// InMemoryRing keeps the newest size messages per recipient for a single
// process.
type InMemoryRing struct {
	mu    sync.RWMutex
	size  int
	inbox map[recipient][]notification.Message
}

func NewInMemoryRing(size int) *InMemoryRing {
	if size <= 0 {
		size = notification.DefaultRingSize
	}
	return &InMemoryRing{size: size, inbox: make(map[recipient][]notification.Message)}
}

func (r *InMemoryRing) Push(_ context.Context, msg notification.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := recipient{msg.TenantID, msg.RecipientID}
	list := append(r.inbox[key], msg)
	if len(list) > r.size {
		list = append([]notification.Message(nil), list[len(list)-r.size:]...)
	}
	r.inbox[key] = list
	return nil
}

// Recent returns up to limit messages, newest first.
func (r *InMemoryRing) Recent(_ context.Context, tenantID id.TenantID, userID id.UserID, limit int) ([]notification.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.inbox[recipient{tenantID, userID}]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]notification.Message, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
