package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
)

// InMemory keeps objects in a map. It is used by the development server and
// by tests; URLs point at BaseURL.
type InMemory struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string][]byte
}

func NewInMemory(baseURL string) *InMemory {
	return &InMemory{
		BaseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
	}
}

func (m *InMemory) Upload(_ context.Context, in UploadInput) (*UploadResult, error) {
	if err := ValidateUpload(in); err != nil {
		return nil, err
	}
	stored := fmt.Sprintf("%s_%s", uuid.NewString(), path.Base(in.FileName))
	key := ObjectKey(in.TenantID, in.Module, stored)

	m.mu.Lock()
	m.objects[key] = append([]byte(nil), in.Data...)
	m.mu.Unlock()

	return &UploadResult{
		S3URL:      m.BaseURL + "/" + key,
		S3Key:      key,
		StoredName: stored,
		FileType:   FileType(in.FileName),
		FileSize:   int64(len(in.Data)),
	}, nil
}

func (m *InMemory) Download(_ context.Context, key, _ string, _ id.UserID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *InMemory) TestConnection(context.Context) error { return nil }
