// Package store persists lifecycle entries and the staging and master vendor
// tables. All of it lives on the vendor database.
package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"grc/internal/lifecycle"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
)

type codeKey struct {
	tenant id.TenantID
	code   string
}

type memoryState struct {
	entries     map[int64]lifecycle.Entry
	tempVendors map[id.VendorID]lifecycle.TempVendor
	vendors     map[id.VendorID]lifecycle.Vendor
	vendorCodes map[codeKey]id.VendorID
	contacts    []lifecycle.VendorContact
	documents   []lifecycle.VendorDocument
	nextEntry   int64
	nextVendor  int64
	nextRow     int64
}

func (m memoryState) clone() memoryState {
	out := m
	out.entries = maps.Clone(m.entries)
	out.tempVendors = maps.Clone(m.tempVendors)
	out.vendors = maps.Clone(m.vendors)
	out.vendorCodes = maps.Clone(m.vendorCodes)
	out.contacts = slices.Clone(m.contacts)
	out.documents = slices.Clone(m.documents)
	return out
}

// InMemoryStore mirrors the Postgres constraints that matter to the service:
// one open entry per vendor and unique vendor codes per tenant.
type InMemoryStore struct {
	mu    sync.RWMutex
	state memoryState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{state: memoryState{
		entries:     make(map[int64]lifecycle.Entry),
		tempVendors: make(map[id.VendorID]lifecycle.TempVendor),
		vendors:     make(map[id.VendorID]lifecycle.Vendor),
		vendorCodes: make(map[codeKey]id.VendorID),
		nextVendor:  1000,
	}}
}

// SaveTempVendor seeds a staging vendor.
func (s *InMemoryStore) SaveTempVendor(t lifecycle.TempVendor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.tempVendors[t.ID] = copyTempVendor(t)
}

func (s *InMemoryStore) ActiveEntry(_ context.Context, tenantID id.TenantID, vendorID id.VendorID) (*lifecycle.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.state.entries {
		if e.TenantID == tenantID && e.VendorID == vendorID && e.EndedAt == nil {
			out := e
			return &out, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListEntries(_ context.Context, tenantID id.TenantID, vendorID id.VendorID) ([]*lifecycle.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*lifecycle.Entry
	for _, e := range s.state.entries {
		if e.TenantID == tenantID && e.VendorID == vendorID {
			entry := e
			out = append(out, &entry)
		}
	}
	slices.SortFunc(out, func(a, b *lifecycle.Entry) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	return out, nil
}

func (s *InMemoryStore) InsertEntry(_ context.Context, e *lifecycle.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.EndedAt == nil {
		for _, existing := range s.state.entries {
			if existing.VendorID == e.VendorID && existing.EndedAt == nil {
				return sentinel.ErrConflict
			}
		}
	}
	s.state.nextEntry++
	e.ID = s.state.nextEntry
	s.state.entries[e.ID] = *e
	return nil
}

func (s *InMemoryStore) EndEntry(_ context.Context, entryID int64, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state.entries[entryID]
	if !ok || e.EndedAt != nil {
		return sentinel.ErrNotFound
	}
	e.EndedAt = &endedAt
	s.state.entries[entryID] = e
	return nil
}

func (s *InMemoryStore) SetVendorStage(_ context.Context, tenantID id.TenantID, vendorID id.VendorID, stage lifecycle.StageCode, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.tempVendors[vendorID]
	if !ok || t.TenantID != tenantID {
		return sentinel.ErrNotFound
	}
	t.LifecycleStage = stage
	t.UpdatedAt = now
	s.state.tempVendors[vendorID] = t
	return nil
}

// VendorTenant reports the tenant owning a staging vendor.
func (s *InMemoryStore) VendorTenant(_ context.Context, vendorID id.VendorID) (id.TenantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.tempVendors[vendorID]
	if !ok {
		return id.TenantID{}, sentinel.ErrNotFound
	}
	return t.TenantID, nil
}

func (s *InMemoryStore) FindTempVendor(_ context.Context, tenantID id.TenantID, vendorID id.VendorID, _ bool) (*lifecycle.TempVendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.tempVendors[vendorID]
	if !ok || t.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	out := copyTempVendor(t)
	return &out, nil
}

func (s *InMemoryStore) FindTempVendorByCode(_ context.Context, tenantID id.TenantID, code string) (*lifecycle.TempVendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.state.tempVendors {
		if t.TenantID == tenantID && strings.EqualFold(t.Code, code) {
			out := copyTempVendor(t)
			return &out, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) MarkMigrated(_ context.Context, t *lifecycle.TempVendor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.state.tempVendors[t.ID]
	if !ok || stored.TenantID != t.TenantID {
		return sentinel.ErrNotFound
	}
	if stored.Status == lifecycle.TempStatusMigrated {
		return sentinel.ErrInvalidState
	}
	stored.Status = t.Status
	stored.MigratedAt = t.MigratedAt
	stored.UpdatedAt = t.UpdatedAt
	s.state.tempVendors[t.ID] = stored
	return nil
}

func (s *InMemoryStore) VendorCodeExists(_ context.Context, tenantID id.TenantID, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.vendorCodes[codeKey{tenantID, strings.ToUpper(code)}]
	return ok, nil
}

func (s *InMemoryStore) InsertVendor(_ context.Context, v *lifecycle.Vendor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := codeKey{v.TenantID, strings.ToUpper(v.Code)}
	if _, ok := s.state.vendorCodes[key]; ok {
		return sentinel.ErrConflict
	}
	s.state.nextVendor++
	v.ID = id.VendorID(s.state.nextVendor)
	s.state.vendors[v.ID] = *v
	s.state.vendorCodes[key] = v.ID
	return nil
}

func (s *InMemoryStore) InsertContacts(_ context.Context, contacts []lifecycle.VendorContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range contacts {
		s.state.nextRow++
		contacts[i].ID = s.state.nextRow
		s.state.contacts = append(s.state.contacts, contacts[i])
	}
	return nil
}

func (s *InMemoryStore) InsertDocuments(_ context.Context, docs []lifecycle.VendorDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range docs {
		s.state.nextRow++
		docs[i].ID = s.state.nextRow
		s.state.documents = append(s.state.documents, docs[i])
	}
	return nil
}

func (s *InMemoryStore) FindVendor(_ context.Context, tenantID id.TenantID, vendorID id.VendorID) (*lifecycle.Vendor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.vendors[vendorID]
	if !ok || v.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return &v, nil
}

// Vendors returns every master vendor of a tenant ordered by id.
func (s *InMemoryStore) Vendors(tenantID id.TenantID) []lifecycle.Vendor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []lifecycle.Vendor
	for _, v := range s.state.vendors {
		if v.TenantID == tenantID {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b lifecycle.Vendor) int { return int(a.ID - b.ID) })
	return out
}

func (s *InMemoryStore) Contacts(vendorID id.VendorID) []lifecycle.VendorContact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []lifecycle.VendorContact
	for _, c := range s.state.contacts {
		if c.VendorID == vendorID {
			out = append(out, c)
		}
	}
	return out
}

func (s *InMemoryStore) Documents(vendorID id.VendorID) []lifecycle.VendorDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []lifecycle.VendorDocument
	for _, d := range s.state.documents {
		if d.VendorID == vendorID {
			out = append(out, d)
		}
	}
	return out
}

func (s *InMemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *InMemoryStore) Restore(state any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.(memoryState)
}

func copyTempVendor(t lifecycle.TempVendor) lifecycle.TempVendor {
	t.Contacts = slices.Clone(t.Contacts)
	t.Documents = slices.Clone(t.Documents)
	return t
}
