package usage

import (
	"context"
	"sort"
	"sync"
)

type recordKey struct {
	userID string
	id     string
}

// MemoryStore is an in-process Repository used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record)}
}

// Get retrieves a single record by user and period ID.
func (m *MemoryStore) Get(_ context.Context, userID, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey{userID, id}]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

// Create inserts a new record.
func (m *MemoryStore) Create(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(rec)
}

// Replace overwrites an existing record.
func (m *MemoryStore) Replace(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceLocked(rec)
}

// Upsert creates or replaces a record under a single lock.
func (m *MemoryStore) Upsert(_ context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.replaceLocked(rec); err == nil {
		return false, nil
	}
	return true, m.createLocked(rec)
}

// Find returns records matching f, ordered by period date.
func (m *MemoryStore) Find(_ context.Context, f Filter, opts FindOptions) ([]Record, error) {
	m.mu.RLock()
	records := []Record{}
	for _, rec := range m.records {
		if f.UserID != "" && rec.UserID != f.UserID {
			continue
		}
		if !f.From.IsZero() && rec.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && rec.Date.After(f.To) {
			continue
		}
		records = append(records, rec)
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Date.Equal(b.Date) {
			if opts.Order == OrderDesc {
				return a.Date.After(b.Date)
			}
			return a.Date.Before(b.Date)
		}
		if opts.Order == OrderDesc {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})

	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	return records, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) createLocked(rec Record) error {
	key := recordKey{rec.UserID, rec.ID}
	if _, ok := m.records[key]; ok {
		return ErrRecordExists
	}
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) replaceLocked(rec Record) error {
	key := recordKey{rec.UserID, rec.ID}
	if _, ok := m.records[key]; !ok {
		return ErrRecordNotFound
	}
	m.records[key] = rec
	return nil
}
