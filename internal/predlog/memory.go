package predlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// MemoryStore keeps records in memory with an optional JSON snapshot file.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []*Record // oldest first
	byID     map[string]*Record
	snapshot string // optional file path for persistence
}

// NewMemoryStore creates an in-memory store, loading snapshotPath if it exists.
func NewMemoryStore(snapshotPath string) (*MemoryStore, error) {
	ms := &MemoryStore{
		byID:     make(map[string]*Record),
		snapshot: snapshotPath,
	}

	if snapshotPath != "" {
		if err := ms.loadSnapshot(); err != nil {
			return nil, err
		}
	}

	return ms, nil
}

func (m *MemoryStore) Append(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record has no ID")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[rec.ID]; exists {
		return nil
	}
	m.records = append(m.records, rec)
	m.byID[rec.ID] = rec
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	newest := make([]*Record, len(m.records))
	for i, r := range m.records {
		newest[len(m.records)-1-i] = r
	}
	return page(newest, limit, offset), nil
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// DeleteBefore drops records stamped before cutoff.
func (m *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	var n int64
	for _, r := range m.records {
		if r.Timestamp.Before(cutoff) {
			delete(m.byID, r.ID)
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return n, nil
}

func (m *MemoryStore) Close() error {
	if m.snapshot != "" {
		return m.saveSnapshot()
	}
	return nil
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no snapshot yet
		}
		return err
	}

	var recs []*Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if _, dup := m.byID[r.ID]; dup {
			continue
		}
		m.records = append(m.records, r)
		m.byID[r.ID] = r
	}
	return nil
}

func (m *MemoryStore) saveSnapshot() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.records, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	return os.WriteFile(m.snapshot, data, 0600)
}
