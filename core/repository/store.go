package repository

import (
	"sort"
	"sync"

	"nfcunha/orchestrator/core/models"
)

// ContainerStore persists registry records. List returns records in creation order.
type ContainerStore interface {
	Save(c *models.Container) error
	Delete(id string) error
	List() ([]*models.Container, error)
}

// MemContainerStore keeps records in memory only; state is lost on restart.
type MemContainerStore struct {
	mu      sync.RWMutex
	records map[string]memRecord
	seq     uint64
}

type memRecord struct {
	seq       uint64
	container *models.Container
}

// NewMemContainerStore creates an empty in-memory store.
func NewMemContainerStore() *MemContainerStore {
	return &MemContainerStore{records: make(map[string]memRecord)}
}

// Save inserts or replaces a record, keeping its original position.
func (s *MemContainerStore) Save(c *models.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[c.ID]
	if !ok {
		s.seq++
		rec.seq = s.seq
	}
	rec.container = c.Clone()
	s.records[c.ID] = rec
	return nil
}

// Delete drops a record. Deleting an unknown id is not an error.
func (s *MemContainerStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// List returns copies of all records in creation order.
func (s *MemContainerStore) List() ([]*models.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]memRecord, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	out := make([]*models.Container, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.container.Clone())
	}
	return out, nil
}
