package repository

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"nfcunha/orchestrator/core/models"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const containersBucket = "containers"

// BoltContainerStore persists registry records as JSON values in a bbolt bucket.
type BoltContainerStore struct {
	db *bolt.DB
}

// boltRecord carries the fields models.Container hides from JSON.
type boltRecord struct {
	Seq       uint64                 `json:"seq"`
	ID        string                 `json:"id"`
	EngineID  string                 `json:"engine_id,omitempty"`
	Name      string                 `json:"name"`
	Status    models.ContainerStatus `json:"status"`
	Image     string                 `json:"image"`
	Command   []string               `json:"command,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// OpenBoltContainerStore opens (or creates) the bbolt file at path.
func OpenBoltContainerStore(path string) (*BoltContainerStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(containersBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %q: %w", containersBucket, err)
	}

	return &BoltContainerStore{db: db}, nil
}

// Close releases the file lock.
func (s *BoltContainerStore) Close() error {
	return s.db.Close()
}

// Save writes a record as JSON, reusing its sequence number on update.
func (s *BoltContainerStore) Save(c *models.Container) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(containersBucket))

		rec := boltRecord{
			ID:        c.ID,
			EngineID:  c.EngineID,
			Name:      c.Name,
			Status:    c.Status,
			Image:     c.Image,
			Command:   c.Command,
			CreatedAt: c.CreatedAt.UTC(),
		}

		// keep the original sequence so creation order survives updates
		if existing := b.Get([]byte(c.ID)); existing != nil {
			var prev boltRecord
			if err := json.Unmarshal(existing, &prev); err == nil {
				rec.Seq = prev.Seq
			}
		}
		if rec.Seq == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			rec.Seq = seq
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(c.ID), data)
	})
}

// Delete removes a record from the bucket.
func (s *BoltContainerStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(containersBucket)).Delete([]byte(id))
	})
}

// List returns all records in creation order, skipping malformed entries.
func (s *BoltContainerStore) List() ([]*models.Container, error) {
	var recs []boltRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(containersBucket)).ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				logrus.Warnf("bolt: skipping malformed record %s: %v", k, err)
				return nil
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })

	out := make([]*models.Container, 0, len(recs))
	for _, rec := range recs {
		out = append(out, &models.Container{
			ID:        rec.ID,
			EngineID:  rec.EngineID,
			Name:      rec.Name,
			Status:    rec.Status,
			Image:     rec.Image,
			Command:   rec.Command,
			CreatedAt: rec.CreatedAt,
		})
	}
	return out, nil
}
