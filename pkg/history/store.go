// Package history records verification results in a local bbolt database
// so runs can be listed and compared later.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cgast/pagecheck/pkg/verify"
)

const runsBucket = "runs"

// DefaultMaxEntries bounds the number of stored records when no limit is
// configured.
const DefaultMaxEntries = 500

// ErrNotFound is returned by Get for an unknown record ID.
var ErrNotFound = errors.New("history record not found")

// Record is one stored task outcome.
type Record struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id,omitempty"`
	Result     verify.Result `json:"result"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// NewRecord builds a record from a verification outcome.
func NewRecord(runID string, result verify.Result, err error) Record {
	rec := Record{
		RunID:     runID,
		Result:    result,
		ErrorKind: verify.Kind(err),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// Store is a bbolt-backed result history. Records are keyed by UUIDv7, so
// key order is insertion order.
type Store struct {
	db         *bolt.DB
	mu         sync.RWMutex
	maxEntries int
}

// Open opens or creates the history database at path.
func Open(path string, maxEntries int) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &Store{db: db, maxEntries: maxEntries}, nil
}

// Save stores rec, assigning an ID and timestamp when missing, and prunes
// the oldest records beyond the configured maximum.
func (s *Store) Save(rec *Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate record id: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))
		if err := b.Put([]byte(rec.ID), data); err != nil {
			return err
		}

		c := b.Cursor()
		count := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		over := count - s.maxEntries
		if over <= 0 {
			return nil
		}
		var stale [][]byte
		for k, _ := c.First(); k != nil && len(stale) < over; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("prune %s: %w", k, err)
			}
		}
		return nil
	})
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns records newest first. An empty task matches every task;
// limit <= 0 returns everything.
func (s *Store) List(task string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", k, err)
			}
			if task != "" && rec.Result.Task != task {
				continue
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
