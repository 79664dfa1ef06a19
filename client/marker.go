package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNoMarker is returned by MarkerStore.Load when no session is persisted
var ErrNoMarker = errors.New("no session marker")

// Marker is the durable client session state. It survives a reload so the
// remaining time is re-derived rather than reset.
type Marker struct {
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// MarkerStore persists the client session marker
type MarkerStore interface {
	Save(m Marker) error
	Load() (*Marker, error)
	Clear() error
}

// MemoryMarkerStore keeps the marker in process memory
type MemoryMarkerStore struct {
	mu     sync.Mutex
	marker *Marker
}

// NewMemoryMarkerStore creates an empty in-memory marker store
func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{}
}

func (s *MemoryMarkerStore) Save(m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = &m
	return nil
}

func (s *MemoryMarkerStore) Load() (*Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marker == nil {
		return nil, ErrNoMarker
	}
	m := *s.marker
	return &m, nil
}

func (s *MemoryMarkerStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = nil
	return nil
}

var (
	markerBucket = []byte("passage")
	markerKey    = []byte("session")
)

// BoltMarkerStore keeps the marker in a bbolt file
type BoltMarkerStore struct {
	db *bbolt.DB
}

// NewBoltMarkerStore returns a MarkerStore backed by the given bbolt database
func NewBoltMarkerStore(db *bbolt.DB) *BoltMarkerStore {
	return &BoltMarkerStore{db: db}
}

// OpenBoltMarkerStore opens a bbolt database at path
func OpenBoltMarkerStore(path string) (*BoltMarkerStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewBoltMarkerStore(db), nil
}

// Close closes the underlying bbolt database
func (s *BoltMarkerStore) Close() error {
	return s.db.Close()
}

func (s *BoltMarkerStore) Save(m Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(markerBucket)
		if err != nil {
			return err
		}
		return b.Put(markerKey, data)
	})
}

func (s *BoltMarkerStore) Load() (*Marker, error) {
	var m Marker
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(markerBucket)
		if b == nil {
			return ErrNoMarker
		}
		data := b.Get(markerKey)
		if data == nil {
			return ErrNoMarker
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *BoltMarkerStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(markerBucket)
		if b == nil {
			return nil
		}
		return b.Delete(markerKey)
	})
}
