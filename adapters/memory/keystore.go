// Package memory provides in-memory implementations of the store ports.
// They back tests and single-instance deployments without Redis.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/ports"
)

// KeyStore is an in-memory implementation of ports.KeyStore.
// One mutex guards records and the index so every method is atomic.
type KeyStore struct {
	mu      sync.RWMutex
	records map[string]apikey.Record // by ID
	index   map[string]string        // secretHash -> ID
}

// NewKeyStore creates a new in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		records: make(map[string]apikey.Record),
		index:   make(map[string]string),
	}
}

// Create stores a new record and its index entry.
func (s *KeyStore) Create(ctx context.Context, rec apikey.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("api key %s already exists", rec.ID)
	}
	s.records[rec.ID] = cloneRecord(rec)
	if rec.Indexed() && rec.SecretHash != "" {
		s.index[rec.SecretHash] = rec.ID
	}
	return nil
}

// Get returns the record or apikey.ErrNotFound.
func (s *KeyStore) Get(ctx context.Context, id string) (apikey.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return apikey.Record{}, apikey.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// Lookup resolves a secret hash through the index.
func (s *KeyStore) Lookup(ctx context.Context, secretHash string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.index[secretHash]
	return id, ok, nil
}

// Mutate applies change to the stored record under the write lock and
// moves the index entry to follow the result.
func (s *KeyStore) Mutate(ctx context.Context, id string, change func(apikey.Record) (apikey.Record, bool)) (apikey.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[id]
	if !ok {
		return apikey.Record{}, apikey.ErrNotFound
	}
	next, write := change(cloneRecord(cur))
	if !write {
		return cloneRecord(cur), nil
	}
	next.ID = id
	s.records[id] = cloneRecord(next)
	s.dropEntriesLocked(id)
	if next.Indexed() && next.SecretHash != "" {
		s.index[next.SecretHash] = id
	}
	return cloneRecord(next), nil
}

// Delete removes the record and every entry pointing at id.
func (s *KeyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	s.dropEntriesLocked(id)
	return nil
}

// RemoveStaleEntry drops the entry only while it still points at id and
// the record is missing or deleted.
func (s *KeyStore) RemoveStaleEntry(ctx context.Context, secretHash, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index[secretHash] != id {
		return false, nil
	}
	if rec, ok := s.records[id]; ok && !rec.IsDeleted {
		return false, nil
	}
	delete(s.index, secretHash)
	return true, nil
}

// List returns every record ordered by creation time then id.
func (s *KeyStore) List(ctx context.Context) ([]apikey.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]apikey.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// IndexEntries returns a copy of the index.
func (s *KeyStore) IndexEntries(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.index))
	for h, id := range s.index {
		out[h] = id
	}
	return out, nil
}

// SetIndexEntry writes one entry.
func (s *KeyStore) SetIndexEntry(ctx context.Context, secretHash, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index[secretHash] = id
	return nil
}

// RemoveIndexEntry deletes one entry if it still points at id.
func (s *KeyStore) RemoveIndexEntry(ctx context.Context, secretHash, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index[secretHash] != id {
		return false, nil
	}
	delete(s.index, secretHash)
	return true, nil
}

// EntriesFor counts the index entries pointing at id (for testing).
func (s *KeyStore) EntriesFor(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, v := range s.index {
		if v == id {
			n++
		}
	}
	return n
}

func (s *KeyStore) dropEntriesLocked(id string) {
	for h, v := range s.index {
		if v == id {
			delete(s.index, h)
		}
	}
}

func cloneRecord(r apikey.Record) apikey.Record {
	r.Tags = cloneStrings(r.Tags)
	r.AllowedPlatforms = cloneStrings(r.AllowedPlatforms)
	r.AccountTags = cloneStrings(r.AccountTags)
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		r.DeletedAt = &t
	}
	if r.RestoredAt != nil {
		t := *r.RestoredAt
		r.RestoredAt = &t
	}
	return r
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
