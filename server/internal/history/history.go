package history

import (
	"sort"
	"sync"

	"github.com/tubedrift/tubedrift/pkg/types"
)

// Store is a thread-safe in-memory map of session id to search records.
type Store struct {
	mu   sync.RWMutex
	data map[string][]types.SearchRecord
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]types.SearchRecord)}
}

// InitRecord resets the history of sessionID to empty. Calling it again is a
// no-op.
func (s *Store) InitRecord(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = []types.SearchRecord{}
}

// Put replaces the history of sessionID with a copy of records.
func (s *Store) Put(sessionID string, records []types.SearchRecord) {
	cp := types.CloneRecords(records)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = cp
}

// Get returns a copy of the history of sessionID. An unknown session is
// created with an empty history.
func (s *Store) Get(sessionID string) []types.SearchRecord {
	s.mu.RLock()
	records, ok := s.data[sessionID]
	s.mu.RUnlock()
	if ok {
		return types.CloneRecords(records)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok = s.data[sessionID]
	if !ok {
		records = []types.SearchRecord{}
		s.data[sessionID] = records
	}
	return types.CloneRecords(records)
}

// Update applies fn to a copy of the history of sessionID and stores the
// result, all under the store lock. It returns a copy of what was stored.
func (s *Store) Update(sessionID string, fn func([]types.SearchRecord) []types.SearchRecord) []types.SearchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := types.CloneRecords(fn(types.CloneRecords(s.data[sessionID])))
	s.data[sessionID] = next
	return types.CloneRecords(next)
}

// Sessions returns the known session ids in sorted order.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for id := range s.data {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Has reports whether sessionID has been seen, without creating it.
func (s *Store) Has(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[sessionID]
	return ok
}

// Append adds rec to the end of the history of sessionID. A repeated search
// is a new chronological entry; earlier records are left as they are.
func (s *Store) Append(sessionID string, rec types.SearchRecord) []types.SearchRecord {
	return s.Update(sessionID, func(records []types.SearchRecord) []types.SearchRecord {
		return append(records, rec)
	})
}
