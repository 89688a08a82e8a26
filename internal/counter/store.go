package counter

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-ecash/internal/storage"
)

// counterPrefix namespaces cursor keys inside the shared database.
var counterPrefix = []byte("counter/")

// StoreSource implements Source on top of a storage.DB so cursors
// survive restarts. The database write happens inside the per-keyset
// lock, before the reservation is returned: a crash may skip indices
// but can never hand the same index out twice.
type StoreSource struct {
	db storage.DB

	mu      sync.Mutex // guards the entries map only
	entries map[string]*storeEntry
}

type storeEntry struct {
	mu     sync.Mutex
	next   uint32
	loaded bool
}

// NewStore creates a counter source persisting through db. Cursors
// are loaded lazily on first use of each keyset.
func NewStore(db storage.DB) *StoreSource {
	return &StoreSource{db: db, entries: make(map[string]*storeEntry)}
}

func counterKey(keysetID string) []byte {
	return append(append([]byte{}, counterPrefix...), keysetID...)
}

func (s *StoreSource) entry(keysetID string) *storeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[keysetID]
	if !ok {
		e = &storeEntry{}
		s.entries[keysetID] = e
	}
	return e
}

// load reads the persisted cursor once. Must hold e.mu.
func (s *StoreSource) load(keysetID string, e *storeEntry) error {
	if e.loaded {
		return nil
	}
	val, err := s.db.Get(counterKey(keysetID))
	if err == nil && len(val) == 4 {
		e.next = binary.BigEndian.Uint32(val)
	}
	// A missing key means a fresh keyset; cursor stays at zero.
	e.loaded = true
	return nil
}

// persist writes the cursor. Must hold e.mu.
func (s *StoreSource) persist(keysetID string, e *storeEntry) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], e.next)
	if err := s.db.Put(counterKey(keysetID), buf[:]); err != nil {
		return fmt.Errorf("persist counter for keyset %s: %w", keysetID, err)
	}
	return nil
}

// Reserve allocates n contiguous indices and persists the advanced
// cursor before releasing them to the caller.
func (s *StoreSource) Reserve(keysetID string, n int) (Range, error) {
	if n < 0 {
		return Range{}, ErrNegativeCount
	}
	e := s.entry(keysetID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.load(keysetID, e); err != nil {
		return Range{}, err
	}
	r := Range{Start: e.next, Count: uint32(n)}
	if n == 0 {
		return r, nil
	}
	e.next += uint32(n)
	if err := s.persist(keysetID, e); err != nil {
		// Roll the in-memory cursor back so memory and disk agree;
		// the reservation itself fails.
		e.next = r.Start
		return Range{}, err
	}
	return r, nil
}

// AdvanceToAtLeast bumps the keyset's cursor forward only.
func (s *StoreSource) AdvanceToAtLeast(keysetID string, minNext uint32) error {
	e := s.entry(keysetID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.load(keysetID, e); err != nil {
		return err
	}
	if e.next >= minNext {
		return nil
	}
	prev := e.next
	e.next = minNext
	if err := s.persist(keysetID, e); err != nil {
		e.next = prev
		return err
	}
	return nil
}

// SetNext overrides the keyset's cursor unconditionally.
func (s *StoreSource) SetNext(keysetID string, next uint32) error {
	e := s.entry(keysetID)
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.next
	e.next = next
	e.loaded = true
	if err := s.persist(keysetID, e); err != nil {
		e.next = prev
		return err
	}
	return nil
}

// Snapshot returns every persisted cursor.
func (s *StoreSource) Snapshot() (map[string]uint32, error) {
	out := make(map[string]uint32)
	err := s.db.ForEach(counterPrefix, func(key, value []byte) error {
		if len(value) != 4 {
			return nil
		}
		out[string(key[len(counterPrefix):])] = binary.BigEndian.Uint32(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot counters: %w", err)
	}
	// Include keysets touched in memory but not yet flushed (loaded
	// with zero reservations).
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		e.mu.Lock()
		if _, ok := out[id]; !ok && e.loaded {
			out[id] = e.next
		}
		e.mu.Unlock()
	}
	return out, nil
}

var (
	_ MutableSource     = (*StoreSource)(nil)
	_ InspectableSource = (*StoreSource)(nil)
)
