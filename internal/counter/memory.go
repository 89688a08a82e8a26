package counter

import "sync"

// MemorySource implements Source with in-process cursors. It is the
// reference implementation: a cursor plus one mutex per keyset, so
// contended reservations on the same keyset queue up in arrival order
// while distinct keysets proceed independently.
type MemorySource struct {
	mu      sync.Mutex // guards the entries map only
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	mu   sync.Mutex
	next uint32
}

// NewMemory creates an empty in-memory counter source. All cursors
// start at zero.
func NewMemory() *MemorySource {
	return &MemorySource{entries: make(map[string]*memoryEntry)}
}

func (m *MemorySource) entry(keysetID string) *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[keysetID]
	if !ok {
		e = &memoryEntry{}
		m.entries[keysetID] = e
	}
	return e
}

// Reserve allocates n contiguous indices for the keyset.
func (m *MemorySource) Reserve(keysetID string, n int) (Range, error) {
	if n < 0 {
		return Range{}, ErrNegativeCount
	}
	e := m.entry(keysetID)
	e.mu.Lock()
	defer e.mu.Unlock()
	r := Range{Start: e.next, Count: uint32(n)}
	e.next += uint32(n)
	return r, nil
}

// AdvanceToAtLeast bumps the keyset's cursor forward only.
func (m *MemorySource) AdvanceToAtLeast(keysetID string, minNext uint32) error {
	e := m.entry(keysetID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.next < minNext {
		e.next = minNext
	}
	return nil
}

// SetNext overrides the keyset's cursor unconditionally.
func (m *MemorySource) SetNext(keysetID string, next uint32) error {
	e := m.entry(keysetID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next = next
	return nil
}

// Snapshot returns a copy of every keyset's cursor.
func (m *MemorySource) Snapshot() (map[string]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint32, len(m.entries))
	for id, e := range m.entries {
		e.mu.Lock()
		out[id] = e.next
		e.mu.Unlock()
	}
	return out, nil
}

var (
	_ MutableSource     = (*MemorySource)(nil)
	_ InspectableSource = (*MemorySource)(nil)
)
