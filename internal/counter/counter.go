// Package counter allocates deterministic-secret indices per keyset.
//
// Every deterministic output derives its secret from a monotonic
// index. Two operations deriving from the same index would reuse a
// secret, so reservations against one keyset must hand out disjoint
// contiguous ranges no matter how many operations race. Indices may
// be skipped (a reservation is never rolled back), never reused.
package counter

import (
	"errors"
	"fmt"
)

// Errors returned by counter sources.
var (
	// ErrNegativeCount is returned when a reservation asks for a
	// negative number of indices.
	ErrNegativeCount = errors.New("reservation count must not be negative")

	// ErrUnsupported is returned when an optional capability
	// (SetNext, Snapshot) is invoked on a source lacking it.
	ErrUnsupported = errors.New("counter source does not support this capability")
)

// Range is a reserved block of indices [Start, Start+Count-1].
// Count == 0 marks a pure cursor peek.
type Range struct {
	Start uint32
	Count uint32
}

// Operation reports a completed reservation so callers can persist
// recovery state.
type Operation struct {
	KeysetID string
	Start    uint32
	Count    uint32
	Next     uint32 // cursor value after the reservation
}

// Source hands out per-keyset index ranges. Reserve and
// AdvanceToAtLeast are serialized per keyset; operations on distinct
// keysets may run in parallel.
type Source interface {
	// Reserve allocates n contiguous indices for the keyset and
	// advances the cursor. n == 0 peeks the cursor without mutating
	// state. n < 0 fails with ErrNegativeCount.
	Reserve(keysetID string, n int) (Range, error)

	// AdvanceToAtLeast bumps the keyset's cursor forward to minNext
	// if it is currently behind. The cursor never moves backward.
	AdvanceToAtLeast(keysetID string, minNext uint32) error
}

// MutableSource additionally supports hard cursor overrides, used for
// migration and testing.
type MutableSource interface {
	Source

	// SetNext sets the keyset's cursor unconditionally.
	SetNext(keysetID string, next uint32) error
}

// InspectableSource additionally supports reading all cursors.
type InspectableSource interface {
	Source

	// Snapshot returns a copy of every keyset's cursor.
	Snapshot() (map[string]uint32, error)
}

// SetNext invokes the SetNext capability on s, or reports
// ErrUnsupported when s does not implement MutableSource.
func SetNext(s Source, keysetID string, next uint32) error {
	m, ok := s.(MutableSource)
	if !ok {
		return fmt.Errorf("%w: SetNext", ErrUnsupported)
	}
	return m.SetNext(keysetID, next)
}

// Snapshot invokes the Snapshot capability on s, or reports
// ErrUnsupported when s does not implement InspectableSource.
func Snapshot(s Source) (map[string]uint32, error) {
	i, ok := s.(InspectableSource)
	if !ok {
		return nil, fmt.Errorf("%w: Snapshot", ErrUnsupported)
	}
	return i.Snapshot()
}
