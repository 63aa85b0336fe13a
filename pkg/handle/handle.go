// Package handle provides generational handle tables for resources that cross
// the bridge boundary as opaque integers.
//
// A Handle packs a kind tag, a generation counter and a slot index. Freeing a
// slot bumps its generation, so a handle kept after Free no longer matches and
// every later use reports ErrStale instead of touching a reused slot.
package handle

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalid is returned for the zero handle or an index outside the table.
	ErrInvalid = errors.New("invalid handle")

	// ErrStale is returned for a handle whose resource was already freed.
	ErrStale = errors.New("stale handle")

	// ErrKindMismatch is returned when a handle of one kind is passed to a
	// table holding another kind.
	ErrKindMismatch = errors.New("handle kind mismatch")
)

// Kind tags which table a handle belongs to.
type Kind uint8

// Handle is an opaque, boundary-safe reference to a table entry.
// The zero value is never a live handle.
type Handle uint64

const (
	indexBits      = 32
	generationBits = 24
	generationMask = 1<<generationBits - 1
	indexMask      = 1<<indexBits - 1
)

func pack(kind Kind, generation uint32, index uint32) Handle {
	return Handle(uint64(kind)<<(indexBits+generationBits) |
		uint64(generation&generationMask)<<indexBits |
		uint64(index))
}

// Kind returns the kind tag encoded in the handle.
func (h Handle) Kind() Kind { return Kind(h >> (indexBits + generationBits)) }

func (h Handle) generation() uint32 { return uint32(h>>indexBits) & generationMask }

func (h Handle) index() uint32 { return uint32(h & indexMask) }

// IsZero reports whether h is the null handle.
func (h Handle) IsZero() bool { return h == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("handle(kind=%d gen=%d idx=%d)", h.Kind(), h.generation(), h.index())
}

type slot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Table stores values of one resource kind behind generational handles.
// The table itself is safe for concurrent use; the values it holds are not
// synchronized by it.
type Table[T any] struct {
	mu    sync.Mutex
	kind  Kind
	name  string
	slots []slot[T]
	free  []uint32
	live  int
}

// NewTable creates an empty table. Kind must be non-zero so that no live
// handle can equal the zero handle.
func NewTable[T any](kind Kind, name string) *Table[T] {
	if kind == 0 {
		panic("handle: kind 0 is reserved")
	}
	return &Table[T]{kind: kind, name: name}
}

// Name returns the resource name used in error messages.
func (t *Table[T]) Name() string { return t.name }

// Insert stores v and returns a fresh handle for it.
func (t *Table[T]) Insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}

	s := &t.slots[idx]
	s.generation = (s.generation + 1) & generationMask
	if s.generation == 0 {
		s.generation = 1
	}
	s.value = v
	s.live = true
	t.live++

	return pack(t.kind, s.generation, idx)
}

// Get returns the value behind h.
func (t *Table[T]) Get(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.value, nil
}

// Remove frees h and returns the value it referenced. A second Remove of the
// same handle reports ErrStale.
func (t *Table[T]) Remove(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	s, err := t.lookup(h)
	if err != nil {
		return zero, err
	}

	v := s.value
	s.value = zero
	s.live = false
	s.generation = (s.generation + 1) & generationMask
	t.free = append(t.free, h.index())
	t.live--

	return v, nil
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *Table[T]) lookup(h Handle) (*slot[T], error) {
	if h.IsZero() {
		return nil, fmt.Errorf("%s: %w", t.name, ErrInvalid)
	}
	if h.Kind() != t.kind {
		return nil, fmt.Errorf("%s: %w (got kind %d)", t.name, ErrKindMismatch, h.Kind())
	}
	idx := h.index()
	if int(idx) >= len(t.slots) {
		return nil, fmt.Errorf("%s: %w", t.name, ErrInvalid)
	}
	s := &t.slots[idx]
	if !s.live || s.generation != h.generation() {
		return nil, fmt.Errorf("%s: %w", t.name, ErrStale)
	}
	return s, nil
}
