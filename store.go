// Package heco provides a heterogeneous object store: one value per Go type,
// all kept in a single contiguous arena and managed through per-type vtables,
// with O(1) typed insert, get, has and remove.
package heco

import (
	"fmt"
	"iter"
	"log/slog"
	"reflect"
	"unsafe"
)

// Store holds at most one value of each Go type in a single contiguous
// arena. Values are found through a sparse set indexed by the type's tag,
// so insert, get, has and remove are O(1).
//
// A Store is not safe for concurrent use. Pointers returned by Insert, Get
// and friends are valid until the next insert that grows the arena, or the
// next Remove, Shrink, Clear or Close. Use a Handle to keep a reference
// across those.
type Store struct {
	registry *Registry
	index    SparseSet
	arena    *Arena
	version  uint64
	closed   bool

	log    *slog.Logger
	events Events
	opts   options
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{
		registry: o.registry,
		arena:    NewArena(o.maxBytes),
		log:      o.logger,
		events:   o.events,
		opts:     o,
	}
	if o.capacity > 0 {
		s.index.Reserve(o.capacity)
	}
	return s
}

// Insert stores v as the value of type T and returns a pointer to it. If a
// T is already stored it is destroyed and v is constructed in its place.
func Insert[T any](s *Store, v T) (*T, error) {
	if s.closed {
		return nil, ErrClosed
	}
	vt := VTableOf[T](s.registry)
	if e, ok := s.index.Lookup(vt.Tag); ok {
		s.arena.Vacate(e.Slot)
		return ConstructAt(s.arena, e.Slot, v), nil
	}
	ids, err := s.allocate(vt)
	if err != nil {
		return nil, fmt.Errorf("heco: insert %s: %w", vt.Type, err)
	}
	s.index.Insert(Entry{Tag: vt.Tag, Slot: ids[0], VT: vt})
	return ConstructAt(s.arena, ids[0], v), nil
}

// Emplace stores a default-constructed T, running its Init hook if it has
// one, and returns a pointer to it.
func Emplace[T any](s *Store) (*T, error) {
	p, err := s.emplace(VTableOf[T](s.registry))
	if err != nil {
		return nil, err
	}
	return (*T)(p), nil
}

// EmplaceTag default-constructs the type registered under tag and returns
// a pointer to it as an any.
func (s *Store) EmplaceTag(tag Tag) (any, error) {
	vt := s.registry.VTable(tag)
	p, err := s.emplace(vt)
	if err != nil {
		return nil, err
	}
	return reflect.NewAt(vt.Type, p).Interface(), nil
}

func (s *Store) emplace(vt *VTable) (unsafe.Pointer, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if e, ok := s.index.Lookup(vt.Tag); ok {
		s.arena.Vacate(e.Slot)
		return s.arena.ConstructDefault(e.Slot), nil
	}
	ids, err := s.allocate(vt)
	if err != nil {
		return nil, fmt.Errorf("heco: emplace %s: %w", vt.Type, err)
	}
	s.index.Insert(Entry{Tag: vt.Tag, Slot: ids[0], VT: vt})
	return s.arena.ConstructDefault(ids[0]), nil
}

// Get returns a pointer to the stored T. It panics with an *AbsentError if
// no T is stored; use TryGet when absence is expected.
func Get[T any](s *Store) *T {
	if p, ok := TryGet[T](s); ok {
		return p
	}
	panic(&AbsentError{Type: reflect.TypeFor[T]()})
}

// TryGet returns a pointer to the stored T and true, or nil and false.
func TryGet[T any](s *Store) (*T, bool) {
	tag, ok := s.registry.Lookup(reflect.TypeFor[T]())
	if !ok {
		return nil, false
	}
	e, ok := s.index.Lookup(tag)
	if !ok {
		return nil, false
	}
	return ArenaGet[T](s.arena, e.Slot), true
}

// Has reports whether a T is stored. It never registers T.
func Has[T any](s *Store) bool {
	tag, ok := s.registry.Lookup(reflect.TypeFor[T]())
	return ok && s.index.Contains(tag)
}

// HasTag reports whether the type registered under tag is stored.
func (s *Store) HasTag(tag Tag) bool {
	return s.index.Contains(tag)
}

// Remove destroys the stored T. It reports false, and does nothing, when no
// T is stored.
func Remove[T any](s *Store) bool {
	tag, ok := s.registry.Lookup(reflect.TypeFor[T]())
	if !ok {
		if s.closed {
			panic(ErrClosed)
		}
		return false
	}
	return s.RemoveTag(tag)
}

// RemoveTag destroys the value of the type registered under tag.
func (s *Store) RemoveTag(tag Tag) bool {
	if s.closed {
		panic(ErrClosed)
	}
	e, ok := s.index.Remove(tag)
	if !ok {
		return false
	}
	s.arena.Destroy(e.Slot)
	s.version++
	return true
}

// Value returns a pointer to the value stored under tag as an any.
func (s *Store) Value(tag Tag) (any, bool) {
	e, ok := s.index.Lookup(tag)
	if !ok {
		return nil, false
	}
	return reflect.NewAt(e.VT.Type, s.arena.Pointer(e.Slot)).Interface(), true
}

// Len returns the number of stored types.
func (s *Store) Len() int {
	return s.index.Len()
}

// Registry returns the registry the store assigns tags from.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Version returns a counter bumped by every mutation that can invalidate
// pointers into the store.
func (s *Store) Version() uint64 {
	return s.version
}

// Types iterates over the stored types in unspecified order.
func (s *Store) Types() iter.Seq[reflect.Type] {
	return func(yield func(reflect.Type) bool) {
		for _, e := range s.index.Dense() {
			if !yield(e.VT.Type) {
				return
			}
		}
	}
}

// All iterates over the stored values. Each value is a pointer to the
// stored element, so *T for a stored T. The store must not be mutated
// during iteration.
func (s *Store) All() iter.Seq2[reflect.Type, any] {
	return func(yield func(reflect.Type, any) bool) {
		for _, e := range s.index.Dense() {
			v := reflect.NewAt(e.VT.Type, s.arena.Pointer(e.Slot)).Interface()
			if !yield(e.VT.Type, v) {
				return
			}
		}
	}
}

// Shrink rebuilds the arena without the space left by removed values.
func (s *Store) Shrink() error {
	if s.closed {
		return ErrClosed
	}
	old, relayouts := s.arena.Len(), s.arena.Relayouts()
	if err := s.arena.Shrink(); err != nil {
		s.log.Warn("arena shrink failed", "err", err)
		return fmt.Errorf("heco: shrink: %w", err)
	}
	if s.arena.Relayouts() == relayouts {
		return nil
	}
	s.version++
	ev := GrowEvent{OldBytes: old, NewBytes: s.arena.Len(), Moved: s.arena.Live()}
	s.log.Debug("arena shrunk", "old_bytes", ev.OldBytes, "new_bytes", ev.NewBytes, "moved", ev.Moved)
	if s.events.OnShrink != nil {
		s.events.OnShrink(ev)
	}
	return nil
}

// Clear destroys every stored value. The arena keeps its buffer, so later
// inserts of the same types do not grow it.
func (s *Store) Clear() {
	if s.closed {
		panic(ErrClosed)
	}
	s.arena.DestroyAll()
	s.index.Reset()
	s.version++
}

// Close destroys every stored value and releases the arena. Mutating a
// closed store fails with ErrClosed. Close is idempotent.
func (s *Store) Close() {
	if s.closed {
		return
	}
	s.arena.Release()
	s.index.Reset()
	s.closed = true
	s.version++
}

// Clone returns a new store holding a copy of every stored value, made
// with each type's Clone method when it has one. The clone shares the
// registry and options of s.
func (s *Store) Clone() (*Store, error) {
	if s.closed {
		return nil, ErrClosed
	}
	c := &Store{
		registry: s.registry,
		index:    s.index.clone(),
		arena:    NewArena(s.opts.maxBytes),
		log:      s.log,
		events:   s.events,
		opts:     s.opts,
	}
	if err := s.arena.CloneInto(c.arena); err != nil {
		return nil, fmt.Errorf("heco: clone: %w", err)
	}
	return c, nil
}

// Stats is a snapshot of a store's footprint.
type Stats struct {
	Types   int     // stored types
	Bytes   uintptr // arena bytes in use, padding and idle slots included
	Idle    int     // slots left by removed values, reusable by their type
	Growths int     // arena reallocations so far
	Version uint64
}

// Stats returns a snapshot of the store's footprint.
func (s *Store) Stats() Stats {
	return Stats{
		Types:   s.index.Len(),
		Bytes:   s.arena.Len(),
		Idle:    s.arena.Idle(),
		Growths: s.arena.Growths(),
		Version: s.version,
	}
}

// allocate reserves one arena slot per vtable, bumping the version and
// running the grow callback when the arena had to be replaced.
func (s *Store) allocate(vts ...*VTable) ([]SlotID, error) {
	old, growths, moved := s.arena.Len(), s.arena.Growths(), s.arena.Live()
	ids, err := s.arena.Allocate(vts...)
	if err != nil {
		s.log.Warn("arena allocation failed", "types", len(vts), "err", err)
		return nil, err
	}
	if s.arena.Growths() == growths {
		return ids, nil
	}
	s.version++
	ev := GrowEvent{OldBytes: old, NewBytes: s.arena.Len(), Moved: moved}
	s.log.Debug("arena grown", "old_bytes", ev.OldBytes, "new_bytes", ev.NewBytes, "moved", ev.Moved)
	if s.events.OnGrow != nil {
		s.events.OnGrow(ev)
	}
	return ids, nil
}
