package heco

import (
	"errors"
	"fmt"
	"reflect"
)

var errNilValue = errors.New("heco: cannot insert untyped nil")

// InsertValues stores every value of values, keyed by its dynamic type,
// with at most one arena growth. When a type occurs more than once the last
// value wins. Either every value is stored or, on error, none is.
func (s *Store) InsertValues(values ...any) error {
	if s.closed {
		return ErrClosed
	}
	vts := make([]*VTable, len(values))
	for i, v := range values {
		if v == nil {
			return fmt.Errorf("heco: insert value %d: %w", i, errNilValue)
		}
		vts[i] = s.registry.vtableFor(reflect.TypeOf(v))
	}
	slots, err := s.reserve(vts)
	if err != nil {
		return fmt.Errorf("heco: insert %d values: %w", len(values), err)
	}
	for i, v := range values {
		if s.arena.isLive(slots[i]) {
			s.arena.Vacate(slots[i])
		}
		s.arena.ConstructValue(slots[i], reflect.ValueOf(v))
	}
	return nil
}

// reserve returns one slot per vtable: the existing slot of a stored type,
// or a freshly reserved one. All absent types are allocated together, so a
// batch grows the arena at most once. Nothing is modified on error.
func (s *Store) reserve(vts []*VTable) ([]SlotID, error) {
	slots := make([]SlotID, len(vts))
	var need []*VTable
	var needAt [][]int
	first := make(map[Tag]int, len(vts))
	for i, vt := range vts {
		if e, ok := s.index.Lookup(vt.Tag); ok {
			slots[i] = e.Slot
			continue
		}
		if k, ok := first[vt.Tag]; ok {
			needAt[k] = append(needAt[k], i)
			continue
		}
		first[vt.Tag] = len(need)
		need = append(need, vt)
		needAt = append(needAt, []int{i})
	}
	if len(need) == 0 {
		return slots, nil
	}

	ids, err := s.allocate(need...)
	if err != nil {
		return nil, err
	}
	for k, id := range ids {
		s.index.Insert(Entry{Tag: need[k].Tag, Slot: id, VT: need[k]})
		for _, i := range needAt[k] {
			slots[i] = id
		}
	}
	return slots, nil
}

// put constructs v in a slot returned by reserve, replacing the value a
// previous occurrence of T left there.
func put[T any](s *Store, id SlotID, v T) *T {
	if s.arena.isLive(id) {
		s.arena.Vacate(id)
	}
	return ConstructAt(s.arena, id, v)
}
