package heco

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"unsafe"
)

// SlotID addresses one element inside an Arena. IDs stay stable while the
// element lives, across growth and shrinking; offsets do not.
type SlotID uint32

const noSlot = ^SlotID(0)

type slotState uint8

const (
	slotFree     slotState = iota // id recyclable, no space in the buffer
	slotIdle                      // space in the buffer, no value, reusable by the same tag
	slotReserved                  // space allocated, value not yet constructed
	slotLive
)

type slot struct {
	vt     *VTable
	offset uintptr
	state  slotState
}

// placement is one element of a planned buffer layout.
type placement struct {
	id     SlotID // noSlot for a request that has no slot yet
	req    int    // index of the request, -1 for a kept slot
	vt     *VTable
	offset uintptr
}

// Arena owns one contiguous buffer holding elements of many types.
//
// The garbage collector sees the exact pointer words of every stored value:
// the buffer is allocated with a type reproducing them (see allocLayout).
// Elements are placed in a canonical order that depends only on the set of
// stored shapes, so insertion order never changes the buffer type. Growth
// sizes the new buffer to fit the kept slots plus the new requests, moves
// live elements through their vtables and drops the old buffer.
type Arena struct {
	base    unsafe.Pointer
	layout  reflect.Type
	size    uintptr
	slots   []slot
	order   []SlotID // placed slots by ascending offset
	freeIDs []SlotID
	idle    map[Tag][]SlotID

	live      int
	growths   int
	relayouts int
	maxBytes  uintptr
}

// NewArena creates an empty arena. maxBytes caps the buffer size; zero means
// no limit.
func NewArena(maxBytes uintptr) *Arena {
	return &Arena{
		idle:     make(map[Tag][]SlotID),
		maxBytes: maxBytes,
	}
}

// Allocate reserves one slot per vtable. A request reuses an idle slot left
// by a destroyed element of the same type when there is one; the remaining
// requests are placed after the kept elements, with padding for alignment,
// in a single growth. On error the arena is left exactly as it was.
func (a *Arena) Allocate(vts ...*VTable) ([]SlotID, error) {
	ids := make([]SlotID, len(vts))
	var reused []SlotID
	var fresh []*VTable
	var freshAt []int
	for i, vt := range vts {
		if id, ok := a.popIdle(vt.Tag); ok {
			a.slots[id].state = slotReserved
			ids[i] = id
			reused = append(reused, id)
			continue
		}
		fresh = append(fresh, vt)
		freshAt = append(freshAt, i)
	}
	if len(fresh) == 0 {
		return ids, nil
	}

	created, err := a.grow(fresh)
	if err != nil {
		for _, id := range reused {
			a.slots[id].state = slotIdle
			a.idle[a.slots[id].vt.Tag] = append(a.idle[a.slots[id].vt.Tag], id)
		}
		return nil, err
	}
	for k, id := range created {
		ids[freshAt[k]] = id
	}
	a.growths++
	return ids, nil
}

// ConstructAt moves v into the reserved slot id and makes it live.
func ConstructAt[T any](a *Arena, id SlotID, v T) *T {
	s := a.reserved(id)
	if t := reflect.TypeFor[T](); s.vt.Type != t {
		panic(fmt.Sprintf("heco: slot %d holds %s, not %s", id, s.vt.Type, t))
	}
	p := (*T)(unsafe.Add(a.base, s.offset))
	*p = v
	s.state = slotLive
	a.live++
	return p
}

// ConstructDefault default-constructs the element of the reserved slot id
// through its vtable.
func (a *Arena) ConstructDefault(id SlotID) unsafe.Pointer {
	s := a.reserved(id)
	p := unsafe.Add(a.base, s.offset)
	s.vt.Construct(p)
	s.state = slotLive
	a.live++
	return p
}

// ConstructValue stores v, whose type must be the slot's type, in the
// reserved slot id.
func (a *Arena) ConstructValue(id SlotID, v reflect.Value) unsafe.Pointer {
	s := a.reserved(id)
	p := unsafe.Add(a.base, s.offset)
	reflect.NewAt(s.vt.Type, p).Elem().Set(v)
	s.state = slotLive
	a.live++
	return p
}

// Pointer returns the address of the live element in slot id. The address
// is valid until the next growth, Shrink or destruction of the slot.
func (a *Arena) Pointer(id SlotID) unsafe.Pointer {
	if int(id) >= len(a.slots) || a.slots[id].state != slotLive {
		panic(fmt.Sprintf("heco: slot %d is not live", id))
	}
	return unsafe.Add(a.base, a.slots[id].offset)
}

// ArenaGet returns the live element of slot id as a *T. The caller
// guarantees that id was allocated for T.
func ArenaGet[T any](a *Arena, id SlotID) *T {
	return (*T)(a.Pointer(id))
}

// VTable returns the vtable recorded for slot id.
func (a *Arena) VTable(id SlotID) *VTable {
	return a.slots[id].vt
}

// Offset returns the byte offset of slot id inside the buffer.
func (a *Arena) Offset(id SlotID) uintptr {
	return a.slots[id].offset
}

// Vacate destroys the live element in slot id and leaves the slot reserved
// so a new value of the same type can be constructed in place.
func (a *Arena) Vacate(id SlotID) {
	s := a.liveSlot(id)
	s.vt.Destroy(unsafe.Add(a.base, s.offset))
	s.state = slotReserved
	a.live--
}

// Destroy destroys the live element in slot id. The slot stays in the buffer
// as an idle slot, reusable by the next allocation of the same type.
func (a *Arena) Destroy(id SlotID) {
	s := a.liveSlot(id)
	s.vt.Destroy(unsafe.Add(a.base, s.offset))
	s.state = slotIdle
	a.idle[s.vt.Tag] = append(a.idle[s.vt.Tag], id)
	a.live--
}

// DestroyAll destroys every live element. The buffer is kept.
func (a *Arena) DestroyAll() {
	for _, id := range a.order {
		s := &a.slots[id]
		switch s.state {
		case slotLive:
			s.vt.Destroy(unsafe.Add(a.base, s.offset))
		case slotReserved:
		default:
			continue
		}
		s.state = slotIdle
		a.idle[s.vt.Tag] = append(a.idle[s.vt.Tag], id)
	}
	a.live = 0
}

// Release destroys every live element and drops the buffer.
func (a *Arena) Release() {
	a.DestroyAll()
	a.base = nil
	a.layout = nil
	a.size = 0
	a.slots = a.slots[:0]
	a.order = a.order[:0]
	a.freeIDs = a.freeIDs[:0]
	clear(a.idle)
}

// Shrink rebuilds the buffer with only the live and reserved elements,
// dropping idle slots. It does nothing when there is no idle slot.
func (a *Arena) Shrink() error {
	if a.Idle() == 0 {
		return nil
	}
	if _, err := a.grow(nil); err != nil {
		return err
	}
	a.relayouts++
	return nil
}

// CloneInto copies every live element into dst, which must be empty, using
// the vtables' Copy. Slot ids are preserved; dst gets an exact-fit buffer
// without idle slots.
func (a *Arena) CloneInto(dst *Arena) error {
	if len(dst.slots) != 0 {
		return fmt.Errorf("heco: clone into a non-empty arena")
	}
	places, size, err := a.plan(nil, slotLive)
	if err != nil {
		return err
	}
	if dst.maxBytes > 0 && size > dst.maxBytes {
		return &AllocationError{Requested: size, Limit: dst.maxBytes}
	}
	layout, base, err := allocLayout(places, size)
	if err != nil {
		return &AllocationError{Requested: size, Limit: dst.maxBytes, Cause: err}
	}

	dst.slots = make([]slot, len(a.slots))
	dst.order = make([]SlotID, 0, len(places))
	for _, p := range places {
		src := a.slots[p.id]
		p.vt.Copy(unsafe.Add(a.base, src.offset), unsafe.Add(base, p.offset))
		dst.slots[p.id] = slot{vt: p.vt, offset: p.offset, state: slotLive}
		dst.order = append(dst.order, p.id)
	}
	for id := range dst.slots {
		if dst.slots[id].state == slotFree {
			dst.freeIDs = append(dst.freeIDs, SlotID(id))
		}
	}
	dst.base, dst.layout, dst.size = base, layout, size
	dst.live = len(places)
	return nil
}

// Len returns the number of bytes spanned by placed slots, padding included.
func (a *Arena) Len() uintptr {
	return a.size
}

// Live returns the number of live elements.
func (a *Arena) Live() int {
	return a.live
}

// Idle returns the number of idle slots still occupying buffer space.
func (a *Arena) Idle() int {
	n := 0
	for _, ids := range a.idle {
		n += len(ids)
	}
	return n
}

// Growths returns how many times Allocate replaced the buffer.
func (a *Arena) Growths() int {
	return a.growths
}

// Relayouts returns how many times Shrink replaced the buffer.
func (a *Arena) Relayouts() int {
	return a.relayouts
}

func (a *Arena) reserved(id SlotID) *slot {
	if int(id) >= len(a.slots) || a.slots[id].state != slotReserved {
		panic(fmt.Sprintf("heco: slot %d is not reserved", id))
	}
	return &a.slots[id]
}

func (a *Arena) liveSlot(id SlotID) *slot {
	if int(id) >= len(a.slots) || a.slots[id].state != slotLive {
		panic(fmt.Sprintf("heco: slot %d is not live", id))
	}
	return &a.slots[id]
}

func (a *Arena) isLive(id SlotID) bool {
	return int(id) < len(a.slots) && a.slots[id].state == slotLive
}

func (a *Arena) popIdle(tag Tag) (SlotID, bool) {
	ids := a.idle[tag]
	if len(ids) == 0 {
		return noSlot, false
	}
	id := ids[len(ids)-1]
	if len(ids) == 1 {
		delete(a.idle, tag)
	} else {
		a.idle[tag] = ids[:len(ids)-1]
	}
	return id, true
}

// grow replaces the buffer with one holding the kept slots and reqs, and
// returns the ids created for reqs in order. Nothing is modified on error.
func (a *Arena) grow(reqs []*VTable) ([]SlotID, error) {
	places, size, err := a.plan(reqs, slotLive, slotReserved)
	if err != nil {
		return nil, err
	}
	if a.maxBytes > 0 && size > a.maxBytes {
		return nil, &AllocationError{Requested: size, Limit: a.maxBytes}
	}
	layout, base, err := allocLayout(places, size)
	if err != nil {
		return nil, &AllocationError{Requested: size, Limit: a.maxBytes, Cause: err}
	}
	return a.relocate(places, len(reqs), layout, base, size), nil
}

// plan lays out the placed slots whose state is in keep together with reqs.
// Elements holding pointers come first, then by decreasing alignment, pointer
// shape and size; each starts at the next offset aligned for its type.
func (a *Arena) plan(reqs []*VTable, keep ...slotState) ([]placement, uintptr, error) {
	places := make([]placement, 0, len(a.order)+len(reqs))
	for _, id := range a.order {
		if s := a.slots[id]; hasState(keep, s.state) {
			places = append(places, placement{id: id, req: -1, vt: s.vt})
		}
	}
	for i, vt := range reqs {
		places = append(places, placement{id: noSlot, req: i, vt: vt})
	}
	slices.SortStableFunc(places, comparePlacements)

	var off uintptr
	for i := range places {
		vt := places[i].vt
		start := alignUp(off, vt.Align)
		end := start + vt.Size
		if start < off || end < start {
			return nil, 0, &AllocationError{Requested: ^uintptr(0), Limit: a.maxBytes, Cause: fmt.Errorf("layout overflows address space")}
		}
		places[i].offset = start
		off = end
	}
	return places, off, nil
}

func comparePlacements(x, y placement) int {
	if px, py := x.vt.ptrs != nil, y.vt.ptrs != nil; px != py {
		if px {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(y.vt.Align, x.vt.Align); c != 0 {
		return c
	}
	if c := cmp.Compare(x.vt.shape, y.vt.shape); c != 0 {
		return c
	}
	return cmp.Compare(y.vt.Size, x.vt.Size)
}

// relocate commits a planned layout: it moves live elements into base,
// creates slots for new requests and frees slots left out of the plan.
func (a *Arena) relocate(places []placement, nreq int, layout reflect.Type, base unsafe.Pointer, size uintptr) []SlotID {
	created := make([]SlotID, nreq)
	kept := make(map[SlotID]struct{}, len(places))
	order := make([]SlotID, 0, len(places))
	for _, p := range places {
		id := p.id
		if id == noSlot {
			id = a.newSlotID()
			a.slots[id] = slot{vt: p.vt, state: slotReserved}
			created[p.req] = id
		} else if s := a.slots[id]; s.state == slotLive {
			s.vt.Move(unsafe.Add(a.base, s.offset), unsafe.Add(base, p.offset))
		}
		a.slots[id].offset = p.offset
		kept[id] = struct{}{}
		order = append(order, id)
	}
	for _, id := range a.order {
		if _, ok := kept[id]; ok {
			continue
		}
		a.slots[id] = slot{state: slotFree}
		a.freeIDs = append(a.freeIDs, id)
	}
	clear(a.idle)
	a.base, a.layout, a.size, a.order = base, layout, size, order
	return created
}

func (a *Arena) newSlotID() SlotID {
	if n := len(a.freeIDs); n > 0 {
		id := a.freeIDs[n-1]
		a.freeIDs = a.freeIDs[:n-1]
		return id
	}
	a.slots = append(a.slots, slot{})
	return SlotID(len(a.slots) - 1)
}

func alignUp(off, align uintptr) uintptr {
	return (off + align - 1) &^ (align - 1)
}

func hasState(states []slotState, s slotState) bool {
	for _, k := range states {
		if k == s {
			return true
		}
	}
	return false
}
