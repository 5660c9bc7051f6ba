package heco

// Absent marks a tag that has no entry in a SparseSet.
const Absent = ^uint32(0)

// Entry is the dense record of one stored type.
type Entry struct {
	Tag  Tag
	Slot SlotID
	VT   *VTable
}

// SparseSet maps tags to dense entries. sparse is indexed by tag and holds
// the dense position of the tag or Absent; dense is packed so iteration only
// visits present types.
//
// Invariant: sparse[t] == i if and only if dense[i].Tag == t.
type SparseSet struct {
	sparse []uint32
	dense  []Entry
}

// Insert adds e and returns its dense index. If e.Tag is already present its
// entry is replaced in place.
func (s *SparseSet) Insert(e Entry) uint32 {
	if t := int(e.Tag); t >= len(s.sparse) {
		old := len(s.sparse)
		s.sparse = extendSlice(s.sparse, t+1-old)
		fillSlice(s.sparse[old:], Absent)
	}
	if i := s.sparse[e.Tag]; i != Absent {
		s.dense[i] = e
		return i
	}
	i := uint32(len(s.dense))
	s.dense = append(s.dense, e)
	s.sparse[e.Tag] = i
	return i
}

// Contains reports whether tag has an entry.
func (s *SparseSet) Contains(tag Tag) bool {
	return s.IndexOf(tag) != Absent
}

// IndexOf returns the dense index of tag, or Absent.
func (s *SparseSet) IndexOf(tag Tag) uint32 {
	if int(tag) >= len(s.sparse) {
		return Absent
	}
	return s.sparse[tag]
}

// At returns the entry at dense index i.
func (s *SparseSet) At(i uint32) *Entry {
	return &s.dense[i]
}

// Lookup returns the entry of tag.
func (s *SparseSet) Lookup(tag Tag) (*Entry, bool) {
	i := s.IndexOf(tag)
	if i == Absent {
		return nil, false
	}
	return &s.dense[i], true
}

// Remove deletes the entry of tag by moving the last dense entry into its
// place, and returns the removed entry.
func (s *SparseSet) Remove(tag Tag) (Entry, bool) {
	i := s.IndexOf(tag)
	if i == Absent {
		return Entry{}, false
	}
	removed := s.dense[i]
	last := uint32(len(s.dense) - 1)
	if i != last {
		moved := s.dense[last]
		s.dense[i] = moved
		s.sparse[moved.Tag] = i
	}
	s.dense[last] = Entry{}
	s.dense = s.dense[:last]
	s.sparse[tag] = Absent
	return removed, true
}

// Len returns the number of entries.
func (s *SparseSet) Len() int {
	return len(s.dense)
}

// Dense returns the packed entries. The slice is owned by s.
func (s *SparseSet) Dense() []Entry {
	return s.dense
}

// Reserve grows both arrays so that n tags can be inserted without
// reallocation.
func (s *SparseSet) Reserve(n int) {
	if n > cap(s.dense) {
		d := make([]Entry, len(s.dense), n)
		copy(d, s.dense)
		s.dense = d
	}
	if n > len(s.sparse) {
		old := len(s.sparse)
		s.sparse = extendSlice(s.sparse, n-old)
		fillSlice(s.sparse[old:], Absent)
	}
}

// Reset removes every entry and keeps the allocated capacity.
func (s *SparseSet) Reset() {
	fillSlice(s.sparse, Absent)
	clear(s.dense)
	s.dense = s.dense[:0]
}

func (s *SparseSet) clone() SparseSet {
	return SparseSet{
		sparse: append([]uint32(nil), s.sparse...),
		dense:  append([]Entry(nil), s.dense...),
	}
}
