package heco

import (
	"fmt"
	"math"
	"reflect"
)

// Tag is a small integer standing in for a Go type inside one Registry.
// Tags are handed out in first-use order starting at zero and are used
// directly as indices into the sparse array of a Store.
type Tag uint32

// maxTags bounds the tag space; the last value is reserved for Absent.
const maxTags = math.MaxUint32

// Registry assigns tags to types and owns the vtable of every type it has
// seen. A Registry is an explicit object: each Store owns one unless a
// shared one is passed with WithRegistry, so independent stores never share
// hidden state.
type Registry struct {
	typeToTag map[reflect.Type]Tag
	vtables   []*VTable
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		typeToTag: make(map[reflect.Type]Tag, 16),
		vtables:   make([]*VTable, 0, 16),
	}
}

// TagOf returns the tag of T in r, assigning a new one the first time T is
// seen.
func TagOf[T any](r *Registry) Tag {
	return VTableOf[T](r).Tag
}

// VTableOf returns the vtable of T in r, registering T on first use. The
// vtable carries generic function pointers specialised for T.
func VTableOf[T any](r *Registry) *VTable {
	t := reflect.TypeFor[T]()
	if tag, ok := r.typeToTag[t]; ok {
		return r.vtables[tag]
	}
	return r.register(t, newVTable[T])
}

// TagFor returns the tag of t, registering t on first use. Types first seen
// through this path get a reflection-driven vtable.
func (r *Registry) TagFor(t reflect.Type) Tag {
	return r.vtableFor(t).Tag
}

// Lookup returns the tag of t without registering it.
func (r *Registry) Lookup(t reflect.Type) (Tag, bool) {
	tag, ok := r.typeToTag[t]
	return tag, ok
}

// VTable returns the vtable registered under tag. It panics if tag was never
// handed out by r.
func (r *Registry) VTable(tag Tag) *VTable {
	if int(tag) >= len(r.vtables) {
		panic(fmt.Sprintf("heco: tag %d not registered (registry holds %d types)", tag, len(r.vtables)))
	}
	return r.vtables[tag]
}

// TypeOf returns the Go type registered under tag.
func (r *Registry) TypeOf(tag Tag) reflect.Type {
	return r.VTable(tag).Type
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return len(r.vtables)
}

func (r *Registry) vtableFor(t reflect.Type) *VTable {
	if tag, ok := r.typeToTag[t]; ok {
		return r.vtables[tag]
	}
	return r.register(t, func(tag Tag) *VTable { return newReflectVTable(tag, t) })
}

// register assigns the next tag to t.
func (r *Registry) register(t reflect.Type, build func(Tag) *VTable) *VTable {
	if uint64(len(r.vtables)) >= maxTags {
		panic(fmt.Sprintf("heco: cannot register %s: tag space exhausted", t))
	}
	tag := Tag(len(r.vtables))
	vt := build(tag)
	r.typeToTag[t] = tag
	r.vtables = append(r.vtables, vt)
	return vt
}
