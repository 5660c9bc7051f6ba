package heco

import (
	"fmt"
	"reflect"
)

// Handle is a reference to the stored T that survives arena growth. It
// caches the element's address together with the store version it was
// taken at, and looks the type up again whenever the version has moved.
type Handle[T any] struct {
	store   *Store
	tag     Tag
	ptr     *T
	version uint64
}

// HandleOf returns a handle to the stored T.
func HandleOf[T any](s *Store) (Handle[T], error) {
	p, ok := TryGet[T](s)
	if !ok {
		return Handle[T]{}, fmt.Errorf("heco: handle: %w", &AbsentError{Type: reflect.TypeFor[T]()})
	}
	return Handle[T]{
		store:   s,
		tag:     TagOf[T](s.registry),
		ptr:     p,
		version: s.version,
	}, nil
}

// Get returns the current address of the referenced value. It fails with
// ErrStaleHandle once the value has been removed.
func (h *Handle[T]) Get() (*T, error) {
	if h.store == nil {
		return nil, ErrStaleHandle
	}
	if h.version == h.store.version {
		return h.ptr, nil
	}
	e, ok := h.store.index.Lookup(h.tag)
	if !ok {
		return nil, ErrStaleHandle
	}
	h.ptr = ArenaGet[T](h.store.arena, e.Slot)
	h.version = h.store.version
	return h.ptr, nil
}

// Valid reports whether Get would succeed.
func (h *Handle[T]) Valid() bool {
	if h.store == nil {
		return false
	}
	return h.version == h.store.version || h.store.index.Contains(h.tag)
}
