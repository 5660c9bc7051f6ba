package heco

import (
	"reflect"
	"unsafe"
)

// Initializer is implemented by element types that need more than their zero
// value when default-constructed in place.
type Initializer interface {
	Init()
}

// Destroyer is implemented by element types that hold resources which must
// be released when a stored value is destroyed.
type Destroyer interface {
	Destroy()
}

// Cloner is implemented by element types whose copy is deeper than a Go
// assignment.
type Cloner[T any] interface {
	Clone() T
}

var (
	initializerType = reflect.TypeFor[Initializer]()
	destroyerType   = reflect.TypeFor[Destroyer]()
)

// VTable describes how to manage values of one type through raw pointers.
// Every function receives a pointer to exactly one correctly aligned element;
// the arena guarantees both properties.
type VTable struct {
	Tag   Tag
	Type  reflect.Type
	Size  uintptr
	Align uintptr

	// Construct default-constructs a value at dst.
	Construct func(dst unsafe.Pointer)
	// Copy constructs at dst a copy of the value at src.
	Copy func(src, dst unsafe.Pointer)
	// Move constructs at dst the value at src and leaves src zeroed.
	// The Destroy hook is not run on src: ownership moves with the bits.
	Move func(src, dst unsafe.Pointer)
	// Destroy runs the type's cleanup and clears the value at src.
	Destroy func(src unsafe.Pointer)

	ptrs  []bool // pointer words, nil for pointer-free types
	shape string
}

func (vt *VTable) setShape() *VTable {
	vt.ptrs = pointerMask(vt.Type)
	vt.shape = shapeKey(vt.ptrs)
	return vt
}

// newVTable synthesizes the vtable of T with function pointers specialised
// at compile time.
func newVTable[T any](tag Tag) *VTable {
	t := reflect.TypeFor[T]()
	_, initHook := any((*T)(nil)).(Initializer)
	_, destroyHook := any((*T)(nil)).(Destroyer)
	_, cloneHook := any((*T)(nil)).(Cloner[T])

	vt := &VTable{
		Tag:   tag,
		Type:  t,
		Size:  t.Size(),
		Align: uintptr(t.Align()),
		Construct: func(dst unsafe.Pointer) {
			p := (*T)(dst)
			var zero T
			*p = zero
			if initHook {
				any(p).(Initializer).Init()
			}
		},
		Copy: func(src, dst unsafe.Pointer) {
			s := (*T)(src)
			if cloneHook {
				*(*T)(dst) = any(s).(Cloner[T]).Clone()
				return
			}
			*(*T)(dst) = *s
		},
		Move: func(src, dst unsafe.Pointer) {
			s := (*T)(src)
			*(*T)(dst) = *s
			var zero T
			*s = zero
		},
		Destroy: func(src unsafe.Pointer) {
			p := (*T)(src)
			if destroyHook {
				any(p).(Destroyer).Destroy()
			}
			var zero T
			*p = zero
		},
	}
	return vt.setShape()
}

// newReflectVTable synthesizes the vtable of t for call sites that only
// hold a reflect.Type. Its behaviour matches newVTable.
func newReflectVTable(tag Tag, t reflect.Type) *VTable {
	pt := reflect.PointerTo(t)
	initHook := pt.Implements(initializerType)
	destroyHook := pt.Implements(destroyerType)
	clone, cloneHook := pt.MethodByName("Clone")
	if cloneHook {
		ft := clone.Type
		cloneHook = ft.NumIn() == 1 && ft.NumOut() == 1 && ft.Out(0) == t
	}

	vt := &VTable{
		Tag:   tag,
		Type:  t,
		Size:  t.Size(),
		Align: uintptr(t.Align()),
		Construct: func(dst unsafe.Pointer) {
			p := reflect.NewAt(t, dst)
			p.Elem().SetZero()
			if initHook {
				p.Interface().(Initializer).Init()
			}
		},
		Copy: func(src, dst unsafe.Pointer) {
			s := reflect.NewAt(t, src)
			d := reflect.NewAt(t, dst).Elem()
			if cloneHook {
				d.Set(clone.Func.Call([]reflect.Value{s})[0])
				return
			}
			d.Set(s.Elem())
		},
		Move: func(src, dst unsafe.Pointer) {
			s := reflect.NewAt(t, src).Elem()
			reflect.NewAt(t, dst).Elem().Set(s)
			s.SetZero()
		},
		Destroy: func(src unsafe.Pointer) {
			p := reflect.NewAt(t, src)
			if destroyHook {
				p.Interface().(Destroyer).Destroy()
			}
			p.Elem().SetZero()
		},
	}
	return vt.setShape()
}
