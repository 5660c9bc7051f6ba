package heco

import (
	"fmt"
	"math/bits"
	"reflect"
	"strconv"
	"strings"
	"unsafe"
)

const wordSize = unsafe.Sizeof(uintptr(0))

var (
	pointerWordType = reflect.TypeFor[unsafe.Pointer]()
	scalarWordType  = reflect.TypeFor[uintptr]()
)

// pointerMask reports, for each word of t, whether the garbage collector
// scans it as a pointer. It is nil for pointer-free types.
func pointerMask(t reflect.Type) []bool {
	if !hasPointers(t) {
		return nil
	}
	m := make([]bool, (t.Size()+wordSize-1)/wordSize)
	markPointers(t, 0, m)
	return m
}

func markPointers(t reflect.Type, off uintptr, m []bool) {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Func,
		reflect.String, reflect.Slice:
		m[off/wordSize] = true
	case reflect.Interface:
		m[off/wordSize] = true
		m[off/wordSize+1] = true
	case reflect.Array:
		e := t.Elem()
		if !hasPointers(e) {
			return
		}
		for i := range t.Len() {
			markPointers(e, off+uintptr(i)*e.Size(), m)
		}
	case reflect.Struct:
		for i := range t.NumField() {
			f := t.Field(i)
			markPointers(f.Type, off+f.Offset, m)
		}
	}
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Func,
		reflect.String, reflect.Slice, reflect.Interface:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

// shapeKey encodes a pointer mask as a string of '1' and '0' words.
func shapeKey(m []bool) string {
	var b strings.Builder
	b.Grow(len(m))
	for _, p := range m {
		if p {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// allocLayout allocates a buffer for a planned layout of size bytes.
//
// A pointer-free layout is a plain word slice. Otherwise the buffer type is
// a struct of alternating [n]unsafe.Pointer and [n]uintptr runs that
// reproduces the pointer words of every placed element, padded with scalar
// words up to a power of two. The synthesized type depends only on where the
// pointer words fall, never on the element types, so the runtime keeps at
// most one type per distinct pointer pattern and size class.
func allocLayout(places []placement, size uintptr) (layout reflect.Type, base unsafe.Pointer, err error) {
	words := max((size+wordSize-1)/wordSize, 1)
	var mask []bool
	for _, p := range places {
		if p.vt.ptrs == nil {
			continue
		}
		if mask == nil {
			words = 1 << bits.Len(uint(words-1))
			mask = make([]bool, words)
		}
		first := p.offset / wordSize
		for i, ptr := range p.vt.ptrs {
			if ptr {
				mask[first+uintptr(i)] = true
			}
		}
	}
	if mask == nil {
		buf := make([]uintptr, words)
		return nil, unsafe.Pointer(unsafe.SliceData(buf)), nil
	}

	defer func() {
		if r := recover(); r != nil {
			layout, base, err = nil, nil, fmt.Errorf("%v", r)
		}
	}()

	var fields []reflect.StructField
	var starts []uintptr
	for w := uintptr(0); w < words; {
		end := w
		for end < words && mask[end] == mask[w] {
			end++
		}
		elem := scalarWordType
		if mask[w] {
			elem = pointerWordType
		}
		fields = append(fields, reflect.StructField{
			Name: "W" + strconv.Itoa(len(fields)),
			Type: reflect.ArrayOf(int(end-w), elem),
		})
		starts = append(starts, w*wordSize)
		w = end
	}

	layout = reflect.StructOf(fields)
	for i, want := range starts {
		if got := layout.Field(i).Offset; got != want {
			return nil, nil, &LayoutError{Type: layout, Want: want, Got: got}
		}
	}
	if layout.Size() != words*wordSize {
		return nil, nil, &LayoutError{Type: layout, Want: words * wordSize, Got: layout.Size()}
	}
	return layout, reflect.New(layout).UnsafePointer(), nil
}
