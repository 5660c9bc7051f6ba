package heco

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrAbsent is returned when an operation needs a type that is not stored.
	ErrAbsent = errors.New("heco: type not present")

	// ErrAllocation is returned when the arena cannot obtain a larger buffer.
	ErrAllocation = errors.New("heco: arena allocation failed")

	// ErrStaleHandle is returned by a Handle whose value has been removed.
	ErrStaleHandle = errors.New("heco: stale handle")

	// ErrClosed is returned when mutating a Store after Close.
	ErrClosed = errors.New("heco: store closed")
)

// AbsentError reports access to a type that was never inserted or has been
// removed. Get panics with it; checked paths return it.
type AbsentError struct {
	Type reflect.Type
}

func (e *AbsentError) Error() string {
	return fmt.Sprintf("heco: %s not present in store", e.Type)
}

func (e *AbsentError) Is(target error) bool {
	return target == ErrAbsent
}

// AllocationError reports a failed arena growth. The arena is unchanged when
// this error is returned.
type AllocationError struct {
	Requested uintptr // bytes the new buffer would have needed
	Limit     uintptr // configured limit, 0 when unlimited
	Cause     error
}

func (e *AllocationError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("heco: cannot allocate %d bytes: %v", e.Requested, e.Cause)
	case e.Limit > 0:
		return fmt.Sprintf("heco: cannot allocate %d bytes: limit is %d", e.Requested, e.Limit)
	default:
		return fmt.Sprintf("heco: cannot allocate %d bytes", e.Requested)
	}
}

func (e *AllocationError) Is(target error) bool {
	return target == ErrAllocation
}

func (e *AllocationError) Unwrap() error {
	return e.Cause
}

// LayoutError reports a synthesized buffer type whose field offsets differ
// from the offsets the arena computed.
type LayoutError struct {
	Type reflect.Type
	Want uintptr
	Got  uintptr
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("heco: %s placed at offset %d, want %d", e.Type, e.Got, e.Want)
}
