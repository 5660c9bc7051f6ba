package heco

import "fmt"

// InsertN2 stores 2 values of types T1, T2 with at most one arena
// growth and returns pointers to them. If two of the types are the same the
// later value wins and both pointers address it.
func InsertN2[T1 any, T2 any](s *Store, v1 T1, v2 T2) (*T1, *T2, error) {
	if s.closed {
		return nil, nil, ErrClosed
	}
	slots, err := s.reserve([]*VTable{
		VTableOf[T1](s.registry),
		VTableOf[T2](s.registry),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("heco: insert 2 values: %w", err)
	}
	p1 := put(s, slots[0], v1)
	p2 := put(s, slots[1], v2)
	return p1, p2, nil
}

// InsertN3 stores 3 values of types T1, T2, T3 with at most one arena
// growth and returns pointers to them. If two of the types are the same the
// later value wins and both pointers address it.
func InsertN3[T1 any, T2 any, T3 any](s *Store, v1 T1, v2 T2, v3 T3) (*T1, *T2, *T3, error) {
	if s.closed {
		return nil, nil, nil, ErrClosed
	}
	slots, err := s.reserve([]*VTable{
		VTableOf[T1](s.registry),
		VTableOf[T2](s.registry),
		VTableOf[T3](s.registry),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("heco: insert 3 values: %w", err)
	}
	p1 := put(s, slots[0], v1)
	p2 := put(s, slots[1], v2)
	p3 := put(s, slots[2], v3)
	return p1, p2, p3, nil
}

// InsertN4 stores 4 values of types T1, T2, T3, T4 with at most one arena
// growth and returns pointers to them. If two of the types are the same the
// later value wins and both pointers address it.
func InsertN4[T1 any, T2 any, T3 any, T4 any](s *Store, v1 T1, v2 T2, v3 T3, v4 T4) (*T1, *T2, *T3, *T4, error) {
	if s.closed {
		return nil, nil, nil, nil, ErrClosed
	}
	slots, err := s.reserve([]*VTable{
		VTableOf[T1](s.registry),
		VTableOf[T2](s.registry),
		VTableOf[T3](s.registry),
		VTableOf[T4](s.registry),
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("heco: insert 4 values: %w", err)
	}
	p1 := put(s, slots[0], v1)
	p2 := put(s, slots[1], v2)
	p3 := put(s, slots[2], v3)
	p4 := put(s, slots[3], v4)
	return p1, p2, p3, p4, nil
}

// InsertN5 stores 5 values of types T1, T2, T3, T4, T5 with at most one arena
// growth and returns pointers to them. If two of the types are the same the
// later value wins and both pointers address it.
func InsertN5[T1 any, T2 any, T3 any, T4 any, T5 any](s *Store, v1 T1, v2 T2, v3 T3, v4 T4, v5 T5) (*T1, *T2, *T3, *T4, *T5, error) {
	if s.closed {
		return nil, nil, nil, nil, nil, ErrClosed
	}
	slots, err := s.reserve([]*VTable{
		VTableOf[T1](s.registry),
		VTableOf[T2](s.registry),
		VTableOf[T3](s.registry),
		VTableOf[T4](s.registry),
		VTableOf[T5](s.registry),
	})
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("heco: insert 5 values: %w", err)
	}
	p1 := put(s, slots[0], v1)
	p2 := put(s, slots[1], v2)
	p3 := put(s, slots[2], v3)
	p4 := put(s, slots[3], v4)
	p5 := put(s, slots[4], v5)
	return p1, p2, p3, p4, p5, nil
}

// InsertN6 stores 6 values of types T1, T2, T3, T4, T5, T6 with at most one arena
// growth and returns pointers to them. If two of the types are the same the
// later value wins and both pointers address it.
func InsertN6[T1 any, T2 any, T3 any, T4 any, T5 any, T6 any](s *Store, v1 T1, v2 T2, v3 T3, v4 T4, v5 T5, v6 T6) (*T1, *T2, *T3, *T4, *T5, *T6, error) {
	if s.closed {
		return nil, nil, nil, nil, nil, nil, ErrClosed
	}
	slots, err := s.reserve([]*VTable{
		VTableOf[T1](s.registry),
		VTableOf[T2](s.registry),
		VTableOf[T3](s.registry),
		VTableOf[T4](s.registry),
		VTableOf[T5](s.registry),
		VTableOf[T6](s.registry),
	})
	if err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("heco: insert 6 values: %w", err)
	}
	p1 := put(s, slots[0], v1)
	p2 := put(s, slots[1], v2)
	p3 := put(s, slots[2], v3)
	p4 := put(s, slots[3], v4)
	p5 := put(s, slots[4], v5)
	p6 := put(s, slots[5], v6)
	return p1, p2, p3, p4, p5, p6, nil
}
