package heco_test

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"reflect"
	"runtime"
	"testing"

	"github.com/edwinsyarief/heco"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Types ---
type Position struct{ X, Y float32 }
type Name struct{ Value string }
type Matrix [4][4]float64
type Flag bool

// counter tracks values that hold a probe: alive goes up when a test
// builds one and down when the store destroys one.
type counter struct{ alive, destroyed int }

type probe struct{ c *counter }

func (p *probe) Destroy() {
	if p.c != nil {
		p.c.alive--
		p.c.destroyed++
	}
}

type probeA struct {
	probe
	V int
}
type probeB struct {
	probe
	V string
}
type probeC struct {
	probe
	V [5]int64
}
type probeD struct {
	probe
	V byte
}

type seeded struct{ Level int }

func (s *seeded) Init() { s.Level = 3 }

func mustPanicAbsent(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		var ae *heco.AbsentError
		require.ErrorAs(t, err, &ae)
		assert.ErrorIs(t, err, heco.ErrAbsent)
	}()
	f()
}

// go test -run ^TestStoreScenario$ . -count 1
func TestStoreScenario(t *testing.T) {
	s := heco.New()
	_, err := heco.Insert(s, 42)
	require.NoError(t, err)
	_, err = heco.Insert(s, "test")
	require.NoError(t, err)
	_, err = heco.Insert(s, 3.14)
	require.NoError(t, err)

	assert.True(t, heco.Has[int](s))
	assert.True(t, heco.Has[string](s))
	assert.True(t, heco.Has[float64](s))
	assert.Equal(t, 42, *heco.Get[int](s))
	assert.Equal(t, "test", *heco.Get[string](s))
	assert.Equal(t, 3.14, *heco.Get[float64](s))
	assert.Equal(t, 3, s.Len())

	assert.True(t, heco.Remove[string](s))
	assert.False(t, heco.Has[string](s))
	assert.True(t, heco.Has[int](s))
	assert.Equal(t, 42, *heco.Get[int](s))
	assert.Equal(t, 3.14, *heco.Get[float64](s))
	mustPanicAbsent(t, func() { heco.Get[string](s) })
}

func TestStoreRoundTrip(t *testing.T) {
	s := heco.New()
	m := Matrix{{1, 2}, {3, 4}}
	p, err := heco.Insert(s, m)
	require.NoError(t, err)
	assert.Equal(t, m, *p)

	n, err := heco.Insert(s, Name{Value: fmt.Sprint("na", "me")})
	require.NoError(t, err)
	runtime.GC()
	assert.Equal(t, "name", n.Value)
	assert.Equal(t, m, *heco.Get[Matrix](s))

	heco.Get[Name](s).Value = "changed"
	assert.Equal(t, "changed", heco.Get[Name](s).Value, "Get returns a mutable view")
}

func TestStoreDistinctTypes(t *testing.T) {
	s := heco.New()
	_, err := heco.Insert(s, Flag(true))
	require.NoError(t, err)
	assert.False(t, heco.Has[bool](s), "named types are distinct from their underlying type")
	_, ok := heco.TryGet[bool](s)
	assert.False(t, ok)
	assert.True(t, bool(*heco.Get[Flag](s)))
}

func TestStoreRemoveAbsent(t *testing.T) {
	s := heco.New()
	assert.False(t, heco.Remove[int](s))
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Registry().Len(), "Remove does not register types")

	_, err := heco.Insert(s, 1)
	require.NoError(t, err)
	assert.True(t, heco.Remove[int](s))
	assert.False(t, heco.Remove[int](s))
	v := s.Version()
	assert.False(t, heco.Remove[int](s))
	assert.Equal(t, v, s.Version(), "no-op remove does not bump the version")
}

func TestStoreNoResurrection(t *testing.T) {
	s := heco.New()
	_, err := heco.Insert(s, Position{X: 1, Y: 2})
	require.NoError(t, err)
	require.True(t, heco.Remove[Position](s))

	_, err = heco.Insert(s, Name{Value: "other"})
	require.NoError(t, err)
	assert.False(t, heco.Has[Position](s))
	_, ok := heco.TryGet[Position](s)
	assert.False(t, ok)

	p, err := heco.Emplace[Position](s)
	require.NoError(t, err)
	assert.Equal(t, Position{}, *p, "a re-inserted type starts from its new value")
}

func TestStoreOverwrite(t *testing.T) {
	c := &counter{}
	s := heco.New()

	c.alive++
	first, err := heco.Insert(s, probeA{probe: probe{c}, V: 1})
	require.NoError(t, err)
	v := s.Version()

	c.alive++
	second, err := heco.Insert(s, probeA{probe: probe{c}, V: 2})
	require.NoError(t, err)

	assert.Same(t, first, second, "overwrite reuses the slot")
	assert.Equal(t, 2, heco.Get[probeA](s).V)
	assert.Equal(t, 1, c.destroyed)
	assert.Equal(t, 1, c.alive)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, v, s.Version())

	s.Close()
	assert.Equal(t, 0, c.alive)
	assert.Equal(t, 2, c.destroyed)
}

func TestStoreDestroyAccounting(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	c := &counter{}
	s := heco.New()
	model := map[string]int{}

	check := func(op int) {
		require.Equal(t, len(model), s.Len(), "op %d", op)
		require.Equal(t, s.Len(), c.alive, "op %d", op)
		for name, want := range model {
			var got int
			switch name {
			case "A":
				got = heco.Get[probeA](s).V
			case "B":
				got = len(heco.Get[probeB](s).V)
			case "C":
				got = int(heco.Get[probeC](s).V[4])
			case "D":
				got = int(heco.Get[probeD](s).V)
			}
			require.Equal(t, want, got, "op %d type %s", op, name)
		}
	}

	names := []string{"A", "B", "C", "D"}
	for op := range 2000 {
		name := names[rng.IntN(len(names))]
		val := rng.IntN(100)
		switch rng.IntN(4) {
		case 0, 1:
			c.alive++
			var err error
			switch name {
			case "A":
				_, err = heco.Insert(s, probeA{probe{c}, val})
			case "B":
				_, err = heco.Insert(s, probeB{probe{c}, string(make([]byte, val))})
			case "C":
				_, err = heco.Insert(s, probeC{probe{c}, [5]int64{4: int64(val)}})
			case "D":
				_, err = heco.Insert(s, probeD{probe{c}, byte(val)})
			}
			require.NoError(t, err)
			model[name] = val
		case 2:
			var removed bool
			switch name {
			case "A":
				removed = heco.Remove[probeA](s)
			case "B":
				removed = heco.Remove[probeB](s)
			case "C":
				removed = heco.Remove[probeC](s)
			case "D":
				removed = heco.Remove[probeD](s)
			}
			_, want := model[name]
			require.Equal(t, want, removed, "op %d", op)
			delete(model, name)
		case 3:
			if rng.IntN(20) == 0 {
				require.NoError(t, s.Shrink())
			}
		}
		check(op)
	}

	s.Close()
	assert.Zero(t, c.alive)
}

func TestStoreEmplace(t *testing.T) {
	s := heco.New()
	p, err := heco.Emplace[seeded](s)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Level)

	p.Level = 10
	q, err := heco.Emplace[seeded](s)
	require.NoError(t, err)
	assert.Same(t, p, q)
	assert.Equal(t, 3, q.Level, "emplace on a present type reconstructs it")
}

func TestStoreTryGet(t *testing.T) {
	s := heco.New()
	p, ok := heco.TryGet[Position](s)
	assert.Nil(t, p)
	assert.False(t, ok)

	_, err := heco.Insert(s, Position{X: 5})
	require.NoError(t, err)
	p, ok = heco.TryGet[Position](s)
	require.True(t, ok)
	assert.Equal(t, float32(5), p.X)
}

func TestStoreGrowthInvalidatesThroughVersion(t *testing.T) {
	s := heco.New()
	_, err := heco.Insert(s, 1)
	require.NoError(t, err)
	v := s.Version()

	_, err = heco.Insert(s, "grow")
	require.NoError(t, err)
	assert.Greater(t, s.Version(), v)
	assert.Equal(t, 1, *heco.Get[int](s))
}

// go test -run ^TestStoreGrowthKeepsEarlierValues$ . -count 1
func TestStoreGrowthKeepsEarlierValues(t *testing.T) {
	s := heco.New()
	var checks []func()
	insert := func(step func()) {
		t.Helper()
		checks = append(checks, step)
		growths := s.Stats().Growths
		runtime.GC()
		require.Equal(t, len(checks), growths)
		for _, check := range checks {
			check()
		}
	}

	_, err := heco.Insert(s, 42)
	require.NoError(t, err)
	insert(func() { assert.Equal(t, 42, *heco.Get[int](s)) })

	_, err = heco.Insert(s, fmt.Sprint("te", "st"))
	require.NoError(t, err)
	insert(func() { assert.Equal(t, "test", *heco.Get[string](s)) })

	_, err = heco.Insert(s, Position{X: 1, Y: 2})
	require.NoError(t, err)
	insert(func() { assert.Equal(t, Position{X: 1, Y: 2}, *heco.Get[Position](s)) })

	_, err = heco.Insert(s, []string{"a", "b"})
	require.NoError(t, err)
	insert(func() { assert.Equal(t, []string{"a", "b"}, *heco.Get[[]string](s)) })

	_, err = heco.Insert(s, Matrix{{1}, {2}})
	require.NoError(t, err)
	insert(func() { assert.Equal(t, Matrix{{1}, {2}}, *heco.Get[Matrix](s)) })
}

func TestStoreMaxBytes(t *testing.T) {
	s := heco.New(heco.WithMaxBytes(16))
	_, err := heco.Insert(s, int64(7))
	require.NoError(t, err)
	stats := s.Stats()

	_, err = heco.Insert(s, Matrix{})
	require.Error(t, err)
	assert.ErrorIs(t, err, heco.ErrAllocation)
	var ae *heco.AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, uintptr(16), ae.Limit)

	assert.False(t, heco.Has[Matrix](s))
	assert.Equal(t, int64(7), *heco.Get[int64](s))
	assert.Equal(t, stats, s.Stats(), "failed insert leaves the store unchanged")

	err = s.InsertValues(int8(1), Matrix{})
	require.ErrorIs(t, err, heco.ErrAllocation)
	assert.False(t, heco.Has[int8](s), "batches are all or nothing")
	assert.Equal(t, 1, s.Len())
}

func TestStoreBatch(t *testing.T) {
	t.Run("InsertValues", func(t *testing.T) {
		s := heco.New()
		require.NoError(t, s.InsertValues(1, "two", 3.0, Position{X: 4}))
		assert.Equal(t, 4, s.Len())
		assert.Equal(t, 1, s.Stats().Growths)
		assert.Equal(t, "two", *heco.Get[string](s))
		assert.Equal(t, float32(4), heco.Get[Position](s).X)
	})

	t.Run("DuplicatesLastWins", func(t *testing.T) {
		s := heco.New()
		require.NoError(t, s.InsertValues(1, "a", 2, "b"))
		assert.Equal(t, 2, s.Len())
		assert.Equal(t, 2, *heco.Get[int](s))
		assert.Equal(t, "b", *heco.Get[string](s))

		a, b, err := heco.InsertN2(s, 5, 6)
		require.NoError(t, err)
		assert.Same(t, a, b)
		assert.Equal(t, 6, *heco.Get[int](s))
	})

	t.Run("MatchesSequentialInserts", func(t *testing.T) {
		batch, seq := heco.New(), heco.New()
		_, err := heco.Insert(batch, "present")
		require.NoError(t, err)
		_, err = heco.Insert(seq, "present")
		require.NoError(t, err)

		_, _, _, err = heco.InsertN3(batch, 1, Name{"n"}, "over")
		require.NoError(t, err)
		for _, v := range []any{1, Name{"n"}, "over"} {
			require.NoError(t, seq.InsertValues(v))
		}

		assert.Equal(t, contents(seq), contents(batch))
		assert.Equal(t, 2, batch.Stats().Growths)
		assert.Equal(t, 3, seq.Stats().Growths)
	})

	t.Run("Arities", func(t *testing.T) {
		s := heco.New()
		a, b, c, d, e, f, err := heco.InsertN6(s, int8(1), int16(2), int32(3), int64(4), uint8(5), Flag(true))
		require.NoError(t, err)
		assert.Equal(t, int8(1), *a)
		assert.Equal(t, int16(2), *b)
		assert.Equal(t, int32(3), *c)
		assert.Equal(t, int64(4), *d)
		assert.Equal(t, uint8(5), *e)
		assert.True(t, bool(*f))
		assert.Equal(t, 6, s.Len())
		assert.Equal(t, 1, s.Stats().Growths)

		_, _, _, _, err = heco.InsertN4(s, int8(9), "x", 2.5, Position{})
		require.NoError(t, err)
		_, _, _, _, _, err = heco.InsertN5(s, int8(1), int16(2), int32(3), int64(4), uint16(5))
		require.NoError(t, err)
		assert.Equal(t, 10, s.Len())
	})

	t.Run("ManyTypesOneGrowth", func(t *testing.T) {
		s := heco.New()
		require.NoError(t, s.InsertValues(generateValues(32)...))
		assert.Equal(t, 32, s.Len())
		assert.Equal(t, 1, s.Stats().Growths)
	})

	t.Run("Nil", func(t *testing.T) {
		s := heco.New()
		assert.Error(t, s.InsertValues(1, nil))
		assert.Zero(t, s.Len())
	})
}

func TestHandle(t *testing.T) {
	s := heco.New()
	_, err := heco.HandleOf[Position](s)
	require.ErrorIs(t, err, heco.ErrAbsent)

	_, err = heco.Insert(s, Position{X: 1})
	require.NoError(t, err)
	h, err := heco.HandleOf[Position](s)
	require.NoError(t, err)

	t.Run("SurvivesGrowth", func(t *testing.T) {
		require.NoError(t, s.InsertValues(generateValues(8)...))
		p, err := h.Get()
		require.NoError(t, err)
		assert.Same(t, heco.Get[Position](s), p)
		assert.Equal(t, float32(1), p.X)
		assert.True(t, h.Valid())
	})

	t.Run("SurvivesShrink", func(t *testing.T) {
		_, err := heco.Insert(s, "temp")
		require.NoError(t, err)
		require.True(t, heco.Remove[string](s))
		require.NoError(t, s.Shrink())
		p, err := h.Get()
		require.NoError(t, err)
		assert.Equal(t, float32(1), p.X)
	})

	t.Run("StaleAfterRemove", func(t *testing.T) {
		require.True(t, heco.Remove[Position](s))
		assert.False(t, h.Valid())
		_, err := h.Get()
		assert.ErrorIs(t, err, heco.ErrStaleHandle)
	})

	t.Run("ZeroHandle", func(t *testing.T) {
		var z heco.Handle[int]
		assert.False(t, z.Valid())
		_, err := z.Get()
		assert.ErrorIs(t, err, heco.ErrStaleHandle)
	})
}

func TestStoreShrinkAndClear(t *testing.T) {
	s := heco.New()
	require.NoError(t, s.InsertValues(Matrix{}, "keep", 9))
	full := s.Stats().Bytes

	require.True(t, heco.Remove[Matrix](s))
	assert.Equal(t, 1, s.Stats().Idle)
	require.NoError(t, s.Shrink())
	assert.Zero(t, s.Stats().Idle)
	assert.Less(t, s.Stats().Bytes, full)
	assert.Equal(t, "keep", *heco.Get[string](s))
	assert.Equal(t, 9, *heco.Get[int](s))

	growths := s.Stats().Growths
	v := s.Version()
	s.Clear()
	assert.Zero(t, s.Len())
	assert.Greater(t, s.Version(), v)
	assert.False(t, heco.Has[string](s))

	require.NoError(t, s.InsertValues("again", 10))
	assert.Equal(t, growths, s.Stats().Growths, "cleared slots are reused")
}

func TestStoreClose(t *testing.T) {
	c := &counter{}
	s := heco.New()
	c.alive += 2
	require.NoError(t, s.InsertValues(probeA{probe: probe{c}}, probeB{probe: probe{c}}))
	s.Close()
	assert.Zero(t, c.alive)
	assert.Zero(t, s.Len())

	_, err := heco.Insert(s, 1)
	assert.ErrorIs(t, err, heco.ErrClosed)
	_, err = heco.Emplace[int](s)
	assert.ErrorIs(t, err, heco.ErrClosed)
	assert.ErrorIs(t, s.InsertValues(1), heco.ErrClosed)
	assert.ErrorIs(t, s.Shrink(), heco.ErrClosed)
	_, err = s.Clone()
	assert.ErrorIs(t, err, heco.ErrClosed)
	assert.PanicsWithValue(t, heco.ErrClosed, func() { s.Clear() })
	assert.PanicsWithValue(t, heco.ErrClosed, func() { heco.Remove[probeA](s) })
	assert.False(t, heco.Has[probeA](s))

	s.Close()
	assert.Equal(t, 2, c.destroyed, "close is idempotent")
}

type cloneable struct{ Items []string }

func (c cloneable) Clone() cloneable {
	return cloneable{Items: append([]string(nil), c.Items...)}
}

func TestStoreClone(t *testing.T) {
	s := heco.New()
	require.NoError(t, s.InsertValues(cloneable{Items: []string{"a"}}, 7, "gone"))
	require.True(t, heco.Remove[string](s))

	c, err := s.Clone()
	require.NoError(t, err)
	assert.Same(t, s.Registry(), c.Registry())
	assert.Equal(t, contents(s), contents(c))
	assert.Zero(t, c.Stats().Idle)

	heco.Get[cloneable](c).Items[0] = "b"
	*heco.Get[int](c) = 8
	assert.Equal(t, "a", heco.Get[cloneable](s).Items[0])
	assert.Equal(t, 7, *heco.Get[int](s))

	_, err = heco.Insert(c, "new")
	require.NoError(t, err)
	assert.False(t, heco.Has[string](s))
}

func TestStoreIteration(t *testing.T) {
	s := heco.New()
	require.NoError(t, s.InsertValues(1, "x", Position{Y: 2}))

	var types []reflect.Type
	for typ := range s.Types() {
		types = append(types, typ)
	}
	assert.ElementsMatch(t, []reflect.Type{
		reflect.TypeFor[int](),
		reflect.TypeFor[string](),
		reflect.TypeFor[Position](),
	}, types)

	got := contents(s)
	assert.Equal(t, map[reflect.Type]any{
		reflect.TypeFor[int]():      1,
		reflect.TypeFor[string]():   "x",
		reflect.TypeFor[Position](): Position{Y: 2},
	}, got)

	n := 0
	for range s.All() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestStoreTags(t *testing.T) {
	r := heco.NewRegistry()
	a := heco.New(heco.WithRegistry(r), heco.WithCapacity(8))
	b := heco.New(heco.WithRegistry(r))

	_, err := heco.Insert(a, "a")
	require.NoError(t, err)
	_, err = heco.Insert(b, 1)
	require.NoError(t, err)
	_, err = heco.Insert(b, "b")
	require.NoError(t, err)

	tag := heco.TagOf[string](r)
	assert.True(t, a.HasTag(tag))
	assert.True(t, b.HasTag(tag))
	assert.False(t, a.HasTag(heco.TagOf[int](r)))

	v, ok := b.Value(tag)
	require.True(t, ok)
	assert.Equal(t, "b", *v.(*string))

	p, err := a.EmplaceTag(heco.TagOf[seeded](r))
	require.NoError(t, err)
	assert.Equal(t, 3, p.(*seeded).Level)
	assert.True(t, heco.Has[seeded](a))

	assert.True(t, a.RemoveTag(tag))
	assert.False(t, a.RemoveTag(tag))
	_, ok = a.Value(tag)
	assert.False(t, ok)
}

func TestStoreEventsAndLogging(t *testing.T) {
	var buf bytes.Buffer
	var grows, shrinks []heco.GrowEvent
	s := heco.New(
		heco.WithLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		heco.WithEvents(heco.Events{
			OnGrow:   func(e heco.GrowEvent) { grows = append(grows, e) },
			OnShrink: func(e heco.GrowEvent) { shrinks = append(shrinks, e) },
		}),
	)

	_, err := heco.Insert(s, 1)
	require.NoError(t, err)
	_, err = heco.Insert(s, "s")
	require.NoError(t, err)
	require.Len(t, grows, 2)
	assert.Zero(t, grows[0].OldBytes)
	assert.Equal(t, 1, grows[1].Moved)
	assert.Equal(t, grows[0].NewBytes, grows[1].OldBytes)

	require.True(t, heco.Remove[int](s))
	require.NoError(t, s.Shrink())
	require.Len(t, shrinks, 1)
	assert.Less(t, shrinks[0].NewBytes, shrinks[0].OldBytes)

	assert.Contains(t, buf.String(), "arena grown")
	assert.Contains(t, buf.String(), "arena shrunk")
}

func TestAbsentError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &heco.AbsentError{Type: reflect.TypeFor[int]()})
	assert.True(t, errors.Is(err, heco.ErrAbsent))
	assert.False(t, errors.Is(err, heco.ErrAllocation))
	assert.Contains(t, err.Error(), "int")
}

// contents copies every stored value out of s, keyed by type.
func contents(s *heco.Store) map[reflect.Type]any {
	out := map[reflect.Type]any{}
	for typ, v := range s.All() {
		out[typ] = reflect.ValueOf(v).Elem().Interface()
	}
	return out
}

// generateValues returns n values of n distinct struct types.
func generateValues(n int) []any {
	values := make([]any, n)
	for i := range n {
		typ := reflect.StructOf([]reflect.StructField{
			{Name: fmt.Sprintf("F%d", i), Type: reflect.TypeFor[int]()},
		})
		v := reflect.New(typ).Elem()
		v.Field(0).SetInt(int64(i))
		values[i] = v.Interface()
	}
	return values
}
