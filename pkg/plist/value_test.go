package plist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessorTypeMismatch(t *testing.T) {
	v := NewString("hello")

	if _, ok := v.AsBool(); ok {
		t.Error("AsBool on a string should report absence")
	}
	if _, ok := v.AsUint(); ok {
		t.Error("AsUint on a string should report absence")
	}
	if _, ok := v.AsData(); ok {
		t.Error("AsData on a string should report absence")
	}
	if _, ok := v.AsDate(); ok {
		t.Error("AsDate on a string should report absence")
	}

	s, ok := v.AsString()
	if !ok || s != "hello" {
		t.Errorf("AsString = (%q, %v), want (hello, true)", s, ok)
	}
}

func TestNilValueAccessors(t *testing.T) {
	var v *Value

	assert.Equal(t, TypeNone, v.Type())
	assert.True(t, v.IsNone())
	assert.Nil(t, v.Get("key"))
	assert.Nil(t, v.At(0))
	assert.Equal(t, 0, v.Len())

	_, ok := v.AsString()
	assert.False(t, ok)
}

func TestDictAccess(t *testing.T) {
	d := NewDict()
	d.Set("name", NewString("iPhone"))
	d.Set("count", NewUint(42))
	d.Set("flag", NewBool(true))

	name, ok := d.GetString("name")
	require.True(t, ok)
	assert.Equal(t, "iPhone", name)

	count, ok := d.GetUint("count")
	require.True(t, ok)
	assert.Equal(t, uint64(42), count)

	// Absent key yields nil, and accessors on nil yield absence.
	missing := d.Get("nope")
	assert.Nil(t, missing)
	_, ok = missing.AsString()
	assert.False(t, ok)

	// Replacing a key keeps insertion order.
	d.Set("name", NewString("iPad"))
	assert.Equal(t, []string{"name", "count", "flag"}, d.Keys())
	name, _ = d.GetString("name")
	assert.Equal(t, "iPad", name)

	d.Delete("count")
	assert.Equal(t, []string{"name", "flag"}, d.Keys())
	assert.False(t, d.Has("count"))
}

func TestParentBackReference(t *testing.T) {
	root := NewDict()
	child := NewString("leaf")
	root.Set("k", child)

	assert.Same(t, root, child.Parent())
	assert.Nil(t, root.Parent())

	arr := NewArray(NewUint(1), NewUint(2))
	assert.Same(t, arr, arr.At(0).Parent())

	root.Delete("k")
	assert.Nil(t, child.Parent())
}

func TestDateNormalization(t *testing.T) {
	tests := []struct {
		name              string
		sec, usec         int64
		wantSec, wantUsec int64
	}{
		{"already normal", 10, 500, 10, 500},
		{"usec overflow", 10, 1_500_000, 11, 500_000},
		{"negative usec", 10, -1, 9, 999_999},
		{"large overflow", 0, 3_000_001, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sec, usec, ok := NewDate(tt.sec, tt.usec).DateParts()
			require.True(t, ok)
			assert.Equal(t, tt.wantSec, sec)
			assert.Equal(t, tt.wantUsec, usec)
			assert.GreaterOrEqual(t, usec, int64(0))
			assert.Less(t, usec, int64(1_000_000))
		})
	}
}

func TestDateFromTime(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 30, 45, 123456000, time.UTC)
	v := NewDateFromTime(ts)

	got, ok := v.AsDate()
	require.True(t, ok)
	assert.True(t, got.Equal(ts), "got %v want %v", got, ts)
}

func TestEqual(t *testing.T) {
	build := func() *Value {
		d := NewDict()
		d.Set("apps", NewArray(NewString("a"), NewString("b")))
		d.Set("n", NewUint(7))
		d.Set("data", NewData([]byte{1, 2, 3}))
		return d
	}

	a, b := build(), build()
	assert.True(t, Equal(a, b))

	// Dict ordering is not significant.
	c := NewDict()
	c.Set("n", NewUint(7))
	c.Set("data", NewData([]byte{1, 2, 3}))
	c.Set("apps", NewArray(NewString("a"), NewString("b")))
	assert.True(t, Equal(a, c))

	b.Set("n", NewUint(8))
	assert.False(t, Equal(a, b))

	assert.True(t, Equal(nil, New()))
	assert.False(t, Equal(NewUint(1), NewUID(1)))
}

func TestCopyIsDeep(t *testing.T) {
	orig := NewDict()
	orig.Set("arr", NewArray(NewString("x")))

	cp := orig.Copy()
	require.True(t, Equal(orig, cp))
	assert.Nil(t, cp.Parent())

	cp.Get("arr").Append(NewString("y"))
	assert.Equal(t, 1, orig.Get("arr").Len())
	assert.Equal(t, 2, cp.Get("arr").Len())
}

func TestIteratorDict(t *testing.T) {
	d := NewDict()
	d.Set("one", NewUint(1))
	d.Set("two", NewUint(2))

	it := d.Iterate()
	var keys []string
	for {
		key, item, ok := it.Next()
		if !ok {
			break
		}
		require.Equal(t, TypeKey, key.Type())
		assert.Same(t, d, key.Parent())
		k, _ := key.AsString()
		keys = append(keys, k)
		_, isUint := item.AsUint()
		assert.True(t, isUint)
	}
	assert.Equal(t, []string{"one", "two"}, keys)

	// Exhausted iterators stay exhausted; a fresh one is needed to re-scan.
	_, _, ok := it.Next()
	assert.False(t, ok)
	_, _, ok = d.Iterate().Next()
	assert.True(t, ok)
}

func TestIteratorArray(t *testing.T) {
	arr := NewArray(NewString("a"), NewString("b"))
	it := arr.Iterate()

	key, item, ok := it.Next()
	require.True(t, ok)
	assert.Nil(t, key)
	s, _ := item.AsString()
	assert.Equal(t, "a", s)

	_, _, ok = it.Next()
	require.True(t, ok)
	_, _, ok = it.Next()
	assert.False(t, ok)
}

func TestIteratorNonContainer(t *testing.T) {
	_, _, ok := NewUint(1).Iterate().Next()
	assert.False(t, ok)
}
