package object

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntOp(t *testing.T) {
	for _, tc := range []struct {
		op   BinOp
		x, y int64
		r    int64
		err  *Type
	}{
		{OpAdd, 2, 3, 5, nil},
		{OpAdd, math.MaxInt64, 1, 0, OverflowError},
		{OpSub, math.MinInt64, 1, 0, OverflowError},
		{OpSub, 5, 7, -2, nil},
		{OpMul, -4, 5, -20, nil},
		{OpMul, math.MaxInt64, 2, 0, OverflowError},
		{OpFloorDiv, 7, 2, 3, nil},
		{OpFloorDiv, -7, 2, -4, nil},
		{OpFloorDiv, 7, -2, -4, nil},
		{OpMod, -7, 2, 1, nil},
		{OpMod, 7, -2, -1, nil},
		{OpMod, 1, 0, 0, ZeroDivisionError},
	} {
		r, err := IntOp(tc.op, tc.x, tc.y)
		if tc.err != nil {
			assert.True(t, IsKind(err, tc.err), "%d %v %d: %v", tc.x, tc.op.Symbol(), tc.y, err)
			continue
		}

		require.NoError(t, err)
		assert.Equal(t, tc.r, r, "%d %v %d", tc.x, tc.op.Symbol(), tc.y)
	}
}

func TestBinaryGeneric(t *testing.T) {
	r, err := Binary(OpAdd, NewStr("a"), NewStr("b"))
	require.NoError(t, err)
	assert.Equal(t, "ab", r.(*Str).V)

	r, err = Binary(OpAdd, True, NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.(*Int).V)

	_, err = Binary(OpAdd, NewInt(1), NewStr("x"))
	assert.True(t, IsKind(err, TypeError))
	assert.EqualError(t, err, "TypeError: unsupported operand type(s) for +: 'int' and 'str'")
}

func TestCompare(t *testing.T) {
	ok, err := CompareBool(CmpLt, NewInt(1), NewInt(2))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CompareBool(CmpGe, NewStr("b"), NewStr("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CompareBool(CmpEq, None, NewInt(0))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = CompareBool(CmpLt, None, NewInt(0))
	assert.True(t, IsKind(err, TypeError))
}

func TestDictRefs(t *testing.T) {
	d := NewDict()
	x := NewInt(10)

	d.Set("x", x)
	assert.Equal(t, int64(2), Refs(x))

	d.Set("x", NewInt(11))
	assert.Equal(t, int64(1), Refs(x))

	v, ok := d.Get("x")
	require.True(t, ok)
	assert.Equal(t, int64(11), v.(*Int).V)

	ver := d.Version()
	d.Delete("x")
	assert.NotEqual(t, ver, d.Version())
	assert.Equal(t, 0, d.Len())
}

func TestChainMap(t *testing.T) {
	a, b := NewDict(), NewDict()
	b.Set("y", NewInt(2))

	c := NewChainMap(a, b)
	c.Set("x", NewInt(1))

	_, ok := a.Get("x")
	assert.True(t, ok)

	v, ok := c.Get("y")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.(*Int).V)

	var m Mapping = c
	_, trusted := m.(*Dict)
	assert.False(t, trusted)
}

func TestIterRange(t *testing.T) {
	it, err := GetIter(NewRange(0, 3, 1))
	require.NoError(t, err)

	var got []int64

	for {
		x, ok := it.(*Iter).Next()
		if !ok {
			break
		}

		got = append(got, x.(*Int).V)
	}

	assert.Equal(t, []int64{0, 1, 2}, got)

	_, err = GetIter(NewInt(1))
	assert.True(t, IsKind(err, TypeError))
}

func TestBuiltins(t *testing.T) {
	b := NewBuiltins()

	call := func(name string, args ...Object) (Object, error) {
		f, ok := b.Get(name)
		require.True(t, ok, name)

		return Call(f, args)
	}

	r, err := call("len", NewStr("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.(*Int).V)

	r, err = call("max", NewInt(3), NewInt(9), NewInt(4))
	require.NoError(t, err)
	assert.Equal(t, int64(9), r.(*Int).V)

	_, err = call("len", NewInt(1), NewInt(2))
	assert.True(t, IsKind(err, TypeError))

	meth, attr, err := LoadMethod(NewStr("hi"), "upper")
	require.NoError(t, err)
	assert.Nil(t, attr)

	r, err = CallMethod(meth, NewStr("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "HI", r.(*Str).V)

	_, _, err = LoadMethod(NewInt(1), "nope")
	assert.True(t, IsKind(err, AttributeError))
}

func TestRelease(t *testing.T) {
	x := NewStr("x")

	l := NewList()
	l.Append(x)
	assert.Equal(t, int64(2), Refs(x))

	it, err := GetIter(l)
	require.NoError(t, err)
	assert.Equal(t, int64(2), Refs(l))

	Decref(l)
	assert.Equal(t, int64(2), Refs(x), "iterator keeps the list")

	Decref(it)
	assert.Equal(t, int64(1), Refs(x))

	m := NewBoundMethod(x, StrType.Methods["upper"])
	assert.Equal(t, int64(2), Refs(x))

	Decref(m)
	assert.Equal(t, int64(1), Refs(x))
}
