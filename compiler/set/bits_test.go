package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	var s Bits[int]

	s.Set(3)
	s.Set(70)
	s.Set(200)

	assert.True(t, s.IsSet(70))
	assert.False(t, s.IsSet(71))
	assert.False(t, s.IsSet(1000))
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, []int{3, 70, 200}, s.Slice())

	c := s.Copy()
	c.Clear(70)

	assert.True(t, s.IsSet(70), "copy is independent")
	assert.Equal(t, []int{3, 200}, c.Slice())
}

func TestBitsMerge(t *testing.T) {
	a := MakeBits(1, 2)
	b := MakeBits(2, 130)

	assert.True(t, a.Merge(b))
	assert.False(t, a.Merge(b))
	assert.Equal(t, []int{1, 2, 130}, a.Slice())

	a.Substract(MakeBits(2))
	assert.Equal(t, []int{1, 130}, a.Slice())

	a.Intersect(MakeBits(1))
	assert.Equal(t, []int{1}, a.Slice())

	assert.True(t, a.Equal(MakeBits(1)))
	assert.False(t, a.Equal(MakeBits(1, 300)))

	a.Reset()
	assert.Equal(t, 0, a.Size())
}
