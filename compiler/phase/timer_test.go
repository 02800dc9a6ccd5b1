package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerNesting(t *testing.T) {
	tm := New()

	clock := time.Unix(100, 0)
	tm.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}

	outer := tm.Start("HIR transformations")
	inner := tm.Start("Simplify")
	inner.End()
	inner.End()

	tm.Start("CleanCFG") // left open on purpose
	outer.End()

	assert.Equal(t, 0, tm.Open())

	ph := tm.Phases()
	require.Len(t, ph, 1)
	require.Len(t, ph[0].Children, 2)

	assert.Equal(t, time.Millisecond, ph[0].Children[0].Duration())
	assert.False(t, ph[0].Children[1].End.IsZero(), "closed by parent")

	assert.NotNil(t, tm.Find("CleanCFG"))
	assert.Nil(t, tm.Find("Inliner"))

	assert.Contains(t, string(tm.Report(nil)), "  Simplify")
}

func TestNilTimer(t *testing.T) {
	var tm *Timer

	g := tm.Start("x")
	g.End()

	assert.Equal(t, 0, tm.Open())
	assert.Nil(t, tm.Phases())
	assert.Empty(t, tm.Report(nil))
}
