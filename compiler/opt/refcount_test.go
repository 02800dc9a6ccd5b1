package opt

import (
	"fmt"
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/object"
)

type balance struct {
	f *hir.Function
	r *refcounter

	paths int
	errs  []string
}

const maxPaths = 10000

// checkBalance walks paths through f, each block at most twice per path,
// counting references held per root.
func checkBalance(t *testing.T, f *hir.Function) int {
	t.Helper()

	c := &balance{
		f: f,
		r: &refcounter{f: f, defs: f.Defs()},
	}

	c.walk(f.Entry, hir.NoBlock, map[hir.Value]int{}, map[hir.BlockID]int{}, nil)

	for _, e := range c.errs {
		t.Errorf("%v", e)
	}

	if t.Failed() {
		t.Logf("%v", f)
	}

	return c.paths
}

func (c *balance) fail(path []hir.BlockID, format string, args ...any) {
	if len(c.errs) < 10 {
		c.errs = append(c.errs, fmt.Sprintf("path %v: ", path)+fmt.Sprintf(format, args...))
	}
}

func (c *balance) walk(id, from hir.BlockID, held map[hir.Value]int, visits map[hir.BlockID]int, path []hir.BlockID) {
	if c.paths >= maxPaths || visits[id] == 2 {
		return
	}

	visits = maps.Clone(visits)
	visits[id]++

	held = maps.Clone(held)
	path = append(path[:len(path):len(path)], id)

	b := c.f.Blocks[id]

	for _, phi := range b.Phis() {
		in, _ := phi.PhiInput(from)

		if x, ok := c.r.key(in); ok {
			held[x]--
		}

		if x, ok := c.r.key(phi.Out); ok {
			held[x]++
		}
	}

	for _, i := range b.Instrs[b.FirstNonPhi():] {
		if i.Op.CanRaise() || i.Op == hir.Deopt || i.Op.CanDeopt() {
			c.exit(path, i, held, i.LiveOwned, hir.NoValue)
		}

		switch i.Op {
		case hir.Incref, hir.XIncref:
			x, _ := c.r.key(i.Args[0])
			held[x]++
		case hir.Decref, hir.XDecref:
			x, _ := c.r.key(i.Args[0])
			held[x]--

			if held[x] < 0 {
				c.fail(path, "v%d released more than held", x)
			}
		case hir.Return:
			x, _ := c.r.key(i.Args[0])
			c.exit(path, i, held, nil, x)

			c.paths++

			return
		case hir.Deopt, hir.Unreachable:
			c.paths++

			return
		case hir.Branch, hir.CondBranch, hir.CondBranchIterNotDone:
			for _, s := range i.Targets {
				c.walk(s, id, held, visits, path)
			}

			return
		}

		for _, v := range i.Outputs() {
			x, ok := c.r.key(v)
			if ok && x == v && c.r.owned(x) {
				held[x]++
			}
		}
	}
}

// exit checks nothing is held after the function is left at i.
func (c *balance) exit(path []hir.BlockID, i *hir.Instr, held map[hir.Value]int, release []hir.Value, stolen hir.Value) {
	h := maps.Clone(held)

	for _, x := range release {
		h[x]--
	}

	if stolen != hir.NoValue {
		h[stolen]--
	}

	for x, n := range h {
		if n != 0 {
			c.fail(path, "%v: v%d held %d times on exit", i.Op, x, n)
		}
	}
}

func TestRefcountBalance(t *testing.T) {
	for _, cfg := range []PassConfig{0, PassInliner} {
		for _, name := range allFuncs {
			for _, hints := range []bool{false, true} {
				t.Run(fmt.Sprintf("%v/%v/hints_%v", cfg, name, hints), func(t *testing.T) {
					e := newEnv(t)

					if hints {
						e.hint("inc", 2, object.IntType, object.IntType)
						e.hint("pick", 2, object.IntType, object.IntType)
						e.hint("total", 10, object.IntType, object.IntType)
						e.hint("shout", 1, object.StrType)
						e.hint("fact", 2, object.IntType, object.IntType)
					}

					f := e.run(t, name, cfg)

					paths := checkBalance(t, f)
					assert.NotZero(t, paths)
				})
			}
		}
	}
}

func TestRefcountReturnBorrowed(t *testing.T) {
	e := newEnv(t)
	f := e.run(t, "pick", 0)

	for _, ret := range find(f, hir.Return) {
		b := f.Blocks[ret.Block]
		prev := b.Instrs[len(b.Instrs)-2]

		require.Equal(t, hir.Incref, prev.Op, "%v", f)
		assert.Equal(t, ret.Args[0], prev.Args[0])
	}
}

func TestRefcountLoop(t *testing.T) {
	e := newEnv(t)
	f := e.run(t, "total", 0)

	assert.NotZero(t, count(f, hir.Decref)+count(f, hir.XDecref), "%v", f)

	for _, i := range find(f, hir.VectorCall) {
		assert.Empty(t, i.LiveOwned, "nothing owned yet")
	}

	checkBalance(t, f)
}
