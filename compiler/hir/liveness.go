package hir

import (
	"github.com/slowlang/hirjit/compiler/set"
)

type (
	Liveness struct {
		In, Out []set.Bits[Value]
	}
)

// ComputeLiveness solves backward liveness for values key maps to.
// key returns false for values that are not tracked.
// Phi inputs are live at the end of the corresponding predecessor.
// Frame state references are uses.
func ComputeLiveness(f *Function, key func(v Value) (Value, bool)) *Liveness {
	n := len(f.Blocks)

	l := &Liveness{
		In:  make([]set.Bits[Value], n),
		Out: make([]set.Bits[Value], n),
	}

	use := make([]set.Bits[Value], n)
	def := make([]set.Bits[Value], n)
	phiOut := make([]set.Bits[Value], n) // gen at the end of the predecessor

	f.Each(func(b *Block) {
		for _, i := range b.Instrs {
			if i.Op == Phi {
				for k, a := range i.Args {
					if r, ok := key(a); ok {
						phiOut[i.PhiPreds[k]].Set(r)
					}
				}
			} else {
				i.Uses(func(v Value) {
					if r, ok := key(v); ok && !def[b.ID].IsSet(r) {
						use[b.ID].Set(r)
					}
				})
			}

			for _, v := range i.Outputs() {
				// aliases of a tracked value do not define it
				if r, ok := key(v); ok && r == v {
					def[b.ID].Set(r)
				}
			}
		}
	})

	rpo := f.RPO()

	for changed := true; changed; {
		changed = false

		for k := len(rpo) - 1; k >= 0; k-- {
			id := rpo[k]
			b := f.Blocks[id]

			out := phiOut[id].Copy()

			for _, s := range b.Succs() {
				out.Merge(l.In[s])
			}

			in := out.Copy()
			in.Substract(def[id])
			in.Merge(use[id])

			if !in.Equal(l.In[id]) || !out.Equal(l.Out[id]) {
				l.In[id] = in
				l.Out[id] = out
				changed = true
			}
		}
	}

	return l
}

// AllValues tracks every value as itself.
func AllValues(v Value) (Value, bool) { return v, true }
