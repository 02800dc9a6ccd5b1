package opt

import (
	"context"
	"slices"

	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/set"
)

// SSAify converts registers assigned with Assign into SSA values.
// Phis are only placed where the register is live.
func SSAify(ctx context.Context, f *hir.Function) {
	if f.SSA {
		return
	}

	tr := tlog.SpawnFromContext(ctx, "ssaify")
	defer tr.Finish()

	f.RecomputePreds()

	isVar := make([]bool, f.NumValues())
	defBlocks := map[hir.Value]set.Bits[hir.BlockID]{}

	f.Walk(func(b *hir.Block, i *hir.Instr) {
		if i.Op != hir.Assign {
			return
		}

		isVar[i.Out] = true

		s := defBlocks[i.Out]
		s.Set(b.ID)
		defBlocks[i.Out] = s
	})

	vars := make([]hir.Value, 0, len(defBlocks))
	for v := range defBlocks {
		vars = append(vars, v)
	}

	slices.Sort(vars)

	live := hir.ComputeLiveness(f, func(v hir.Value) (hir.Value, bool) { return v, isVar[v] })
	dom := f.Dominators()
	df := f.DomFrontier(dom)

	phiVar := map[*hir.Instr]hir.Value{}

	for _, v := range vars {
		var placed set.Bits[hir.BlockID]

		queued := defBlocks[v].Copy()
		work := queued.Slice()

		for len(work) != 0 {
			b := work[len(work)-1]
			work = work[:len(work)-1]

			df[b].Range(func(d hir.BlockID) bool {
				if placed.IsSet(d) || !live.In[d].IsSet(v) {
					return true
				}

				placed.Set(d)

				phiVar[insertPhi(f, f.Blocks[d])] = v

				if !queued.IsSet(d) {
					queued.Set(d)
					work = append(work, d)
				}

				return true
			})
		}
	}

	stacks := map[hir.Value][]hir.Value{}

	top := func(v hir.Value) hir.Value {
		s := stacks[v]
		if len(s) == 0 {
			return hir.NoValue
		}

		return s[len(s)-1]
	}

	current := func(v hir.Value) hir.Value {
		if int(v) < len(isVar) && isVar[v] {
			return top(v)
		}

		return v
	}

	var rename func(id hir.BlockID)
	rename = func(id hir.BlockID) {
		b := f.Blocks[id]

		var pushed []hir.Value

		for _, i := range b.Instrs {
			if v, ok := phiVar[i]; ok {
				stacks[v] = append(stacks[v], i.Out)
				pushed = append(pushed, v)

				continue
			}

			i.MapUses(current)

			if i.Op == hir.Assign {
				stacks[i.Out] = append(stacks[i.Out], i.Args[0])
				pushed = append(pushed, i.Out)
			}
		}

		for _, s := range b.Succs() {
			for _, phi := range f.Blocks[s].Phis() {
				v, ok := phiVar[phi]
				if !ok {
					continue
				}

				for k, p := range phi.PhiPreds {
					if p == id {
						phi.Args[k] = top(v)
					}
				}
			}
		}

		for _, c := range dom.Children[id] {
			rename(c)
		}

		for _, v := range pushed {
			stacks[v] = stacks[v][:len(stacks[v])-1]
		}
	}

	rename(f.Entry)

	removed := 0

	f.Each(func(b *hir.Block) {
		removed += b.Filter(func(i *hir.Instr) bool { return i.Op != hir.Assign })
	})

	f.SSA = true

	tr.V("pass").Printw("ssa built", "vars", len(vars), "phis", len(phiVar), "assigns", removed)
}

func insertPhi(f *hir.Function, b *hir.Block) *hir.Instr {
	phi := f.NewInstr(hir.Phi, make([]hir.Value, len(b.Preds))...)
	phi.Out = f.NewValue(hir.TBottom)
	phi.PhiPreds = slices.Clone(b.Preds)

	for k := range phi.Args {
		phi.Args[k] = hir.NoValue
	}

	b.Insert(0, phi)

	return phi
}
