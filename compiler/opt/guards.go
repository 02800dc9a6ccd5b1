package opt

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	guardKey struct {
		v     hir.Value
		op    hir.Op
		t     hir.Type
		konst object.Object
	}
)

// GuardTypeRemoval drops guards proven by types or by a dominating
// equal guard. A guard which can never pass is replaced by Deopt.
func GuardTypeRemoval(ctx context.Context, f *hir.Function) {
	tr := tlog.SpawnFromContext(ctx, "guard type removal")
	defer tr.Finish()

	f.RecomputePreds()

	dom := f.Dominators()
	defs := f.Defs()

	repl := map[hir.Value]hir.Value{}
	dead := map[*hir.Instr]bool{}
	avail := map[guardKey]hir.Value{}

	var proven, dominated, failing int

	var walk func(id hir.BlockID)
	walk = func(id hir.BlockID) {
		b := f.Blocks[id]

		var added []guardKey

		defer func() {
			for _, k := range added {
				delete(avail, k)
			}
		}()

		for k := 0; k < len(b.Instrs); k++ {
			i := b.Instrs[k]

			var key guardKey

			switch i.Op {
			case hir.GuardType:
				x := i.Args[0]
				t := f.Type(x)

				if t.Le(i.Guard) {
					repl[i.Out] = x
					dead[i] = true
					proven++

					continue
				}

				if t != hir.TBottom && t.Meet(i.Guard) == hir.TBottom {
					d := truncate(f, b, k-1, hir.Deopt)
					d.FS = i.FS
					d.PC = i.PC
					failing++

					return
				}

				key = guardKey{v: root(defs, x), op: i.Op, t: i.Guard}
			case hir.GuardIs:
				key = guardKey{v: root(defs, i.Args[0]), op: i.Op, konst: i.Const}
			default:
				continue
			}

			if prev, ok := avail[key]; ok {
				repl[i.Out] = prev
				dead[i] = true
				dominated++

				continue
			}

			avail[key] = i.Out
			added = append(added, key)
		}

		for _, c := range dom.Children[id] {
			walk(c)
		}
	}

	walk(f.Entry)

	f.ReplaceUses(repl)

	f.Each(func(b *hir.Block) {
		b.Filter(func(i *hir.Instr) bool { return !dead[i] })
	})

	if failing != 0 {
		f.RecomputePreds()
		removeUnreachable(f)
	}

	tr.V("pass").Printw("guards removed", "proven", proven, "dominated", dominated, "failing", failing)
}

// PhiElimination removes phis merging a single value.
func PhiElimination(ctx context.Context, f *hir.Function) {
	tr := tlog.SpawnFromContext(ctx, "phi elimination")
	defer tr.Finish()

	removed := 0

	for {
		repl := map[hir.Value]hir.Value{}

		f.Each(func(b *hir.Block) {
			b.Filter(func(i *hir.Instr) bool {
				if i.Op != hir.Phi {
					return true
				}

				v, ok := trivialPhi(i)
				if ok {
					repl[i.Out] = v
				}

				return !ok
			})
		})

		if len(repl) == 0 {
			break
		}

		removed += len(repl)

		f.ReplaceUses(repl)
	}

	tr.V("pass").Printw("phis removed", "n", removed)
}

func trivialPhi(phi *hir.Instr) (hir.Value, bool) {
	v := hir.NoValue

	for _, a := range phi.Args {
		if a == phi.Out || a == v {
			continue
		}

		if v != hir.NoValue {
			return hir.NoValue, false
		}

		v = a
	}

	return v, v != hir.NoValue
}
