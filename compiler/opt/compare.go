package opt

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/hir"
)

// DynamicComparisonElimination specializes comparisons of ints and strings.
// A specialized comparison only feeding a branch becomes a primitive compare.
func DynamicComparisonElimination(ctx context.Context, f *hir.Function) {
	tr := tlog.SpawnFromContext(ctx, "dynamic comparison elimination")
	defer tr.Finish()

	var long, str, prim int

	f.Walk(func(b *hir.Block, i *hir.Instr) {
		if i.Op != hir.Compare {
			return
		}

		x, y := f.Type(i.Args[0]), f.Type(i.Args[1])

		switch {
		case x.Le(hir.TLong) && y.Le(hir.TLong):
			i.Op = hir.LongCompare
			long++
		case x.Le(hir.TStr) && y.Le(hir.TStr):
			i.Op = hir.StrCompare
			str++
		}
	})

	defs := f.Defs()

	f.Walk(func(b *hir.Block, i *hir.Instr) {
		if i.Op != hir.IsTruthy {
			return
		}

		d := defs[i.Args[0]]
		if d == nil || d.Op != hir.LongCompare {
			return
		}

		i.Op = hir.PrimitiveCompare
		i.CmpOp = d.CmpOp
		i.Args = []hir.Value{d.Args[0], d.Args[1]}
		prim++
	})

	tr.V("pass").Printw("comparisons", "long", long, "str", str, "primitive", prim)
}
