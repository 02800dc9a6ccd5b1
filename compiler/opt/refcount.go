package opt

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/set"
)

type (
	refcounter struct {
		f    *hir.Function
		defs []*hir.Instr
		live *hir.Liveness

		increfs, decrefs int
	}
)

// RefcountInsertion makes reference ownership explicit.
//
// Values are tracked by alias root: pass-through instructions share the
// reference of their operand. Every owned root is released exactly once
// on every path: after its last use, on the edge where it dies, or by
// being passed to a phi or returned. Borrowed roots are increfed where
// a reference is handed over. Instructions that can raise or deopt
// record owned roots alive across them in LiveOwned.
func RefcountInsertion(ctx context.Context, f *hir.Function) {
	tr := tlog.SpawnFromContext(ctx, "refcount insertion")
	defer tr.Finish()

	f.RecomputePreds()

	r := &refcounter{
		f:    f,
		defs: f.Defs(),
	}

	r.live = hir.ComputeLiveness(f, r.key)

	var ids []hir.BlockID

	f.Each(func(b *hir.Block) {
		ids = append(ids, b.ID)
	})

	for _, id := range ids {
		r.block(f.Blocks[id])
	}

	for _, id := range ids {
		r.edges(f.Blocks[id])
	}

	tr.V("pass").Printw("refcounts", "increfs", r.increfs, "decrefs", r.decrefs)
}

// key maps v to its tracked root.
func (r *refcounter) key(v hir.Value) (hir.Value, bool) {
	x := root(r.defs, v)

	return x, r.counted(x)
}

func (r *refcounter) counted(x hir.Value) bool {
	if int(x) >= len(r.defs) || r.defs[x] == nil {
		return false
	}

	return r.f.Type(x)&hir.TObject != 0
}

func (r *refcounter) owned(x hir.Value) bool {
	return !r.defs[x].Op.OutputBorrowed()
}

// uses returns tracked roots read by i.
func (r *refcounter) uses(i *hir.Instr) (s set.Bits[hir.Value]) {
	i.Uses(func(v hir.Value) {
		if x, ok := r.key(v); ok {
			s.Set(x)
		}
	})

	return s
}

// outputs returns tracked roots defined by i.
func (r *refcounter) outputs(i *hir.Instr) (s set.Bits[hir.Value]) {
	for _, v := range i.Outputs() {
		if x, ok := r.key(v); ok && x == v {
			s.Set(x)
		}
	}

	return s
}

func (r *refcounter) ownedOf(s set.Bits[hir.Value]) (l []hir.Value) {
	s.Range(func(x hir.Value) bool {
		if r.owned(x) {
			l = append(l, x)
		}

		return true
	})

	return l
}

func (r *refcounter) block(b *hir.Block) {
	live := r.live.Out[b.ID].Copy()

	t := b.Terminator()
	tuses := r.uses(t)

	switch t.Op {
	case hir.Return:
		x, ok := r.key(t.Args[0])
		if ok && !r.owned(x) {
			b.Insert(len(b.Instrs)-1, r.incref(x))
		}
	case hir.Deopt:
		t.LiveOwned = r.ownedOf(tuses)
	}

	live.Merge(tuses)

	for k := len(b.Instrs) - 2; k >= b.FirstNonPhi(); k-- {
		i := b.Instrs[k]

		uses := r.uses(i)
		outs := r.outputs(i)

		if i.Op.CanRaise() || i.Op.CanDeopt() {
			held := live.Copy()
			held.Merge(uses)
			held.Substract(outs)

			i.LiveOwned = r.ownedOf(held)
		}

		var after []*hir.Instr

		outs.Range(func(x hir.Value) bool {
			if !live.IsSet(x) && r.owned(x) {
				after = append(after, r.decref(x))
			}

			return true
		})

		uses.Range(func(x hir.Value) bool {
			if !live.IsSet(x) && r.owned(x) {
				after = append(after, r.decref(x))
			}

			return true
		})

		for j, d := range after {
			b.Insert(k+1+j, d)
		}

		live.Substract(outs)
		live.Merge(uses)
	}

	pos := b.FirstNonPhi()

	for _, phi := range b.Phis() {
		x, ok := r.key(phi.Out)
		if !ok || live.IsSet(x) {
			continue
		}

		b.Insert(pos, r.decref(x))
	}
}

// edges releases references dying on control flow edges and hands
// references over to successor phis.
func (r *refcounter) edges(b *hir.Block) {
	f := r.f
	t := b.Terminator()

	switch t.Op {
	case hir.Branch, hir.CondBranch, hir.CondBranchIterNotDone:
	default:
		return
	}

	avail := r.live.Out[b.ID].Copy()
	avail.Merge(r.uses(t))

	var succs []hir.BlockID

	for _, s := range t.Targets {
		if !dupTarget(succs, s) {
			succs = append(succs, s)
		}
	}

	for _, s := range succs {
		sb := f.Blocks[s]
		need := r.live.In[s]

		var code []*hir.Instr
		var moved set.Bits[hir.Value]

		for _, phi := range sb.Phis() {
			in, _ := phi.PhiInput(b.ID)

			x, ok := r.key(in)
			if !ok {
				continue
			}

			if r.owned(x) && avail.IsSet(x) && !need.IsSet(x) && !moved.IsSet(x) {
				moved.Set(x)
				continue
			}

			code = append(code, r.incref(x))
		}

		avail.Range(func(x hir.Value) bool {
			if r.owned(x) && !need.IsSet(x) && !moved.IsSet(x) {
				code = append(code, r.decref(x))
			}

			return true
		})

		if len(code) == 0 {
			continue
		}

		var at *hir.Block
		var pos int

		switch {
		case len(succs) == 1:
			at, pos = b, len(b.Instrs)-1
		case len(sb.Preds) == 1:
			at, pos = sb, sb.FirstNonPhi()
		default:
			at = f.SplitEdge(b.ID, s)
		}

		for j, i := range code {
			at.Insert(pos+j, i)
		}
	}
}

func (r *refcounter) incref(x hir.Value) *hir.Instr {
	r.increfs++

	op := hir.Incref
	if r.f.Type(x).MaybeNull() {
		op = hir.XIncref
	}

	return r.f.NewInstr(op, x)
}

func (r *refcounter) decref(x hir.Value) *hir.Instr {
	r.decrefs++

	op := hir.Decref
	if r.f.Type(x).MaybeNull() {
		op = hir.XDecref
	}

	return r.f.NewInstr(op, x)
}

func dupTarget(l []hir.BlockID, s hir.BlockID) bool {
	for _, x := range l {
		if x == s {
			return true
		}
	}

	return false
}
