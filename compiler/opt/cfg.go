package opt

import (
	"github.com/slowlang/hirjit/compiler/hir"
)

// removeUnreachable deletes blocks not reachable from entry
// and drops phi inputs coming from them.
func removeUnreachable(f *hir.Function) (removed int) {
	reach := f.Reachable()

	f.Each(func(b *hir.Block) {
		if reach.IsSet(b.ID) {
			return
		}

		for _, s := range b.Succs() {
			if sb := f.Blocks[s]; sb != nil && reach.IsSet(s) {
				removePhiInput(sb, b.ID)
			}
		}

		f.RemoveBlock(b.ID)
		removed++
	})

	if removed != 0 {
		f.RecomputePreds()
	}

	return removed
}

func removePhiInput(b *hir.Block, pred hir.BlockID) {
	for _, phi := range b.Phis() {
		dropPhiInput(phi, pred)
	}
}

func dropPhiInput(phi *hir.Instr, pred hir.BlockID) {
	j := 0

	for k, p := range phi.PhiPreds {
		if p == pred {
			continue
		}

		phi.PhiPreds[j] = p
		phi.Args[j] = phi.Args[k]
		j++
	}

	phi.PhiPreds = phi.PhiPreds[:j]
	phi.Args = phi.Args[:j]
}

// retarget makes the terminator of b jump to target only.
// Phi inputs from b in the other successors are dropped.
func retarget(f *hir.Function, b *hir.Block, target hir.BlockID) {
	t := b.Terminator()

	for _, s := range t.Targets {
		if s != target {
			removePhiInput(f.Blocks[s], b.ID)
		}
	}

	b.Instrs[len(b.Instrs)-1] = branchTo(f, b, target, t)
}

// truncate ends b after the instruction at k with term.
func truncate(f *hir.Function, b *hir.Block, k int, term hir.Op) *hir.Instr {
	if t := b.Terminator(); t != nil {
		for _, s := range t.Targets {
			removePhiInput(f.Blocks[s], b.ID)
		}
	}

	clear(b.Instrs[k+1:])
	b.Instrs = b.Instrs[:k+1]

	return f.Terminate(b, term, nil)
}

func branchTo(f *hir.Function, b *hir.Block, target hir.BlockID, old *hir.Instr) *hir.Instr {
	i := f.NewInstr(hir.Branch)
	i.Targets = []hir.BlockID{target}
	i.Block = b.ID
	i.PC = old.PC

	return i
}

func replaceTarget(t *hir.Instr, from, to hir.BlockID) {
	for k, s := range t.Targets {
		if s == from {
			t.Targets[k] = to
		}
	}
}

// renamePred rewrites phi predecessor ids in b.
func renamePred(b *hir.Block, from, to hir.BlockID) {
	for _, phi := range b.Phis() {
		for k, p := range phi.PhiPreds {
			if p == from {
				phi.PhiPreds[k] = to
			}
		}
	}
}

// root follows pass-through instructions to the value
// holding the reference.
func root(defs []*hir.Instr, v hir.Value) hir.Value {
	for {
		if int(v) >= len(defs) {
			return v
		}

		d := defs[v]
		if d == nil || !d.Op.Passthrough() || d.Out != v {
			return v
		}

		v = d.Args[0]
	}
}
