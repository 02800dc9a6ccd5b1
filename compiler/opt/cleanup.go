package opt

import (
	"context"
	"slices"

	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/hir"
)

// BuiltinLoadMethodElimination calls builtin methods of receivers with
// an exactly known type directly.
func BuiltinLoadMethodElimination(ctx context.Context, f *hir.Function) {
	tr := tlog.SpawnFromContext(ctx, "builtin load method elimination")
	defer tr.Finish()

	defs := f.Defs()
	calls := 0

	f.Walk(func(b *hir.Block, i *hir.Instr) {
		if i.Op != hir.CallMethod {
			return
		}

		lm := defs[i.Args[0]]
		if lm == nil || lm.Op != hir.LoadMethod || lm.Out != i.Args[0] || lm.Out2 != i.Args[1] {
			return
		}

		recv := lm.Args[0]

		tp, ok := f.Type(recv).ObjectType()
		if !ok {
			return
		}

		m, ok := tp.Methods[lm.Name]
		if !ok {
			return
		}

		i.Op = hir.InvokeBuiltinMethod
		i.Method = m
		i.Args = append([]hir.Value{recv}, i.Args[2:]...)
		calls++
	})

	if calls == 0 {
		return
	}

	uses := f.UseCounts()
	removed := 0

	f.Each(func(b *hir.Block) {
		removed += b.Filter(func(i *hir.Instr) bool {
			return i.Op != hir.LoadMethod || uses[i.Out] != 0 || uses[i.Out2] != 0
		})
	})

	tr.V("pass").Printw("builtin methods", "calls", calls, "loads_removed", removed)
}

// CleanCFG removes unreachable blocks, jumps to jumps and
// blocks with a single predecessor and successor pair.
func CleanCFG(ctx context.Context, f *hir.Function) {
	tr := tlog.SpawnFromContext(ctx, "clean cfg")
	defer tr.Finish()

	var unreachable, forwarded, merged int

	for {
		f.RecomputePreds()

		n := removeUnreachable(f)
		unreachable += n

		if forwardJump(f) {
			forwarded++
			continue
		}

		if mergeBlocks(f) {
			merged++
			continue
		}

		if n == 0 {
			break
		}
	}

	tr.V("pass").Printw("cfg cleaned", "unreachable", unreachable, "forwarded", forwarded, "merged", merged)
}

// forwardJump retargets predecessors of one empty block to its successor.
func forwardJump(f *hir.Function) bool {
	for _, b := range f.Blocks {
		if b == nil || b.ID == f.Entry || len(b.Instrs) != 1 {
			continue
		}

		t := b.Instrs[0]

		if t.Op != hir.Branch || t.Targets[0] == b.ID {
			continue
		}

		target := f.Blocks[t.Targets[0]]

		phis := target.Phis()

		if len(phis) != 0 && slices.ContainsFunc(b.Preds, func(p hir.BlockID) bool {
			return slices.Contains(target.Preds, p)
		}) {
			continue
		}

		for _, p := range b.Preds {
			replaceTarget(f.Blocks[p].Terminator(), b.ID, target.ID)
		}

		for _, phi := range phis {
			v, _ := phi.PhiInput(b.ID)

			dropPhiInput(phi, b.ID)

			for _, p := range b.Preds {
				phi.Args = append(phi.Args, v)
				phi.PhiPreds = append(phi.PhiPreds, p)
			}
		}

		f.RemoveBlock(b.ID)

		return true
	}

	for _, b := range f.Blocks {
		if b == nil {
			continue
		}

		if t := b.Terminator(); t.Op == hir.CondBranch && t.Targets[0] == t.Targets[1] {
			b.Instrs[len(b.Instrs)-1] = branchTo(f, b, t.Targets[0], t)
			return true
		}
	}

	return false
}

// mergeBlocks appends a block to its only predecessor
// if that predecessor has no other successors.
func mergeBlocks(f *hir.Function) bool {
	for _, b := range f.Blocks {
		if b == nil {
			continue
		}

		t := b.Terminator()
		if t.Op != hir.Branch {
			continue
		}

		s := f.Blocks[t.Targets[0]]
		if s.ID == b.ID || s.ID == f.Entry || len(s.Preds) != 1 {
			continue
		}

		repl := map[hir.Value]hir.Value{}

		for _, phi := range s.Phis() {
			repl[phi.Out] = phi.Args[0]
		}

		b.Instrs = b.Instrs[:len(b.Instrs)-1]

		for _, i := range s.Instrs[len(repl):] {
			b.Append(i)
		}

		for _, succ := range b.Succs() {
			renamePred(f.Blocks[succ], s.ID, b.ID)
		}

		f.RemoveBlock(s.ID)
		f.ReplaceUses(repl)

		return true
	}

	return false
}

// DeadCodeElimination removes instructions whose results are not used
// and which have no effects. Frame states are dropped from instructions
// that cannot deoptimize.
func DeadCodeElimination(ctx context.Context, f *hir.Function) {
	tr := tlog.SpawnFromContext(ctx, "dead code elimination")
	defer tr.Finish()

	f.Walk(func(b *hir.Block, i *hir.Instr) {
		if i.FS != nil && !i.Op.CanDeopt() && i.Op != hir.BeginInlinedFunction {
			i.FS = nil
		}
	})

	defs := f.Defs()
	live := map[*hir.Instr]bool{}

	var work []*hir.Instr

	f.Walk(func(b *hir.Block, i *hir.Instr) {
		if i.Op.HasSideEffects() {
			live[i] = true
			work = append(work, i)
		}
	})

	for len(work) != 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]

		i.Uses(func(v hir.Value) {
			d := defs[v]
			if d == nil || live[d] {
				return
			}

			live[d] = true
			work = append(work, d)
		})
	}

	removed := 0

	f.Each(func(b *hir.Block) {
		removed += b.Filter(func(i *hir.Instr) bool { return live[i] })
	})

	tr.V("pass").Printw("dead code removed", "instrs", removed)
}
