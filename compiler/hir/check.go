package hir

import (
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/hirjit/compiler/set"
)

type (
	// InternalError is an optimizer defect found by the verifier.
	// It is raised with panic: the IR can't be trusted past this point.
	InternalError struct {
		Pass string
		Func string
		Err  error
		PC   loc.PC
	}
)

// Verify panics with *InternalError if f is malformed.
func Verify(f *Function, pass string) {
	err := CheckFunc(f)
	if err == nil {
		err = CheckTypes(f)
	}

	if err == nil {
		return
	}

	panic(&InternalError{
		Pass: pass,
		Func: f.Source(),
		Err:  err,
		PC:   loc.Caller(1),
	})
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s: after %s: %v", e.Func, e.Pass, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) TlogAppend(b []byte) []byte {
	var enc tlwire.Encoder

	return enc.AppendString(b, e.Error())
}

// arity returns the operand count range, max -1 for variadic.
func arity(op Op) (lo, hi int) {
	switch op {
	case LoadArg, LoadConst, LoadGlobalCached, BeginInlinedFunction, EndInlinedFunction,
		Branch, Deopt, Unreachable:
		return 0, 0
	case Assign, CheckVar, UnaryOp, IsTruthy, GuardType, GuardIs, RefineType, LoadAttr, LoadMethod, GetIter, ForIterNext,
		Incref, XIncref, Decref, XDecref, CondBranch, CondBranchIterNotDone, Return:
		return 1, 1
	case BinaryOp, LongBinaryOp, Compare, LongCompare, PrimitiveCompare, StrCompare:
		return 2, 2
	case CallMethod:
		return 2, -1
	case VectorCall, InvokeBuiltinMethod:
		return 1, -1
	case Phi, CallStatic, BuildList:
		return 0, -1
	}

	return 0, 0
}

func targets(op Op) int {
	switch op {
	case Branch:
		return 1
	case CondBranch, CondBranchIterNotDone:
		return 2
	}

	return 0
}

// CheckFunc verifies CFG structure and, in SSA form, that every use is
// dominated by the single definition of the value.
// Predecessor lists are recomputed.
func CheckFunc(f *Function) error {
	if int(f.Entry) >= len(f.Blocks) || f.Blocks[f.Entry] == nil {
		return errors.New("no entry block %v", f.Entry)
	}

	for id, b := range f.Blocks {
		if b != nil && b.ID != BlockID(id) {
			return errors.New("bb%d: id mismatch %v", id, b.ID)
		}
	}

	f.RecomputePreds()

	reach := f.Reachable()
	nvals := Value(len(f.Types))

	for _, b := range f.Blocks {
		if b == nil {
			continue
		}

		if !reach.IsSet(b.ID) {
			return errors.New("bb%d: unreachable", b.ID)
		}

		if len(b.Instrs) == 0 {
			return errors.New("bb%d: empty block", b.ID)
		}

		if b.Terminator() == nil {
			return errors.New("bb%d: no terminator", b.ID)
		}

		if b.ID == f.Entry && len(b.Preds) != 0 {
			return errors.New("bb%d: entry block has predecessors %v", b.ID, b.Preds)
		}

		for k, i := range b.Instrs {
			err := checkInstr(f, b, k, i, nvals)
			if err != nil {
				return errors.Wrap(err, "bb%d: %s", b.ID, f.AppendInstr(nil, i))
			}
		}
	}

	if !f.SSA {
		return nil
	}

	return checkSSA(f)
}

func checkInstr(f *Function, b *Block, k int, i *Instr, nvals Value) error {
	if !i.Op.Valid() {
		return errors.New("bad op %d", i.Op)
	}

	if i.Block != b.ID {
		return errors.New("block link %v", i.Block)
	}

	if i.Op.IsTerminator() != (k == len(b.Instrs)-1) {
		return errors.New("terminator in the middle of block")
	}

	if i.Op == Phi && k >= len(b.Phis()) {
		return errors.New("phi after non-phi instruction")
	}

	lo, hi := arity(i.Op)
	if len(i.Args) < lo || hi >= 0 && len(i.Args) > hi {
		return errors.New("%d operands", len(i.Args))
	}

	if i.Op.HasOutput() != (i.Out != NoValue) {
		return errors.New("output mismatch")
	}

	if i.Out2 != NoValue && i.Op != LoadMethod {
		return errors.New("second output")
	}

	for _, v := range i.Outputs() {
		if v < 0 || v >= nvals {
			return errors.New("output v%d out of range", v)
		}
	}

	var bad error

	i.Uses(func(v Value) {
		if bad == nil && (v < 0 || v >= nvals) {
			bad = errors.New("operand v%d out of range", v)
		}
	})

	if bad != nil {
		return bad
	}

	if i.Op.CanDeopt() && i.FS == nil {
		return errors.New("deopt point without frame state")
	}

	if n := targets(i.Op); len(i.Targets) != n {
		return errors.New("%d targets, want %d", len(i.Targets), n)
	}

	for _, t := range i.Targets {
		if t < 0 || int(t) >= len(f.Blocks) || f.Blocks[t] == nil {
			return errors.New("branch to missing bb%d", t)
		}
	}

	if i.Op == Phi {
		return checkPhi(b, i)
	}

	return nil
}

func checkPhi(b *Block, i *Instr) error {
	if len(i.PhiPreds) != len(i.Args) {
		return errors.New("phi: %d preds for %d inputs", len(i.PhiPreds), len(i.Args))
	}

	var seen set.Bits[BlockID]

	for _, p := range i.PhiPreds {
		if seen.IsSet(p) {
			return errors.New("phi: duplicate pred bb%d", p)
		}

		seen.Set(p)
	}

	if !seen.Equal(set.MakeBits(b.Preds...)) {
		return errors.New("phi: preds %v, block preds %v", i.PhiPreds, b.Preds)
	}

	return nil
}

func checkSSA(f *Function) error {
	type site struct {
		b BlockID
		k int
	}

	defs := make([]site, len(f.Types))
	defined := make([]bool, len(f.Types))

	var err error

	f.Walk(func(b *Block, i *Instr) {
		if err != nil {
			return
		}

		if i.Op == Assign {
			err = errors.New("bb%d: Assign in SSA form", b.ID)
			return
		}

		for _, v := range i.Outputs() {
			if defined[v] {
				err = errors.New("bb%d: v%d defined twice", b.ID, v)
				return
			}

			defined[v] = true
		}
	})

	if err != nil {
		return err
	}

	f.Each(func(b *Block) {
		for k, i := range b.Instrs {
			for _, v := range i.Outputs() {
				defs[v] = site{b: b.ID, k: k}
			}
		}
	})

	dom := f.Dominators()

	f.Each(func(b *Block) {
		for k, i := range b.Instrs {
			if err != nil {
				return
			}

			if i.Op == Phi {
				for j, v := range i.Args {
					p := i.PhiPreds[j]

					switch {
					case !defined[v]:
						err = errors.New("bb%d: %s: v%d used but not defined", b.ID, f.AppendInstr(nil, i), v)
					case !dom.Dominates(defs[v].b, p):
						err = errors.New("bb%d: %s: def of v%d in bb%d does not dominate bb%d", b.ID, f.AppendInstr(nil, i), v, defs[v].b, p)
					}
				}

				continue
			}

			i.Uses(func(v Value) {
				if err != nil {
					return
				}

				d := defs[v]

				switch {
				case !defined[v]:
					err = errors.New("bb%d: %s: v%d used but not defined", b.ID, f.AppendInstr(nil, i), v)
				case d.b == b.ID && d.k >= k:
					err = errors.New("bb%d: %s: v%d used before definition", b.ID, f.AppendInstr(nil, i), v)
				case d.b != b.ID && !dom.Dominates(d.b, b.ID):
					err = errors.New("bb%d: %s: def of v%d in bb%d does not dominate use", b.ID, f.AppendInstr(nil, i), v, d.b)
				}
			})
		}
	})

	return err
}

// CheckTypes verifies operand type constraints.
// Registers are only typed precisely in SSA form, so nothing is checked before.
func CheckTypes(f *Function) error {
	if !f.SSA {
		return nil
	}

	var err error

	f.Walk(func(b *Block, i *Instr) {
		if err != nil {
			return
		}

		want := func(k int, t Type) {
			if err != nil || k >= len(i.Args) {
				return
			}

			if got := f.Types[i.Args[k]]; !got.Le(t) {
				err = errors.New("bb%d: %s: operand %d is %v, want %v", b.ID, f.AppendInstr(nil, i), k, got, t)
			}
		}

		all := func(from int, t Type) {
			for k := from; k < len(i.Args); k++ {
				want(k, t)
			}
		}

		switch i.Op {
		case BinaryOp, Compare, UnaryOp, IsTruthy, GetIter, LoadAttr, LoadMethod, VectorCall, CallStatic,
			InvokeBuiltinMethod, BuildList, GuardType, GuardIs, Return, Incref, Decref:
			all(0, TObject)
		case LongBinaryOp, LongCompare, PrimitiveCompare:
			all(0, TLong)
		case StrCompare:
			all(0, TStr)
		case CheckVar, RefineType, XIncref, XDecref, CondBranchIterNotDone:
			all(0, TOptObject)
		case CallMethod:
			want(0, TOptObject)
			all(1, TObject)
		case ForIterNext:
			want(0, TIter)
		case CondBranch:
			want(0, TCBool)
		case Phi:
			all(0, f.Types[i.Out])
		}

		if err != nil || i.Out == NoValue || i.Op == Phi {
			return
		}

		if t := f.OutputType(i); !t.Le(f.Types[i.Out]) {
			err = errors.New("bb%d: %s: output type %v, computed %v", b.ID, f.AppendInstr(nil, i), f.Types[i.Out], t)
		}
	})

	return err
}
