package opt

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	simplifier struct {
		f    *hir.Function
		defs []*hir.Instr

		repl map[hir.Value]hir.Value
		dead map[*hir.Instr]bool

		cfg     bool
		changed bool
	}
)

// Simplify applies local rewrites until nothing changes.
// Running it twice in a row leaves the function as is.
func Simplify(ctx context.Context, f *hir.Function) {
	tr := tlog.SpawnFromContext(ctx, "simplify")
	defer tr.Finish()

	rounds := 0

	for {
		hir.ReflowTypes(f)

		s := &simplifier{
			f:    f,
			defs: f.Defs(),
			repl: map[hir.Value]hir.Value{},
			dead: map[*hir.Instr]bool{},
		}

		f.Each(s.block)

		if !s.changed {
			break
		}

		rounds++

		f.ReplaceUses(s.repl)

		f.Each(func(b *hir.Block) {
			b.Filter(func(i *hir.Instr) bool { return !s.dead[i] })
		})

		if s.cfg {
			f.RecomputePreds()
			removeUnreachable(f)
		}
	}

	tr.V("pass").Printw("simplified", "rounds", rounds)
}

func (s *simplifier) def(v hir.Value) *hir.Instr {
	if int(v) >= len(s.defs) {
		return nil
	}

	return s.defs[v]
}

func (s *simplifier) typ(v hir.Value) hir.Type { return s.f.Type(v) }

func (s *simplifier) replace(i *hir.Instr, v hir.Value) {
	s.repl[i.Out] = v
	s.dead[i] = true
	s.changed = true
}

func (s *simplifier) block(b *hir.Block) {
	f := s.f

	for k := 0; k < len(b.Instrs); k++ {
		i := b.Instrs[k]

		switch i.Op {
		case hir.CheckVar:
			x := i.Args[0]

			switch t := s.typ(x); {
			case !t.MaybeNull():
				s.replace(i, x)
			case t == hir.TNullptr && k+1 < len(b.Instrs) && b.Instrs[k+1].Op != hir.Unreachable:
				// always raises
				truncate(f, b, k, hir.Unreachable)
				s.cfg = true
				s.changed = true

				return
			}
		case hir.RefineType:
			if s.typ(i.Args[0]).Le(i.Guard) {
				s.replace(i, i.Args[0])
			}
		case hir.BinaryOp:
			if s.typ(i.Args[0]).Le(hir.TLong) && s.typ(i.Args[1]).Le(hir.TLong) {
				i.Op = hir.LongBinaryOp
				s.changed = true
			}
		case hir.LongBinaryOp:
			s.foldLong(i)
		case hir.IsTruthy:
			d := s.def(i.Args[0])
			if d != nil && d.Op == hir.LongCompare {
				i.Op = hir.PrimitiveCompare
				i.CmpOp = d.CmpOp
				i.Args = []hir.Value{d.Args[0], d.Args[1]}
				s.changed = true
			}
		case hir.VectorCall:
			d := s.def(i.Args[0])
			if d == nil || d.Op != hir.GuardIs {
				break
			}

			fn, ok := d.Const.(*object.Func)
			if !ok {
				break
			}

			i.Op = hir.CallStatic
			i.Func = fn
			i.Args = i.Args[1:]
			s.changed = true
		case hir.CondBranch:
			if i.Targets[0] == i.Targets[1] {
				b.Instrs[k] = branchTo(f, b, i.Targets[0], i)
				s.cfg = true
				s.changed = true

				break
			}

			c, ok := s.constCond(i.Args[0])
			if !ok {
				break
			}

			target := i.Targets[1]
			if c {
				target = i.Targets[0]
			}

			retarget(f, b, target)
			s.cfg = true
			s.changed = true
		}
	}
}

// constCond evaluates a branch condition known at compile time.
func (s *simplifier) constCond(v hir.Value) (r, ok bool) {
	d := s.def(v)
	if d == nil || d.Op != hir.IsTruthy {
		return false, false
	}

	c := s.def(d.Args[0])
	if c == nil || c.Op != hir.LoadConst || c.Const == nil {
		return false, false
	}

	return object.Truthy(c.Const), true
}

func (s *simplifier) foldLong(i *hir.Instr) {
	x, ok := s.constInt(i.Args[0])
	if !ok {
		return
	}

	y, ok := s.constInt(i.Args[1])
	if !ok {
		return
	}

	r, err := object.IntOp(i.BinOp, x, y)
	if err != nil {
		// raises at runtime
		return
	}

	i.Op = hir.LoadConst
	i.Const = object.NewInt(r)
	i.Args = nil
	s.changed = true
}

func (s *simplifier) constInt(v hir.Value) (int64, bool) {
	d := s.def(v)
	if d == nil || d.Op != hir.LoadConst || d.Const == nil {
		return 0, false
	}

	return object.AsInt(d.Const)
}
