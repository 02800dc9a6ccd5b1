package back

import (
	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	// cell is a frame slot. Objects and machine booleans
	// never share a slot at the same time.
	cell struct {
		o object.Object
		c bool
	}

	frame struct {
		c    *Code
		r    []cell
		args []object.Object
		tmp  []cell

		res object.Object
		err error
	}

	// step executes one instruction word and returns the next pc.
	step func(fr *frame) int
)

const exit = -1

func (c *Code) run(args []object.Object) (object.Object, error) {
	if c.step == nil {
		return nil, object.Errorf(object.SystemError, "%s: %v", c.Name, ErrFreed)
	}

	fr := &frame{
		c:    c,
		r:    make([]cell, c.slots),
		args: args,
	}

	for pc := 0; pc != exit; {
		pc = c.step[pc](fr)
	}

	return fr.res, fr.err
}

// link decodes instruction words into steps.
func (c *Code) link(n int) {
	c.step = make([]step, n)

	for pc := range c.step {
		c.step[pc] = c.decode(pc, c.word(pc))
	}
}

func (c *Code) decode(pc int, w word) step {
	op, d, x, y := w.op(), w.dst(), w.x(), w.y()
	next := pc + 1

	var a *aux
	var i *hir.Instr

	if k := w.aux(); k != none {
		a = &c.aux[k]
		i = a.i
	}

	switch op {
	case hir.LoadArg:
		k := i.Index

		return func(fr *frame) int {
			fr.r[d].o = fr.args[k]
			return next
		}
	case hir.LoadConst:
		o := i.Const

		return func(fr *frame) int {
			fr.r[d].o = o
			return next
		}
	case hir.LoadGlobalCached:
		fn, name := i.Func, i.Name

		return func(fr *frame) int {
			o, ok := fn.Globals.Get(name)
			if !ok {
				o, ok = fn.Builtins.Get(name)
			}

			if !ok {
				return fr.raise(a, object.Errorf(object.NameError, "name '%s' is not defined", name))
			}

			fr.r[d].o = o

			return next
		}
	case hir.Assign, hir.RefineType:
		return func(fr *frame) int {
			fr.r[d] = fr.r[x]
			return next
		}
	case hir.CheckVar:
		name := i.Name

		return func(fr *frame) int {
			if fr.r[x].o == nil {
				return fr.raise(a, object.Errorf(object.UnboundLocalError, "local variable '%s' referenced before assignment", name))
			}

			fr.r[d] = fr.r[x]

			return next
		}
	case hir.BinaryOp:
		bop := i.BinOp

		return func(fr *frame) int {
			r, err := object.Binary(bop, fr.r[x].o, fr.r[y].o)
			if err != nil {
				return fr.raise(a, err)
			}

			fr.r[d].o = r

			return next
		}
	case hir.LongBinaryOp:
		bop := i.BinOp

		return func(fr *frame) int {
			l, _ := object.AsInt(fr.r[x].o)
			r, _ := object.AsInt(fr.r[y].o)

			v, err := object.IntOp(bop, l, r)
			if err != nil {
				return fr.raise(a, err)
			}

			fr.r[d].o = object.NewInt(v)

			return next
		}
	case hir.UnaryOp:
		if i.Unary == hir.UnaryNot {
			return func(fr *frame) int {
				fr.r[d].o = object.Not(fr.r[x].o)
				return next
			}
		}

		return func(fr *frame) int {
			r, err := object.Negative(fr.r[x].o)
			if err != nil {
				return fr.raise(a, err)
			}

			fr.r[d].o = r

			return next
		}
	case hir.Compare:
		cop := i.CmpOp

		return func(fr *frame) int {
			r, err := object.Compare(cop, fr.r[x].o, fr.r[y].o)
			if err != nil {
				return fr.raise(a, err)
			}

			fr.r[d].o = r

			return next
		}
	case hir.LongCompare:
		cop := i.CmpOp

		return func(fr *frame) int {
			fr.r[d].o = object.NewBool(longCompare(cop, fr.r[x].o, fr.r[y].o))
			return next
		}
	case hir.PrimitiveCompare:
		cop := i.CmpOp

		return func(fr *frame) int {
			fr.r[d].c = longCompare(cop, fr.r[x].o, fr.r[y].o)
			return next
		}
	case hir.StrCompare:
		cop := i.CmpOp

		return func(fr *frame) int {
			l := fr.r[x].o.(*object.Str)
			r := fr.r[y].o.(*object.Str)

			fr.r[d].o = object.NewBool(object.StrCompare(cop, l.V, r.V))

			return next
		}
	case hir.IsTruthy:
		return func(fr *frame) int {
			fr.r[d].c = object.Truthy(fr.r[x].o)
			return next
		}
	case hir.GuardType:
		t := i.Guard

		return func(fr *frame) int {
			if !t.Contains(fr.r[x].o) {
				return fr.deopt(a)
			}

			fr.r[d] = fr.r[x]

			return next
		}
	case hir.GuardIs:
		o := i.Const

		return func(fr *frame) int {
			if fr.r[x].o != o {
				return fr.deopt(a)
			}

			fr.r[d] = fr.r[x]

			return next
		}
	case hir.LoadAttr:
		name := i.Name

		return func(fr *frame) int {
			r, err := object.GetAttr(fr.r[x].o, name)
			if err != nil {
				return fr.raise(a, err)
			}

			fr.r[d].o = r

			return next
		}
	case hir.LoadMethod:
		name := i.Name

		return func(fr *frame) int {
			o := fr.r[x].o

			meth, attr, err := object.LoadMethod(o, name)
			if err != nil {
				return fr.raise(a, err)
			}

			if meth != nil {
				object.Incref(o)
				attr = o
			}

			fr.r[d].o = meth
			fr.r[y].o = attr

			return next
		}
	case hir.CallMethod:
		return func(fr *frame) int {
			r, err := object.CallMethod(fr.r[x].o, fr.r[y].o, fr.objects(a.args))
			if err != nil {
				return fr.raise(a, err)
			}

			fr.r[d].o = r

			return next
		}
	case hir.VectorCall:
		return func(fr *frame) int {
			args := fr.operands(y, a.args)

			r, err := object.Call(fr.r[x].o, args)
			if err != nil {
				return fr.raise(a, err)
			}

			fr.r[d].o = r

			return next
		}
	case hir.CallStatic:
		fn := i.Func

		return func(fr *frame) int {
			args := fr.operands(y, a.args)
			if x != none {
				args = append([]object.Object{fr.r[x].o}, args...)
			}

			r, err := object.Call(fn, args)
			if err != nil {
				return fr.raise(a, err)
			}

			fr.r[d].o = r

			return next
		}
	case hir.InvokeBuiltinMethod:
		m := i.Method

		return func(fr *frame) int {
			args := append([]object.Object{fr.r[x].o}, fr.operands(y, a.args)...)

			r, err := m.Call(args)
			if err != nil {
				return fr.raise(a, err)
			}

			fr.r[d].o = r

			return next
		}
	case hir.BuildList:
		return func(fr *frame) int {
			items := fr.operands(y, a.args)
			if x != none {
				items = append([]object.Object{fr.r[x].o}, items...)
			}

			for _, o := range items {
				object.Incref(o)
			}

			fr.r[d].o = object.NewList(items...)

			return next
		}
	case hir.GetIter:
		return func(fr *frame) int {
			r, err := object.GetIter(fr.r[x].o)
			if err != nil {
				return fr.raise(a, err)
			}

			fr.r[d].o = r

			return next
		}
	case hir.ForIterNext:
		return func(fr *frame) int {
			it := fr.r[x].o.(*object.Iter)

			v, _ := it.Next()
			fr.r[d].o = v

			return next
		}
	case hir.BeginInlinedFunction, hir.EndInlinedFunction:
		return func(fr *frame) int { return next }
	case hir.Incref:
		return func(fr *frame) int {
			object.Incref(fr.r[x].o)
			return next
		}
	case hir.XIncref:
		return func(fr *frame) int {
			if o := fr.r[x].o; o != nil {
				object.Incref(o)
			}

			return next
		}
	case hir.Decref:
		return func(fr *frame) int {
			object.Decref(fr.r[x].o)
			return next
		}
	case hir.XDecref:
		return func(fr *frame) int {
			object.XDecref(fr.r[x].o)
			return next
		}
	case hir.Branch:
		return func(fr *frame) int {
			fr.move(a.moves[0])
			return a.targets[0]
		}
	case hir.CondBranch:
		return func(fr *frame) int {
			return fr.branch(a, fr.r[x].c)
		}
	case hir.CondBranchIterNotDone:
		return func(fr *frame) int {
			return fr.branch(a, fr.r[x].o != nil)
		}
	case hir.Return:
		return func(fr *frame) int {
			fr.res = fr.r[x].o
			return exit
		}
	case hir.Deopt:
		return func(fr *frame) int {
			return fr.deopt(a)
		}
	}

	name := c.Name

	return func(fr *frame) int {
		fr.err = object.Errorf(object.SystemError, "%s: pc %d: reached %v", name, pc, op)
		return exit
	}
}

func (fr *frame) branch(a *aux, cond bool) int {
	k := 1
	if cond {
		k = 0
	}

	fr.move(a.moves[k])

	return a.targets[k]
}

// move performs a parallel copy: all sources are read before any write.
func (fr *frame) move(ms []move) {
	if len(ms) == 0 {
		return
	}

	tmp := fr.tmp[:0]

	for _, m := range ms {
		tmp = append(tmp, fr.r[m.src])
	}

	for k, m := range ms {
		fr.r[m.dst] = tmp[k]
	}

	fr.tmp = tmp
}

// raise releases owned values and leaves the function with err.
func (fr *frame) raise(a *aux, err error) int {
	for _, s := range a.live {
		object.XDecref(fr.r[s].o)
	}

	fr.res, fr.err = nil, err

	return exit
}

// operands collects the second and further operands.
func (fr *frame) operands(y int, rest []int) []object.Object {
	if y == none {
		return nil
	}

	args := make([]object.Object, 0, 1+len(rest))
	args = append(args, fr.r[y].o)

	for _, s := range rest {
		args = append(args, fr.r[s].o)
	}

	return args
}

func (fr *frame) objects(slots []int) []object.Object {
	args := make([]object.Object, len(slots))

	for k, s := range slots {
		args[k] = fr.r[s].o
	}

	return args
}

func longCompare(op object.CmpOp, x, y object.Object) bool {
	l, _ := object.AsInt(x)
	r, _ := object.AsInt(y)

	return object.IntCompare(op, l, r)
}
