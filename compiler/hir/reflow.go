package hir

import "github.com/slowlang/hirjit/compiler/object"

// OutputType computes the output type of i from its operand types.
// Out2 of LoadMethod is always Object.
func (f *Function) OutputType(i *Instr) Type {
	arg := func(k int) Type { return f.Types[i.Args[k]] }

	switch i.Op {
	case LoadArg:
		if i.Index < len(f.ParamTypes) && f.ParamTypes[i.Index] != TBottom {
			return f.ParamTypes[i.Index]
		}

		return TObject
	case LoadConst, GuardIs:
		return TypeOf(i.Const)
	case LoadGlobalCached, LoadAttr, CallMethod, VectorCall, CallStatic, InvokeBuiltinMethod:
		return TObject
	case Assign:
		return arg(0)
	case Phi:
		t := TBottom

		for k := range i.Args {
			t |= arg(k)
		}

		return t
	case CheckVar:
		return arg(0) &^ TNullptr
	case BinaryOp:
		if arg(0).Le(TLong) && arg(1).Le(TLong) {
			return TLongExact
		}

		if i.BinOp == object.OpAdd && arg(0).Le(TStr) && arg(1).Le(TStr) {
			return TStr
		}

		return TObject
	case LongBinaryOp:
		return TLongExact
	case UnaryOp:
		if i.Unary == UnaryNot {
			return TBool
		}

		if arg(0).Le(TLong) {
			return TLongExact
		}

		return TObject
	case Compare, LongCompare, StrCompare:
		return TBool
	case PrimitiveCompare, IsTruthy:
		return TCBool
	case GuardType, RefineType:
		return arg(0) & i.Guard
	case LoadMethod:
		return TOptObject
	case BuildList:
		return TList
	case GetIter:
		return TIter
	case ForIterNext:
		return TOptObject
	}

	return TBottom
}

// ReflowTypes recomputes output types to a fixed point.
// Phis start from Bottom so loops get the tightest type.
// Before SSA construction a register assigned more than once gets
// the union of what is assigned to it.
func ReflowTypes(f *Function) {
	f.Walk(func(b *Block, i *Instr) {
		if i.Op == Phi || i.Op == Assign {
			f.Types[i.Out] = TBottom
		}
	})

	rpo := f.RPO()

	for changed := true; changed; {
		changed = false

		for _, id := range rpo {
			for _, i := range f.Blocks[id].Instrs {
				if i.Out == NoValue {
					continue
				}

				t := f.OutputType(i)

				if i.Op == Assign && !f.SSA {
					t |= f.Types[i.Out]
				}

				if f.Types[i.Out] != t {
					f.Types[i.Out] = t
					changed = true
				}

				if i.Out2 != NoValue {
					f.Types[i.Out2] = TObject
				}
			}
		}
	}
}
