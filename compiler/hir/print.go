package hir

import (
	"github.com/nikandfor/hacked/hfmt"

	"github.com/slowlang/hirjit/compiler/object"
)

// Print renders the function as text. Output depends only on the IR.
func Print(b []byte, f *Function) []byte {
	b = hfmt.Appendf(b, "fun %s {\n", f.Name)

	f.Each(func(bl *Block) {
		b = hfmt.Appendf(b, "  bb %d", bl.ID)

		if len(bl.Preds) != 0 {
			b = append(b, " (preds"...)

			for _, p := range bl.Preds {
				b = hfmt.Appendf(b, " %d", p)
			}

			b = append(b, ')')
		}

		if bl.ID == f.Entry {
			b = append(b, " entry"...)
		}

		b = append(b, " {\n"...)

		for _, i := range bl.Instrs {
			b = append(b, "    "...)
			b = f.AppendInstr(b, i)
			b = append(b, '\n')
		}

		b = append(b, "  }\n"...)
	})

	b = append(b, "}\n"...)

	return b
}

func (f *Function) String() string {
	return string(Print(nil, f))
}

func (f *Function) AppendInstr(b []byte, i *Instr) []byte {
	if i.Out != NoValue {
		b = hfmt.Appendf(b, "v%d:%v", i.Out, f.Types[i.Out])

		if i.Out2 != NoValue {
			b = hfmt.Appendf(b, ", v%d:%v", i.Out2, f.Types[i.Out2])
		}

		b = append(b, " = "...)
	}

	b = append(b, i.Op.String()...)
	b = appendImm(b, i)

	for k, a := range i.Args {
		if i.Op == Phi {
			b = hfmt.Appendf(b, " bb%d:v%d", i.PhiPreds[k], a)
			continue
		}

		b = hfmt.Appendf(b, " v%d", a)
	}

	for _, t := range i.Targets {
		b = hfmt.Appendf(b, " bb%d", t)
	}

	if i.FS != nil {
		b = append(b, " {"...)
		b = appendFS(b, i.FS)
		b = append(b, '}')
	}

	if len(i.LiveOwned) != 0 {
		b = append(b, " live"...)

		for _, v := range i.LiveOwned {
			b = hfmt.Appendf(b, " v%d", v)
		}
	}

	return b
}

func appendImm(b []byte, i *Instr) []byte {
	switch i.Op {
	case LoadArg:
		return hfmt.Appendf(b, "<%d>", i.Index)
	case LoadConst:
		return hfmt.Appendf(b, "<%s>", constRepr(i.Const))
	case GuardIs:
		return hfmt.Appendf(b, "<%s>", constRepr(i.Const))
	case LoadGlobalCached, LoadAttr, LoadMethod, CheckVar:
		return hfmt.Appendf(b, "<%q>", i.Name)
	case BinaryOp, LongBinaryOp:
		return hfmt.Appendf(b, "<%v>", i.BinOp)
	case Compare, LongCompare, PrimitiveCompare, StrCompare:
		return hfmt.Appendf(b, "<%v>", i.CmpOp)
	case UnaryOp:
		return hfmt.Appendf(b, "<%v>", i.Unary)
	case GuardType, RefineType:
		return hfmt.Appendf(b, "<%v>", i.Guard)
	case CallStatic:
		return hfmt.Appendf(b, "<%s>", i.Func.Code.Name)
	case BeginInlinedFunction:
		return hfmt.Appendf(b, "<%s #%d>", i.Func.Code.Name, i.Index)
	case EndInlinedFunction:
		return hfmt.Appendf(b, "<#%d>", i.Index)
	case InvokeBuiltinMethod:
		return hfmt.Appendf(b, "<%s>", i.Method.Name)
	}

	return b
}

func constRepr(c object.Object) string {
	if c == nil {
		return "nullptr"
	}

	return object.Repr(c)
}

func appendFS(b []byte, fs *FrameState) []byte {
	if fs.Parent != nil {
		b = appendFS(b, fs.Parent)
		b = append(b, " | "...)
	}

	name := "?"
	if fs.Func != nil {
		name = fs.Func.Code.Name
	}

	b = hfmt.Appendf(b, "%s@%d", name, fs.PC)

	if fs.Inline != 0 {
		b = hfmt.Appendf(b, " #%d", fs.Inline)
	}

	if len(fs.Locals) != 0 {
		b = append(b, " locals"...)

		for _, v := range fs.Locals {
			b = hfmt.Appendf(b, " v%d", v)
		}
	}

	if len(fs.Stack) != 0 {
		b = append(b, " stack"...)

		for _, v := range fs.Stack {
			b = hfmt.Appendf(b, " v%d", v)
		}
	}

	return b
}
