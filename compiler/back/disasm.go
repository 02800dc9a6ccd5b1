package back

import (
	"fmt"
	"strconv"

	"github.com/nikandfor/hacked/hfmt"

	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/object"
)

// Disassemble appends a listing of the code to b.
func Disassemble(b []byte, c *Code) []byte {
	if c.Freed() {
		return hfmt.Appendf(b, "code %s: freed\n", c.Name)
	}

	b = hfmt.Appendf(b, "code %s: %d words, frame %d slots, %d spilled\n", c.Name, len(c.step), c.slots, c.SpillSize()/WordSize)

	for pc := range c.step {
		w := c.word(pc)

		b = fmt.Appendf(b, "%04x  %016x  %-22v", pc, uint64(w), w.op())

		var a *aux
		if k := w.aux(); k != none {
			a = &c.aux[k]
		}

		b = appendOperands(b, w, a)
		b = append(b, '\n')
	}

	return b
}

func appendOperands(b []byte, w word, a *aux) []byte {
	sep := ""

	slot := func(s int) {
		b = hfmt.Appendf(b, "%s%v", sep, slotName(s))
		sep = ", "
	}

	if d := w.dst(); d != none {
		b = hfmt.Appendf(b, "%v = ", slotName(d))
	}

	if w.op() == hir.LoadMethod {
		b = hfmt.Appendf(b, "%v, ", slotName(w.y()))
		slot(w.x())
	} else {
		if x := w.x(); x != none {
			slot(x)
		}

		if y := w.y(); y != none {
			slot(y)
		}
	}

	if a == nil {
		return b
	}

	for _, s := range a.args {
		slot(s)
	}

	i := a.i

	switch i.Op {
	case hir.LoadArg:
		b = hfmt.Appendf(b, "arg %d", i.Index)
	case hir.LoadConst, hir.GuardIs:
		b = hfmt.Appendf(b, "%s%s", sep, object.Repr(i.Const))
	case hir.LoadGlobalCached, hir.LoadAttr, hir.LoadMethod, hir.CheckVar:
		b = hfmt.Appendf(b, "%s%q", sep, i.Name)
	case hir.BinaryOp, hir.LongBinaryOp:
		b = hfmt.Appendf(b, "  ; %v", i.BinOp)
	case hir.Compare, hir.LongCompare, hir.PrimitiveCompare, hir.StrCompare:
		b = hfmt.Appendf(b, "  ; %v", i.CmpOp)
	case hir.UnaryOp:
		b = hfmt.Appendf(b, "  ; %v", i.Unary)
	case hir.GuardType:
		b = hfmt.Appendf(b, "  ; %v", i.Guard)
	case hir.CallStatic, hir.BeginInlinedFunction:
		b = hfmt.Appendf(b, "  ; %v", i.Func)
	case hir.InvokeBuiltinMethod:
		b = hfmt.Appendf(b, "  ; %v", i.Method)
	case hir.Branch, hir.CondBranch, hir.CondBranchIterNotDone:
		n := 1
		if i.Op != hir.Branch {
			n = 2
		}

		for k := 0; k < n; k++ {
			b = fmt.Appendf(b, "%s-> %04x", sep, a.targets[k])
			sep = ", "

			for _, m := range a.moves[k] {
				b = hfmt.Appendf(b, " %v<-%v", slotName(m.dst), slotName(m.src))
			}
		}
	}

	if len(a.live) != 0 {
		b = append(b, "  live"...)

		for _, s := range a.live {
			b = hfmt.Appendf(b, " %v", slotName(s))
		}
	}

	for fs := a.fs; fs != nil; fs = fs.parent {
		b = hfmt.Appendf(b, "  fs %s@%d", fs.fn.Code.Name, fs.pc)
	}

	return b
}

func slotName(s int) string {
	return "s" + strconv.Itoa(s)
}
