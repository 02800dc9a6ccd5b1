package back

import (
	"tlog.app/go/errors"

	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	// word is an encoded instruction, low to high bits:
	//
	//	op:8 dst:14 x:14 y:14 aux:14
	//
	// dst is the output slot, x and y are the first two operand slots.
	// LoadMethod keeps its second output in y. Everything else lives
	// in the aux table.
	word uint64

	aux struct {
		i *hir.Instr

		args []int // operand slots past x and y
		live []int // owned slots to release on raise or deopt
		fs   *frameState

		targets [2]int // pc
		moves   [2][]move
	}

	move struct {
		dst, src int
	}

	// frameState is hir.FrameState with values mapped to slots.
	frameState struct {
		fn     *object.Func
		pc     int
		locals []int
		stack  []int
		parent *frameState
	}

	encoder struct {
		f      *hir.Function
		slots  *slotAlloc
		layout []hir.BlockID

		words []word
		aux   []aux

		start  []int // pc by BlockID
		fixups []fixup
	}

	fixup struct {
		aux, k int
		block  hir.BlockID
	}
)

const (
	fieldBits = 14
	fieldMask = 1<<fieldBits - 1

	none = fieldMask
)

func makeWord(op hir.Op, dst, x, y, aux int) word {
	return word(op) |
		word(dst&fieldMask)<<8 |
		word(x&fieldMask)<<(8+fieldBits) |
		word(y&fieldMask)<<(8+2*fieldBits) |
		word(aux&fieldMask)<<(8+3*fieldBits)
}

func (w word) op() hir.Op { return hir.Op(w & 0xff) }
func (w word) dst() int   { return int(w>>8) & fieldMask }
func (w word) x() int     { return int(w>>(8+fieldBits)) & fieldMask }
func (w word) y() int     { return int(w>>(8+2*fieldBits)) & fieldMask }
func (w word) aux() int   { return int(w>>(8+3*fieldBits)) & fieldMask }

func (e *encoder) encode() ([]word, error) {
	if e.slots.n >= none {
		return nil, errors.Wrap(ErrCodegen, "frame too large: %d slots", e.slots.n)
	}

	for _, id := range e.layout {
		b := e.f.Blocks[id]

		e.start = sliceSet(e.start, id, len(e.words))

		for _, i := range b.Instrs[b.FirstNonPhi():] {
			e.instr(b, i)
		}
	}

	for _, fx := range e.fixups {
		e.aux[fx.aux].targets[fx.k] = e.start[fx.block]
	}

	if len(e.aux) >= none {
		return nil, errors.Wrap(ErrCodegen, "too many instructions: %d aux records", len(e.aux))
	}

	return e.words, nil
}

func (e *encoder) instr(b *hir.Block, i *hir.Instr) {
	dst, x, y := none, none, none

	if i.Out != hir.NoValue {
		dst = e.slot(i.Out)
	}

	var args []int

	for k, v := range i.Args {
		switch k {
		case 0:
			x = e.slot(v)
		case 1:
			y = e.slot(v)
		default:
			args = append(args, e.slot(v))
		}
	}

	if i.Op == hir.LoadMethod {
		y = e.slot(i.Out2)
	}

	a := none

	if needsAux(i) {
		a = len(e.aux)

		e.aux = append(e.aux, aux{
			i:    i,
			args: args,
			live: e.slotList(i.LiveOwned),
			fs:   e.frameState(i.FS),
		})
	}

	switch i.Op {
	case hir.Branch, hir.CondBranch, hir.CondBranchIterNotDone:
		for k, t := range i.Targets {
			e.aux[a].moves[k] = e.moves(b.ID, t)
			e.fixups = append(e.fixups, fixup{aux: a, k: k, block: t})
		}
	}

	e.words = append(e.words, makeWord(i.Op, dst, x, y, a))
}

// needsAux reports whether the instruction has anything
// besides up to two operands and an output.
func needsAux(i *hir.Instr) bool {
	switch i.Op {
	case hir.Assign, hir.RefineType, hir.IsTruthy, hir.ForIterNext, hir.EndInlinedFunction,
		hir.Incref, hir.XIncref, hir.Decref, hir.XDecref, hir.Return, hir.Unreachable:
		return false
	}

	return true
}

// moves computes the parallel copy feeding phis of to on the edge from.
func (e *encoder) moves(from, to hir.BlockID) (ms []move) {
	for _, phi := range e.f.Blocks[to].Phis() {
		in, ok := phi.PhiInput(from)
		if !ok {
			continue
		}

		m := move{dst: e.slot(phi.Out), src: e.slot(in)}
		if m.dst != m.src {
			ms = append(ms, m)
		}
	}

	return ms
}

func (e *encoder) frameState(fs *hir.FrameState) *frameState {
	if fs == nil {
		return nil
	}

	return &frameState{
		fn:     fs.Func,
		pc:     fs.PC,
		locals: e.slotList(fs.Locals),
		stack:  e.slotList(fs.Stack),
		parent: e.frameState(fs.Parent),
	}
}

func (e *encoder) slotList(vs []hir.Value) []int {
	if len(vs) == 0 {
		return nil
	}

	r := make([]int, len(vs))

	for k, v := range vs {
		r[k] = e.slot(v)
	}

	return r
}

func (e *encoder) slot(v hir.Value) int {
	return e.slots.slot[v]
}
