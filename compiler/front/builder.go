package front

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/bytecode"
	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/interp"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	builder struct {
		pre *Preloaded
		fn  *object.Func
		c   *bytecode.Code
		f   *hir.Function

		blocks map[int]*codeBlock
		queue  []*codeBlock

		locals    []hir.Value // one register per local variable
		stackRegs []hir.Value // one register per operand stack slot
	}

	// codeBlock is a bytecode basic block.
	codeBlock struct {
		start, end int

		hb *hir.Block

		depth   int
		reached bool
	}

	// state is the abstract interpreter state inside a block.
	state struct {
		b     *builder
		hb    *hir.Block
		stack []hir.Value
		pc    int
	}
)

// Build lowers the bytecode of a preloaded function into non-SSA HIR.
// Locals and operand stack slots are registers assigned with Assign.
func Build(ctx context.Context, pre *Preloaded) (f *hir.Function, err error) {
	tr := tlog.SpawnFromContext(ctx, "build hir", "func", pre.Func.Code.Name)
	defer tr.Finish("err", &err)

	b := &builder{
		pre:    pre,
		fn:     pre.Func,
		c:      pre.Func.Code,
		blocks: map[int]*codeBlock{},
	}

	b.f = hir.NewFunction(b.c.Name, b.fn)
	b.f.ParamTypes = pre.ParamTypes

	err = b.check()
	if err != nil {
		return nil, err
	}

	entry := b.f.NewBlock()

	starts := bytecode.BlockStarts(b.c)

	for k, s := range starts {
		end := len(b.c.Instrs)
		if k+1 < len(starts) {
			end = starts[k+1]
		}

		b.blocks[s] = &codeBlock{start: s, end: end, hb: b.f.NewBlock()}
	}

	b.prologue(entry)

	for len(b.queue) != 0 {
		cb := b.queue[0]
		b.queue = b.queue[1:]

		err = b.lowerBlock(cb)
		if err != nil {
			return nil, errors.Wrap(err, "%v", b.c.Name)
		}
	}

	for _, s := range starts {
		if cb := b.blocks[s]; !cb.reached {
			b.f.RemoveBlock(cb.hb.ID)
		}
	}

	b.f.RecomputePreds()
	hir.ReflowTypes(b.f)

	if tr.If("dump_hir_build") {
		tr.Printw("built hir", "hir", b.f.String())
	}

	return b.f, nil
}

func (b *builder) check() error {
	for pc, in := range b.c.Instrs {
		switch in.Op {
		case bytecode.SETUP_FINALLY, bytecode.SETUP_WITH, bytecode.JUMP_IF_NOT_EXC_MATCH,
			bytecode.RERAISE, bytecode.POP_BLOCK:
			return errors.Wrap(ErrUnsupported, "%v: pc %d: %v", b.c.Name, pc, in.Op)
		}
	}

	return nil
}

func (b *builder) prologue(entry *hir.Block) {
	f := b.f

	b.locals = make([]hir.Value, b.c.NLocals())

	var null hir.Value = hir.NoValue

	for k := range b.locals {
		b.locals[k] = f.NewValue(hir.TBottom)

		var v hir.Value

		if k < b.c.ArgCount {
			a := f.Emit(entry, hir.LoadArg, hir.TObject)
			a.Index = k
			v = a.Out
		} else {
			if null == hir.NoValue {
				null = f.Emit(entry, hir.LoadConst, hir.TNullptr).Out
			}

			v = null
		}

		b.assign(entry, b.locals[k], v)
	}

	first := b.blocks[0]
	first.reached = true
	b.queue = append(b.queue, first)

	f.Terminate(entry, hir.Branch, []hir.BlockID{first.hb.ID})
}

func (b *builder) assign(hb *hir.Block, dst, src hir.Value) {
	i := b.f.NewInstr(hir.Assign, src)
	i.Out = dst
	hb.Append(i)
}

func (b *builder) stackReg(k int) hir.Value {
	for len(b.stackRegs) <= k {
		b.stackRegs = append(b.stackRegs, b.f.NewValue(hir.TBottom))
	}

	return b.stackRegs[k]
}

// edge records that control reaches the block at pc with depth operands.
func (b *builder) edge(pc, depth int) (hir.BlockID, error) {
	cb, ok := b.blocks[pc]
	if !ok {
		return 0, errors.New("pc %d: jump into the middle of a block", pc)
	}

	if !cb.reached {
		cb.reached = true
		cb.depth = depth
		b.queue = append(b.queue, cb)
	} else if cb.depth != depth {
		return 0, errors.Wrap(ErrUnsupported, "pc %d: stack depth %d and %d", pc, cb.depth, depth)
	}

	return cb.hb.ID, nil
}

func (b *builder) lowerBlock(cb *codeBlock) error {
	s := &state{b: b, hb: cb.hb}

	for k := 0; k < cb.depth; k++ {
		t := b.f.NewValue(hir.TBottom)
		b.assign(cb.hb, t, b.stackReg(k))
		s.stack = append(s.stack, t)
	}

	for pc := cb.start; pc < cb.end; pc++ {
		s.pc = pc

		done, err := s.lower(b.c.Instrs[pc])
		if err != nil {
			return errors.Wrap(err, "pc %d", pc)
		}

		if done {
			return nil
		}
	}

	// fallthrough into the next block
	s.spill()

	next, err := b.edge(cb.end, len(s.stack))
	if err != nil {
		return err
	}

	b.f.Terminate(cb.hb, hir.Branch, []hir.BlockID{next})

	return nil
}

// lower translates one instruction and reports whether it ended the block.
func (s *state) lower(in bytecode.Instr) (done bool, err error) {
	b := s.b
	f := b.f
	c := b.c
	arg := int(in.Arg)

	if need := stackEffectIn(in); len(s.stack) < need {
		return false, errors.Wrap(ErrUnsupported, "%v: stack underflow", in.Op)
	}

	switch in.Op {
	case bytecode.NOP:
	case bytecode.POP_TOP:
		s.pop()
	case bytecode.ROT_TWO:
		n := len(s.stack)
		s.stack[n-1], s.stack[n-2] = s.stack[n-2], s.stack[n-1]
	case bytecode.DUP_TOP:
		s.push(s.top())
	case bytecode.LOAD_CONST:
		i := s.emit(hir.LoadConst, hir.TypeOf(b.fn.Consts[arg]))
		i.Const = b.fn.Consts[arg]
		s.push(i.Out)
	case bytecode.LOAD_FAST:
		if arg < c.ArgCount {
			t := f.NewValue(hir.TBottom)
			b.assign(s.hb, t, b.locals[arg])
			s.push(t)

			break
		}

		i := s.emit(hir.CheckVar, hir.TObject, b.locals[arg])
		i.Name = c.VarNames[arg]
		s.push(i.Out)
	case bytecode.STORE_FAST:
		b.assign(s.hb, b.locals[arg], s.pop())
	case bytecode.LOAD_GLOBAL:
		s.loadGlobal(c.Names[arg])
	case bytecode.BINARY_ADD, bytecode.INPLACE_ADD, bytecode.BINARY_SUBTRACT, bytecode.INPLACE_SUBTRACT,
		bytecode.BINARY_MULTIPLY, bytecode.BINARY_FLOOR_DIVIDE, bytecode.BINARY_MODULO:
		s.guardOperands(2)

		y, x := s.pop(), s.pop()
		i := s.emit(hir.BinaryOp, hir.TObject, x, y)
		i.BinOp = interp.BinOpOf(in.Op)
		s.push(i.Out)
	case bytecode.UNARY_NOT, bytecode.UNARY_NEGATIVE:
		s.guardOperands(1)

		i := s.emit(hir.UnaryOp, hir.TObject, s.pop())
		i.Unary = hir.UnaryNot
		if in.Op == bytecode.UNARY_NEGATIVE {
			i.Unary = hir.UnaryNegative
		}

		s.push(i.Out)
	case bytecode.COMPARE_OP:
		s.guardOperands(2)

		y, x := s.pop(), s.pop()
		i := s.emit(hir.Compare, hir.TBool, x, y)
		i.CmpOp = object.CmpOp(arg)
		s.push(i.Out)
	case bytecode.LOAD_ATTR:
		s.guardOperands(1)

		i := s.emit(hir.LoadAttr, hir.TObject, s.pop())
		i.Name = c.Names[arg]
		s.push(i.Out)
	case bytecode.LOAD_METHOD:
		s.guardOperands(1)

		i := s.emit(hir.LoadMethod, hir.TOptObject, s.pop())
		i.Name = c.Names[arg]
		i.Out2 = f.NewValue(hir.TObject)
		s.push(i.Out)
		s.push(i.Out2)
	case bytecode.CALL_METHOD:
		args := s.popN(arg + 2)
		i := s.emit(hir.CallMethod, hir.TObject, args...)
		s.push(i.Out)
	case bytecode.CALL_FUNCTION:
		args := s.popN(arg + 1)
		i := s.emit(hir.VectorCall, hir.TObject, args...)

		// where the caller resumes if the callee gets inlined and deopts
		i.FS = s.frameState()
		i.FS.PC = s.pc + 1

		s.push(i.Out)
	case bytecode.BUILD_LIST:
		i := s.emit(hir.BuildList, hir.TList, s.popN(arg)...)
		s.push(i.Out)
	case bytecode.GET_ITER:
		i := s.emit(hir.GetIter, hir.TIter, s.pop())
		s.push(i.Out)
	case bytecode.FOR_ITER:
		return true, s.forIter(in)
	case bytecode.RETURN_VALUE:
		i := f.Terminate(s.hb, hir.Return, nil, s.pop())
		i.PC = s.pc

		return true, nil
	case bytecode.JUMP_FORWARD, bytecode.JUMP_ABSOLUTE:
		s.spill()

		t, err := b.edge(bytecode.JumpTarget(s.pc, in), len(s.stack))
		if err != nil {
			return true, err
		}

		f.Terminate(s.hb, hir.Branch, []hir.BlockID{t})

		return true, nil
	case bytecode.POP_JUMP_IF_FALSE, bytecode.POP_JUMP_IF_TRUE:
		s.guardOperands(1)

		cond := s.emit(hir.IsTruthy, hir.TCBool, s.pop())

		return true, s.condBranch(in, cond.Out, len(s.stack), len(s.stack))
	case bytecode.JUMP_IF_FALSE_OR_POP, bytecode.JUMP_IF_TRUE_OR_POP:
		cond := s.emit(hir.IsTruthy, hir.TCBool, s.top())

		return true, s.condBranch(in, cond.Out, len(s.stack), len(s.stack)-1)
	default:
		return false, errors.Wrap(ErrUnsupported, "%v", in.Op)
	}

	return false, nil
}

// condBranch ends the block. Jump target gets jdepth operands,
// the next instruction gets ndepth.
func (s *state) condBranch(in bytecode.Instr, cond hir.Value, jdepth, ndepth int) error {
	b := s.b

	s.spill()

	jump, err := b.edge(bytecode.JumpTarget(s.pc, in), jdepth)
	if err != nil {
		return err
	}

	next, err := b.edge(s.pc+1, ndepth)
	if err != nil {
		return err
	}

	targets := []hir.BlockID{next, jump}

	switch in.Op {
	case bytecode.POP_JUMP_IF_TRUE, bytecode.JUMP_IF_TRUE_OR_POP:
		targets = []hir.BlockID{jump, next}
	}

	i := b.f.Terminate(s.hb, hir.CondBranch, targets, cond)
	i.PC = s.pc

	return nil
}

// forIter lowers FOR_ITER: the body gets the next item on top of the
// iterator, the exit pops the iterator.
func (s *state) forIter(in bytecode.Instr) error {
	b := s.b
	f := b.f

	it := s.top()
	next := s.emit(hir.ForIterNext, hir.TOptObject, it)

	s.spill()

	depth := len(s.stack)

	exit, err := b.edge(bytecode.JumpTarget(s.pc, in), depth-1)
	if err != nil {
		return err
	}

	body, err := b.edge(s.pc+1, depth+1)
	if err != nil {
		return err
	}

	eb := f.NewBlock()

	item := f.Emit(eb, hir.RefineType, hir.TObject, next.Out)
	item.Guard = hir.TObject
	item.PC = s.pc
	b.assign(eb, b.stackReg(depth), item.Out)
	f.Terminate(eb, hir.Branch, []hir.BlockID{body})

	i := f.Terminate(s.hb, hir.CondBranchIterNotDone, []hir.BlockID{eb.ID, exit}, next.Out)
	i.PC = s.pc

	return nil
}

func (s *state) loadGlobal(name string) {
	b := s.b

	fs := s.frameState()

	i := s.emit(hir.LoadGlobalCached, hir.TObject)
	i.Name = name
	i.Func = b.fn

	v, ok := b.pre.Resolved[name]
	if !ok {
		s.push(i.Out)
		return
	}

	switch v.(type) {
	case *object.Func, *object.Builtin:
	default:
		s.push(i.Out)
		return
	}

	g := s.emit(hir.GuardIs, hir.TypeOf(v), i.Out)
	g.Const = v
	g.FS = fs

	s.push(g.Out)
}

// guardOperands inserts type guards for the top n operands
// the feedback has monomorphic types for.
func (s *state) guardOperands(n int) {
	hints := s.b.pre.Hints[s.pc]
	if len(hints) != n {
		return
	}

	var fs *hir.FrameState

	for k, t := range hints {
		if t == hir.TOtherObject || t == hir.TNullptr || t == hir.TBottom {
			continue
		}

		if fs == nil {
			fs = s.frameState()
		}

		idx := len(s.stack) - n + k

		g := s.emit(hir.GuardType, t, s.stack[idx])
		g.Guard = t
		g.FS = fs

		s.stack[idx] = g.Out
	}
}

// frameState snapshots interpreter state before the current instruction.
func (s *state) frameState() *hir.FrameState {
	return &hir.FrameState{
		Func:   s.b.fn,
		PC:     s.pc,
		Locals: append([]hir.Value{}, s.b.locals...),
		Stack:  append([]hir.Value{}, s.stack...),
	}
}

func (s *state) spill() {
	for k, v := range s.stack {
		s.b.assign(s.hb, s.b.stackReg(k), v)
	}
}

func (s *state) emit(op hir.Op, t hir.Type, args ...hir.Value) *hir.Instr {
	i := s.b.f.Emit(s.hb, op, t, args...)
	i.PC = s.pc

	return i
}

func (s *state) push(v hir.Value) { s.stack = append(s.stack, v) }

func (s *state) top() hir.Value { return s.stack[len(s.stack)-1] }

func (s *state) pop() hir.Value {
	v := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]

	return v
}

func (s *state) popN(n int) []hir.Value {
	l := len(s.stack) - n
	r := append([]hir.Value{}, s.stack[l:]...)
	s.stack = s.stack[:l]

	return r
}

// stackEffectIn is the number of operands the instruction reads.
func stackEffectIn(in bytecode.Instr) int {
	switch in.Op {
	case bytecode.POP_TOP, bytecode.DUP_TOP, bytecode.STORE_FAST, bytecode.UNARY_NOT, bytecode.UNARY_NEGATIVE,
		bytecode.LOAD_ATTR, bytecode.LOAD_METHOD, bytecode.GET_ITER, bytecode.FOR_ITER, bytecode.RETURN_VALUE,
		bytecode.POP_JUMP_IF_FALSE, bytecode.POP_JUMP_IF_TRUE, bytecode.JUMP_IF_FALSE_OR_POP, bytecode.JUMP_IF_TRUE_OR_POP:
		return 1
	case bytecode.ROT_TWO, bytecode.BINARY_ADD, bytecode.INPLACE_ADD, bytecode.BINARY_SUBTRACT, bytecode.INPLACE_SUBTRACT,
		bytecode.BINARY_MULTIPLY, bytecode.BINARY_FLOOR_DIVIDE, bytecode.BINARY_MODULO, bytecode.COMPARE_OP:
		return 2
	case bytecode.CALL_METHOD:
		return int(in.Arg) + 2
	case bytecode.CALL_FUNCTION:
		return int(in.Arg) + 1
	case bytecode.BUILD_LIST:
		return int(in.Arg)
	}

	return 0
}
