package hir

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/hirjit/compiler/bytecode"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	// Value names a register: the output of exactly one instruction once
	// the function is in SSA form.
	Value int

	BlockID int

	Instr struct {
		Op    Op
		Block BlockID

		Out  Value
		Out2 Value // LoadMethod: receiver or attribute

		Args    []Value
		Targets []BlockID // Branch: [0]; conditional: [true, false]

		Index  int             // LoadArg; inlined region of Begin/EndInlinedFunction
		Const  object.Object   // LoadConst, GuardIs
		Name   string          // LoadGlobalCached, LoadAttr, LoadMethod, CheckVar
		BinOp  object.BinOp    // BinaryOp, LongBinaryOp
		CmpOp  object.CmpOp    // Compare and friends
		Unary  UnaryKind       // UnaryOp
		Guard  Type            // GuardType
		Func   *object.Func    // LoadGlobalCached namespace owner, CallStatic and BeginInlinedFunction callee
		Method *object.Builtin // InvokeBuiltinMethod

		PhiPreds []BlockID // Phi: predecessor for each of Args

		FS        *FrameState
		LiveOwned []Value // owned values to release if the instruction raises or deopts

		PC int // bytecode offset it came from, -1 if synthetic
	}

	// FrameState is the interpreter state to rebuild on deoptimization:
	// stopped before the instruction at PC.
	FrameState struct {
		Func   *object.Func
		PC     int
		Locals []Value
		Stack  []Value
		Parent *FrameState // caller frame of an inlined function

		Inline int // inlined region id, 0 for the outermost function
	}
)

const NoValue Value = -1

func (v Value) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	return e.AppendInt(b, int(v))
}

func (id BlockID) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	return e.AppendInt(b, int(id))
}

func (i *Instr) Code() *bytecode.Code {
	if i.FS != nil && i.FS.Func != nil {
		return i.FS.Func.Code
	}

	return nil
}

// Outputs returns values defined by the instruction.
func (i *Instr) Outputs() []Value {
	switch {
	case i.Out == NoValue:
		return nil
	case i.Out2 != NoValue:
		return []Value{i.Out, i.Out2}
	}

	return []Value{i.Out}
}

// Uses calls f for every operand including frame state references.
func (i *Instr) Uses(f func(v Value)) {
	for _, a := range i.Args {
		f(a)
	}

	for fs := i.FS; fs != nil; fs = fs.Parent {
		for _, v := range fs.Locals {
			f(v)
		}

		for _, v := range fs.Stack {
			f(v)
		}
	}
}

// MapUses replaces every operand v with m(v). Frame states are copied
// before the edit as they can be shared between instructions.
func (i *Instr) MapUses(m func(v Value) Value) {
	for j, a := range i.Args {
		i.Args[j] = m(a)
	}

	if i.FS != nil {
		i.FS = i.FS.Map(m)
	}
}

// Map returns a copy of the frame state chain with values replaced.
func (fs *FrameState) Map(m func(v Value) Value) *FrameState {
	if fs == nil {
		return nil
	}

	r := &FrameState{
		Func:   fs.Func,
		PC:     fs.PC,
		Locals: make([]Value, len(fs.Locals)),
		Stack:  make([]Value, len(fs.Stack)),
		Parent: fs.Parent.Map(m),
		Inline: fs.Inline,
	}

	for j, v := range fs.Locals {
		r.Locals[j] = m(v)
	}

	for j, v := range fs.Stack {
		r.Stack[j] = m(v)
	}

	return r
}

// Depth is the number of frames in the chain.
func (fs *FrameState) Depth() (n int) {
	for ; fs != nil; fs = fs.Parent {
		n++
	}

	return n
}

// StealsArg reports whether the instruction takes over the reference
// held by its j-th operand.
func (i *Instr) StealsArg(j int) bool {
	return i.Op == Return && j == 0
}

func (i *Instr) IsPhi() bool { return i.Op == Phi }

// PhiInput returns the value flowing into the phi from pred.
func (i *Instr) PhiInput(pred BlockID) (Value, bool) {
	for j, p := range i.PhiPreds {
		if p == pred {
			return i.Args[j], true
		}
	}

	return NoValue, false
}
