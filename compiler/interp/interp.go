package interp

import (
	"github.com/slowlang/hirjit/compiler/bytecode"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	// Frame is an executing code unit. Locals and Stack hold owned references;
	// nil stack entries stand for the NULL pushed by LOAD_METHOD.
	Frame struct {
		Func *object.Func
		PC   int

		Locals []object.Object
		Stack  []object.Object

		blocks []tryBlock
	}

	tryBlock struct {
		setup   int
		handler int
		level   int
	}
)

// jumped is called on every non-sequential control transfer.
// A handler dispatch is reported at the instruction that set it up.
var jumped func(c *bytecode.Code, pc, target int)

func init() {
	object.SetInterpreter(Call)
}

// Call runs f in a new frame. Arguments are borrowed.
func Call(f *object.Func, args []object.Object) (object.Object, error) {
	c := f.Code

	if len(args) != c.ArgCount {
		return nil, object.Errorf(object.TypeError, "%s() takes %d positional arguments but %d were given", c.Name, c.ArgCount, len(args))
	}

	fr := NewFrame(f)

	for i, a := range args {
		object.Incref(a)
		fr.Locals[i] = a
	}

	return fr.Run(nil)
}

func NewFrame(f *object.Func) *Frame {
	return &Frame{
		Func:   f,
		Locals: make([]object.Object, f.Code.NLocals()),
	}
}

// Resume continues a chain of frames materialized by a deoptimization.
// frames[0] is the outermost frame; each parent frame is positioned after
// the call whose result the child produces.
func Resume(frames []*Frame) (res object.Object, err error) {
	for i := len(frames) - 1; i >= 0; i-- {
		fr := frames[i]

		if i != len(frames)-1 && err == nil {
			fr.push(res)
		}

		res, err = fr.Run(err)
	}

	return res, err
}

// Run executes the frame until it returns or raises.
// A non-nil raise starts execution by raising it at the current pc.
func (fr *Frame) Run(raise error) (res object.Object, err error) {
	if raise != nil {
		if !fr.unwind(raise) {
			fr.clear()

			return nil, raise
		}
	}

	prof := profile.Load()

	for {
		res, err = fr.exec(prof)
		if err == nil {
			fr.clear()

			return res, nil
		}

		if !fr.unwind(err) {
			fr.clear()

			return nil, err
		}
	}
}

func (fr *Frame) exec(prof *Profile) (object.Object, error) {
	f := fr.Func
	c := f.Code

	for {
		pc := fr.PC
		in := c.Instrs[pc]
		fr.PC++

		if prof != nil {
			prof.record(c, pc, in.Op, fr.Stack)
		}

		switch in.Op {
		case bytecode.NOP:
		case bytecode.POP_BLOCK:
			fr.blocks = fr.blocks[:len(fr.blocks)-1]
		case bytecode.POP_TOP:
			object.XDecref(fr.pop())
		case bytecode.ROT_TWO:
			n := len(fr.Stack)
			fr.Stack[n-1], fr.Stack[n-2] = fr.Stack[n-2], fr.Stack[n-1]
		case bytecode.DUP_TOP:
			x := fr.top()
			object.Incref(x)
			fr.push(x)
		case bytecode.LOAD_CONST:
			x := f.Consts[in.Arg]
			object.Incref(x)
			fr.push(x)
		case bytecode.LOAD_FAST:
			x := fr.Locals[in.Arg]
			if x == nil {
				return nil, object.Errorf(object.UnboundLocalError, "local variable '%s' referenced before assignment", c.VarNames[in.Arg])
			}

			object.Incref(x)
			fr.push(x)
		case bytecode.STORE_FAST:
			object.XDecref(fr.Locals[in.Arg])
			fr.Locals[in.Arg] = fr.pop()
		case bytecode.LOAD_GLOBAL:
			x, err := LoadGlobal(f, c.Names[in.Arg])
			if err != nil {
				return nil, err
			}

			fr.push(x)
		case bytecode.BINARY_ADD, bytecode.INPLACE_ADD, bytecode.BINARY_SUBTRACT, bytecode.INPLACE_SUBTRACT,
			bytecode.BINARY_MULTIPLY, bytecode.BINARY_FLOOR_DIVIDE, bytecode.BINARY_MODULO:
			b := fr.pop()
			a := fr.pop()

			r, err := object.Binary(BinOpOf(in.Op), a, b)
			object.Decref(a)
			object.Decref(b)

			if err != nil {
				return nil, err
			}

			fr.push(r)
		case bytecode.UNARY_NOT:
			a := fr.pop()
			r := object.Not(a)
			object.Decref(a)
			fr.push(r)
		case bytecode.UNARY_NEGATIVE:
			a := fr.pop()
			r, err := object.Negative(a)
			object.Decref(a)

			if err != nil {
				return nil, err
			}

			fr.push(r)
		case bytecode.COMPARE_OP:
			b := fr.pop()
			a := fr.pop()

			r, err := object.Compare(object.CmpOp(in.Arg), a, b)
			object.Decref(a)
			object.Decref(b)

			if err != nil {
				return nil, err
			}

			fr.push(r)
		case bytecode.LOAD_ATTR:
			o := fr.pop()
			r, err := object.GetAttr(o, c.Names[in.Arg])
			object.Decref(o)

			if err != nil {
				return nil, err
			}

			fr.push(r)
		case bytecode.LOAD_METHOD:
			o := fr.pop()

			meth, attr, err := object.LoadMethod(o, c.Names[in.Arg])
			if err != nil {
				object.Decref(o)
				return nil, err
			}

			if meth != nil {
				fr.push(meth)
				fr.push(o)
			} else {
				object.Decref(o)
				fr.push(nil)
				fr.push(attr)
			}
		case bytecode.CALL_METHOD:
			n := len(fr.Stack)
			args := fr.Stack[n-int(in.Arg):]
			meth, self := fr.Stack[n-int(in.Arg)-2], fr.Stack[n-int(in.Arg)-1]

			r, err := object.CallMethod(meth, self, args)
			fr.dropN(int(in.Arg) + 2)

			if err != nil {
				return nil, err
			}

			fr.push(r)
		case bytecode.CALL_FUNCTION:
			n := len(fr.Stack)
			args := fr.Stack[n-int(in.Arg):]
			callee := fr.Stack[n-int(in.Arg)-1]

			r, err := object.Call(callee, args)
			fr.dropN(int(in.Arg) + 1)

			if err != nil {
				return nil, err
			}

			fr.push(r)
		case bytecode.BUILD_LIST:
			n := len(fr.Stack)
			items := make([]object.Object, in.Arg)
			copy(items, fr.Stack[n-int(in.Arg):])
			fr.Stack = fr.Stack[:n-int(in.Arg)]

			fr.push(object.NewList(items...))
		case bytecode.GET_ITER:
			o := fr.pop()
			it, err := object.GetIter(o)
			object.Decref(o)

			if err != nil {
				return nil, err
			}

			fr.push(it)
		case bytecode.FOR_ITER:
			it := fr.top().(*object.Iter)

			if x, ok := it.Next(); ok {
				fr.push(x)
			} else {
				object.Decref(fr.pop())
				fr.PC = bytecode.JumpTarget(pc, in)
			}
		case bytecode.RETURN_VALUE:
			return fr.pop(), nil
		case bytecode.JUMP_FORWARD, bytecode.JUMP_ABSOLUTE:
			fr.PC = bytecode.JumpTarget(pc, in)
		case bytecode.POP_JUMP_IF_FALSE, bytecode.POP_JUMP_IF_TRUE:
			x := fr.pop()
			t := object.Truthy(x)
			object.Decref(x)

			if t == (in.Op == bytecode.POP_JUMP_IF_TRUE) {
				fr.PC = bytecode.JumpTarget(pc, in)
			}
		case bytecode.JUMP_IF_FALSE_OR_POP, bytecode.JUMP_IF_TRUE_OR_POP:
			t := object.Truthy(fr.top())

			if t == (in.Op == bytecode.JUMP_IF_TRUE_OR_POP) {
				fr.PC = bytecode.JumpTarget(pc, in)
			} else {
				object.Decref(fr.pop())
			}
		case bytecode.SETUP_FINALLY:
			fr.blocks = append(fr.blocks, tryBlock{setup: pc, handler: bytecode.JumpTarget(pc, in), level: len(fr.Stack)})
		case bytecode.JUMP_IF_NOT_EXC_MATCH:
			// The exception stays on the stack for the handler or RERAISE.
			kind := fr.pop()

			e, isExc := fr.top().(*object.Exception)
			tp, isType := kind.(*object.Type)
			match := isExc && isType && e.Matches(tp)

			object.Decref(kind)

			if !match {
				fr.PC = bytecode.JumpTarget(pc, in)
			}
		case bytecode.RERAISE:
			exc := fr.pop()

			if e, ok := exc.(*object.Exception); ok {
				return nil, e
			}

			object.Decref(exc)

			return nil, object.Errorf(object.TypeError, "exceptions must derive from Exception")
		default:
			return nil, object.Errorf(object.SystemError, "%s: pc %d: unsupported opcode %v", c.Name, pc, in.Op)
		}

		if jumped != nil && fr.PC != pc+1 {
			jumped(c, pc, fr.PC)
		}
	}
}

// unwind transfers control to the innermost handler and reports
// whether there was one.
func (fr *Frame) unwind(err error) bool {
	if len(fr.blocks) == 0 {
		return false
	}

	b := fr.blocks[len(fr.blocks)-1]
	fr.blocks = fr.blocks[:len(fr.blocks)-1]

	fr.dropN(len(fr.Stack) - b.level)

	exc, ok := err.(*object.Exception)
	if !ok {
		exc = object.Errorf(object.SystemError, "%v", err)
	} else {
		object.Incref(exc)
	}

	fr.push(exc)
	fr.PC = b.handler

	if jumped != nil {
		jumped(fr.Func.Code, b.setup, b.handler)
	}

	return true
}

// LoadGlobal looks name up in globals then builtins and returns a new reference.
func LoadGlobal(f *object.Func, name string) (object.Object, error) {
	x, ok := f.Globals.Get(name)
	if !ok {
		x, ok = f.Builtins.Get(name)
	}

	if !ok {
		return nil, object.Errorf(object.NameError, "name '%s' is not defined", name)
	}

	object.Incref(x)

	return x, nil
}

func BinOpOf(op bytecode.Opcode) object.BinOp {
	switch op {
	case bytecode.BINARY_ADD, bytecode.INPLACE_ADD:
		return object.OpAdd
	case bytecode.BINARY_SUBTRACT, bytecode.INPLACE_SUBTRACT:
		return object.OpSub
	case bytecode.BINARY_MULTIPLY:
		return object.OpMul
	case bytecode.BINARY_FLOOR_DIVIDE:
		return object.OpFloorDiv
	case bytecode.BINARY_MODULO:
		return object.OpMod
	}

	panic(op)
}

func (fr *Frame) push(x object.Object) { fr.Stack = append(fr.Stack, x) }

func (fr *Frame) top() object.Object { return fr.Stack[len(fr.Stack)-1] }

func (fr *Frame) pop() object.Object {
	x := fr.Stack[len(fr.Stack)-1]
	fr.Stack = fr.Stack[:len(fr.Stack)-1]

	return x
}

func (fr *Frame) dropN(n int) {
	for ; n > 0; n-- {
		object.XDecref(fr.pop())
	}
}

func (fr *Frame) clear() {
	fr.dropN(len(fr.Stack))

	for i, x := range fr.Locals {
		object.XDecref(x)
		fr.Locals[i] = nil
	}

	fr.blocks = nil
}
