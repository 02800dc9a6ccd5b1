package object

import (
	"strconv"
	"sync/atomic"

	"github.com/slowlang/hirjit/compiler/bytecode"
)

type (
	// EntryFunc is the calling convention shared by the interpreter and
	// compiled code: borrowed arguments in, owned result or error out.
	EntryFunc func(args []Object) (Object, error)

	Func struct {
		Header

		Code     *bytecode.Code
		Globals  Mapping
		Builtins Mapping
		Consts   []Object

		entry atomic.Pointer[EntryFunc]
	}

	Builtin struct {
		Header

		Name    string
		MinArgs int
		MaxArgs int // -1 for variadic

		Fn func(args []Object) (Object, error)
	}

	BoundMethod struct {
		Header

		Self Object
		Fn   *Builtin
	}
)

var (
	FuncType        = &Type{Name: "function"}
	BuiltinType     = &Type{Name: "builtin_function_or_method"}
	BoundMethodType = &Type{Name: "method"}
)

// Interpreter runs a function that has no compiled entry.
type Interpreter func(f *Func, args []Object) (Object, error)

var interpret Interpreter

// SetInterpreter installs the bytecode evaluator used for functions
// without a compiled entry.
func SetInterpreter(fn Interpreter) { interpret = fn }

func (*Func) Type() *Type        { return FuncType }
func (*Builtin) Type() *Type     { return BuiltinType }
func (*BoundMethod) Type() *Type { return BoundMethodType }

func (f *Func) String() string { return "<function " + f.Code.Name + ">" }

func (b *Builtin) String() string { return "<built-in function " + b.Name + ">" }

func NewFunc(code *bytecode.Code, globals, builtins Mapping) *Func {
	f := &Func{
		Header:   Header{refs: 1},
		Code:     code,
		Globals:  globals,
		Builtins: builtins,
		Consts:   make([]Object, len(code.Consts)),
	}

	Incref(globals)
	Incref(builtins)

	for i, c := range code.Consts {
		f.Consts[i] = FromConst(c)
	}

	return f
}

// Entry returns the compiled entry point or nil.
func (f *Func) Entry() EntryFunc {
	if e := f.entry.Load(); e != nil {
		return *e
	}

	return nil
}

func (f *Func) SetEntry(e EntryFunc) {
	if e == nil {
		f.entry.Store(nil)
		return
	}

	f.entry.Store(&e)
}

func NewBuiltin(name string, min, max int, fn func(args []Object) (Object, error)) *Builtin {
	return &Builtin{Header: Header{refs: 1}, Name: name, MinArgs: min, MaxArgs: max, Fn: fn}
}

func (b *Builtin) Call(args []Object) (Object, error) {
	if len(args) < b.MinArgs || b.MaxArgs >= 0 && len(args) > b.MaxArgs {
		return nil, Errorf(TypeError, "%s() takes %s arguments (%d given)", b.Name, arity(b.MinArgs, b.MaxArgs), len(args))
	}

	return b.Fn(args)
}

func arity(min, max int) string {
	switch {
	case min == max:
		return strconv.Itoa(min)
	case max < 0:
		return "at least " + strconv.Itoa(min)
	default:
		return "from " + strconv.Itoa(min) + " to " + strconv.Itoa(max)
	}
}

func NewBoundMethod(self Object, fn *Builtin) *BoundMethod {
	Incref(self)

	return &BoundMethod{Header: Header{refs: 1}, Self: self, Fn: fn}
}

func (m *BoundMethod) release() {
	Decref(m.Self)
}

// Call invokes any callable object.
func Call(callable Object, args []Object) (Object, error) {
	switch c := callable.(type) {
	case *Func:
		if e := c.Entry(); e != nil {
			return e(args)
		}

		if interpret == nil {
			return nil, Errorf(SystemError, "no interpreter installed")
		}

		return interpret(c, args)
	case *Builtin:
		return c.Call(args)
	case *BoundMethod:
		full := make([]Object, 0, len(args)+1)
		full = append(full, c.Self)
		full = append(full, args...)

		return c.Fn.Call(full)
	}

	return nil, Errorf(TypeError, "'%s' object is not callable", TypeName(callable))
}

// CallMethod calls a method pushed by LoadMethod: when meth is nil,
// self is the callable itself.
func CallMethod(meth, self Object, args []Object) (Object, error) {
	if meth == nil {
		return Call(self, args)
	}

	full := make([]Object, 0, len(args)+1)
	full = append(full, self)
	full = append(full, args...)

	return Call(meth, full)
}
