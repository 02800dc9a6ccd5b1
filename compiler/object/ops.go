package object

import (
	"math/bits"
	"strings"

	"github.com/slowlang/hirjit/compiler/bytecode"
)

type (
	BinOp uint8

	CmpOp uint8
)

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpFloorDiv
	OpMod
)

const (
	CmpLt CmpOp = bytecode.CmpLt
	CmpLe CmpOp = bytecode.CmpLe
	CmpEq CmpOp = bytecode.CmpEq
	CmpNe CmpOp = bytecode.CmpNe
	CmpGt CmpOp = bytecode.CmpGt
	CmpGe CmpOp = bytecode.CmpGe
)

var binOpSyms = [...]string{"+", "-", "*", "//", "%"}
var binOpNames = [...]string{"Add", "Subtract", "Multiply", "FloorDivide", "Modulo"}

func (op BinOp) Symbol() string { return binOpSyms[op] }
func (op BinOp) String() string { return binOpNames[op] }

func (op CmpOp) String() string { return bytecode.CmpNames[op] }

// Binary applies a generic arithmetic operator.
func Binary(op BinOp, a, b Object) (Object, error) {
	if x, ok := AsInt(a); ok {
		if y, ok := AsInt(b); ok {
			r, err := IntOp(op, x, y)
			if err != nil {
				return nil, err
			}

			return NewInt(r), nil
		}
	}

	switch op {
	case OpAdd:
		switch a := a.(type) {
		case *Str:
			if b, ok := b.(*Str); ok {
				return NewStr(a.V + b.V), nil
			}
		case *List:
			if b, ok := b.(*List); ok {
				l := NewList()

				for _, x := range a.Items {
					l.Append(x)
				}

				for _, x := range b.Items {
					l.Append(x)
				}

				return l, nil
			}
		}
	case OpMul:
		if s, ok := a.(*Str); ok {
			if n, ok := AsInt(b); ok {
				if n < 0 {
					n = 0
				}

				return NewStr(strings.Repeat(s.V, int(n))), nil
			}
		}
	}

	return nil, Errorf(TypeError, "unsupported operand type(s) for %s: '%s' and '%s'", op.Symbol(), TypeName(a), TypeName(b))
}

// IntOp is the integer fast path shared with specialized compiled code.
func IntOp(op BinOp, x, y int64) (int64, error) {
	switch op {
	case OpAdd:
		r := x + y
		if (r > x) != (y > 0) {
			return 0, overflow()
		}

		return r, nil
	case OpSub:
		r := x - y
		if (r < x) != (y > 0) {
			return 0, overflow()
		}

		return r, nil
	case OpMul:
		hi, lo := bits.Mul64(uint64(abs(x)), uint64(abs(y)))
		if hi != 0 || lo > 1<<63-1 {
			return 0, overflow()
		}

		r := int64(lo)
		if (x < 0) != (y < 0) {
			r = -r
		}

		return r, nil
	case OpFloorDiv, OpMod:
		if y == 0 {
			return 0, Errorf(ZeroDivisionError, "integer division or modulo by zero")
		}

		if x == -1<<63 && y == -1 {
			if op == OpMod {
				return 0, nil
			}

			return 0, overflow()
		}

		q, m := x/y, x%y

		if m != 0 && (m < 0) != (y < 0) {
			q--
			m += y
		}

		if op == OpMod {
			return m, nil
		}

		return q, nil
	}

	return 0, Errorf(SystemError, "bad binary op %d", op)
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}

	return x
}

func overflow() error {
	return Errorf(OverflowError, "integer overflow")
}

func Negative(a Object) (Object, error) {
	if x, ok := AsInt(a); ok {
		if x == -1<<63 {
			return nil, overflow()
		}

		return NewInt(-x), nil
	}

	return nil, Errorf(TypeError, "bad operand type for unary -: '%s'", TypeName(a))
}

func Truthy(a Object) bool {
	switch a := a.(type) {
	case *NoneObject:
		return false
	case *Bool:
		return a.V
	case *Int:
		return a.V != 0
	case *Str:
		return a.V != ""
	case *List:
		return len(a.Items) != 0
	case *Dict:
		return a.Len() != 0
	}

	return true
}

func Not(a Object) Object {
	return NewBool(!Truthy(a))
}

// Compare applies a rich comparison and returns a new bool reference.
func Compare(op CmpOp, a, b Object) (Object, error) {
	r, err := CompareBool(op, a, b)
	if err != nil {
		return nil, err
	}

	return NewBool(r), nil
}

func CompareBool(op CmpOp, a, b Object) (bool, error) {
	if x, ok := AsInt(a); ok {
		if y, ok := AsInt(b); ok {
			return IntCompare(op, x, y), nil
		}
	}

	if x, ok := a.(*Str); ok {
		if y, ok := b.(*Str); ok {
			return StrCompare(op, x.V, y.V), nil
		}
	}

	switch op {
	case CmpEq:
		return Equal(a, b), nil
	case CmpNe:
		return !Equal(a, b), nil
	}

	return false, Errorf(TypeError, "'%s' not supported between instances of '%s' and '%s'", op, TypeName(a), TypeName(b))
}

func IntCompare(op CmpOp, x, y int64) bool {
	switch op {
	case CmpLt:
		return x < y
	case CmpLe:
		return x <= y
	case CmpEq:
		return x == y
	case CmpNe:
		return x != y
	case CmpGt:
		return x > y
	default:
		return x >= y
	}
}

func StrCompare(op CmpOp, x, y string) bool {
	return IntCompare(op, int64(strings.Compare(x, y)), 0)
}

func Equal(a, b Object) bool {
	if a == b {
		return true
	}

	if x, ok := AsInt(a); ok {
		y, ok := AsInt(b)
		return ok && x == y
	}

	switch a := a.(type) {
	case *Str:
		b, ok := b.(*Str)
		return ok && a.V == b.V
	case *List:
		b, ok := b.(*List)
		if !ok || len(a.Items) != len(b.Items) {
			return false
		}

		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}

		return true
	}

	return false
}

// LookupMethod finds a builtin method on o's type. Borrowed.
func LookupMethod(o Object, name string) (*Builtin, bool) {
	m, ok := o.Type().Methods[name]
	return m, ok
}

// GetAttr returns a new reference to o.name.
func GetAttr(o Object, name string) (Object, error) {
	if m, ok := LookupMethod(o, name); ok {
		return NewBoundMethod(o, m), nil
	}

	switch o := o.(type) {
	case *Exception:
		if name == "message" {
			return NewStr(o.Msg), nil
		}
	case *Range:
		switch name {
		case "start":
			return NewInt(o.Start), nil
		case "stop":
			return NewInt(o.Stop), nil
		case "step":
			return NewInt(o.Step), nil
		}
	}

	return nil, Errorf(AttributeError, "'%s' object has no attribute '%s'", TypeName(o), name)
}

// LoadMethod resolves name for a following CallMethod.
// A builtin method comes back unbound as (method, nil) and is to be called
// with o prepended; anything else as (nil, attribute). References are new.
func LoadMethod(o Object, name string) (meth, attr Object, err error) {
	if m, ok := LookupMethod(o, name); ok {
		return newRef(m), nil, nil
	}

	attr, err = GetAttr(o, name)
	if err != nil {
		return nil, nil, err
	}

	return nil, attr, nil
}
