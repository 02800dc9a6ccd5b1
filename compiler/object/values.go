package object

import (
	"fmt"
	"strconv"

	"github.com/slowlang/hirjit/compiler/bytecode"
)

type (
	NoneObject struct{ Header }

	Bool struct {
		Header
		V bool
	}

	Int struct {
		Header
		V int64
	}

	Str struct {
		Header
		V string
	}
)

var (
	NoneType = &Type{Name: "NoneType"}
	BoolType = &Type{Name: "bool"}
	IntType  = &Type{Name: "int"}
	StrType  = &Type{Name: "str"}

	None  = &NoneObject{Header{refs: 1}}
	True  = &Bool{Header: Header{refs: 1}, V: true}
	False = &Bool{Header: Header{refs: 1}, V: false}
)

func (*NoneObject) Type() *Type { return NoneType }
func (*Bool) Type() *Type       { return BoolType }
func (*Int) Type() *Type        { return IntType }
func (*Str) Type() *Type        { return StrType }

func (*NoneObject) String() string { return "None" }

func (x *Bool) String() string {
	if x.V {
		return "True"
	}

	return "False"
}

func (x *Int) String() string { return strconv.FormatInt(x.V, 10) }
func (x *Str) String() string { return x.V }

// NewNone returns a new reference to None.
func NewNone() Object { return newRef(None) }

func NewBool(v bool) *Bool {
	if v {
		return newRef(True)
	}

	return newRef(False)
}

func NewInt(v int64) *Int {
	return &Int{Header: Header{refs: 1}, V: v}
}

func NewStr(v string) *Str {
	return &Str{Header: Header{refs: 1}, V: v}
}

// AsInt returns the integer value of an int or bool.
func AsInt(o Object) (int64, bool) {
	switch o := o.(type) {
	case *Int:
		return o.V, true
	case *Bool:
		if o.V {
			return 1, true
		}

		return 0, true
	}

	return 0, false
}

// FromConst converts a code constant into a new reference.
func FromConst(c bytecode.Const) Object {
	switch c := c.(type) {
	case nil:
		return NewNone()
	case bool:
		return NewBool(c)
	case int64:
		return NewInt(c)
	case string:
		return NewStr(c)
	default:
		panic(fmt.Sprintf("unsupported constant %T", c))
	}
}

// Repr renders o the way the interpreter's repr would.
func Repr(o Object) string {
	switch o := o.(type) {
	case nil:
		return "NULL"
	case *Str:
		return strconv.Quote(o.V)
	case *List:
		b := []byte{'['}

		for i, x := range o.Items {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = append(b, Repr(x)...)
		}

		return string(append(b, ']'))
	case fmt.Stringer:
		return o.String()
	default:
		return fmt.Sprintf("<%s object>", TypeName(o))
	}
}
