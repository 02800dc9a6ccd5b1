package hir

import (
	"strings"

	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/hirjit/compiler/object"
)

// Type is a set of runtime representations, ordered by inclusion.
type Type uint32

const (
	TNullptr Type = 1 << iota
	TNoneType
	TBool
	TLongExact
	TStr
	TList
	TDict
	TFunc
	TIter
	TRange
	TBuiltin
	TOtherObject
	TCBool

	TBottom Type = 0

	TLong      = TLongExact | TBool
	TObject    = TNoneType | TLong | TStr | TList | TDict | TFunc | TIter | TRange | TBuiltin | TOtherObject
	TOptObject = TObject | TNullptr
	TTop       = TOptObject | TCBool
)

var typeNames = []struct {
	t    Type
	name string
}{
	{TTop, "Top"},
	{TOptObject, "OptObject"},
	{TObject, "Object"},
	{TLong, "Long"},
	{TNullptr, "Nullptr"},
	{TNoneType, "NoneType"},
	{TBool, "Bool"},
	{TLongExact, "LongExact"},
	{TStr, "Str"},
	{TList, "List"},
	{TDict, "Dict"},
	{TFunc, "Func"},
	{TIter, "Iter"},
	{TRange, "Range"},
	{TBuiltin, "Builtin"},
	{TOtherObject, "OtherObject"},
	{TCBool, "CBool"},
}

// Le reports t ⊆ u.
func (t Type) Le(u Type) bool { return t&^u == 0 }

func (t Type) Union(u Type) Type { return t | u }

func (t Type) Meet(u Type) Type { return t & u }

func (t Type) MaybeNull() bool { return t&TNullptr != 0 }

func (t Type) IsObject() bool { return t != TBottom && t.Le(TObject) }

func (t Type) String() string {
	if t == TBottom {
		return "Bottom"
	}

	var parts []string

	rest := t

	for _, n := range typeNames {
		if n.t.Le(rest) {
			parts = append(parts, n.name)
			rest &^= n.t
		}
	}

	return strings.Join(parts, "|")
}

func (t Type) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, t.String())
}

// TypeOf returns the exact type of a runtime object. nil is Nullptr.
func TypeOf(o object.Object) Type {
	if o == nil {
		return TNullptr
	}

	return FromObjectType(o.Type())
}

func FromObjectType(tp *object.Type) Type {
	switch tp {
	case nil:
		return TNullptr
	case object.NoneType:
		return TNoneType
	case object.BoolType:
		return TBool
	case object.IntType:
		return TLongExact
	case object.StrType:
		return TStr
	case object.ListType:
		return TList
	case object.DictType:
		return TDict
	case object.FuncType:
		return TFunc
	case object.IterType:
		return TIter
	case object.RangeType:
		return TRange
	case object.BuiltinType:
		return TBuiltin
	}

	return TOtherObject
}

// ObjectType returns the runtime type t stands for when it is a single
// concrete builtin type.
func (t Type) ObjectType() (*object.Type, bool) {
	switch t {
	case TNoneType:
		return object.NoneType, true
	case TBool:
		return object.BoolType, true
	case TLongExact:
		return object.IntType, true
	case TStr:
		return object.StrType, true
	case TList:
		return object.ListType, true
	case TDict:
		return object.DictType, true
	case TFunc:
		return object.FuncType, true
	case TIter:
		return object.IterType, true
	case TRange:
		return object.RangeType, true
	case TBuiltin:
		return object.BuiltinType, true
	}

	return nil, false
}

// Contains reports whether runtime value o is a member of t.
func (t Type) Contains(o object.Object) bool {
	return TypeOf(o).Le(t)
}
