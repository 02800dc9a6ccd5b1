package object

import (
	"strconv"
	"strings"
)

func init() {
	StrType.Methods = map[string]*Builtin{
		"upper": NewBuiltin("upper", 1, 1, func(a []Object) (Object, error) {
			s, err := self[*Str](a, "upper")
			if err != nil {
				return nil, err
			}

			return NewStr(strings.ToUpper(s.V)), nil
		}),
		"lower": NewBuiltin("lower", 1, 1, func(a []Object) (Object, error) {
			s, err := self[*Str](a, "lower")
			if err != nil {
				return nil, err
			}

			return NewStr(strings.ToLower(s.V)), nil
		}),
		"startswith": NewBuiltin("startswith", 2, 2, func(a []Object) (Object, error) {
			s, err := self[*Str](a, "startswith")
			if err != nil {
				return nil, err
			}

			p, ok := a[1].(*Str)
			if !ok {
				return nil, Errorf(TypeError, "startswith first arg must be str, not %s", TypeName(a[1]))
			}

			return NewBool(strings.HasPrefix(s.V, p.V)), nil
		}),
	}

	ListType.Methods = map[string]*Builtin{
		"append": NewBuiltin("append", 2, 2, func(a []Object) (Object, error) {
			l, err := self[*List](a, "append")
			if err != nil {
				return nil, err
			}

			l.Append(a[1])

			return NewNone(), nil
		}),
		"pop": NewBuiltin("pop", 1, 1, func(a []Object) (Object, error) {
			l, err := self[*List](a, "pop")
			if err != nil {
				return nil, err
			}

			if len(l.Items) == 0 {
				return nil, Errorf(IndexError, "pop from empty list")
			}

			x := l.Items[len(l.Items)-1]
			l.Items = l.Items[:len(l.Items)-1]

			return x, nil
		}),
	}

	DictType.Methods = map[string]*Builtin{
		"get": NewBuiltin("get", 2, 3, func(a []Object) (Object, error) {
			d, err := self[*Dict](a, "get")
			if err != nil {
				return nil, err
			}

			k, ok := a[1].(*Str)
			if !ok {
				return nil, Errorf(TypeError, "dict keys must be str, not %s", TypeName(a[1]))
			}

			if v, ok := d.Get(k.V); ok {
				return newRef(v), nil
			}

			if len(a) == 3 {
				return newRef(a[2]), nil
			}

			return NewNone(), nil
		}),
	}

	IntType.Methods = map[string]*Builtin{
		"bit_length": NewBuiltin("bit_length", 1, 1, func(a []Object) (Object, error) {
			x, ok := AsInt(a[0])
			if !ok {
				return nil, Errorf(TypeError, "descriptor 'bit_length' requires an 'int' object")
			}

			n := int64(0)
			for x = abs(x); x != 0; x >>= 1 {
				n++
			}

			return NewInt(n), nil
		}),
	}
}

func self[T Object](a []Object, name string) (T, error) {
	s, ok := a[0].(T)
	if !ok {
		return s, Errorf(TypeError, "descriptor '%s' got '%s' object", name, TypeName(a[0]))
	}

	return s, nil
}

// NewBuiltins returns a fresh builtins namespace.
func NewBuiltins() *Dict {
	d := NewDict()

	add := func(b *Builtin) {
		d.Set(b.Name, b)
		Decref(b)
	}

	add(NewBuiltin("len", 1, 1, func(a []Object) (Object, error) {
		switch x := a[0].(type) {
		case *Str:
			return NewInt(int64(len(x.V))), nil
		case *List:
			return NewInt(int64(len(x.Items))), nil
		case *Dict:
			return NewInt(int64(x.Len())), nil
		}

		return nil, Errorf(TypeError, "object of type '%s' has no len()", TypeName(a[0]))
	}))

	add(NewBuiltin("abs", 1, 1, func(a []Object) (Object, error) {
		x, ok := AsInt(a[0])
		if !ok {
			return nil, Errorf(TypeError, "bad operand type for abs(): '%s'", TypeName(a[0]))
		}

		if x == -1<<63 {
			return nil, overflow()
		}

		return NewInt(abs(x)), nil
	}))

	add(NewBuiltin("range", 1, 3, func(a []Object) (Object, error) {
		var v [3]int64

		for i, x := range a {
			n, ok := AsInt(x)
			if !ok {
				return nil, Errorf(TypeError, "'%s' object cannot be interpreted as an integer", TypeName(x))
			}

			v[i] = n
		}

		switch len(a) {
		case 1:
			return NewRange(0, v[0], 1), nil
		case 2:
			return NewRange(v[0], v[1], 1), nil
		}

		if v[2] == 0 {
			return nil, Errorf(TypeError, "range() arg 3 must not be zero")
		}

		return NewRange(v[0], v[1], v[2]), nil
	}))

	add(NewBuiltin("str", 1, 1, func(a []Object) (Object, error) {
		if s, ok := a[0].(*Str); ok {
			return newRef(s), nil
		}

		return NewStr(Repr(a[0])), nil
	}))

	add(NewBuiltin("int", 1, 1, func(a []Object) (Object, error) {
		switch x := a[0].(type) {
		case *Int:
			return newRef(x), nil
		case *Bool:
			n, _ := AsInt(x)
			return NewInt(n), nil
		case *Str:
			n, err := strconv.ParseInt(strings.TrimSpace(x.V), 10, 64)
			if err != nil {
				return nil, Errorf(TypeError, "invalid literal for int(): %s", Repr(x))
			}

			return NewInt(n), nil
		}

		return nil, Errorf(TypeError, "int() argument must be a string or a number, not '%s'", TypeName(a[0]))
	}))

	minmax := func(name string, less bool) *Builtin {
		return NewBuiltin(name, 1, -1, func(a []Object) (Object, error) {
			if len(a) == 1 {
				l, ok := a[0].(*List)
				if !ok || len(l.Items) == 0 {
					return nil, Errorf(TypeError, "%s() arg is an empty or non-list sequence", name)
				}

				a = l.Items
			}

			best := a[0]

			for _, x := range a[1:] {
				op := CmpGt
				if less {
					op = CmpLt
				}

				r, err := CompareBool(op, x, best)
				if err != nil {
					return nil, err
				}

				if r {
					best = x
				}
			}

			return newRef(best), nil
		})
	}

	add(minmax("min", true))
	add(minmax("max", false))

	for _, tp := range []*Type{
		ExceptionType, TypeError, AttributeError, NameError, UnboundLocalError,
		ZeroDivisionError, OverflowError, IndexError,
	} {
		d.Set(tp.Name, tp)
	}

	return d
}
