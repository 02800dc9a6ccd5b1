package interp

import (
	"github.com/slowlang/hirjit/compiler/bytecode"
	"github.com/slowlang/hirjit/compiler/object"
)

// Module binds code units to one shared globals namespace.
type Module struct {
	Globals  *object.Dict
	Builtins *object.Dict

	Funcs []*object.Func
}

func NewModule(codes []*bytecode.Code) *Module {
	m := &Module{
		Globals:  object.NewDict(),
		Builtins: object.NewBuiltins(),
	}

	for _, c := range codes {
		f := object.NewFunc(c, m.Globals, m.Builtins)

		m.Globals.Set(c.Name, f)
		object.Decref(f)

		m.Funcs = append(m.Funcs, f)
	}

	return m
}

func (m *Module) Func(name string) *object.Func {
	for _, f := range m.Funcs {
		if f.Code.Name == name {
			return f
		}
	}

	return nil
}
