package front

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/bytecode"
	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	// TypeFeedback supplies operand types observed at runtime.
	// Results are hints: the builder guards everything it relies on.
	TypeFeedback interface {
		TypesAt(c *bytecode.Code, pc int) []*object.Type
	}

	// StaticTypes supplies declared argument types of statically typed code.
	// nil entries are unknown.
	StaticTypes interface {
		ParamTypes(fn *object.Func) []*object.Type
	}

	// Annotations takes argument types from the code annotations.
	Annotations struct{}

	// MapFeedback is a fixed TypeFeedback keyed by code and pc.
	MapFeedback map[FeedbackKey][]*object.Type

	FeedbackKey struct {
		Code *bytecode.Code
		PC   int
	}

	// Preloaded is everything the builder needs from the runtime.
	// It can be computed concurrently for many functions.
	Preloaded struct {
		Func     *object.Func
		Globals  *object.Dict
		Builtins *object.Dict

		// Resolved maps global names to values they had at preload time.
		Resolved map[string]object.Object

		ParamTypes []hir.Type
		Hints      map[int][]hir.Type
	}
)

var (
	ErrUntrustedMapping = errors.New("globals or builtins is not an exact dict")
	ErrUnsupported      = errors.New("unsupported bytecode")
)

var annotationTypes = map[string]*object.Type{
	"int":  object.IntType,
	"bool": object.BoolType,
	"str":  object.StrType,
	"list": object.ListType,
	"dict": object.DictType,
}

// Preload validates the namespaces of fn and resolves feedback.
// fb and st may be nil.
func Preload(ctx context.Context, fn *object.Func, fb TypeFeedback, st StaticTypes) (pre *Preloaded, err error) {
	tr := tlog.SpawnFromContext(ctx, "preload", "func", fn.Code.Name)
	defer tr.Finish("err", &err)

	globals, ok := fn.Globals.(*object.Dict)
	if !ok {
		tr.V("jit").Printw("refuse to compile", "globals", object.TypeName(fn.Globals))
		return nil, errors.Wrap(ErrUntrustedMapping, "%v: globals is %v", fn.Code.Name, object.TypeName(fn.Globals))
	}

	builtins, ok := fn.Builtins.(*object.Dict)
	if !ok {
		tr.V("jit").Printw("refuse to compile", "builtins", object.TypeName(fn.Builtins))
		return nil, errors.Wrap(ErrUntrustedMapping, "%v: builtins is %v", fn.Code.Name, object.TypeName(fn.Builtins))
	}

	c := fn.Code

	pre = &Preloaded{
		Func:     fn,
		Globals:  globals,
		Builtins: builtins,
		Resolved: map[string]object.Object{},
		Hints:    map[int][]hir.Type{},
	}

	for pc, in := range c.Instrs {
		if in.Op == bytecode.LOAD_GLOBAL {
			name := c.Names[in.Arg]

			v, ok := globals.Get(name)
			if !ok {
				v, ok = builtins.Get(name)
			}

			if ok {
				pre.Resolved[name] = v
			}
		}

		if fb == nil {
			continue
		}

		types := fb.TypesAt(c, pc)
		if types == nil {
			continue
		}

		hints := make([]hir.Type, len(types))

		for k, tp := range types {
			hints[k] = hir.FromObjectType(tp)
		}

		pre.Hints[pc] = hints
	}

	if st != nil && c.Flags&bytecode.FlagStatic != 0 {
		for _, tp := range st.ParamTypes(fn) {
			t := hir.TBottom
			if tp != nil {
				t = hir.FromObjectType(tp)
			}

			pre.ParamTypes = append(pre.ParamTypes, t)
		}
	}

	if tr.If("dump_preload") {
		tr.Printw("preloaded", "resolved", len(pre.Resolved), "hints", len(pre.Hints), "params", pre.ParamTypes)
	}

	return pre, nil
}

func (Annotations) ParamTypes(fn *object.Func) []*object.Type {
	var r []*object.Type

	for _, a := range fn.Code.Annotations {
		r = append(r, annotationTypes[a])
	}

	return r
}

func (m MapFeedback) TypesAt(c *bytecode.Code, pc int) []*object.Type {
	return m[FeedbackKey{Code: c, PC: pc}]
}
