package compiler

import (
	"context"
	"os"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/bytecode"
	"github.com/slowlang/hirjit/compiler/interp"
	"github.com/slowlang/hirjit/compiler/jit"
	"github.com/slowlang/hirjit/compiler/object"
)

// Session is a loaded module with the jit attached.
type Session struct {
	Module  *interp.Module
	JIT     *jit.Compiler
	Profile *interp.Profile

	Context jit.Context
	Table   jit.CodeTable
}

var ErrNoFunc = errors.New("no such function")

func LoadFile(ctx context.Context, name string) (*interp.Module, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Load(ctx, name, text)
}

func Load(ctx context.Context, name string, text []byte) (*interp.Module, error) {
	codes, err := bytecode.Parse(name, text)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}

	tlog.SpanFromContext(ctx).V("load").Printw("parsed", "name", name, "funcs", len(codes))

	return interp.NewModule(codes), nil
}

func NewSession(m *interp.Module, cfg jit.Config) *Session {
	s := &Session{
		Module:  m,
		JIT:     jit.New(cfg),
		Profile: interp.NewProfile(),
	}

	s.JIT.Feedback = s.Profile

	return s
}

// Warmup runs the function in the interpreter recording type feedback.
func (s *Session) Warmup(ctx context.Context, name string, args []object.Object) (r object.Object, err error) {
	fn := s.Module.Func(name)
	if fn == nil {
		return nil, errors.Wrap(ErrNoFunc, "%v", name)
	}

	prev := interp.SetProfile(s.Profile)
	defer interp.SetProfile(prev)

	return interp.Call(fn, args)
}

// CompileAll compiles every function of the module and installs
// the successful ones. Rejected functions stay interpreted.
func (s *Session) CompileAll(ctx context.Context) (res []jit.Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile all")
	defer tr.Finish("err", &err)

	res = s.JIT.PreloadAll(ctx, &s.Context, s.Module.Funcs)

	for _, r := range res {
		if r.Err != nil {
			continue
		}

		err = s.Table.Install(r.Func, r.Artifact)
		if err != nil {
			return res, errors.Wrap(err, "install %v", r.Func.Code.Name)
		}
	}

	tr.Printw("installed", "funcs", s.Table.Len(), "code_size", s.Table.CodeSize())

	return res, nil
}

// Call calls the function through its installed code if any.
func (s *Session) Call(ctx context.Context, name string, args []object.Object) (object.Object, error) {
	fn := s.Module.Func(name)
	if fn == nil {
		return nil, errors.Wrap(ErrNoFunc, "%v", name)
	}

	return object.Call(fn, args)
}

// Close releases installed code.
func (s *Session) Close() (err error) {
	for _, fn := range s.Module.Funcs {
		if e := s.Table.Remove(fn); err == nil && e != nil {
			err = e
		}
	}

	return err
}

// ParseArgs makes ints of decimal arguments and strs of the rest.
func ParseArgs(args []string) []object.Object {
	r := make([]object.Object, len(args))

	for k, a := range args {
		if v, err := strconv.ParseInt(a, 10, 64); err == nil {
			r[k] = object.NewInt(v)
			continue
		}

		r[k] = object.NewStr(a)
	}

	return r
}
