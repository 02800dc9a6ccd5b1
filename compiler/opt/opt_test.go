package opt

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/hirjit/compiler/bytecode"
	"github.com/slowlang/hirjit/compiler/front"
	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/interp"
	"github.com/slowlang/hirjit/compiler/object"
	"github.com/slowlang/hirjit/compiler/phase"
)

type env struct {
	m  *interp.Module
	fb front.MapFeedback
}

const progText = `
func inc(x)
    LOAD_FAST x
    LOAD_CONST 1
    BINARY_ADD
    RETURN_VALUE

func total(n)
    LOAD_CONST 0
    STORE_FAST s
    LOAD_GLOBAL range
    LOAD_FAST n
    CALL_FUNCTION 1
    GET_ITER
loop:
    FOR_ITER done
    STORE_FAST i
    LOAD_FAST s
    LOAD_FAST i
    INPLACE_ADD
    STORE_FAST s
    JUMP_ABSOLUTE loop
done:
    LOAD_FAST s
    RETURN_VALUE

func unbound(x)
    LOAD_FAST x
    POP_JUMP_IF_FALSE skip
    LOAD_CONST 1
    STORE_FAST y
skip:
    LOAD_FAST y
    RETURN_VALUE

func pick(a, b)
    LOAD_FAST a
    LOAD_FAST b
    COMPARE_OP <
    POP_JUMP_IF_FALSE other
    LOAD_FAST a
    RETURN_VALUE
other:
    LOAD_FAST b
    RETURN_VALUE

func grow(x)
    BUILD_LIST 0
    STORE_FAST l
    LOAD_FAST l
    LOAD_METHOD append
    LOAD_FAST x
    CALL_METHOD 1
    POP_TOP
    LOAD_FAST l
    RETURN_VALUE

func always()
    LOAD_CONST True
    POP_JUMP_IF_FALSE no
    LOAD_CONST 1
    RETURN_VALUE
no:
    LOAD_CONST 2
    RETURN_VALUE

func shout(s)
    LOAD_FAST s
    LOAD_METHOD upper
    CALL_METHOD 0
    RETURN_VALUE

func twice(x)
    LOAD_GLOBAL shout
    LOAD_FAST x
    CALL_FUNCTION 1
    LOAD_GLOBAL shout
    LOAD_FAST x
    CALL_FUNCTION 1
    BINARY_ADD
    RETURN_VALUE

func fact(n)
    LOAD_FAST n
    LOAD_CONST 1
    COMPARE_OP <=
    POP_JUMP_IF_FALSE rec
    LOAD_CONST 1
    RETURN_VALUE
rec:
    LOAD_FAST n
    LOAD_GLOBAL fact
    LOAD_FAST n
    LOAD_CONST 1
    BINARY_SUBTRACT
    CALL_FUNCTION 1
    BINARY_MULTIPLY
    RETURN_VALUE
`

var allFuncs = []string{"inc", "total", "unbound", "pick", "grow", "always", "shout", "twice", "fact"}

func newEnv(t testing.TB) *env {
	t.Helper()

	codes, err := bytecode.Parse("opt.hasm", []byte(progText))
	require.NoError(t, err)

	return &env{
		m:  interp.NewModule(codes),
		fb: front.MapFeedback{},
	}
}

func (e *env) hint(name string, pc int, types ...*object.Type) {
	e.fb[front.FeedbackKey{Code: e.m.Func(name).Code, PC: pc}] = types
}

func (e *env) build(ctx context.Context, fn *object.Func) (*hir.Function, error) {
	pre, err := front.Preload(ctx, fn, e.fb, front.Annotations{})
	if err != nil {
		return nil, err
	}

	return front.Build(ctx, pre)
}

func (e *env) hir(t testing.TB, name string) *hir.Function {
	t.Helper()

	f, err := e.build(context.Background(), e.m.Func(name))
	require.NoError(t, err)

	return f
}

func (e *env) run(t testing.TB, name string, cfg PassConfig) *hir.Function {
	t.Helper()

	f := e.hir(t, name)

	Run(context.Background(), f, cfg, Options{Inliner: Inliner{Build: e.build}})

	require.NoError(t, hir.CheckFunc(f), "%v", f)
	require.NoError(t, hir.CheckTypes(f), "%v", f)

	return f
}

func count(f *hir.Function, op hir.Op) (n int) {
	f.Walk(func(b *hir.Block, i *hir.Instr) {
		if i.Op == op {
			n++
		}
	})

	return n
}

func find(f *hir.Function, op hir.Op) (r []*hir.Instr) {
	f.Walk(func(b *hir.Block, i *hir.Instr) {
		if i.Op == op {
			r = append(r, i)
		}
	})

	return r
}

func names(l []Pass) (r []string) {
	for _, p := range l {
		r = append(r, p.Name)
	}

	return r
}

func TestPipelineOrder(t *testing.T) {
	assert.Equal(t, []string{
		"SSAify",
		"Simplify",
		"DynamicComparisonElimination",
		"GuardTypeRemoval",
		"PhiElimination",
		"BuiltinLoadMethodElimination",
		"Simplify",
		"CleanCFG",
		"DeadCodeElimination",
		"CleanCFG",
		"RefcountInsertion",
	}, names(Pipeline(0, Inliner{})))

	assert.Equal(t, []string{
		"SSAify",
		"Simplify",
		"DynamicComparisonElimination",
		"GuardTypeRemoval",
		"PhiElimination",
		"Inliner",
		"Simplify",
		"BeginInlinedFunctionElimination",
		"BuiltinLoadMethodElimination",
		"Simplify",
		"CleanCFG",
		"DeadCodeElimination",
		"CleanCFG",
		"RefcountInsertion",
	}, names(Pipeline(PassInliner, Inliner{})))
}

func TestRunAllFunctions(t *testing.T) {
	for _, cfg := range []PassConfig{0, PassInliner} {
		for _, name := range allFuncs {
			t.Run(cfg.String()+"/"+name, func(t *testing.T) {
				e := newEnv(t)

				f := e.run(t, name, cfg)

				assert.True(t, f.SSA)
				assert.Zero(t, count(f, hir.Assign))
			})
		}
	}
}

func TestSSAify(t *testing.T) {
	e := newEnv(t)
	f := e.hir(t, "total")

	require.False(t, f.SSA)

	SSAify(context.Background(), f)
	hir.ReflowTypes(f)

	require.NoError(t, hir.CheckFunc(f), "%v", f)
	require.NoError(t, hir.CheckTypes(f), "%v", f)

	assert.True(t, f.SSA)
	assert.Zero(t, count(f, hir.Assign))
	assert.NotZero(t, count(f, hir.Phi), "loop carried s")
}

func TestSpecialization(t *testing.T) {
	e := newEnv(t)
	e.hint("inc", 2, object.IntType, object.IntType)
	e.hint("pick", 2, object.IntType, object.IntType)

	f := e.run(t, "inc", 0)

	assert.Equal(t, 1, count(f, hir.LongBinaryOp))
	assert.Zero(t, count(f, hir.BinaryOp))
	assert.Equal(t, 1, count(f, hir.GuardType), "constant operand needs no guard")

	f = e.run(t, "pick", 0)

	assert.Equal(t, 1, count(f, hir.PrimitiveCompare))
	assert.Zero(t, count(f, hir.Compare))
	assert.Zero(t, count(f, hir.LongCompare))
	assert.Zero(t, count(f, hir.IsTruthy))
}

func TestConstantBranch(t *testing.T) {
	e := newEnv(t)
	f := e.run(t, "always", 0)

	assert.Zero(t, count(f, hir.CondBranch))
	assert.Equal(t, 1, count(f, hir.Return))
	assert.Len(t, f.RPO(), 1, "%v", f)
}

func TestBuiltinMethod(t *testing.T) {
	e := newEnv(t)
	f := e.run(t, "grow", 0)

	inv := find(f, hir.InvokeBuiltinMethod)
	require.Len(t, inv, 1, "%v", f)
	assert.Equal(t, "append", inv[0].Method.Name)

	assert.Zero(t, count(f, hir.LoadMethod))
	assert.Zero(t, count(f, hir.CallMethod))
	assert.Zero(t, count(f, hir.CheckVar), "l is always bound")
}

func TestUnboundLocal(t *testing.T) {
	e := newEnv(t)
	f := e.run(t, "unbound", 0)

	cv := find(f, hir.CheckVar)
	require.Len(t, cv, 1)
	assert.Equal(t, "y", cv[0].Name)
	assert.NotEmpty(t, cv[0].LiveOwned, "phi is owned")
}

func TestInliner(t *testing.T) {
	t.Run("no_deopt", func(t *testing.T) {
		e := newEnv(t)
		f := e.run(t, "twice", PassInliner)

		assert.Equal(t, 2, f.InlineStats.NumInlined)
		assert.Zero(t, count(f, hir.CallStatic))
		assert.Zero(t, count(f, hir.VectorCall))
		assert.Zero(t, count(f, hir.BeginInlinedFunction), "nothing deopts in the callee")
	})

	t.Run("deopt", func(t *testing.T) {
		e := newEnv(t)
		e.hint("shout", 1, object.StrType)

		f := e.run(t, "twice", PassInliner)

		assert.Equal(t, 2, f.InlineStats.NumInlined)
		assert.Equal(t, 2, count(f, hir.BeginInlinedFunction))
		assert.Equal(t, 2, count(f, hir.EndInlinedFunction))
		assert.Equal(t, 2, count(f, hir.InvokeBuiltinMethod))

		guards := find(f, hir.GuardType)
		require.Len(t, guards, 2)

		for _, g := range guards {
			fs := g.FS
			require.NotNil(t, fs)
			require.Equal(t, 2, fs.Depth())

			assert.Equal(t, "shout", fs.Func.Code.Name)
			assert.Equal(t, 1, fs.PC)
			assert.NotZero(t, fs.Inline)

			assert.Equal(t, "twice", fs.Parent.Func.Code.Name)
			assert.Contains(t, []int{3, 6}, fs.Parent.PC)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		e := newEnv(t)
		f := e.run(t, "twice", 0)

		assert.Zero(t, f.InlineStats.NumInlined)
		assert.Equal(t, 2, count(f, hir.CallStatic))
	})

	t.Run("recursive", func(t *testing.T) {
		e := newEnv(t)
		f := e.run(t, "fact", PassInliner)

		assert.Zero(t, f.InlineStats.NumInlined)
		assert.Equal(t, 1, f.InlineStats.Failures["recursive"])
	})

	t.Run("cost", func(t *testing.T) {
		e := newEnv(t)
		f := e.hir(t, "twice")

		Run(context.Background(), f, PassInliner, Options{Inliner: Inliner{Build: e.build, MaxCost: 2}})

		assert.Zero(t, f.InlineStats.NumInlined)
		assert.Equal(t, 2, f.InlineStats.Failures["cost"])
	})
}

func TestSimplifyIdempotent(t *testing.T) {
	ctx := context.Background()

	for _, name := range allFuncs {
		e := newEnv(t)
		e.hint("inc", 2, object.IntType, object.IntType)

		f := e.hir(t, name)

		SSAify(ctx, f)
		Simplify(ctx, f)

		first := f.String()

		Simplify(ctx, f)

		assert.Equal(t, first, f.String(), name)
	}
}

func TestRunTimer(t *testing.T) {
	e := newEnv(t)
	f := e.hir(t, "total")
	f.Timer = phase.New()

	Run(context.Background(), f, 0, Options{})

	p := f.Timer.Find(PhaseName)
	require.NotNil(t, p)

	assert.Len(t, p.Children, len(Pipeline(0, Inliner{})))
	assert.Equal(t, "SSAify", p.Children[0].Name)
	assert.Zero(t, f.Timer.Open())
}

func TestTrace(t *testing.T) {
	e := newEnv(t)
	f := e.hir(t, "inc")

	tr := NewTrace("")

	Run(context.Background(), f, 0, Options{Trace: tr})

	require.Len(t, tr.Passes, len(Pipeline(0, Inliner{})))
	assert.Equal(t, f.FullName, tr.Func)
	assert.Contains(t, tr.Passes[0].Before, "Assign")
	assert.NotContains(t, tr.Passes[0].After, "Assign")
	assert.Equal(t, f.String(), tr.Passes[len(tr.Passes)-1].After)

	for _, format := range []string{FormatJSON, FormatCBOR} {
		var buf bytes.Buffer

		err := tr.Write(&buf, format)
		require.NoError(t, err)

		got, err := ReadTrace(&buf)
		require.NoError(t, err, format)
		assert.Equal(t, tr, got, format)
	}

	var buf bytes.Buffer

	old := *tr
	old.Version = "2.0.0"

	require.NoError(t, old.Write(&buf, FormatCBOR))

	_, err := ReadTrace(&buf)
	assert.ErrorIs(t, err, ErrTraceVersion)

	assert.Equal(t, "dump/prog.hasm_inc.cbor", TraceFile("dump", "prog.hasm:inc", FormatCBOR))
}
