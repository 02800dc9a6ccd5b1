package front

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/hirjit/compiler/bytecode"
	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/interp"
	"github.com/slowlang/hirjit/compiler/object"
)

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
top:
    FOR_ITER done
    STORE_FAST i
    LOAD_FAST s
    LOAD_FAST i
    INPLACE_ADD
    STORE_FAST s
    JUMP_ABSOLUTE top
done:
    LOAD_FAST s
    RETURN_VALUE

func safediv(a, b)
    SETUP_FINALLY handler
    LOAD_FAST a
    LOAD_FAST b
    BINARY_FLOOR_DIVIDE
    POP_BLOCK
    RETURN_VALUE
handler:
    POP_TOP
    LOAD_CONST -1
    RETURN_VALUE

func uneven(x)
    LOAD_FAST x
    POP_JUMP_IF_FALSE join
    LOAD_CONST 1
join:
    LOAD_CONST 2
    RETURN_VALUE

func add(a: int, b: int) static
    LOAD_FAST a
    LOAD_FAST b
    BINARY_ADD
    RETURN_VALUE
`

func load(t *testing.T) *interp.Module {
	t.Helper()

	codes, err := bytecode.Parse("prog.hasm", []byte(progText))
	require.NoError(t, err)

	return interp.NewModule(codes)
}

func build(t *testing.T, fn *object.Func, fb TypeFeedback) *hir.Function {
	t.Helper()

	ctx := context.Background()

	pre, err := Preload(ctx, fn, fb, Annotations{})
	require.NoError(t, err)

	f, err := Build(ctx, pre)
	require.NoError(t, err)

	require.NoError(t, hir.CheckFunc(f), "%v", f)

	return f
}

func count(f *hir.Function) map[hir.Op]int {
	m := map[hir.Op]int{}

	f.Walk(func(b *hir.Block, i *hir.Instr) {
		m[i.Op]++
	})

	return m
}

func find(f *hir.Function, op hir.Op) (r []*hir.Instr) {
	f.Walk(func(b *hir.Block, i *hir.Instr) {
		if i.Op == op {
			r = append(r, i)
		}
	})

	return r
}

func TestBuildSimple(t *testing.T) {
	m := load(t)
	f := build(t, m.Func("inc"), nil)

	ops := count(f)

	assert.Equal(t, 1, ops[hir.LoadArg])
	assert.Equal(t, 1, ops[hir.BinaryOp])
	assert.Equal(t, 1, ops[hir.Return])
	assert.Equal(t, 0, ops[hir.GuardType])
	assert.False(t, f.SSA)

	assert.Empty(t, f.EntryBlock().Preds)
}

func TestBuildGuardsFromFeedback(t *testing.T) {
	m := load(t)
	fn := m.Func("inc")

	fb := MapFeedback{
		{Code: fn.Code, PC: 2}: {object.IntType, object.IntType},
	}

	f := build(t, fn, fb)

	guards := find(f, hir.GuardType)
	require.Len(t, guards, 2)

	for _, g := range guards {
		assert.Equal(t, hir.TLongExact, g.Guard)
		require.NotNil(t, g.FS)
		assert.Equal(t, 2, g.FS.PC)
		assert.Len(t, g.FS.Stack, 2)
		assert.Len(t, g.FS.Locals, 1)
	}

	bin := find(f, hir.BinaryOp)[0]
	assert.Equal(t, []hir.Value{guards[0].Out, guards[1].Out}, bin.Args)
}

func TestBuildLoop(t *testing.T) {
	m := load(t)
	f := build(t, m.Func("total"), nil)

	ops := count(f)

	assert.Equal(t, 1, ops[hir.ForIterNext])
	assert.Equal(t, 1, ops[hir.CondBranchIterNotDone])
	assert.Equal(t, 1, ops[hir.RefineType])
	assert.Equal(t, 1, ops[hir.GetIter])
	assert.Equal(t, 1, ops[hir.VectorCall])

	gi := find(f, hir.GuardIs)
	require.Len(t, gi, 1, "range is a builtin")

	rng, _ := m.Builtins.Get("range")
	assert.Same(t, rng, gi[0].Const)
	assert.Equal(t, 2, gi[0].FS.PC)

	// s and i are not arguments
	assert.Equal(t, 3, ops[hir.CheckVar])
}

func TestBuildStaticParams(t *testing.T) {
	m := load(t)
	f := build(t, m.Func("add"), nil)

	assert.Equal(t, []hir.Type{hir.TLongExact, hir.TLongExact}, f.ParamTypes)

	for _, a := range find(f, hir.LoadArg) {
		assert.Equal(t, hir.TLongExact, f.Type(a.Out))
	}
}

func TestBuildUnsupported(t *testing.T) {
	m := load(t)
	ctx := context.Background()

	for _, name := range []string{"safediv", "uneven"} {
		pre, err := Preload(ctx, m.Func(name), nil, nil)
		require.NoError(t, err)

		f, err := Build(ctx, pre)
		assert.ErrorIs(t, err, ErrUnsupported, name)
		assert.Nil(t, f)
	}
}

func TestPreloadUntrustedMapping(t *testing.T) {
	m := load(t)
	ctx := context.Background()

	code := m.Func("inc").Code

	fn := object.NewFunc(code, object.NewChainMap(m.Globals), m.Builtins)

	pre, err := Preload(ctx, fn, nil, nil)
	assert.ErrorIs(t, err, ErrUntrustedMapping)
	assert.Nil(t, pre)

	fn = object.NewFunc(code, m.Globals, object.NewChainMap(m.Builtins))

	_, err = Preload(ctx, fn, nil, nil)
	assert.ErrorIs(t, err, ErrUntrustedMapping)
}

func TestPreloadResolvesGlobals(t *testing.T) {
	m := load(t)

	pre, err := Preload(context.Background(), m.Func("total"), nil, nil)
	require.NoError(t, err)

	assert.Contains(t, pre.Resolved, "range")
	assert.Same(t, m.Globals, pre.Globals)
	assert.Nil(t, pre.ParamTypes, "not static")
}
