package hir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/hirjit/compiler/object"
)

// diamond builds
//
//	entry: x = arg0; c = IsTruthy x; CondBranch c then else
//	then:  a = 1; Branch join
//	else:  b = 2; Branch join
//	join:  p = Phi a b; Return p
func diamond(t testing.TB) (*Function, []*Block) {
	f := NewFunction("diamond", nil)

	entry, then, els, join := f.NewBlock(), f.NewBlock(), f.NewBlock(), f.NewBlock()

	x := f.Emit(entry, LoadArg, TObject)
	c := f.Emit(entry, IsTruthy, TCBool, x.Out)
	f.Terminate(entry, CondBranch, []BlockID{then.ID, els.ID}, c.Out)

	a := f.Emit(then, LoadConst, TLongExact)
	a.Const = object.NewInt(1)
	f.Terminate(then, Branch, []BlockID{join.ID})

	b := f.Emit(els, LoadConst, TLongExact)
	b.Const = object.NewInt(2)
	f.Terminate(els, Branch, []BlockID{join.ID})

	p := f.Emit(join, Phi, TLongExact, a.Out, b.Out)
	p.PhiPreds = []BlockID{then.ID, els.ID}
	f.Terminate(join, Return, nil, p.Out)

	f.SSA = true

	require.NoError(t, CheckFunc(f))
	require.NoError(t, CheckTypes(f))

	return f, []*Block{entry, then, els, join}
}

func TestTypeLattice(t *testing.T) {
	assert.True(t, TBool.Le(TLong))
	assert.True(t, TLong.Le(TObject))
	assert.False(t, TObject.Le(TLong))
	assert.False(t, TCBool.Le(TObject))
	assert.True(t, TObject.Le(TOptObject))

	assert.Equal(t, "Long", TLong.String())
	assert.Equal(t, "Object", TObject.String())
	assert.Equal(t, "Nullptr|Str", (TStr | TNullptr).String())
	assert.Equal(t, "Bottom", TBottom.String())

	assert.Equal(t, TLongExact, TypeOf(object.NewInt(3)))
	assert.Equal(t, TBool, TypeOf(object.True))
	assert.Equal(t, TNullptr, TypeOf(nil))
	assert.Equal(t, TOtherObject, TypeOf(object.TypeError))

	tp, ok := TStr.ObjectType()
	assert.True(t, ok)
	assert.Equal(t, object.StrType, tp)

	_, ok = TLong.ObjectType()
	assert.False(t, ok)
}

func TestDominators(t *testing.T) {
	f, bs := diamond(t)
	entry, then, els, join := bs[0].ID, bs[1].ID, bs[2].ID, bs[3].ID

	assert.Equal(t, []BlockID{entry, els, then, join}, f.RPO())

	d := f.Dominators()

	assert.Equal(t, NoBlock, d.Idom[entry])
	assert.Equal(t, entry, d.Idom[then])
	assert.Equal(t, entry, d.Idom[els])
	assert.Equal(t, entry, d.Idom[join])

	assert.True(t, d.Dominates(entry, join))
	assert.True(t, d.Dominates(join, join))
	assert.False(t, d.Dominates(then, join))

	df := f.DomFrontier(d)

	assert.Equal(t, []BlockID{join}, df[then].Slice())
	assert.Equal(t, []BlockID{join}, df[els].Slice())
	assert.Equal(t, 0, df[entry].Size())
}

func TestCheckFuncErrors(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		f, _ := diamond(t)

		lost := f.NewBlock()
		f.Terminate(lost, Return, nil, 0)

		assert.ErrorContains(t, CheckFunc(f), "unreachable")
	})

	t.Run("no_terminator", func(t *testing.T) {
		f, bs := diamond(t)

		bs[1].Instrs = bs[1].Instrs[:1]

		assert.Error(t, CheckFunc(f))
	})

	t.Run("bad_target", func(t *testing.T) {
		f, bs := diamond(t)

		bs[1].Terminator().Targets[0] = 17

		assert.ErrorContains(t, CheckFunc(f), "missing")
	})

	t.Run("phi_preds", func(t *testing.T) {
		f, bs := diamond(t)

		bs[3].Instrs[0].PhiPreds[1] = bs[0].ID

		assert.ErrorContains(t, CheckFunc(f), "phi")
	})

	t.Run("not_dominated", func(t *testing.T) {
		f, bs := diamond(t)

		a := bs[1].Instrs[0].Out
		ret := bs[3].Terminator()
		ret.Args[0] = a

		assert.ErrorContains(t, CheckFunc(f), "does not dominate")
	})

	t.Run("defined_twice", func(t *testing.T) {
		f, bs := diamond(t)

		bs[2].Instrs[0].Out = bs[1].Instrs[0].Out

		assert.ErrorContains(t, CheckFunc(f), "defined twice")
	})

	t.Run("types", func(t *testing.T) {
		f, bs := diamond(t)

		// CondBranch on an object instead of a primitive bool
		bs[0].Terminator().Args[0] = bs[0].Instrs[0].Out

		assert.ErrorContains(t, CheckTypes(f), "want CBool")
	})
}

func TestVerifyPanics(t *testing.T) {
	f, bs := diamond(t)

	bs[3].Instrs = bs[3].Instrs[:1]

	defer func() {
		p := recover()
		require.NotNil(t, p)

		ie, ok := p.(*InternalError)
		require.True(t, ok, "%T", p)

		assert.Equal(t, "Simplify", ie.Pass)
		assert.Contains(t, ie.Error(), "no terminator")
	}()

	Verify(f, "Simplify")
}

func TestReflowTypesLoop(t *testing.T) {
	// entry: zero; Branch head
	// head:  i = Phi zero next; c = LongCompare i zero; CondBranch c body exit
	// body:  one; next = LongBinaryOp i one; Branch head
	// exit:  Return i
	f := NewFunction("loop", nil)

	entry, head, body, exit := f.NewBlock(), f.NewBlock(), f.NewBlock(), f.NewBlock()

	zero := f.Emit(entry, LoadConst, TTop)
	zero.Const = object.NewInt(0)
	f.Terminate(entry, Branch, []BlockID{head.ID})

	phi := f.Emit(head, Phi, TTop)
	cmp := f.Emit(head, LongCompare, TTop, phi.Out, zero.Out)
	prim := f.Emit(head, IsTruthy, TTop, cmp.Out)
	f.Terminate(head, CondBranch, []BlockID{body.ID, exit.ID}, prim.Out)

	one := f.Emit(body, LoadConst, TTop)
	one.Const = object.NewInt(1)
	next := f.Emit(body, LongBinaryOp, TTop, phi.Out, one.Out)
	next.BinOp = object.OpAdd
	f.Terminate(body, Branch, []BlockID{head.ID})

	phi.Args = []Value{zero.Out, next.Out}
	phi.PhiPreds = []BlockID{entry.ID, body.ID}

	f.Terminate(exit, Return, nil, phi.Out)

	f.SSA = true

	ReflowTypes(f)

	assert.Equal(t, TLongExact, f.Type(phi.Out))
	assert.Equal(t, TBool, f.Type(cmp.Out))
	assert.Equal(t, TCBool, f.Type(prim.Out))

	require.NoError(t, CheckFunc(f))
	require.NoError(t, CheckTypes(f))

	assert.Equal(t, map[Op]int{
		LoadConst:    2,
		Phi:          1,
		LongCompare:  1,
		IsTruthy:     1,
		LongBinaryOp: 1,
		Branch:       2,
		CondBranch:   1,
		Return:       1,
	}, f.CountOpcodes())
}

func TestPrintDeterministic(t *testing.T) {
	f, _ := diamond(t)

	a := string(Print(nil, f))
	b := string(Print(nil, f))

	assert.Equal(t, a, b)
	assert.Contains(t, a, "fun diamond {")
	assert.Contains(t, a, "v0:Object = LoadArg<0>")
	assert.Contains(t, a, "= Phi bb1:v2 bb2:v3")
	assert.Contains(t, a, "CondBranch v1 bb1 bb2")
}

func TestSplitEdge(t *testing.T) {
	f, bs := diamond(t)

	nb := f.SplitEdge(bs[1].ID, bs[3].ID)

	assert.Equal(t, []BlockID{nb.ID}, bs[1].Succs())
	assert.Equal(t, []BlockID{nb.ID, bs[2].ID}, bs[3].Instrs[0].PhiPreds)

	require.NoError(t, CheckFunc(f))
}
