package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/hirjit/compiler/jit"
	"github.com/slowlang/hirjit/compiler/object"
)

const sumText = `
# sum of 0..n-1
func sum(n)
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

func greet(name)
    LOAD_CONST "hello, "
    LOAD_FAST name
    BINARY_ADD
    RETURN_VALUE
`

func TestSession(t *testing.T) {
	ctx := context.Background()

	name := filepath.Join(t.TempDir(), "sum.hasm")
	require.NoError(t, os.WriteFile(name, []byte(sumText), 0o644))

	m, err := LoadFile(ctx, name)
	require.NoError(t, err)
	require.Len(t, m.Funcs, 2)

	cfg := jit.DefaultConfig()
	cfg.Inliner = true

	s := NewSession(m, cfg)

	r, err := s.Warmup(ctx, "sum", ParseArgs([]string{"10"}))
	require.NoError(t, err)
	assert.Equal(t, "45", object.Repr(r))

	r, err = s.Warmup(ctx, "greet", ParseArgs([]string{"bob"}))
	require.NoError(t, err)
	assert.Equal(t, `"hello, bob"`, object.Repr(r))

	res, err := s.CompileAll(ctx)
	require.NoError(t, err)

	for _, r := range res {
		assert.NoError(t, r.Err, r.Func.Code.Name)
	}

	assert.Equal(t, 2, s.Table.Len())
	assert.False(t, s.Context.CompileRunning())

	r, err = s.Call(ctx, "sum", ParseArgs([]string{"100"}))
	require.NoError(t, err)
	assert.Equal(t, "4950", object.Repr(r))

	_, err = s.Call(ctx, "sum", ParseArgs([]string{"x"}))
	assert.True(t, object.IsKind(err, object.TypeError), "%v", err)

	_, err = s.Call(ctx, "nope", nil)
	assert.ErrorIs(t, err, ErrNoFunc)

	require.NoError(t, s.Close())
	assert.Zero(t, s.Table.Len())
}

func TestLoadError(t *testing.T) {
	_, err := Load(context.Background(), "bad.hasm", []byte("func f()\n    NO_SUCH_OP\n"))
	assert.Error(t, err)

	_, err = LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.hasm"))
	assert.Error(t, err)
}

func TestParseArgs(t *testing.T) {
	args := ParseArgs([]string{"1", "-2", "x", "3.5"})

	assert.Equal(t, []string{"1", "-2", `"x"`, `"3.5"`}, []string{
		object.Repr(args[0]), object.Repr(args[1]), object.Repr(args[2]), object.Repr(args[3]),
	})
}
