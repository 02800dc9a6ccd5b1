package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/hirjit/compiler/bytecode"
	"github.com/slowlang/hirjit/compiler/object"
)

const jumpsText = `
func either(a, b)
    LOAD_FAST a
    JUMP_IF_TRUE_OR_POP out
    LOAD_FAST b
out:
    RETURN_VALUE

func both(a, b)
    LOAD_FAST a
    JUMP_IF_FALSE_OR_POP out
    LOAD_FAST b
out:
    RETURN_VALUE

func sign(x)
    LOAD_FAST x
    POP_JUMP_IF_TRUE pos
    LOAD_CONST 0
    JUMP_FORWARD out
pos:
    LOAD_CONST 1
out:
    RETURN_VALUE
`

// TestBranchesMatchInterpreter runs programs taking every jump
// the interpreter can take and compares what it did with the classifier.
func TestBranchesMatchInterpreter(t *testing.T) {
	codes, err := bytecode.Parse("jumps.hasm", []byte(progText+jumpsText))
	require.NoError(t, err)

	m := NewModule(codes)

	type seen struct {
		relative, absolute bool
	}

	ops := map[bytecode.Opcode]*seen{}

	jumped = func(c *bytecode.Code, pc, target int) {
		in := c.Instrs[pc]

		s := ops[in.Op]
		if s == nil {
			s = &seen{}
			ops[in.Op] = s
		}

		if target == pc+1+int(in.Arg) {
			s.relative = true
		}

		if target == int(in.Arg) {
			s.absolute = true
		}
	}

	t.Cleanup(func() { jumped = nil })

	i := object.NewInt
	s := object.NewStr

	for _, c := range []struct {
		name string
		args []object.Object
	}{
		{"sum", []object.Object{i(3)}},
		{"safediv", []object.Object{i(7), i(0)}},
		{"safediv", []object.Object{i(7), s("x")}},
		{"unbound", []object.Object{object.False}},
		{"unbound", []object.Object{object.True}},
		{"either", []object.Object{i(0), i(5)}},
		{"either", []object.Object{i(3), i(5)}},
		{"both", []object.Object{i(0), i(5)}},
		{"both", []object.Object{i(3), i(5)}},
		{"sign", []object.Object{i(0)}},
		{"sign", []object.Object{i(2)}},
	} {
		r, _ := Call(m.Func(c.name), c.args)
		object.XDecref(r)
	}

	for op := 0; op < 256; op++ {
		op := bytecode.Opcode(op)

		s, ok := ops[op]

		assert.Equal(t, ok, bytecode.IsBranch(op), "IsBranch(%v)", op)

		if ok {
			assert.Equal(t, s.relative, bytecode.IsRelativeBranch(op), "IsRelativeBranch(%v)", op)
			assert.NotEqual(t, s.relative, s.absolute, "%v jumps both ways", op)
		}
	}
}
