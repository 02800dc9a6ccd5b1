package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Completeness against the interpreter is checked in the interp package.
func TestClassificationProperties(t *testing.T) {
	for op := 0; op < 256; op++ {
		op := Opcode(op)

		if IsRelativeBranch(op) {
			assert.True(t, IsBranch(op), "relative branch %v is not a branch", op)
		}

		if IsBranch(op) {
			assert.True(t, op.HasArg(), "branch %v has no argument", op)
			assert.True(t, op.Valid(), "branch %v is unknown", op)
			assert.False(t, IsTerminator(op), "branch %v is a terminator", op)
		}

		if IsUnconditional(op) {
			assert.True(t, IsBranch(op), "unconditional %v is not a branch", op)
		}
	}

	// interpreter has no with-blocks, the builder rejects them
	assert.False(t, IsBranch(SETUP_WITH))
	assert.True(t, IsTerminator(RERAISE))
}

func TestJumpTarget(t *testing.T) {
	assert.Equal(t, 7, JumpTarget(3, Instr{Op: JUMP_ABSOLUTE, Arg: 7}))
	assert.Equal(t, 7, JumpTarget(3, Instr{Op: POP_JUMP_IF_TRUE, Arg: 7}))
	assert.Equal(t, 11, JumpTarget(3, Instr{Op: JUMP_FORWARD, Arg: 7}))
	assert.Equal(t, 4, JumpTarget(3, Instr{Op: FOR_ITER, Arg: 0}))
}

func TestBlockStarts(t *testing.T) {
	c := &Code{
		Name:     "f",
		ArgCount: 1,
		VarNames: []string{"x"},
		Consts:   []Const{int64(0)},
		Instrs: []Instr{
			{LOAD_FAST, 0},         // 0
			{POP_JUMP_IF_FALSE, 5}, // 1
			{LOAD_CONST, 0},        // 2
			{RETURN_VALUE, 0},      // 3
			{NOP, 0},               // 4 unreachable
			{LOAD_FAST, 0},         // 5
			{JUMP_FORWARD, 0},      // 6
			{RETURN_VALUE, 0},      // 7
		},
	}

	require.NoError(t, c.Validate())
	assert.Equal(t, []int{0, 2, 4, 5, 7}, BlockStarts(c))
}

func TestOpcodeNames(t *testing.T) {
	for _, op := range Opcodes() {
		back, ok := Lookup(op.String())
		require.True(t, ok, "%v", op)
		assert.Equal(t, op, back)
	}

	assert.Equal(t, "<255>", Opcode(255).String())
}
