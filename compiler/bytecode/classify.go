package bytecode

type opset [256]bool

func makeOpset(ops ...Opcode) (s opset) {
	for _, op := range ops {
		s[op] = true
	}

	return s
}

var (
	branches = makeOpset(
		FOR_ITER,
		JUMP_ABSOLUTE,
		JUMP_FORWARD,
		JUMP_IF_FALSE_OR_POP,
		JUMP_IF_NOT_EXC_MATCH,
		JUMP_IF_TRUE_OR_POP,
		POP_JUMP_IF_FALSE,
		POP_JUMP_IF_TRUE,
		SETUP_FINALLY,
	)

	relativeBranches = makeOpset(
		FOR_ITER,
		JUMP_FORWARD,
		SETUP_FINALLY,
	)

	// Branches that never fall through.
	unconditional = makeOpset(
		JUMP_ABSOLUTE,
		JUMP_FORWARD,
	)

	// RERAISE does not jump to its argument: it ends the block.
	terminators = makeOpset(
		RERAISE,
		RETURN_VALUE,
	)
)

// IsBranch reports whether op may transfer control to its jump target.
func IsBranch(op Opcode) bool { return branches[op] }

// IsRelativeBranch reports whether op's argument is an offset from the next instruction.
func IsRelativeBranch(op Opcode) bool { return relativeBranches[op] }

func IsUnconditional(op Opcode) bool { return unconditional[op] }

func IsTerminator(op Opcode) bool { return terminators[op] }

// JumpTarget resolves the target instruction index of the branch at pc.
func JumpTarget(pc int, in Instr) int {
	if IsRelativeBranch(in.Op) {
		return pc + 1 + int(in.Arg)
	}

	return int(in.Arg)
}

// BlockStarts returns sorted instruction indexes starting a basic block.
// Index 0 is always included.
func BlockStarts(c *Code) []int {
	n := len(c.Instrs)
	start := make([]bool, n+1)
	start[0] = true

	for pc, in := range c.Instrs {
		switch {
		case IsBranch(in.Op):
			if t := JumpTarget(pc, in); t >= 0 && t <= n {
				start[t] = true
			}

			start[pc+1] = true
		case IsTerminator(in.Op):
			start[pc+1] = true
		}
	}

	var l []int

	for i := 0; i < n; i++ {
		if start[i] {
			l = append(l, i)
		}
	}

	return l
}
