package bytecode

import (
	"fmt"

	"tlog.app/go/errors"
)

type (
	Instr struct {
		Op  Opcode
		Arg int32
	}

	// Const is an immutable literal: nil, bool, int64 or string.
	Const any

	Flags uint32

	Code struct {
		Name     string
		Filename string

		ArgCount int
		Flags    Flags

		Instrs []Instr
		Lines  []int // instruction -> source line, may be empty

		Consts   []Const
		Names    []string
		VarNames []string // arguments first

		// Annotations are declared argument type names, "" if none.
		Annotations []string
	}
)

const (
	// FlagStatic marks code compiled from statically typed source;
	// such functions get a direct-call entry.
	FlagStatic Flags = 1 << iota
)

func (c *Code) NLocals() int { return len(c.VarNames) }

func (c *Code) Line(pc int) int {
	if pc < 0 || pc >= len(c.Lines) {
		return 0
	}

	return c.Lines[pc]
}

// Validate checks operand ranges and jump targets.
func (c *Code) Validate() error {
	if c.ArgCount > len(c.VarNames) {
		return errors.New("%v: %d args but %d locals", c.Name, c.ArgCount, len(c.VarNames))
	}

	n := len(c.Instrs)
	if n == 0 {
		return errors.New("%v: empty code", c.Name)
	}

	if last := c.Instrs[n-1].Op; !IsTerminator(last) && !IsUnconditional(last) {
		return errors.New("%v: execution falls off the end", c.Name)
	}

	for pc, in := range c.Instrs {
		if !in.Op.Valid() {
			return errors.New("%v: pc %d: unknown opcode %d", c.Name, pc, in.Op)
		}

		if in.Arg < 0 {
			return errors.New("%v: pc %d: %v: negative argument", c.Name, pc, in.Op)
		}

		var lim int

		switch in.Op {
		case LOAD_CONST:
			lim = len(c.Consts)
		case LOAD_FAST, STORE_FAST:
			lim = len(c.VarNames)
		case LOAD_GLOBAL, LOAD_ATTR, LOAD_METHOD:
			lim = len(c.Names)
		case COMPARE_OP:
			lim = len(CmpNames)
		default:
			if IsBranch(in.Op) {
				if t := JumpTarget(pc, in); t >= n {
					return errors.New("%v: pc %d: %v: jump target %d out of range", c.Name, pc, in.Op, t)
				}
			}

			continue
		}

		if int(in.Arg) >= lim {
			return errors.New("%v: pc %d: %v: argument %d out of range", c.Name, pc, in.Op, in.Arg)
		}
	}

	return nil
}

// Dis appends a human readable listing of the code.
func (c *Code) Dis(b []byte) []byte {
	b = fmt.Appendf(b, "code %s args=%d locals=%v\n", c.Name, c.ArgCount, c.VarNames)

	for pc, in := range c.Instrs {
		b = fmt.Appendf(b, "%4d  %-22v", pc, in.Op)

		if in.Op.HasArg() {
			b = fmt.Appendf(b, " %d", in.Arg)
		}

		switch {
		case in.Op == LOAD_CONST:
			b = fmt.Appendf(b, " (%#v)", c.Consts[in.Arg])
		case in.Op == LOAD_FAST || in.Op == STORE_FAST:
			b = fmt.Appendf(b, " (%s)", c.VarNames[in.Arg])
		case in.Op == LOAD_GLOBAL || in.Op == LOAD_ATTR || in.Op == LOAD_METHOD:
			b = fmt.Appendf(b, " (%s)", c.Names[in.Arg])
		case in.Op == COMPARE_OP:
			b = fmt.Appendf(b, " (%s)", CmpNames[in.Arg])
		case IsBranch(in.Op):
			b = fmt.Appendf(b, " (to %d)", JumpTarget(pc, in))
		}

		b = append(b, '\n')
	}

	return b
}
