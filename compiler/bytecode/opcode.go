package bytecode

import (
	"strconv"

	"tlog.app/go/tlog/tlwire"
)

type Opcode uint8

// Numbering follows the host interpreter's 3.10 instruction set.
const (
	POP_TOP               Opcode = 1
	ROT_TWO               Opcode = 2
	DUP_TOP               Opcode = 4
	NOP                   Opcode = 9
	UNARY_NEGATIVE        Opcode = 11
	UNARY_NOT             Opcode = 12
	BINARY_MULTIPLY       Opcode = 20
	BINARY_MODULO         Opcode = 22
	BINARY_ADD            Opcode = 23
	BINARY_SUBTRACT       Opcode = 24
	BINARY_FLOOR_DIVIDE   Opcode = 26
	INPLACE_ADD           Opcode = 55
	INPLACE_SUBTRACT      Opcode = 56
	GET_ITER              Opcode = 68
	RETURN_VALUE          Opcode = 83
	POP_BLOCK             Opcode = 87
	FOR_ITER              Opcode = 93
	LOAD_CONST            Opcode = 100
	BUILD_LIST            Opcode = 103
	LOAD_ATTR             Opcode = 106
	COMPARE_OP            Opcode = 107
	JUMP_FORWARD          Opcode = 110
	JUMP_IF_FALSE_OR_POP  Opcode = 111
	JUMP_IF_TRUE_OR_POP   Opcode = 112
	JUMP_ABSOLUTE         Opcode = 113
	POP_JUMP_IF_FALSE     Opcode = 114
	POP_JUMP_IF_TRUE      Opcode = 115
	LOAD_GLOBAL           Opcode = 116
	RERAISE               Opcode = 119
	JUMP_IF_NOT_EXC_MATCH Opcode = 121
	SETUP_FINALLY         Opcode = 122
	LOAD_FAST             Opcode = 124
	STORE_FAST            Opcode = 125
	CALL_FUNCTION         Opcode = 131
	SETUP_WITH            Opcode = 143
	LOAD_METHOD           Opcode = 160
	CALL_METHOD           Opcode = 161
)

// HaveArgument is the first opcode that uses its argument.
const HaveArgument Opcode = 90

var opnames = [256]string{
	POP_TOP:               "POP_TOP",
	ROT_TWO:               "ROT_TWO",
	DUP_TOP:               "DUP_TOP",
	NOP:                   "NOP",
	UNARY_NEGATIVE:        "UNARY_NEGATIVE",
	UNARY_NOT:             "UNARY_NOT",
	BINARY_MULTIPLY:       "BINARY_MULTIPLY",
	BINARY_MODULO:         "BINARY_MODULO",
	BINARY_ADD:            "BINARY_ADD",
	BINARY_SUBTRACT:       "BINARY_SUBTRACT",
	BINARY_FLOOR_DIVIDE:   "BINARY_FLOOR_DIVIDE",
	INPLACE_ADD:           "INPLACE_ADD",
	INPLACE_SUBTRACT:      "INPLACE_SUBTRACT",
	GET_ITER:              "GET_ITER",
	RETURN_VALUE:          "RETURN_VALUE",
	POP_BLOCK:             "POP_BLOCK",
	FOR_ITER:              "FOR_ITER",
	LOAD_CONST:            "LOAD_CONST",
	BUILD_LIST:            "BUILD_LIST",
	LOAD_ATTR:             "LOAD_ATTR",
	COMPARE_OP:            "COMPARE_OP",
	JUMP_FORWARD:          "JUMP_FORWARD",
	JUMP_IF_FALSE_OR_POP:  "JUMP_IF_FALSE_OR_POP",
	JUMP_IF_TRUE_OR_POP:   "JUMP_IF_TRUE_OR_POP",
	JUMP_ABSOLUTE:         "JUMP_ABSOLUTE",
	POP_JUMP_IF_FALSE:     "POP_JUMP_IF_FALSE",
	POP_JUMP_IF_TRUE:      "POP_JUMP_IF_TRUE",
	LOAD_GLOBAL:           "LOAD_GLOBAL",
	RERAISE:               "RERAISE",
	JUMP_IF_NOT_EXC_MATCH: "JUMP_IF_NOT_EXC_MATCH",
	SETUP_FINALLY:         "SETUP_FINALLY",
	LOAD_FAST:             "LOAD_FAST",
	STORE_FAST:            "STORE_FAST",
	CALL_FUNCTION:         "CALL_FUNCTION",
	SETUP_WITH:            "SETUP_WITH",
	LOAD_METHOD:           "LOAD_METHOD",
	CALL_METHOD:           "CALL_METHOD",
}

var opcodes = func() map[string]Opcode {
	m := make(map[string]Opcode)

	for op, name := range opnames {
		if name != "" {
			m[name] = Opcode(op)
		}
	}

	return m
}()

// Opcodes returns every opcode known to the interpreter in numeric order.
func Opcodes() (l []Opcode) {
	for op, name := range opnames {
		if name != "" {
			l = append(l, Opcode(op))
		}
	}

	return l
}

func Lookup(name string) (Opcode, bool) {
	op, ok := opcodes[name]
	return op, ok
}

func (op Opcode) Valid() bool { return opnames[op] != "" }

func (op Opcode) HasArg() bool { return op >= HaveArgument }

func (op Opcode) String() string {
	if n := opnames[op]; n != "" {
		return n
	}

	return "<" + strconv.Itoa(int(op)) + ">"
}

func (op Opcode) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, op.String())
}

// Compare operators, COMPARE_OP argument values.
const (
	CmpLt = iota
	CmpLe
	CmpEq
	CmpNe
	CmpGt
	CmpGe
)

var CmpNames = [...]string{"<", "<=", "==", "!=", ">", ">="}
