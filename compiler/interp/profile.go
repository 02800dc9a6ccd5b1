package interp

import (
	"sync"
	"sync/atomic"

	"github.com/slowlang/hirjit/compiler/bytecode"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	// Profile records operand types observed by the interpreter
	// at instructions whose behavior depends on them.
	Profile struct {
		mu    sync.Mutex
		sites map[site]*observed
	}

	site struct {
		code *bytecode.Code
		pc   int
	}

	observed struct {
		types []*object.Type
		poly  bool
	}
)

var profile atomic.Pointer[Profile]

func NewProfile() *Profile {
	return &Profile{sites: map[site]*observed{}}
}

// SetProfile starts recording into p, or stops when p is nil.
// It returns the previous profile.
func SetProfile(p *Profile) *Profile {
	return profile.Swap(p)
}

func profiledOperands(op bytecode.Opcode) int {
	switch op {
	case bytecode.BINARY_ADD, bytecode.INPLACE_ADD, bytecode.BINARY_SUBTRACT, bytecode.INPLACE_SUBTRACT,
		bytecode.BINARY_MULTIPLY, bytecode.BINARY_FLOOR_DIVIDE, bytecode.BINARY_MODULO, bytecode.COMPARE_OP:
		return 2
	case bytecode.UNARY_NEGATIVE, bytecode.UNARY_NOT, bytecode.LOAD_ATTR, bytecode.LOAD_METHOD,
		bytecode.POP_JUMP_IF_FALSE, bytecode.POP_JUMP_IF_TRUE, bytecode.GET_ITER:
		return 1
	}

	return 0
}

func (p *Profile) record(c *bytecode.Code, pc int, op bytecode.Opcode, stack []object.Object) {
	n := profiledOperands(op)
	if n == 0 || len(stack) < n {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s := site{code: c, pc: pc}
	o := p.sites[s]

	if o == nil {
		o = &observed{types: make([]*object.Type, n)}

		for i, x := range stack[len(stack)-n:] {
			o.types[i] = typeOf(x)
		}

		p.sites[s] = o

		return
	}

	if o.poly {
		return
	}

	for i, x := range stack[len(stack)-n:] {
		if o.types[i] != typeOf(x) {
			o.poly = true
			return
		}
	}
}

func typeOf(x object.Object) *object.Type {
	if x == nil {
		return nil
	}

	return x.Type()
}

// TypesAt returns the monomorphic operand types seen at pc, deepest
// stack slot first, or nil when nothing useful was observed.
func (p *Profile) TypesAt(c *bytecode.Code, pc int) []*object.Type {
	p.mu.Lock()
	defer p.mu.Unlock()

	o := p.sites[site{code: c, pc: pc}]
	if o == nil || o.poly {
		return nil
	}

	return o.types
}
