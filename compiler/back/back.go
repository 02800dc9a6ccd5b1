package back

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync/atomic"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/interp"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	// CodeGenerator turns an optimized function into executable code.
	CodeGenerator interface {
		Generate(ctx context.Context, f *hir.Function) (*Code, error)
	}

	// Generator is the portable code generator.
	// Code is a sequence of fixed-width instruction words
	// run by a threaded-closure executor.
	Generator struct {
		// Regs is the number of frame slots counted as registers.
		// The rest are spill slots.
		Regs int
	}

	// Code is generated code of one function.
	// It is immutable once generated.
	Code struct {
		Name       string
		Func       *object.Func
		ParamTypes []hir.Type

		mem  *codeMem
		aux  []aux
		step []step

		nargs int
		slots int
		regs  int

		deopts atomic.Int64
	}

	// codeMem owns mapped code pages: encoded words,
	// read-only after generation. Pages of code never freed
	// are unmapped when it becomes unreachable.
	codeMem struct {
		b []byte
	}
)

const (
	DefaultRegs = 8

	// WordSize is the size of an instruction word and of a frame slot.
	WordSize = 8
)

var (
	ErrCodegen = errors.New("code generation failed")
	ErrFreed   = errors.New("code is freed")
)

var _ CodeGenerator = (*Generator)(nil)

func (g *Generator) Generate(ctx context.Context, f *hir.Function) (c *Code, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "codegen", "func", f.Name)
	defer tr.Finish("err", &err)

	if !f.SSA {
		return nil, errors.Wrap(ErrCodegen, "%v: not in SSA form", f.Source())
	}

	regs := g.Regs
	if regs <= 0 {
		regs = DefaultRegs
	}

	layout := f.RPO()

	sa := allocSlots(ctx, f, layout)

	e := &encoder{
		f:      f,
		slots:  sa,
		layout: layout,
	}

	words, err := e.encode()
	if err != nil {
		return nil, errors.Wrap(err, "%v", f.Source())
	}

	mem, err := mapCode(len(words) * WordSize)
	if err != nil {
		return nil, errors.Wrap(ErrCodegen, "%v: map %d words: %v", f.Source(), len(words), err)
	}

	for pc, w := range words {
		binary.LittleEndian.PutUint64(mem[pc*WordSize:], uint64(w))
	}

	err = sealCode(mem)
	if err != nil {
		_ = unmapCode(mem)
		return nil, errors.Wrap(ErrCodegen, "%v: protect code: %v", f.Source(), err)
	}

	m := &codeMem{b: mem}
	runtime.SetFinalizer(m, (*codeMem).unmap)

	c = &Code{
		Name:       f.Name,
		Func:       f.Func,
		ParamTypes: dup(f.ParamTypes),

		mem: m,
		aux: e.aux,

		nargs: countArgs(f),
		slots: sa.n,
		regs:  regs,
	}

	if f.Func != nil {
		c.Name = f.Func.Code.Name
		c.nargs = f.Func.Code.ArgCount
	}

	c.link(len(words))

	tr.V("codegen").Printw("generated", "words", len(words), "slots", c.slots, "spills", c.SpillSize()/WordSize, "aux", len(e.aux))

	return c, nil
}

// Entry is the generic entry point: it checks the argument count and
// falls back to the interpreter if arguments do not match declared types.
func (c *Code) Entry(args []object.Object) (object.Object, error) {
	if len(args) != c.nargs {
		return nil, object.Errorf(object.TypeError, "%s() takes %d positional arguments but %d were given", c.Name, c.nargs, len(args))
	}

	for k, t := range c.ParamTypes {
		if k < len(args) && t != hir.TBottom && !t.Contains(args[k]) {
			return interp.Call(c.Func, args)
		}
	}

	return c.run(args)
}

// StaticEntry is the entry for callers which already know
// the arguments match the parameter types.
func (c *Code) StaticEntry(args []object.Object) (object.Object, error) {
	return c.run(args)
}

// CodeSize is the size of the encoded code in bytes.
func (c *Code) CodeSize() int { return len(c.step) * WordSize }

// StackSize is the size of the frame in bytes.
func (c *Code) StackSize() int { return c.slots * WordSize }

// SpillSize is the part of the frame which did not fit in registers.
func (c *Code) SpillSize() int {
	return max(0, c.slots-c.regs) * WordSize
}

// Words returns a copy of encoded instruction words.
// It is empty after Free.
func (c *Code) Words() []uint64 {
	r := make([]uint64, len(c.step))

	for pc := range r {
		r[pc] = uint64(c.word(pc))
	}

	return r
}

// Deopts is the number of times the code fell back to the interpreter
// on a failed guard.
func (c *Code) Deopts() int64 { return c.deopts.Load() }

// Free releases code memory. The code must not be running.
// Calls after that fail with ErrFreed.
func (c *Code) Free() error {
	if c.mem == nil {
		return nil
	}

	m := c.mem

	c.mem = nil
	c.step = nil

	runtime.SetFinalizer(m, nil)

	return m.unmap()
}

func (c *Code) Freed() bool { return c.mem == nil }

func (c *Code) word(pc int) word {
	if c.mem == nil {
		panic(ErrFreed)
	}

	return word(binary.LittleEndian.Uint64(c.mem.b[pc*WordSize:]))
}

func (m *codeMem) unmap() error {
	if m.b == nil {
		return nil
	}

	b := m.b
	m.b = nil

	return unmapCode(b)
}

func countArgs(f *hir.Function) (n int) {
	f.Walk(func(b *hir.Block, i *hir.Instr) {
		if i.Op == hir.LoadArg {
			n = max(n, i.Index+1)
		}
	})

	return n
}
