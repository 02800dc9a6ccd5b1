package hir

import (
	"fmt"

	"github.com/slowlang/hirjit/compiler/object"
	"github.com/slowlang/hirjit/compiler/phase"
)

type (
	Function struct {
		Name     string
		FullName string

		// Func is the callable the function was built from.
		Func *object.Func

		Blocks []*Block // indexed by BlockID, nil for removed blocks
		Entry  BlockID

		Types      []Type // indexed by Value
		ParamTypes []Type // statically known argument types

		SSA bool

		Timer *phase.Timer

		InlineStats InlineStats
	}

	Block struct {
		ID     BlockID
		Instrs []*Instr
		Preds  []BlockID
	}

	InlineStats struct {
		NumInlined int
		Failures   map[string]int // reason -> count
	}
)

func NewFunction(name string, fn *object.Func) *Function {
	f := &Function{
		Name:     name,
		FullName: name,
		Func:     fn,
	}

	if fn != nil && fn.Code.Filename != "" {
		f.FullName = fn.Code.Filename + ":" + name
	}

	return f
}

// Source identifies the originating code in error messages.
func (f *Function) Source() string {
	if f.Func == nil {
		return f.FullName
	}

	return fmt.Sprintf("%s (code %p)", f.FullName, f.Func.Code)
}

func (f *Function) NewBlock() *Block {
	b := &Block{ID: BlockID(len(f.Blocks))}
	f.Blocks = append(f.Blocks, b)

	return b
}

func (f *Function) NewValue(t Type) Value {
	f.Types = append(f.Types, t)

	return Value(len(f.Types) - 1)
}

func (f *Function) NumValues() int { return len(f.Types) }

func (f *Function) Type(v Value) Type { return f.Types[v] }

func (f *Function) Block(id BlockID) *Block { return f.Blocks[id] }

func (f *Function) EntryBlock() *Block { return f.Blocks[f.Entry] }

// RemoveBlock drops the block from the arena. The caller is responsible
// for edges pointing at it.
func (f *Function) RemoveBlock(id BlockID) {
	f.Blocks[id] = nil
}

// Each calls fn for every live block in ID order.
func (f *Function) Each(fn func(b *Block)) {
	for _, b := range f.Blocks {
		if b != nil {
			fn(b)
		}
	}
}

// Walk calls fn for every instruction in block ID order.
func (f *Function) Walk(fn func(b *Block, i *Instr)) {
	f.Each(func(b *Block) {
		for _, i := range b.Instrs {
			fn(b, i)
		}
	})
}

// CountOpcodes returns the number of instructions per op.
func (f *Function) CountOpcodes() map[Op]int {
	m := map[Op]int{}

	f.Walk(func(_ *Block, i *Instr) {
		m[i.Op]++
	})

	return m
}

// Defs maps values to their defining instructions.
// In non-SSA form the last definition wins.
func (f *Function) Defs() []*Instr {
	defs := make([]*Instr, len(f.Types))

	f.Walk(func(b *Block, i *Instr) {
		for _, v := range i.Outputs() {
			defs[v] = i
		}
	})

	return defs
}

// UseCounts returns the number of uses of every value.
func (f *Function) UseCounts() []int {
	n := make([]int, len(f.Types))

	f.Walk(func(b *Block, i *Instr) {
		i.Uses(func(v Value) { n[v]++ })
	})

	return n
}

// ReplaceUses rewrites every use of values in m.
func (f *Function) ReplaceUses(m map[Value]Value) {
	if len(m) == 0 {
		return
	}

	var find func(v Value) Value
	find = func(v Value) Value {
		r, ok := m[v]
		if !ok {
			return v
		}

		r = find(r)
		m[v] = r

		return r
	}

	f.Walk(func(b *Block, i *Instr) {
		i.MapUses(find)
	})
}

func (f *Function) NewInstr(op Op, args ...Value) *Instr {
	return &Instr{
		Op:   op,
		Out:  NoValue,
		Out2: NoValue,
		Args: args,
		PC:   -1,
	}
}

// Append adds i to the block end.
func (b *Block) Append(i *Instr) *Instr {
	i.Block = b.ID
	b.Instrs = append(b.Instrs, i)

	return i
}

// Insert puts i at position pos.
func (b *Block) Insert(pos int, i *Instr) {
	i.Block = b.ID
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[pos+1:], b.Instrs[pos:])
	b.Instrs[pos] = i
}

func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}

	last := b.Instrs[len(b.Instrs)-1]
	if !last.Op.IsTerminator() {
		return nil
	}

	return last
}

// Phis returns the leading phi instructions.
func (b *Block) Phis() []*Instr {
	n := 0

	for n < len(b.Instrs) && b.Instrs[n].Op == Phi {
		n++
	}

	return b.Instrs[:n]
}

// FirstNonPhi is the index of the first non-phi instruction.
func (b *Block) FirstNonPhi() int { return len(b.Phis()) }

// Succs returns successors encoded in the terminator.
func (b *Block) Succs() []BlockID {
	t := b.Terminator()
	if t == nil {
		return nil
	}

	return t.Targets
}

// Filter keeps instructions for which keep returns true.
func (b *Block) Filter(keep func(i *Instr) bool) (removed int) {
	j := 0

	for _, i := range b.Instrs {
		if keep(i) {
			b.Instrs[j] = i
			j++
		}
	}

	removed = len(b.Instrs) - j

	clear(b.Instrs[j:])
	b.Instrs = b.Instrs[:j]

	return removed
}

// Emit creates an instruction with a fresh output of type t at the block end.
func (f *Function) Emit(b *Block, op Op, t Type, args ...Value) *Instr {
	i := f.NewInstr(op, args...)

	if op.HasOutput() {
		i.Out = f.NewValue(t)
	}

	return b.Append(i)
}

// Terminate ends the block with a control flow instruction.
func (f *Function) Terminate(b *Block, op Op, targets []BlockID, args ...Value) *Instr {
	i := f.NewInstr(op, args...)
	i.Targets = targets

	return b.Append(i)
}
