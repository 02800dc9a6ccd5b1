package hir

import "github.com/slowlang/hirjit/compiler/set"

type (
	// DomTree is the dominator tree of the blocks reachable from entry.
	DomTree struct {
		Idom     []BlockID // NoBlock for the entry and unreachable blocks
		Children [][]BlockID

		order []int // RPO index, -1 if unreachable
	}
)

const NoBlock BlockID = -1

// RecomputePreds rebuilds predecessor lists from terminators.
// Each predecessor is listed once even if it branches twice to the block.
func (f *Function) RecomputePreds() {
	f.Each(func(b *Block) {
		b.Preds = b.Preds[:0]
	})

	f.Each(func(b *Block) {
		for k, s := range b.Succs() {
			if dupTarget(b.Succs()[:k], s) {
				continue
			}

			if sb := f.block(s); sb != nil {
				sb.Preds = append(sb.Preds, b.ID)
			}
		}
	})
}

func (f *Function) block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}

	return f.Blocks[id]
}

func dupTarget(l []BlockID, s BlockID) bool {
	for _, x := range l {
		if x == s {
			return true
		}
	}

	return false
}

// RPO returns blocks reachable from entry in reverse post order.
func (f *Function) RPO() []BlockID {
	var visited set.Bits[BlockID]
	var post []BlockID

	type frame struct {
		b BlockID
		k int
	}

	stack := []frame{{b: f.Entry}}
	visited.Set(f.Entry)

	for len(stack) != 0 {
		top := &stack[len(stack)-1]
		succs := f.Blocks[top.b].Succs()

		if top.k < len(succs) {
			s := succs[top.k]
			top.k++

			if f.block(s) != nil && !visited.IsSet(s) {
				visited.Set(s)
				stack = append(stack, frame{b: s})
			}

			continue
		}

		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}

	return post
}

// Reachable returns the set of blocks reachable from entry.
func (f *Function) Reachable() set.Bits[BlockID] {
	return set.MakeBits(f.RPO()...)
}

// Dominators computes immediate dominators.
// Preds must be up to date.
func (f *Function) Dominators() *DomTree {
	rpo := f.RPO()

	d := &DomTree{
		Idom:     make([]BlockID, len(f.Blocks)),
		Children: make([][]BlockID, len(f.Blocks)),
		order:    make([]int, len(f.Blocks)),
	}

	for i := range d.Idom {
		d.Idom[i] = NoBlock
		d.order[i] = -1
	}

	for i, b := range rpo {
		d.order[b] = i
	}

	d.Idom[f.Entry] = f.Entry

	intersect := func(a, b BlockID) BlockID {
		for a != b {
			for d.order[a] > d.order[b] {
				a = d.Idom[a]
			}

			for d.order[b] > d.order[a] {
				b = d.Idom[b]
			}
		}

		return a
	}

	for changed := true; changed; {
		changed = false

		for _, b := range rpo[1:] {
			idom := NoBlock

			for _, p := range f.Blocks[b].Preds {
				if d.order[p] < 0 || d.Idom[p] == NoBlock {
					continue
				}

				if idom == NoBlock {
					idom = p
				} else {
					idom = intersect(p, idom)
				}
			}

			if d.Idom[b] != idom {
				d.Idom[b] = idom
				changed = true
			}
		}
	}

	d.Idom[f.Entry] = NoBlock

	for _, b := range rpo[1:] {
		p := d.Idom[b]
		d.Children[p] = append(d.Children[p], b)
	}

	return d
}

// Dominates reports whether a dominates b. A block dominates itself.
func (d *DomTree) Dominates(a, b BlockID) bool {
	if d.order[a] < 0 || d.order[b] < 0 {
		return false
	}

	for b != NoBlock {
		if a == b {
			return true
		}

		b = d.Idom[b]
	}

	return false
}

// Reachable reports whether the block was reachable when the tree was built.
func (d *DomTree) Reachable(b BlockID) bool { return d.order[b] >= 0 }

// DomFrontier computes dominance frontiers.
func (f *Function) DomFrontier(d *DomTree) []set.Bits[BlockID] {
	df := make([]set.Bits[BlockID], len(f.Blocks))

	f.Each(func(b *Block) {
		if len(b.Preds) < 2 || !d.Reachable(b.ID) {
			return
		}

		for _, p := range b.Preds {
			if !d.Reachable(p) {
				continue
			}

			for r := p; r != d.Idom[b.ID] && r != NoBlock; r = d.Idom[r] {
				df[r].Set(b.ID)
			}
		}
	})

	return df
}

// SplitEdge puts a new block between from and to.
// Phis in to are retargeted to the new block.
func (f *Function) SplitEdge(from, to BlockID) *Block {
	nb := f.NewBlock()
	f.Terminate(nb, Branch, []BlockID{to})

	t := f.Blocks[from].Terminator()

	for k, s := range t.Targets {
		if s == to {
			t.Targets[k] = nb.ID
		}
	}

	tb := f.Blocks[to]

	for _, phi := range tb.Phis() {
		for k, p := range phi.PhiPreds {
			if p == from {
				phi.PhiPreds[k] = nb.ID
			}
		}
	}

	for k, p := range tb.Preds {
		if p == from {
			tb.Preds[k] = nb.ID
		}
	}

	nb.Preds = append(nb.Preds, from)

	return nb
}
