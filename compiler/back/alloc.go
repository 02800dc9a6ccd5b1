package back

import (
	"context"
	"slices"

	"nikand.dev/go/heap"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/hirjit/compiler/hir"
)

type (
	// interval is the range of positions a value occupies its slot.
	// Ends are inclusive.
	interval struct {
		v          hir.Value
		start, end int
	}

	slotAlloc struct {
		slot []int // by value, -1 if the value does not exist at runtime
		n    int

		pos   []int // block start position by BlockID
		end   []int // block terminator position by BlockID
		ivals []interval
	}
)

// allocSlots assigns frame slots with linear scan over the layout.
// Intervals are convex hulls of live positions so loops are covered
// as long as they are laid out contiguously, and conservatively otherwise.
func allocSlots(ctx context.Context, f *hir.Function, layout []hir.BlockID) *slotAlloc {
	tr := tlog.SpawnFromContext(ctx, "alloc slots")
	defer tr.Finish()

	a := &slotAlloc{
		slot: make([]int, f.NumValues()),
	}

	for k := range a.slot {
		a.slot[k] = -1
	}

	ival := make([]interval, f.NumValues())
	seen := make([]bool, f.NumValues())

	ext := func(v hir.Value, p int) {
		if !seen[v] {
			seen[v] = true
			ival[v] = interval{v: v, start: p, end: p}

			return
		}

		ival[v].start = min(ival[v].start, p)
		ival[v].end = max(ival[v].end, p)
	}

	p := 0

	for _, id := range layout {
		b := f.Blocks[id]

		a.pos = sliceSet(a.pos, id, p)
		p++

		for _, i := range b.Instrs[b.FirstNonPhi():] {
			if i.Op.IsTerminator() {
				a.end = sliceSet(a.end, id, p)
			}

			p++
		}
	}

	live := hir.ComputeLiveness(f, hir.AllValues)

	for _, id := range layout {
		b := f.Blocks[id]
		start, end := a.pos[id], a.end[id]

		live.In[id].Range(func(v hir.Value) bool {
			ext(v, start)
			return true
		})

		live.Out[id].Range(func(v hir.Value) bool {
			ext(v, end)
			return true
		})

		for _, phi := range b.Phis() {
			ext(phi.Out, start)

			// written by parallel moves at the end of predecessors
			for _, pred := range phi.PhiPreds {
				if int(pred) < len(a.end) {
					ext(phi.Out, a.end[pred])
				}
			}
		}

		for k, i := range b.Instrs[b.FirstNonPhi():] {
			ip := start + 1 + k

			i.Uses(func(v hir.Value) {
				ext(v, ip)
			})

			for _, v := range i.LiveOwned {
				ext(v, ip)
			}

			for _, v := range i.Outputs() {
				ext(v, ip)
			}
		}
	}

	for v, ok := range seen {
		if ok {
			a.ivals = append(a.ivals, ival[v])
		}
	}

	slices.SortFunc(a.ivals, func(x, y interval) int {
		if x.start != y.start {
			return x.start - y.start
		}

		return int(x.v - y.v)
	})

	active := heap.Heap[interval]{Less: func(d []interval, i, j int) bool { return d[i].end < d[j].end }}
	free := heap.Heap[int]{Less: func(d []int, i, j int) bool { return d[i] < d[j] }}

	for _, it := range a.ivals {
		for active.Len() != 0 && active.Data[0].end < it.start {
			x := active.Pop()
			free.Push(a.slot[x.v])
		}

		s := a.n

		if free.Len() != 0 {
			s = free.Pop()
		} else {
			a.n++
		}

		a.slot[it.v] = s
		active.Push(it)
	}

	if tr.If("dump_slots") {
		for _, it := range a.ivals {
			tr.Printw("interval", "ival", it, "slot", a.slot[it.v])
		}
	}

	tr.V("codegen").Printw("slots allocated", "values", len(a.ivals), "slots", a.n)

	return a
}

func (it interval) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 3)

	b = e.AppendKeyInt(b, "v", int(it.v))
	b = e.AppendKeyInt(b, "start", it.start)
	b = e.AppendKeyInt(b, "end", it.end)

	return b
}
