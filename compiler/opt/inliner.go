package opt

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	// BuildFunc lowers a callee into HIR. It is what the front end does
	// for a top level compilation.
	BuildFunc func(ctx context.Context, fn *object.Func) (*hir.Function, error)

	Inliner struct {
		Build BuildFunc

		// MaxCost is the largest callee inlined, in bytecode instructions.
		MaxCost int
	}

	splice struct {
		f      *hir.Function
		callee *hir.Function
		call   *hir.Instr
		region int

		vals   []hir.Value
		blocks []hir.BlockID
	}
)

const DefaultInlineCost = 64

// Run inlines static calls to functions known at compile time.
// Calls found in inlined bodies are not inlined.
func (inl Inliner) Run(ctx context.Context, f *hir.Function) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "inliner")
	defer tr.Finish()

	if inl.Build == nil {
		return
	}

	var calls []*hir.Instr
	region := 0

	f.Walk(func(b *hir.Block, i *hir.Instr) {
		switch i.Op {
		case hir.CallStatic:
			calls = append(calls, i)
		case hir.BeginInlinedFunction:
			region = max(region, i.Index)
		}
	})

	for _, call := range calls {
		reason := inl.check(f, call)
		if reason == "" {
			callee, err := inl.build(ctx, call.Func)
			if err != nil {
				tr.V("inliner").Printw("callee build failed", "callee", call.Func.Code.Name, "err", err)
				reason = "build"
			} else {
				region++
				inlineCall(f, call, callee, region)

				f.InlineStats.NumInlined++

				tr.V("inliner").Printw("inlined", "callee", call.Func.Code.Name, "region", region)

				continue
			}
		}

		if f.InlineStats.Failures == nil {
			f.InlineStats.Failures = map[string]int{}
		}

		f.InlineStats.Failures[reason]++

		tr.V("inliner").Printw("not inlined", "callee", call.Func.Code.Name, "reason", reason)
	}

	f.RecomputePreds()
	removeUnreachable(f)
}

func (inl Inliner) check(f *hir.Function, call *hir.Instr) string {
	c := call.Func.Code

	maxCost := inl.MaxCost
	if maxCost == 0 {
		maxCost = DefaultInlineCost
	}

	switch {
	case call.FS == nil:
		return "no_frame_state"
	case c.ArgCount != len(call.Args):
		return "arity"
	case len(c.Instrs) > maxCost:
		return "cost"
	}

	if f.Func != nil && f.Func.Code == c {
		return "recursive"
	}

	for fs := call.FS; fs != nil; fs = fs.Parent {
		if fs.Func != nil && fs.Func.Code == c {
			return "recursive"
		}
	}

	return ""
}

func (inl Inliner) build(ctx context.Context, fn *object.Func) (callee *hir.Function, err error) {
	callee, err = inl.Build(ctx, fn)
	if err != nil {
		return nil, err
	}

	SSAify(ctx, callee)
	hir.ReflowTypes(callee)

	if err = hir.CheckFunc(callee); err != nil {
		return nil, errors.Wrap(err, "callee %v", fn.Code.Name)
	}

	return callee, nil
}

// inlineCall replaces call with the body of callee.
// The block holding the call is split; the tail starts with the
// result phi and EndInlinedFunction.
func inlineCall(f *hir.Function, call *hir.Instr, callee *hir.Function, region int) {
	b, k := findInstr(f, call)

	tail := f.NewBlock()

	for _, i := range b.Instrs[k+1:] {
		tail.Append(i)
	}

	b.Instrs = b.Instrs[:k]

	for _, s := range tail.Succs() {
		renamePred(f.Blocks[s], b.ID, tail.ID)
	}

	sp := &splice{
		f:      f,
		callee: callee,
		call:   call,
		region: region,
	}

	sp.mapValues()

	begin := f.NewInstr(hir.BeginInlinedFunction)
	begin.Func = call.Func
	begin.Index = region
	begin.FS = call.FS
	begin.PC = call.PC
	b.Append(begin)

	f.Terminate(b, hir.Branch, []hir.BlockID{sp.blocks[callee.Entry]})

	var rets []hir.Value
	var retBlocks []hir.BlockID

	callee.Each(func(cb *hir.Block) {
		nb := f.Blocks[sp.blocks[cb.ID]]

		for _, ci := range cb.Instrs {
			switch ci.Op {
			case hir.LoadArg:
				continue
			case hir.Return:
				rets = append(rets, sp.vals[ci.Args[0]])
				retBlocks = append(retBlocks, nb.ID)

				br := f.Terminate(nb, hir.Branch, []hir.BlockID{tail.ID})
				br.PC = ci.PC

				continue
			}

			nb.Append(sp.clone(ci))
		}
	})

	end := f.NewInstr(hir.EndInlinedFunction)
	end.Index = region
	end.PC = call.PC
	tail.Insert(0, end)

	res := hir.NoValue

	switch len(rets) {
	case 0:
		// the callee never returns normally; the tail is unreachable
	case 1:
		res = rets[0]
	default:
		phi := f.NewInstr(hir.Phi, rets...)
		phi.Out = f.NewValue(hir.TObject)
		phi.PhiPreds = retBlocks

		tail.Insert(0, phi)

		res = phi.Out
	}

	if res != hir.NoValue {
		f.ReplaceUses(map[hir.Value]hir.Value{call.Out: res})
	}
}

func (sp *splice) mapValues() {
	f, callee := sp.f, sp.callee

	sp.vals = make([]hir.Value, callee.NumValues())
	for v := range sp.vals {
		sp.vals[v] = hir.NoValue
	}

	sp.blocks = make([]hir.BlockID, len(callee.Blocks))

	callee.Each(func(cb *hir.Block) {
		sp.blocks[cb.ID] = f.NewBlock().ID

		for _, i := range cb.Instrs {
			if i.Op == hir.LoadArg {
				sp.vals[i.Out] = sp.call.Args[i.Index]
				continue
			}

			for _, v := range i.Outputs() {
				sp.vals[v] = f.NewValue(callee.Type(v))
			}
		}
	})
}

func (sp *splice) clone(ci *hir.Instr) *hir.Instr {
	ni := *ci

	ni.Out = sp.value(ci.Out)
	ni.Out2 = sp.value(ci.Out2)

	ni.Args = make([]hir.Value, len(ci.Args))
	for k, a := range ci.Args {
		ni.Args[k] = sp.value(a)
	}

	if ci.Targets != nil {
		ni.Targets = make([]hir.BlockID, len(ci.Targets))
		for k, t := range ci.Targets {
			ni.Targets[k] = sp.blocks[t]
		}
	}

	if ci.PhiPreds != nil {
		ni.PhiPreds = make([]hir.BlockID, len(ci.PhiPreds))
		for k, p := range ci.PhiPreds {
			ni.PhiPreds[k] = sp.blocks[p]
		}
	}

	ni.LiveOwned = nil
	ni.FS = sp.frameState(ci.FS)

	return &ni
}

func (sp *splice) value(v hir.Value) hir.Value {
	if v == hir.NoValue {
		return v
	}

	return sp.vals[v]
}

// frameState maps a callee frame state and links it to the caller.
func (sp *splice) frameState(fs *hir.FrameState) *hir.FrameState {
	if fs == nil {
		return nil
	}

	r := fs.Map(sp.value)

	last := r
	for last.Parent != nil {
		last = last.Parent
	}

	last.Inline = sp.region
	last.Parent = sp.call.FS

	return r
}

func findInstr(f *hir.Function, i *hir.Instr) (*hir.Block, int) {
	if b := f.Blocks[i.Block]; b != nil {
		for k, x := range b.Instrs {
			if x == i {
				return b, k
			}
		}
	}

	for _, b := range f.Blocks {
		if b == nil {
			continue
		}

		for k, x := range b.Instrs {
			if x == i {
				return b, k
			}
		}
	}

	panic("instruction is not in the function")
}

// BeginInlinedFunctionElimination removes region markers of inlined
// functions nothing can deoptimize from.
func BeginInlinedFunctionElimination(ctx context.Context, f *hir.Function) {
	tr := tlog.SpawnFromContext(ctx, "begin inlined function elimination")
	defer tr.Finish()

	used := map[int]bool{}

	f.Walk(func(b *hir.Block, i *hir.Instr) {
		if !i.Op.CanDeopt() {
			return
		}

		for fs := i.FS; fs != nil; fs = fs.Parent {
			if fs.Inline != 0 {
				used[fs.Inline] = true
			}
		}
	})

	removed := 0

	f.Each(func(b *hir.Block) {
		removed += b.Filter(func(i *hir.Instr) bool {
			if i.Op != hir.BeginInlinedFunction && i.Op != hir.EndInlinedFunction {
				return true
			}

			return used[i.Index]
		})
	})

	tr.V("pass").Printw("inlined regions", "kept", len(used), "markers_removed", removed)
}
