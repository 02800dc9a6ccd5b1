package opt

import (
	"context"
	"time"

	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/hirjit/compiler/hir"
)

type (
	Pass struct {
		Name string
		Run  func(ctx context.Context, f *hir.Function)
	}

	// PassConfig selects optional passes. It is computed once per compiler.
	PassConfig uint32

	Options struct {
		Inliner Inliner

		// DumpHIR logs the function after every pass.
		DumpHIR bool

		// Trace collects the function before and after every pass if not nil.
		Trace *Trace
	}
)

const (
	PassInliner PassConfig = 1 << iota
)

const PhaseName = "HIR transformations"

// Pipeline returns passes in the order they run.
func Pipeline(cfg PassConfig, inl Inliner) []Pass {
	l := []Pass{
		{"SSAify", SSAify},
		{"Simplify", Simplify},
		{"DynamicComparisonElimination", DynamicComparisonElimination},
		{"GuardTypeRemoval", GuardTypeRemoval},
		{"PhiElimination", PhiElimination},
	}

	if cfg&PassInliner != 0 {
		l = append(l,
			Pass{"Inliner", inl.Run},
			Pass{"Simplify", Simplify},
			Pass{"BeginInlinedFunctionElimination", BeginInlinedFunctionElimination},
		)
	}

	l = append(l,
		Pass{"BuiltinLoadMethodElimination", BuiltinLoadMethodElimination},
		Pass{"Simplify", Simplify},
		Pass{"CleanCFG", CleanCFG},
		Pass{"DeadCodeElimination", DeadCodeElimination},
		Pass{"CleanCFG", CleanCFG},
		Pass{"RefcountInsertion", RefcountInsertion},
	)

	return l
}

// Run transforms f in place. Broken IR panics with *hir.InternalError
// unless verification is compiled out.
func Run(ctx context.Context, f *hir.Function, cfg PassConfig, opts Options) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "hir transformations", "func", f.Name, "cfg", cfg)
	defer tr.Finish()

	g := f.Timer.Start(PhaseName)
	defer g.End()

	if opts.Trace != nil && opts.Trace.Func == "" {
		opts.Trace.Func = f.FullName
	}

	if verifyPasses {
		hir.Verify(f, "hir builder")
	}

	for _, p := range Pipeline(cfg, opts.Inliner) {
		runPass(ctx, f, p, opts)
	}
}

func runPass(ctx context.Context, f *hir.Function, p Pass, opts Options) {
	tr := tlog.SpanFromContext(ctx)

	var before []byte
	if opts.Trace != nil {
		before = hir.Print(nil, f)
	}

	g := f.Timer.Start(p.Name)
	start := time.Now()

	p.Run(ctx, f)

	if f.SSA {
		hir.ReflowTypes(f)
	}

	elapsed := time.Since(start)
	g.End()

	if verifyPasses {
		hir.Verify(f, p.Name)
	}

	tr.V("pass").Printw("pass done", "pass", p.Name, "elapsed", elapsed, "blocks", len(f.Blocks), "values", f.NumValues())

	if opts.DumpHIR {
		tr.Printw("hir after pass", "pass", p.Name, "hir", f.String())
	}

	if opts.Trace != nil {
		opts.Trace.Add(p.Name, elapsed, before, hir.Print(nil, f))
	}
}

func (c PassConfig) String() string {
	if c&PassInliner != 0 {
		return "inliner"
	}

	return "default"
}

func (c PassConfig) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	return e.AppendString(b, c.String())
}
