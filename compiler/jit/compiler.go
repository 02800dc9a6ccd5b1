package jit

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler/back"
	"github.com/slowlang/hirjit/compiler/front"
	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/object"
	"github.com/slowlang/hirjit/compiler/opt"
	"github.com/slowlang/hirjit/compiler/phase"
)

type (
	// Compiler is ready to use as a literal. New fills the defaults.
	Compiler struct {
		Config Config

		// Feedback and Statics may be nil.
		Feedback front.TypeFeedback
		Statics  front.StaticTypes

		// Gen is the portable generator if nil.
		Gen back.CodeGenerator

		// Timings receives the phase timer of every compilation
		// if Config.PhaseTimes is set.
		Timings func(fn *object.Func, t *phase.Timer)
	}

	// Result is the outcome of one function of a bulk compile.
	Result struct {
		Func     *object.Func
		Artifact Artifact
		Err      error
	}
)

const (
	PhaseOverall  = "Overall compilation"
	PhaseLowering = "Lowering into HIR"
	PhaseCodegen  = "Native code generation"
)

func New(cfg Config) *Compiler {
	return &Compiler{
		Config:  cfg,
		Statics: front.Annotations{},
		Gen:     &back.Generator{},
	}
}

// Compile compiles fn on its own.
// It panics with *UsageError if a multi-function compile is running:
// such callers must preload and use CompilePreloaded.
func (c *Compiler) Compile(ctx context.Context, cctx *Context, fn *object.Func) (Artifact, error) {
	if cctx.CompileRunning() {
		panic(usage("Compile(%v) while a multi-function compile is running", fn.Code.Name))
	}

	pre, err := front.Preload(ctx, fn, c.Feedback, c.Statics)
	if err != nil {
		c.rejected(ctx, fn, err)
		return nil, err
	}

	return c.CompilePreloaded(ctx, pre)
}

// CompilePreloaded runs the pipeline on a preloaded function.
// A nil Artifact with an error means the function stays interpreted.
func (c *Compiler) CompilePreloaded(ctx context.Context, pre *front.Preloaded) (a Artifact, err error) {
	fn := pre.Func

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "jit compile", "func", fn.Code.Name)
	defer tr.Finish("err", &err)

	if object.Mapping(pre.Globals) != fn.Globals || object.Mapping(pre.Builtins) != fn.Builtins {
		err = errors.Wrap(ErrUntrustedMapping, "%v: namespaces changed since preload", fn.Code.Name)
		c.rejected(ctx, fn, err)

		return nil, err
	}

	var t *phase.Timer
	if c.Config.PhaseTimes {
		t = phase.New()
	}

	var f *hir.Function

	overall := t.Start(PhaseOverall)

	defer func() {
		overall.End()

		if f != nil {
			f.Timer = nil
		}

		if t != nil && c.Timings != nil {
			c.Timings(fn, t)
		}
	}()

	g := t.Start(PhaseLowering)
	start := time.Now()
	f, err = front.Build(ctx, pre)
	buildTime := time.Since(start)
	g.End()

	if err != nil {
		c.rejected(ctx, fn, err)
		return nil, errors.Wrap(err, "lower into hir")
	}

	f.Timer = t

	if c.Config.DumpHIR || tr.If("dump_hir") {
		tr.Printw("initial hir", "func", f.FullName, "hir", f.String())
	}

	var trace *opt.Trace
	if c.Config.DumpDir != "" {
		trace = opt.NewTrace(f.FullName)
		trace.Add(opt.TraceInitialHIR, buildTime, nil, hir.Print(nil, f))
	}

	opt.Run(ctx, f, c.Config.PassConfig(), opt.Options{
		Inliner: opt.Inliner{
			Build:   c.buildCallee,
			MaxCost: c.Config.InlineMaxCost,
		},
		DumpHIR: c.Config.DumpHIR,
		Trace:   trace,
	})

	opcodes := f.CountOpcodes()

	if c.Config.DumpFinalHIR || tr.If("dump_final_hir") {
		tr.Printw("optimized hir", "func", f.FullName, "hir", f.String())
	}

	if trace != nil {
		c.dump(ctx, trace)
	}

	g = t.Start(PhaseCodegen)
	code, err := c.generator().Generate(ctx, f)
	g.End()

	if err != nil {
		return nil, errors.Wrap(err, "generate code")
	}

	f.Timer = nil

	ra := newRelease(code, f.InlineStats, opcodes)

	tr.V("jit").Printw("compiled", "code_size", ra.CodeSize(), "stack_size", ra.StackSize(), "spill_size", ra.SpillSize(),
		"inlined", f.InlineStats.NumInlined, "debug", c.Config.Debug)

	if c.Config.Debug {
		return &debugArtifact{releaseArtifact: ra, f: f}, nil
	}

	return ra, nil
}

// PreloadAll compiles many functions: preloading runs in parallel,
// then functions are compiled one by one.
// Compile must not be called until it returns.
func (c *Compiler) PreloadAll(ctx context.Context, cctx *Context, fns []*object.Func) (res []Result) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "jit preload all", "funcs", len(fns))
	defer tr.Finish()

	if !cctx.running.CompareAndSwap(false, true) {
		panic(usage("PreloadAll while a multi-function compile is running"))
	}

	defer cctx.SetCompileRunning(false)

	res = make([]Result, len(fns))
	pres := make([]*front.Preloaded, len(fns))

	var wg errgroup.Group

	workers := c.Config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	wg.SetLimit(workers)

	for k, fn := range fns {
		k, fn := k, fn
		res[k].Func = fn

		wg.Go(func() error {
			pres[k], res[k].Err = front.Preload(ctx, fn, c.Feedback, c.Statics)

			return nil
		})
	}

	_ = wg.Wait()

	compiled := 0

	for k, pre := range pres {
		if res[k].Err != nil {
			c.rejected(ctx, fns[k], res[k].Err)
			continue
		}

		res[k].Artifact, res[k].Err = c.CompilePreloaded(ctx, pre)
		if res[k].Err == nil {
			compiled++
		}
	}

	tr.Printw("preload all done", "funcs", len(fns), "compiled", compiled)

	return res
}

func (c *Compiler) buildCallee(ctx context.Context, fn *object.Func) (*hir.Function, error) {
	pre, err := front.Preload(ctx, fn, c.Feedback, c.Statics)
	if err != nil {
		return nil, err
	}

	return front.Build(ctx, pre)
}

func (c *Compiler) generator() back.CodeGenerator {
	if c.Gen == nil {
		return &back.Generator{}
	}

	return c.Gen
}

func (c *Compiler) rejected(ctx context.Context, fn *object.Func, err error) {
	tr := tlog.SpanFromContext(ctx)

	tr.V("jit").Printw("not compiled", "func", fn.Code.Name, "reason", err)
}

// dump writes the pass trace. Failures are logged and ignored.
func (c *Compiler) dump(ctx context.Context, t *opt.Trace) {
	tr := tlog.SpanFromContext(ctx)

	name := opt.TraceFile(c.Config.DumpDir, t.Func, c.Config.DumpFormat)

	err := writeTrace(name, t, c.Config.DumpFormat)
	if err != nil {
		tr.Printw("dump pass trace", "file", name, "err", err)
		return
	}

	tr.V("jit").Printw("pass trace dumped", "file", name)
}

func writeTrace(name string, t *opt.Trace, format string) (err error) {
	err = os.MkdirAll(filepath.Dir(name), 0o755)
	if err != nil {
		return errors.Wrap(err, "mkdir")
	}

	w, err := os.Create(name)
	if err != nil {
		return errors.Wrap(err, "create")
	}

	defer func() {
		e := w.Close()
		if err == nil && e != nil {
			err = errors.Wrap(e, "close")
		}
	}()

	return t.Write(w, format)
}
