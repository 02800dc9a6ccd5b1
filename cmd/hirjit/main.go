package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/hirjit/compiler"
	"github.com/slowlang/hirjit/compiler/jit"
	"github.com/slowlang/hirjit/compiler/object"
	"github.com/slowlang/hirjit/compiler/opt"
	"github.com/slowlang/hirjit/compiler/phase"
)

func main() {
	jitFlags := []*cli.Flag{
		cli.NewFlag("v", "", "tlog verbosity filter"),
		cli.NewFlag("config", "", "toml config file"),
		cli.NewFlag("inliner", false, "enable the inliner"),
		cli.NewFlag("debug", false, "keep hir and code listings in artifacts"),
		cli.NewFlag("dump-hir", false, "log hir as built and after every pass"),
		cli.NewFlag("dump-final-hir", false, "log optimized hir"),
		cli.NewFlag("dump-dir", "", "write pass traces to the dir"),
		cli.NewFlag("dump-format", "", "pass trace format: json or cbor"),
		cli.NewFlag("phase-times", false, "print compilation phase times"),
	}

	runCmd := &cli.Command{
		Name:        "run",
		Description: "run a function: interpreted to warm up, then compiled",
		Action:      runAct,
		Args:        cli.Args{},
		Flags: append([]*cli.Flag{
			cli.NewFlag("warmup", 1, "interpreted runs before compiling"),
		}, jitFlags...),
	}

	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "compile all functions and print hir and code",
		Action:      compileAct,
		Args:        cli.Args{},
		Flags:       jitFlags,
	}

	traceCmd := &cli.Command{
		Name:        "trace",
		Description: "print a pass trace",
		Action:      traceAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("v", "", "tlog verbosity filter"),
			cli.NewFlag("hir", false, "print hir after every pass"),
		},
	}

	app := &cli.Command{
		Name:        "hirjit",
		Description: "hirjit compiles hasm bytecode functions to native code",
		Commands: []*cli.Command{
			runCmd,
			compileCmd,
			traceCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func config(c *cli.Command) (cfg jit.Config, err error) {
	tlog.SetVerbosity(c.String("v"))

	cfg = jit.DefaultConfig()

	if f := c.String("config"); f != "" {
		cfg, err = jit.LoadConfig(f)
		if err != nil {
			return cfg, errors.Wrap(err, "load config")
		}
	}

	if c.Bool("inliner") {
		cfg.Inliner = true
	}

	if c.Bool("debug") {
		cfg.Debug = true
	}

	if c.Bool("dump-hir") {
		cfg.DumpHIR = true
	}

	if c.Bool("dump-final-hir") {
		cfg.DumpFinalHIR = true
	}

	if d := c.String("dump-dir"); d != "" {
		cfg.DumpDir = d
	}

	if f := c.String("dump-format"); f != "" {
		cfg.DumpFormat = f
	}

	if c.Bool("phase-times") {
		cfg.PhaseTimes = true
	}

	return cfg, nil
}

func session(ctx context.Context, name string, cfg jit.Config) (*compiler.Session, error) {
	m, err := compiler.LoadFile(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "load %v", name)
	}

	s := compiler.NewSession(m, cfg)

	if cfg.PhaseTimes {
		s.JIT.Timings = func(fn *object.Func, t *phase.Timer) {
			fmt.Printf("phases of %v:\n%s", fn.Code.Name, t.Report(nil))
		}
	}

	return s, nil
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if len(c.Args) < 2 {
		return errors.New("usage: run file.hasm func [args...]")
	}

	cfg, err := config(c)
	if err != nil {
		return err
	}

	s, err := session(ctx, c.Args[0], cfg)
	if err != nil {
		return err
	}

	defer func() {
		if e := s.Close(); err == nil && e != nil {
			err = errors.Wrap(e, "close")
		}
	}()

	name := c.Args[1]
	args := c.Args[2:]

	for k, n := 0, c.Int("warmup"); k < n; k++ {
		r, err := s.Warmup(ctx, name, compiler.ParseArgs(args))
		if err != nil {
			tlog.SpanFromContext(ctx).Printw("warmup", "func", name, "err", err)
		}

		object.XDecref(r)
	}

	res, err := s.CompileAll(ctx)
	if err != nil {
		return errors.Wrap(err, "compile")
	}

	for _, r := range res {
		if r.Err != nil {
			fmt.Printf("not compiled: %v: %v\n", r.Func.Code.Name, r.Err)
		}
	}

	r, err := s.Call(ctx, name, compiler.ParseArgs(args))
	if err != nil {
		fmt.Printf("raised: %v\n", err)
		return nil
	}

	defer object.Decref(r)

	fmt.Printf("%s\n", object.Repr(r))

	a, ok := s.Table.Lookup(s.Module.Func(name))
	if !ok {
		return nil
	}

	if cfg.Debug {
		fmt.Printf("\n%s", a.Disassemble())
	}

	if d := a.Runtime().Deopts(); d != 0 {
		fmt.Printf("deopts: %d\n", d)
	}

	return nil
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := config(c)
	if err != nil {
		return err
	}

	cfg.Debug = true

	for _, a := range c.Args {
		s, err := session(ctx, a, cfg)
		if err != nil {
			return err
		}

		res, err := s.CompileAll(ctx)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		for _, r := range res {
			if r.Err != nil {
				fmt.Printf("not compiled: %v: %v\n\n", r.Func.Code.Name, r.Err)
				continue
			}

			a := r.Artifact

			fmt.Printf("%s\n%s", a.PrintHIR(), a.Disassemble())
			fmt.Printf("code_size %d  stack_size %d  spill_size %d\n\n", a.CodeSize(), a.StackSize(), a.SpillSize())
		}

		err = s.Close()
		if err != nil {
			return errors.Wrap(err, "close %v", a)
		}
	}

	return nil
}

func traceAct(c *cli.Command) (err error) {
	tlog.SetVerbosity(c.String("v"))

	for _, a := range c.Args {
		err = printTrace(a, c.Bool("hir"))
		if err != nil {
			return errors.Wrap(err, "trace %v", a)
		}
	}

	return nil
}

func printTrace(name string, hir bool) (err error) {
	f, err := os.Open(name)
	if err != nil {
		return err
	}

	defer func() {
		if e := f.Close(); err == nil && e != nil {
			err = e
		}
	}()

	t, err := opt.ReadTrace(f)
	if err != nil {
		return err
	}

	fmt.Printf("%v (trace %v)\n", t.Func, t.Version)

	for _, p := range t.Passes {
		changed := ""
		if p.Before != p.After {
			changed = " changed"
		}

		fmt.Printf("  %-28s %10dns%s\n", p.Name, p.Nanos, changed)

		if hir && changed != "" {
			fmt.Printf("%s\n", p.After)
		}
	}

	return nil
}
