package jit

import (
	"github.com/slowlang/hirjit/compiler/back"
	"github.com/slowlang/hirjit/compiler/hir"
	"github.com/slowlang/hirjit/compiler/object"
)

type (
	// Artifact is compiled code of one function. It is immutable.
	Artifact interface {
		// Entry is compatible with the interpreter's call path.
		Entry() object.EntryFunc

		// StaticEntry skips argument checks. It is nil unless
		// the function declares parameter types.
		StaticEntry() object.EntryFunc

		CodeSize() int
		StackSize() int
		SpillSize() int

		Runtime() *Runtime

		InlineStats() hir.InlineStats

		// OpcodeCounts is the number of HIR instructions per op
		// in the optimized function.
		OpcodeCounts() map[hir.Op]int

		// Disassemble and PrintHIR are only available in debug artifacts.
		// Release artifacts panic with *UsageError.
		Disassemble() []byte
		PrintHIR() []byte
	}

	// Runtime is what the calling convention needs to know about the code.
	Runtime struct {
		Func       *object.Func
		NumArgs    int
		ParamTypes []hir.Type

		code *back.Code
	}

	releaseArtifact struct {
		rt Runtime

		inline  hir.InlineStats
		opcodes map[hir.Op]int
	}

	debugArtifact struct {
		*releaseArtifact

		f *hir.Function
	}
)

func newRelease(code *back.Code, inline hir.InlineStats, opcodes map[hir.Op]int) *releaseArtifact {
	a := &releaseArtifact{
		rt: Runtime{
			Func:       code.Func,
			ParamTypes: code.ParamTypes,
			code:       code,
		},
		inline:  inline,
		opcodes: opcodes,
	}

	if code.Func != nil {
		a.rt.NumArgs = code.Func.Code.ArgCount
	}

	return a
}

func (a *releaseArtifact) Entry() object.EntryFunc { return a.rt.code.Entry }

func (a *releaseArtifact) StaticEntry() object.EntryFunc {
	if len(a.rt.ParamTypes) == 0 {
		return nil
	}

	return a.rt.code.StaticEntry
}

func (a *releaseArtifact) CodeSize() int  { return a.rt.code.CodeSize() }
func (a *releaseArtifact) StackSize() int { return a.rt.code.StackSize() }
func (a *releaseArtifact) SpillSize() int { return a.rt.code.SpillSize() }

func (a *releaseArtifact) Runtime() *Runtime { return &a.rt }

func (a *releaseArtifact) InlineStats() hir.InlineStats { return a.inline }

func (a *releaseArtifact) OpcodeCounts() map[hir.Op]int { return a.opcodes }

func (a *releaseArtifact) Disassemble() []byte {
	panic(usage("Disassemble on a release artifact of %v", a.rt.code.Name))
}

func (a *releaseArtifact) PrintHIR() []byte {
	panic(usage("PrintHIR on a release artifact of %v", a.rt.code.Name))
}

func (a *releaseArtifact) free() error { return a.rt.code.Free() }

func (a *debugArtifact) Disassemble() []byte {
	if a.rt.code.Freed() {
		panic(usage("Disassemble on freed code of %v", a.rt.code.Name))
	}

	return back.Disassemble(nil, a.rt.code)
}

func (a *debugArtifact) PrintHIR() []byte {
	return hir.Print(nil, a.f)
}

// Deopts is the number of times the code fell back to the interpreter.
func (rt *Runtime) Deopts() int64 { return rt.code.Deopts() }
