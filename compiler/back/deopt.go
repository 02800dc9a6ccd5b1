package back

import (
	"slices"

	"github.com/slowlang/hirjit/compiler/interp"
	"github.com/slowlang/hirjit/compiler/object"
)

// deopt rebuilds interpreter frames from the frame state
// and finishes the call in the interpreter.
func (fr *frame) deopt(a *aux) int {
	var frames []*interp.Frame

	for fs := a.fs; fs != nil; fs = fs.parent {
		ifr := interp.NewFrame(fs.fn)
		ifr.PC = fs.pc

		for k, s := range fs.locals {
			ifr.Locals[k] = fr.ref(s)
		}

		ifr.Stack = make([]object.Object, len(fs.stack))

		for k, s := range fs.stack {
			ifr.Stack[k] = fr.ref(s)
		}

		frames = append(frames, ifr)
	}

	for _, s := range a.live {
		object.XDecref(fr.r[s].o)
	}

	fr.c.deopts.Add(1)

	slices.Reverse(frames)

	fr.res, fr.err = interp.Resume(frames)

	return exit
}

// ref returns a new reference to the slot object.
func (fr *frame) ref(s int) object.Object {
	o := fr.r[s].o
	if o != nil {
		object.Incref(o)
	}

	return o
}
