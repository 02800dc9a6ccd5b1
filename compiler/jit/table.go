package jit

import (
	"sync"

	"github.com/slowlang/hirjit/compiler/object"
)

type (
	// CodeTable maps functions to their compiled code.
	CodeTable struct {
		mu sync.Mutex
		m  map[*object.Func]Artifact
	}

	freer interface {
		free() error
	}
)

// Install makes calls to fn go to the artifact.
// Code fn had before is released.
func (t *CodeTable) Install(fn *object.Func, a Artifact) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.m == nil {
		t.m = map[*object.Func]Artifact{}
	}

	old := t.m[fn]
	if old == a {
		return nil
	}

	t.m[fn] = a
	fn.SetEntry(a.Entry())

	return release(old)
}

func (t *CodeTable) Lookup(fn *object.Func) (Artifact, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.m[fn]

	return a, ok
}

// Remove sends calls to fn back to the interpreter.
// The code must not be running.
func (t *CodeTable) Remove(fn *object.Func) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.m[fn]
	if !ok {
		return nil
	}

	delete(t.m, fn)
	fn.SetEntry(nil)

	return release(a)
}

func (t *CodeTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.m)
}

// CodeSize is the total code size of installed artifacts.
func (t *CodeTable) CodeSize() (n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, a := range t.m {
		n += a.CodeSize()
	}

	return n
}

func release(a Artifact) error {
	if f, ok := a.(freer); ok {
		return f.free()
	}

	return nil
}
