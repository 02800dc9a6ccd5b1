package jit

import (
	"fmt"
	"sync/atomic"

	"tlog.app/go/loc"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/hirjit/compiler/front"
)

type (
	// Context is shared by all compilations of one runtime.
	Context struct {
		running atomic.Bool
	}

	// UsageError is a misuse of the compiler API.
	// It is raised with panic.
	UsageError struct {
		Msg string
		PC  loc.PC
	}
)

var ErrUntrustedMapping = front.ErrUntrustedMapping

// CompileRunning reports whether a multi-function compile is in progress.
func (c *Context) CompileRunning() bool {
	return c.running.Load()
}

func (c *Context) SetCompileRunning(v bool) {
	c.running.Store(v)
}

func usage(format string, args ...any) *UsageError {
	return &UsageError{
		Msg: fmt.Sprintf(format, args...),
		PC:  loc.Caller(1),
	}
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("jit usage: %s (at %v)", e.Msg, e.PC)
}

func (e *UsageError) TlogAppend(b []byte) []byte {
	var enc tlwire.Encoder

	return enc.AppendString(b, e.Error())
}
