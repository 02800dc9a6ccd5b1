package object

import (
	"sync/atomic"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Object is a reference-counted host value.
	// Functions returning an Object hand out a new (owned) reference
	// unless documented as borrowed. Arguments are borrowed.
	Object interface {
		Type() *Type
		header() *Header
	}

	Header struct {
		refs int64
	}

	// releaser drops references an object holds once its last one is gone.
	releaser interface {
		release()
	}

	Type struct {
		Header

		Name    string
		Methods map[string]*Builtin
	}
)

var TypeType = &Type{Name: "type"}

func (h *Header) header() *Header { return h }

func (t *Type) Type() *Type { return TypeType }

func (t *Type) String() string { return t.Name }

func (t *Type) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if t == nil {
		return e.AppendNil(b)
	}

	return e.AppendString(b, t.Name)
}

func Incref(o Object) {
	atomic.AddInt64(&o.header().refs, 1)
}

func Decref(o Object) {
	if atomic.AddInt64(&o.header().refs, -1) != 0 {
		return
	}

	if r, ok := o.(releaser); ok {
		r.release()
	}
}

// XDecref is Decref for possibly nil references.
func XDecref(o Object) {
	if o == nil {
		return
	}

	Decref(o)
}

func Refs(o Object) int64 {
	return atomic.LoadInt64(&o.header().refs)
}

func newRef[T Object](o T) T {
	Incref(o)
	return o
}

func TypeName(o Object) string {
	if o == nil {
		return "NULL"
	}

	return o.Type().Name
}
