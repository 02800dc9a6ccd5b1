package object

import "fmt"

// Exception is a raised host exception. It is both an Object and a Go error
// so the interpreter and compiled code propagate it the same way.
type Exception struct {
	Header

	Kind *Type
	Msg  string
}

var (
	ExceptionType     = &Type{Name: "Exception"}
	TypeError         = &Type{Name: "TypeError"}
	AttributeError    = &Type{Name: "AttributeError"}
	NameError         = &Type{Name: "NameError"}
	UnboundLocalError = &Type{Name: "UnboundLocalError"}
	ZeroDivisionError = &Type{Name: "ZeroDivisionError"}
	OverflowError     = &Type{Name: "OverflowError"}
	IndexError        = &Type{Name: "IndexError"}
	SystemError       = &Type{Name: "SystemError"}
	RecursionError    = &Type{Name: "RecursionError"}
)

func (e *Exception) Type() *Type { return e.Kind }

func (e *Exception) Error() string {
	return e.Kind.Name + ": " + e.Msg
}

func Errorf(kind *Type, format string, args ...any) *Exception {
	return &Exception{Header: Header{refs: 1}, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a host exception of the given kind.
func IsKind(err error, kind *Type) bool {
	e, ok := err.(*Exception)

	return ok && e.Kind == kind
}

// Matches reports whether e is an instance of kind. Every exception
// kind derives from Exception.
func (e *Exception) Matches(kind *Type) bool {
	return kind == e.Kind || kind == ExceptionType
}
