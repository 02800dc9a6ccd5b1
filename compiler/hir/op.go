package hir

import "tlog.app/go/tlog/tlwire"

type (
	Op uint8

	opFlags uint16

	opInfo struct {
		name  string
		flags opFlags
	}

	UnaryKind uint8
)

const (
	_ Op = iota

	LoadArg
	LoadConst
	LoadGlobalCached
	Assign
	Phi
	CheckVar
	BinaryOp
	LongBinaryOp
	UnaryOp
	Compare
	LongCompare
	PrimitiveCompare
	StrCompare
	IsTruthy
	GuardType
	GuardIs
	RefineType
	LoadAttr
	LoadMethod
	CallMethod
	VectorCall
	CallStatic
	InvokeBuiltinMethod
	BuildList
	GetIter
	ForIterNext
	BeginInlinedFunction
	EndInlinedFunction
	Incref
	XIncref
	Decref
	XDecref

	Branch
	CondBranch
	CondBranchIterNotDone
	Return
	Deopt
	Unreachable

	numOps
)

const (
	hasOutput opFlags = 1 << iota
	terminator
	sideEffects
	canDeopt
	canRaise
	borrowedOutput
	passthrough
)

const (
	UnaryNot UnaryKind = iota
	UnaryNegative
)

var ops = [numOps]opInfo{
	LoadArg:              {"LoadArg", hasOutput | borrowedOutput},
	LoadConst:            {"LoadConst", hasOutput | borrowedOutput},
	LoadGlobalCached:     {"LoadGlobalCached", hasOutput | borrowedOutput | canRaise},
	Assign:               {"Assign", hasOutput},
	Phi:                  {"Phi", hasOutput},
	CheckVar:             {"CheckVar", hasOutput | passthrough | canRaise},
	BinaryOp:             {"BinaryOp", hasOutput | canRaise},
	LongBinaryOp:         {"LongBinaryOp", hasOutput | canRaise},
	UnaryOp:              {"UnaryOp", hasOutput | canRaise},
	Compare:              {"Compare", hasOutput | canRaise},
	LongCompare:          {"LongCompare", hasOutput},
	PrimitiveCompare:     {"PrimitiveCompare", hasOutput},
	StrCompare:           {"StrCompare", hasOutput},
	IsTruthy:             {"IsTruthy", hasOutput},
	GuardType:            {"GuardType", hasOutput | passthrough | canDeopt},
	GuardIs:              {"GuardIs", hasOutput | passthrough | canDeopt},
	RefineType:           {"RefineType", hasOutput | passthrough},
	LoadAttr:             {"LoadAttr", hasOutput | canRaise},
	LoadMethod:           {"LoadMethod", hasOutput | canRaise},
	CallMethod:           {"CallMethod", hasOutput | sideEffects | canRaise},
	VectorCall:           {"VectorCall", hasOutput | sideEffects | canRaise},
	CallStatic:           {"CallStatic", hasOutput | sideEffects | canRaise},
	InvokeBuiltinMethod:  {"InvokeBuiltinMethod", hasOutput | sideEffects | canRaise},
	BuildList:            {"BuildList", hasOutput},
	GetIter:              {"GetIter", hasOutput | canRaise},
	ForIterNext:          {"ForIterNext", hasOutput | sideEffects},
	BeginInlinedFunction: {"BeginInlinedFunction", sideEffects},
	EndInlinedFunction:   {"EndInlinedFunction", sideEffects},
	Incref:               {"Incref", sideEffects},
	XIncref:              {"XIncref", sideEffects},
	Decref:               {"Decref", sideEffects},
	XDecref:              {"XDecref", sideEffects},

	Branch:                {"Branch", terminator},
	CondBranch:            {"CondBranch", terminator},
	CondBranchIterNotDone: {"CondBranchIterNotDone", terminator},
	Return:                {"Return", terminator},
	Deopt:                 {"Deopt", terminator | canDeopt},
	Unreachable:           {"Unreachable", terminator},
}

func (op Op) String() string {
	if op == 0 || op >= numOps {
		return "Op?"
	}

	return ops[op].name
}

func (op Op) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, op.String())
}

func (op Op) Valid() bool { return op > 0 && op < numOps }

func (op Op) HasOutput() bool    { return ops[op].flags&hasOutput != 0 }
func (op Op) IsTerminator() bool { return ops[op].flags&terminator != 0 }

// HasSideEffects reports whether the instruction must stay even if its
// output is unused. Instructions that may raise count as well.
func (op Op) HasSideEffects() bool {
	return ops[op].flags&(sideEffects|canRaise|canDeopt|terminator) != 0
}

func (op Op) CanDeopt() bool { return ops[op].flags&canDeopt != 0 }
func (op Op) CanRaise() bool { return ops[op].flags&canRaise != 0 }

// OutputBorrowed reports whether the output refers to an object kept
// alive by someone else: the caller, the code object or a namespace.
func (op Op) OutputBorrowed() bool { return ops[op].flags&borrowedOutput != 0 }

// Passthrough ops produce the very object they get as Args[0].
func (op Op) Passthrough() bool { return ops[op].flags&passthrough != 0 }

// IsRefcount reports ops inserted by reference count insertion.
func (op Op) IsRefcount() bool {
	switch op {
	case Incref, XIncref, Decref, XDecref:
		return true
	}

	return false
}

func (k UnaryKind) String() string {
	switch k {
	case UnaryNot:
		return "Not"
	case UnaryNegative:
		return "Negative"
	}

	return "Unary?"
}
