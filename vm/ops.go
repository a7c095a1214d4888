package vm

import "fmt"

// ---------------------------------------------------------------------------
// Operation tables
// ---------------------------------------------------------------------------

// OpFunc is a dispatched value operation. Its argc arguments are on the
// context's value stack, first argument deepest. It must consume them and
// leave exactly the slot's declared number of results.
type OpFunc func(c *Context, argc int) error

// ConstructFunc completes initialization of a freshly allocated object,
// consuming argc constructor arguments from the value stack.
type ConstructFunc func(c *Context, obj *Object, argc int) error

// DestructFunc releases what one level of a type chain owns.
type DestructFunc func(h *Heap, obj *Object)

// VisitFunc reports every reference one level of a type chain owns by
// calling v.Visit on it.
type VisitFunc func(v *Visitor, obj *Object)

// Operations is the per-type dispatch table.
//
// Value slots are inherited: a nil slot is resolved on the parent type
// (see Type.Lookup). Construct, Destruct and Visit belong to exactly one
// level of the chain and are only valid on object kinds.
type Operations struct {
	Equal   OpFunc // (a, b) -> bool
	Compare OpFunc // (a, b) -> int32 in {-1, 0, 1}
	Hash    OpFunc // (a) -> uint64

	Add      OpFunc // (a, b) -> r
	Subtract OpFunc
	Multiply OpFunc
	Divide   OpFunc
	Modulo   OpFunc
	Negate   OpFunc // (a) -> r

	Not        OpFunc // (a) -> r
	And        OpFunc // (a, b) -> r
	Or         OpFunc
	Xor        OpFunc
	ShiftLeft  OpFunc
	ShiftRight OpFunc

	Construct ConstructFunc
	Destruct  DestructFunc
	Visit     VisitFunc
}

// Slot names one value operation of an Operations table.
type Slot uint8

const (
	SlotEqual Slot = iota
	SlotCompare
	SlotHash
	SlotAdd
	SlotSubtract
	SlotMultiply
	SlotDivide
	SlotModulo
	SlotNegate
	SlotNot
	SlotAnd
	SlotOr
	SlotXor
	SlotShiftLeft
	SlotShiftRight

	numSlots
)

// SlotInfo describes the calling convention of a slot.
type SlotInfo struct {
	Name    string
	Args    int
	Results int
}

var slotTable = [numSlots]SlotInfo{
	SlotEqual:      {"equal", 2, 1},
	SlotCompare:    {"compare", 2, 1},
	SlotHash:       {"hash", 1, 1},
	SlotAdd:        {"add", 2, 1},
	SlotSubtract:   {"subtract", 2, 1},
	SlotMultiply:   {"multiply", 2, 1},
	SlotDivide:     {"divide", 2, 1},
	SlotModulo:     {"modulo", 2, 1},
	SlotNegate:     {"negate", 1, 1},
	SlotNot:        {"not", 1, 1},
	SlotAnd:        {"and", 2, 1},
	SlotOr:         {"or", 2, 1},
	SlotXor:        {"xor", 2, 1},
	SlotShiftLeft:  {"shiftLeft", 2, 1},
	SlotShiftRight: {"shiftRight", 2, 1},
}

// Info returns the slot's name and arity.
func (s Slot) Info() SlotInfo {
	if s < numSlots {
		return slotTable[s]
	}
	return SlotInfo{Name: fmt.Sprintf("slot(%d)", uint8(s))}
}

// String implements the Stringer interface.
func (s Slot) String() string {
	return s.Info().Name
}

// Get returns the function stored in slot s, or nil.
func (o *Operations) Get(s Slot) OpFunc {
	if o == nil {
		return nil
	}
	switch s {
	case SlotEqual:
		return o.Equal
	case SlotCompare:
		return o.Compare
	case SlotHash:
		return o.Hash
	case SlotAdd:
		return o.Add
	case SlotSubtract:
		return o.Subtract
	case SlotMultiply:
		return o.Multiply
	case SlotDivide:
		return o.Divide
	case SlotModulo:
		return o.Modulo
	case SlotNegate:
		return o.Negate
	case SlotNot:
		return o.Not
	case SlotAnd:
		return o.And
	case SlotOr:
		return o.Or
	case SlotXor:
		return o.Xor
	case SlotShiftLeft:
		return o.ShiftLeft
	case SlotShiftRight:
		return o.ShiftRight
	}
	return nil
}

// Set stores fn in slot s.
func (o *Operations) Set(s Slot, fn OpFunc) {
	switch s {
	case SlotEqual:
		o.Equal = fn
	case SlotCompare:
		o.Compare = fn
	case SlotHash:
		o.Hash = fn
	case SlotAdd:
		o.Add = fn
	case SlotSubtract:
		o.Subtract = fn
	case SlotMultiply:
		o.Multiply = fn
	case SlotDivide:
		o.Divide = fn
	case SlotModulo:
		o.Modulo = fn
	case SlotNegate:
		o.Negate = fn
	case SlotNot:
		o.Not = fn
	case SlotAnd:
		o.And = fn
	case SlotOr:
		o.Or = fn
	case SlotXor:
		o.Xor = fn
	case SlotShiftLeft:
		o.ShiftLeft = fn
	case SlotShiftRight:
		o.ShiftRight = fn
	}
}

func (o *Operations) hasObjectCallbacks() bool {
	return o != nil && (o.Construct != nil || o.Destruct != nil || o.Visit != nil)
}
