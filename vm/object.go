package vm

import (
	"fmt"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Handle: generation-checked heap reference
// ---------------------------------------------------------------------------

// Handle names a heap slot. The generation is bumped every time the slot is
// reclaimed, so a handle outliving its object is detected instead of
// aliasing whatever reuses the slot. The zero Handle is never valid.
type Handle struct {
	Index uint32
	Gen   uint32
}

func (h Handle) pack() uint64 {
	return uint64(h.Index)<<32 | uint64(h.Gen)
}

func unpackHandle(bits uint64) Handle {
	return Handle{Index: uint32(bits >> 32), Gen: uint32(bits)}
}

// String implements the Stringer interface.
func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.Index, h.Gen)
}

// ---------------------------------------------------------------------------
// Object: header plus instance region
// ---------------------------------------------------------------------------

type objectState uint8

const (
	stateConstructing objectState = iota
	stateLive
	statePending // lock count reached zero, finalization queued
	stateDoomed  // unreachable cycle member selected by Collect
	stateFinalizing
	stateDead
)

// header is the part of every object that only the heap and collector
// touch. typ always names how much of the object is currently constructed
// (or, during finalization, how much is left to tear down).
type header struct {
	typ       *Type
	locks     int
	state     objectState
	marked    bool
	gcRefs    int
	building  *Type // level whose Construct is running
	observers []observer
}

// headerSize is the accounting size charged per object on top of its
// type's value size.
const headerSize = unsafe.Sizeof(header{})

// Object is a heap instance. Application code reaches the instance region
// (Data and Payload); the header is only changed through Heap methods.
type Object struct {
	header
	handle  Handle
	size    uintptr // total accounted bytes, header included
	data    []byte
	payload any
}

// Handle returns the object's heap handle.
func (obj *Object) Handle() Handle { return obj.handle }

// Value returns an object reference to obj.
func (obj *Object) Value() Value { return FromHandle(obj.handle) }

// Type returns the object's current header type. It is the raw-memory
// sentinel until construction completes and walks up the parent chain
// during finalization.
func (obj *Object) Type() *Type { return obj.typ }

// Locks returns the object's lock count.
func (obj *Object) Locks() int { return obj.locks }

// Data returns the instance region: value-size bytes, zeroed at allocation.
func (obj *Object) Data() []byte { return obj.data }

// Payload returns Go-side instance state set by a constructor.
func (obj *Object) Payload() any { return obj.payload }

// SetPayload stores Go-side instance state.
func (obj *Object) SetPayload(p any) { obj.payload = p }

// IsLive reports whether the object is fully constructed and not yet
// scheduled for finalization.
func (obj *Object) IsLive() bool { return obj.state == stateLive }

// String implements the Stringer interface.
func (obj *Object) String() string {
	return fmt.Sprintf("%s<%s>", obj.handle, obj.typ.Name())
}
