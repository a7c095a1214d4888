package vm

import (
	"fmt"
	"math"
)

// Value is a fixed-size tagged union.
//
// A Value is either void, one of the sized scalar payloads, a reference to
// a type descriptor, or a reference to a heap object. Scalars are stored
// in bits; object references store a generation-checked Handle in bits;
// type references use typ. Values are copied by value. Only object
// references take part in the lock/visit protocol.
type Value struct {
	tag  Tag
	bits uint64
	typ  *Type
}

// Tag identifies which payload a Value carries.
type Tag uint8

const (
	TagVoid Tag = iota
	TagBool
	TagInt8
	TagInt16
	TagInt32
	TagInt64
	TagUInt8
	TagUInt16
	TagUInt32
	TagUInt64
	TagFloat32
	TagFloat64
	TagType
	TagObject

	numTags
)

var tagNames = [numTags]string{
	TagVoid:    "void",
	TagBool:    "bool",
	TagInt8:    "int8",
	TagInt16:   "int16",
	TagInt32:   "int32",
	TagInt64:   "int64",
	TagUInt8:   "uint8",
	TagUInt16:  "uint16",
	TagUInt32:  "uint32",
	TagUInt64:  "uint64",
	TagFloat32: "float32",
	TagFloat64: "float64",
	TagType:    "type",
	TagObject:  "object",
}

// String implements the Stringer interface.
func (t Tag) String() string {
	if t < numTags {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// ParseTag returns the tag with the given name.
func ParseTag(name string) (Tag, bool) {
	for i, n := range tagNames {
		if n == name {
			return Tag(i), true
		}
	}
	return TagVoid, false
}

// IsSigned reports whether t is a signed integer tag.
func (t Tag) IsSigned() bool {
	return t >= TagInt8 && t <= TagInt64
}

// IsUnsigned reports whether t is an unsigned integer tag.
func (t Tag) IsUnsigned() bool {
	return t >= TagUInt8 && t <= TagUInt64
}

// IsInteger reports whether t is any integer tag.
func (t Tag) IsInteger() bool {
	return t.IsSigned() || t.IsUnsigned()
}

// IsFloat reports whether t is a floating point tag.
func (t Tag) IsFloat() bool {
	return t == TagFloat32 || t == TagFloat64
}

// Void is the empty value.
var Void = Value{}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Tag returns the tag of v.
func (v Value) Tag() Tag { return v.tag }

// IsVoid returns true if v carries no payload.
func (v Value) IsVoid() bool { return v.tag == TagVoid }

// IsBool returns true if v is a boolean.
func (v Value) IsBool() bool { return v.tag == TagBool }

// IsInteger returns true if v is any sized integer.
func (v Value) IsInteger() bool { return v.tag.IsInteger() }

// IsFloat returns true if v is a float32 or float64.
func (v Value) IsFloat() bool { return v.tag.IsFloat() }

// IsNumber returns true if v is an integer or a float.
func (v Value) IsNumber() bool { return v.IsInteger() || v.IsFloat() }

// IsType returns true if v references a type descriptor.
func (v Value) IsType() bool { return v.tag == TagType }

// IsObject returns true if v references a heap object.
func (v Value) IsObject() bool { return v.tag == TagObject }

// IsScalar returns true if v is neither an object reference nor void.
func (v Value) IsScalar() bool { return v.tag != TagObject && v.tag != TagVoid }

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromBool creates a Value from a bool.
func FromBool(b bool) Value {
	if b {
		return Value{tag: TagBool, bits: 1}
	}
	return Value{tag: TagBool}
}

// FromInt8 creates an int8 Value.
func FromInt8(n int8) Value { return Value{tag: TagInt8, bits: uint64(int64(n))} }

// FromInt16 creates an int16 Value.
func FromInt16(n int16) Value { return Value{tag: TagInt16, bits: uint64(int64(n))} }

// FromInt32 creates an int32 Value.
func FromInt32(n int32) Value { return Value{tag: TagInt32, bits: uint64(int64(n))} }

// FromInt64 creates an int64 Value.
func FromInt64(n int64) Value { return Value{tag: TagInt64, bits: uint64(n)} }

// FromUInt8 creates a uint8 Value.
func FromUInt8(n uint8) Value { return Value{tag: TagUInt8, bits: uint64(n)} }

// FromUInt16 creates a uint16 Value.
func FromUInt16(n uint16) Value { return Value{tag: TagUInt16, bits: uint64(n)} }

// FromUInt32 creates a uint32 Value.
func FromUInt32(n uint32) Value { return Value{tag: TagUInt32, bits: uint64(n)} }

// FromUInt64 creates a uint64 Value.
func FromUInt64(n uint64) Value { return Value{tag: TagUInt64, bits: n} }

// FromFloat32 creates a float32 Value.
func FromFloat32(f float32) Value {
	return Value{tag: TagFloat32, bits: uint64(math.Float32bits(f))}
}

// FromFloat64 creates a float64 Value.
func FromFloat64(f float64) Value {
	return Value{tag: TagFloat64, bits: math.Float64bits(f)}
}

// FromType creates a Value referencing a type descriptor.
// A nil type yields Void.
func FromType(t *Type) Value {
	if t == nil {
		return Void
	}
	return Value{tag: TagType, typ: t}
}

// FromHandle creates an object reference Value.
func FromHandle(h Handle) Value {
	return Value{tag: TagObject, bits: h.pack()}
}

// FromBits rebuilds a scalar Value from its tag and raw payload, as stored
// in program images. Type and object tags cannot be rebuilt from bits.
func FromBits(tag Tag, bits uint64) (Value, bool) {
	switch {
	case tag == TagVoid:
		return Void, true
	case tag == TagBool:
		return FromBool(bits != 0), true
	case tag.IsInteger(), tag.IsFloat():
		return Value{tag: tag, bits: canonicalBits(tag, bits)}, true
	default:
		return Void, false
	}
}

// canonicalBits truncates and re-extends a payload to the width of tag so
// that equal numbers always have equal bits.
func canonicalBits(tag Tag, bits uint64) uint64 {
	switch tag {
	case TagInt8:
		return uint64(int64(int8(bits)))
	case TagInt16:
		return uint64(int64(int16(bits)))
	case TagInt32:
		return uint64(int64(int32(bits)))
	case TagUInt8:
		return uint64(uint8(bits))
	case TagUInt16:
		return uint64(uint16(bits))
	case TagUInt32, TagFloat32:
		return uint64(uint32(bits))
	default:
		return bits
	}
}

// Bits returns the raw scalar payload of v.
func (v Value) Bits() uint64 { return v.bits }

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Bool returns v as a bool.
// Panics if v is not a boolean.
func (v Value) Bool() bool {
	if v.tag != TagBool {
		panic("Value.Bool: not a boolean")
	}
	return v.bits != 0
}

// Int8 returns v as an int8.
// Panics if v is not an int8.
func (v Value) Int8() int8 {
	if v.tag != TagInt8 {
		panic("Value.Int8: not an int8")
	}
	return int8(v.bits)
}

// Int16 returns v as an int16.
// Panics if v is not an int16.
func (v Value) Int16() int16 {
	if v.tag != TagInt16 {
		panic("Value.Int16: not an int16")
	}
	return int16(v.bits)
}

// Int32 returns v as an int32.
// Panics if v is not an int32.
func (v Value) Int32() int32 {
	if v.tag != TagInt32 {
		panic("Value.Int32: not an int32")
	}
	return int32(v.bits)
}

// Int64 returns v as an int64.
// Panics if v is not an int64.
func (v Value) Int64() int64 {
	if v.tag != TagInt64 {
		panic("Value.Int64: not an int64")
	}
	return int64(v.bits)
}

// UInt8 returns v as a uint8.
// Panics if v is not a uint8.
func (v Value) UInt8() uint8 {
	if v.tag != TagUInt8 {
		panic("Value.UInt8: not a uint8")
	}
	return uint8(v.bits)
}

// UInt16 returns v as a uint16.
// Panics if v is not a uint16.
func (v Value) UInt16() uint16 {
	if v.tag != TagUInt16 {
		panic("Value.UInt16: not a uint16")
	}
	return uint16(v.bits)
}

// UInt32 returns v as a uint32.
// Panics if v is not a uint32.
func (v Value) UInt32() uint32 {
	if v.tag != TagUInt32 {
		panic("Value.UInt32: not a uint32")
	}
	return uint32(v.bits)
}

// UInt64 returns v as a uint64.
// Panics if v is not a uint64.
func (v Value) UInt64() uint64 {
	if v.tag != TagUInt64 {
		panic("Value.UInt64: not a uint64")
	}
	return v.bits
}

// Float32 returns v as a float32.
// Panics if v is not a float32.
func (v Value) Float32() float32 {
	if v.tag != TagFloat32 {
		panic("Value.Float32: not a float32")
	}
	return math.Float32frombits(uint32(v.bits))
}

// Float64 returns v as a float64.
// Panics if v is not a float64.
func (v Value) Float64() float64 {
	if v.tag != TagFloat64 {
		panic("Value.Float64: not a float64")
	}
	return math.Float64frombits(v.bits)
}

// TypeRef returns the referenced type descriptor.
// Panics if v is not a type reference.
func (v Value) TypeRef() *Type {
	if v.tag != TagType {
		panic("Value.TypeRef: not a type")
	}
	return v.typ
}

// Handle returns the referenced heap handle.
// Panics if v is not an object reference.
func (v Value) Handle() Handle {
	if v.tag != TagObject {
		panic("Value.Handle: not an object")
	}
	return unpackHandle(v.bits)
}

// ---------------------------------------------------------------------------
// Widening helpers
// ---------------------------------------------------------------------------

// AsInt64 returns any signed integer widened to int64.
func (v Value) AsInt64() (int64, bool) {
	if !v.tag.IsSigned() {
		return 0, false
	}
	return int64(v.bits), true
}

// AsUInt64 returns any unsigned integer widened to uint64.
func (v Value) AsUInt64() (uint64, bool) {
	if !v.tag.IsUnsigned() {
		return 0, false
	}
	return v.bits, true
}

// AsFloat64 returns any float widened to float64.
func (v Value) AsFloat64() (float64, bool) {
	switch v.tag {
	case TagFloat32:
		return float64(math.Float32frombits(uint32(v.bits))), true
	case TagFloat64:
		return math.Float64frombits(v.bits), true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// Identical reports whether a and b carry the same tag and payload.
// Object references are identical when they name the same heap slot and
// generation; type references when they name the same descriptor.
func Identical(a, b Value) bool {
	return a.tag == b.tag && a.bits == b.bits && a.typ == b.typ
}

// ---------------------------------------------------------------------------
// Debugging
// ---------------------------------------------------------------------------

// String renders v for disassembly and diagnostics.
func (v Value) String() string {
	switch {
	case v.tag == TagVoid:
		return "void"
	case v.tag == TagBool:
		if v.bits != 0 {
			return "true"
		}
		return "false"
	case v.tag.IsSigned():
		return fmt.Sprintf("%s %d", v.tag, int64(v.bits))
	case v.tag.IsUnsigned():
		return fmt.Sprintf("%s %d", v.tag, v.bits)
	case v.tag.IsFloat():
		f, _ := v.AsFloat64()
		return fmt.Sprintf("%s %g", v.tag, f)
	case v.tag == TagType:
		return "type " + v.typ.Name()
	case v.tag == TagObject:
		return "object " + v.Handle().String()
	}
	return v.tag.String()
}
