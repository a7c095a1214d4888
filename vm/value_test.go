package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Construction and accessors
// ---------------------------------------------------------------------------

func TestScalarRoundTrip(t *testing.T) {
	tests := []struct {
		v    Value
		tag  Tag
		back func(Value) any
		want any
	}{
		{FromBool(true), TagBool, func(v Value) any { return v.Bool() }, true},
		{FromInt8(-128), TagInt8, func(v Value) any { return v.Int8() }, int8(-128)},
		{FromInt16(-300), TagInt16, func(v Value) any { return v.Int16() }, int16(-300)},
		{FromInt32(math.MinInt32), TagInt32, func(v Value) any { return v.Int32() }, int32(math.MinInt32)},
		{FromInt64(math.MaxInt64), TagInt64, func(v Value) any { return v.Int64() }, int64(math.MaxInt64)},
		{FromUInt8(255), TagUInt8, func(v Value) any { return v.UInt8() }, uint8(255)},
		{FromUInt16(65535), TagUInt16, func(v Value) any { return v.UInt16() }, uint16(65535)},
		{FromUInt32(math.MaxUint32), TagUInt32, func(v Value) any { return v.UInt32() }, uint32(math.MaxUint32)},
		{FromUInt64(math.MaxUint64), TagUInt64, func(v Value) any { return v.UInt64() }, uint64(math.MaxUint64)},
		{FromFloat32(1.5), TagFloat32, func(v Value) any { return v.Float32() }, float32(1.5)},
		{FromFloat64(-2.25), TagFloat64, func(v Value) any { return v.Float64() }, -2.25},
	}
	for _, tt := range tests {
		if tt.v.Tag() != tt.tag {
			t.Errorf("%v: tag = %s, want %s", tt.v, tt.v.Tag(), tt.tag)
		}
		if got := tt.back(tt.v); got != tt.want {
			t.Errorf("%s round trip = %v, want %v", tt.tag, got, tt.want)
		}
		if !tt.v.IsScalar() || tt.v.IsObject() || tt.v.IsVoid() {
			t.Errorf("%v: predicates wrong", tt.v)
		}
	}
}

func TestGetterPanicsOnWrongTag(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Int32 of an int64 did not panic")
		}
	}()
	FromInt64(1).Int32()
}

func TestVoid(t *testing.T) {
	if !Void.IsVoid() || Void.IsScalar() {
		t.Error("Void predicates wrong")
	}
	if !FromType(nil).IsVoid() {
		t.Error("FromType(nil) is not void")
	}
	if Void.String() != "void" {
		t.Errorf("Void.String() = %q", Void.String())
	}
}

func TestFromBitsCanonicalizes(t *testing.T) {
	v, ok := FromBits(TagInt8, 0xFFFF_FF80)
	if !ok || v.Int8() != -128 {
		t.Fatalf("FromBits(int8) = %v, %v", v, ok)
	}
	if !Identical(v, FromInt8(-128)) {
		t.Errorf("FromBits result not identical to FromInt8: %x vs %x", v.Bits(), FromInt8(-128).Bits())
	}
	if _, ok := FromBits(TagObject, 1); ok {
		t.Error("FromBits rebuilt an object reference")
	}
	if _, ok := FromBits(TagType, 1); ok {
		t.Error("FromBits rebuilt a type reference")
	}
}

func TestParseTag(t *testing.T) {
	for tag := TagVoid; tag < numTags; tag++ {
		got, ok := ParseTag(tag.String())
		if !ok || got != tag {
			t.Errorf("ParseTag(%q) = %v, %v", tag.String(), got, ok)
		}
	}
	if _, ok := ParseTag("complex128"); ok {
		t.Error("ParseTag accepted an unknown name")
	}
}

func TestWidening(t *testing.T) {
	if n, ok := FromInt16(-7).AsInt64(); !ok || n != -7 {
		t.Errorf("AsInt64 = %d, %v", n, ok)
	}
	if _, ok := FromUInt16(7).AsInt64(); ok {
		t.Error("AsInt64 accepted an unsigned value")
	}
	if f, ok := FromFloat32(0.5).AsFloat64(); !ok || f != 0.5 {
		t.Errorf("AsFloat64 = %v, %v", f, ok)
	}
}

func TestIdentical(t *testing.T) {
	h := Handle{Index: 3, Gen: 1}
	if !Identical(FromHandle(h), FromHandle(h)) {
		t.Error("same handle not identical")
	}
	if Identical(FromHandle(h), FromHandle(Handle{Index: 3, Gen: 2})) {
		t.Error("different generations identical")
	}
	if Identical(FromInt32(1), FromUInt32(1)) {
		t.Error("different tags identical")
	}
	if FromHandle(h).Handle() != h {
		t.Error("handle round trip failed")
	}
}
