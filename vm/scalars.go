package vm

import (
	"cmp"
	"encoding/binary"
	"math"

	"github.com/zeebo/xxh3"
)

// ---------------------------------------------------------------------------
// Built-in scalar operations
// ---------------------------------------------------------------------------

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type float interface {
	~float32 | ~float64
}

// codec converts between a tag's Values and its Go representation.
type codec[T any] struct {
	tag  Tag
	get  func(Value) T
	make func(T) Value
}

var (
	int8Codec    = codec[int8]{TagInt8, Value.Int8, FromInt8}
	int16Codec   = codec[int16]{TagInt16, Value.Int16, FromInt16}
	int32Codec   = codec[int32]{TagInt32, Value.Int32, FromInt32}
	int64Codec   = codec[int64]{TagInt64, Value.Int64, FromInt64}
	uint8Codec   = codec[uint8]{TagUInt8, Value.UInt8, FromUInt8}
	uint16Codec  = codec[uint16]{TagUInt16, Value.UInt16, FromUInt16}
	uint32Codec  = codec[uint32]{TagUInt32, Value.UInt32, FromUInt32}
	uint64Codec  = codec[uint64]{TagUInt64, Value.UInt64, FromUInt64}
	float32Codec = codec[float32]{TagFloat32, Value.Float32, FromFloat32}
	float64Codec = codec[float64]{TagFloat64, Value.Float64, FromFloat64}
	boolCodec    = codec[bool]{TagBool, Value.Bool, FromBool}
)

// operands checks arity and tags of the arguments at the top of the stack.
func operands(c *Context, argc, want int, tag Tag, op string) error {
	if argc != want {
		return c.Fail(NumberOfArgumentsInvalid, "%s: want %d arguments, got %d", op, want, argc)
	}
	for i := 0; i < argc; i++ {
		if got := c.Arg(argc, i).tag; got != tag {
			return c.Fail(ArgumentTypeInvalid, "%s: argument %d is %s, want %s", op, i, got, tag)
		}
	}
	return nil
}

func binaryOp[T any](k codec[T], name string, fn func(c *Context, a, b T) (Value, error)) OpFunc {
	return func(c *Context, argc int) error {
		if err := operands(c, argc, 2, k.tag, name); err != nil {
			return err
		}
		r, err := fn(c, k.get(c.Arg(2, 0)), k.get(c.Arg(2, 1)))
		if err != nil {
			return err
		}
		return c.Return(2, r)
	}
}

func unaryOp[T any](k codec[T], name string, fn func(a T) Value) OpFunc {
	return func(c *Context, argc int) error {
		if err := operands(c, argc, 1, k.tag, name); err != nil {
			return err
		}
		return c.Return(1, fn(k.get(c.Arg(1, 0))))
	}
}

func arith[T any](k codec[T], name string, fn func(a, b T) T) OpFunc {
	return binaryOp(k, name, func(_ *Context, a, b T) (Value, error) {
		return k.make(fn(a, b)), nil
	})
}

// hashBits hashes a tag and payload. Equal scalars have equal bits.
func hashBits(tag Tag, bits uint64) uint64 {
	var buf [9]byte
	buf[0] = byte(tag)
	binary.LittleEndian.PutUint64(buf[1:], bits)
	return xxh3.Hash(buf[:])
}

func hashOp(tag Tag) OpFunc {
	return func(c *Context, argc int) error {
		if err := operands(c, argc, 1, tag, "hash"); err != nil {
			return err
		}
		v := c.Arg(1, 0)
		return c.Return(1, FromUInt64(hashBits(v.tag, v.bits)))
	}
}

func equalOp[T comparable](k codec[T]) OpFunc {
	return binaryOp(k, "equal", func(_ *Context, a, b T) (Value, error) {
		return FromBool(a == b), nil
	})
}

func compareOp[T cmp.Ordered](k codec[T]) OpFunc {
	return binaryOp(k, "compare", func(_ *Context, a, b T) (Value, error) {
		return FromInt32(int32(cmp.Compare(a, b))), nil
	})
}

func integerOps[T integer](k codec[T]) *Operations {
	return &Operations{
		Equal:    equalOp(k),
		Compare:  compareOp(k),
		Hash:     hashOp(k.tag),
		Add:      arith(k, "add", func(a, b T) T { return a + b }),
		Subtract: arith(k, "subtract", func(a, b T) T { return a - b }),
		Multiply: arith(k, "multiply", func(a, b T) T { return a * b }),
		Divide: binaryOp(k, "divide", func(c *Context, a, b T) (Value, error) {
			if b == 0 {
				return Void, c.Fail(ArgumentValueInvalid, "divide: %s division by zero", k.tag)
			}
			return k.make(a / b), nil
		}),
		Modulo: binaryOp(k, "modulo", func(c *Context, a, b T) (Value, error) {
			if b == 0 {
				return Void, c.Fail(ArgumentValueInvalid, "modulo: %s division by zero", k.tag)
			}
			return k.make(a % b), nil
		}),
		Negate: unaryOp(k, "negate", func(a T) Value { return k.make(-a) }),
		Not:    unaryOp(k, "not", func(a T) Value { return k.make(^a) }),
		And:    arith(k, "and", func(a, b T) T { return a & b }),
		Or:     arith(k, "or", func(a, b T) T { return a | b }),
		Xor:    arith(k, "xor", func(a, b T) T { return a ^ b }),
		ShiftLeft: binaryOp(k, "shiftLeft", func(c *Context, a, b T) (Value, error) {
			if b < 0 {
				return Void, c.Fail(ArgumentValueInvalid, "shiftLeft: negative shift count")
			}
			return k.make(a << b), nil
		}),
		ShiftRight: binaryOp(k, "shiftRight", func(c *Context, a, b T) (Value, error) {
			if b < 0 {
				return Void, c.Fail(ArgumentValueInvalid, "shiftRight: negative shift count")
			}
			return k.make(a >> b), nil
		}),
	}
}

func floatOps[T float](k codec[T]) *Operations {
	return &Operations{
		Equal:   equalOp(k),
		Compare: compareOp(k),
		Hash: func(c *Context, argc int) error {
			if err := operands(c, argc, 1, k.tag, "hash"); err != nil {
				return err
			}
			f := float64(k.get(c.Arg(1, 0)))
			if f == 0 {
				f = 0 // -0 hashes like +0
			}
			return c.Return(1, FromUInt64(hashBits(k.tag, math.Float64bits(f))))
		},
		Add:      arith(k, "add", func(a, b T) T { return a + b }),
		Subtract: arith(k, "subtract", func(a, b T) T { return a - b }),
		Multiply: arith(k, "multiply", func(a, b T) T { return a * b }),
		Divide:   arith(k, "divide", func(a, b T) T { return a / b }),
		Modulo: arith(k, "modulo", func(a, b T) T {
			return T(math.Mod(float64(a), float64(b)))
		}),
		Negate: unaryOp(k, "negate", func(a T) Value { return k.make(-a) }),
	}
}

func boolOps() *Operations {
	k := boolCodec
	return &Operations{
		Equal: equalOp(k),
		Compare: binaryOp(k, "compare", func(_ *Context, a, b bool) (Value, error) {
			return FromInt32(int32(cmp.Compare(b2i(a), b2i(b)))), nil
		}),
		Hash: hashOp(TagBool),
		Not:  unaryOp(k, "not", func(a bool) Value { return FromBool(!a) }),
		And:  arith(k, "and", func(a, b bool) bool { return a && b }),
		Or:   arith(k, "or", func(a, b bool) bool { return a || b }),
		Xor:  arith(k, "xor", func(a, b bool) bool { return a != b }),
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func voidOps() *Operations {
	return &Operations{
		Equal: func(c *Context, argc int) error {
			if err := operands(c, argc, 2, TagVoid, "equal"); err != nil {
				return err
			}
			return c.Return(2, FromBool(true))
		},
		Hash: hashOp(TagVoid),
	}
}

func typeOps() *Operations {
	return &Operations{
		Equal: func(c *Context, argc int) error {
			if err := operands(c, argc, 2, TagType, "equal"); err != nil {
				return err
			}
			return c.Return(2, FromBool(c.Arg(2, 0).typ == c.Arg(2, 1).typ))
		},
		Hash: func(c *Context, argc int) error {
			if err := operands(c, argc, 1, TagType, "hash"); err != nil {
				return err
			}
			return c.Return(1, FromUInt64(c.Arg(1, 0).typ.Hash()))
		},
	}
}

// objectOps are the root object type's operations: identity equality and
// an identity hash, inherited by every object type that does not override
// them.
func objectOps() *Operations {
	return &Operations{
		Construct: func(c *Context, obj *Object, argc int) error {
			if argc != 0 {
				return c.Fail(NumberOfArgumentsInvalid, "object: constructor takes no arguments, got %d", argc)
			}
			return nil
		},
		Equal: func(c *Context, argc int) error {
			if err := operands(c, argc, 2, TagObject, "equal"); err != nil {
				return err
			}
			return c.Return(2, FromBool(Identical(c.Arg(2, 0), c.Arg(2, 1))))
		},
		Hash: hashOp(TagObject),
	}
}
