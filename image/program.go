// Package image implements the portable program format for ember. A
// program image is a set of bytecode functions with their constant pools,
// encoded as canonical CBOR so that equal programs hash equally.
package image

import (
	"github.com/chazu/ember/vm"
)

// FormatVersion is the image format understood by this package.
const FormatVersion = 1

// Program is the serialized form of a vm.Program.
type Program struct {
	Version   uint8      `cbor:"1,keyasint"`
	Name      string     `cbor:"2,keyasint"`
	Entry     int        `cbor:"3,keyasint"`
	Functions []Function `cbor:"4,keyasint"`
}

// Function is the serialized form of a vm.Function.
type Function struct {
	Name      string     `cbor:"1,keyasint"`
	Registers int        `cbor:"2,keyasint"`
	Params    int        `cbor:"3,keyasint"`
	Constants []Constant `cbor:"4,keyasint,omitempty"`
	Code      []byte     `cbor:"5,keyasint"`
}

// Constant is a constant pool entry. Scalars carry their raw payload;
// type constants carry the registered type name and are resolved at load
// time.
type Constant struct {
	Tag  vm.Tag `cbor:"1,keyasint"`
	Bits uint64 `cbor:"2,keyasint,omitempty"`
	Type string `cbor:"3,keyasint,omitempty"`
}

// FunctionIndex returns the index of the function named name.
func (p *Program) FunctionIndex(name string) (int, bool) {
	for i := range p.Functions {
		if p.Functions[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// String renders c the way the assembler source spells it.
func (c Constant) String() string {
	if c.Tag == vm.TagType {
		return "type " + c.Type
	}
	v, ok := vm.FromBits(c.Tag, c.Bits)
	if !ok {
		return c.Tag.String()
	}
	return v.String()
}
