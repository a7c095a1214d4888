package image

import (
	"fmt"

	"github.com/chazu/ember/vm"
)

// maxRegisters is the largest register file an operand can address.
const maxRegisters = 1 << 16

// Load resolves a program image against a type registry. Type constants
// are looked up by name and every function is verified before any of it
// runs.
func Load(reg *vm.Registry, p *Program) (*vm.Program, error) {
	out := &vm.Program{
		Name:      p.Name,
		Entry:     p.Entry,
		Functions: make([]*vm.Function, len(p.Functions)),
	}
	if len(p.Functions) > 0 && (p.Entry < 0 || p.Entry >= len(p.Functions)) {
		return nil, fmt.Errorf("program %s: entry %d out of range (%d functions)", p.Name, p.Entry, len(p.Functions))
	}
	for i := range p.Functions {
		fn, err := loadFunction(reg, &p.Functions[i])
		if err != nil {
			return nil, fmt.Errorf("program %s: %w", p.Name, err)
		}
		out.Functions[i] = fn
	}
	for _, fn := range out.Functions {
		if err := Verify(fn, len(out.Functions)); err != nil {
			return nil, fmt.Errorf("program %s: %w", p.Name, err)
		}
	}
	return out, nil
}

func loadFunction(reg *vm.Registry, f *Function) (*vm.Function, error) {
	if f.Registers < 0 || f.Registers > maxRegisters {
		return nil, fmt.Errorf("function %s: invalid register count %d", f.Name, f.Registers)
	}
	if f.Params < 0 || f.Params > f.Registers {
		return nil, fmt.Errorf("function %s: %d parameters do not fit %d registers", f.Name, f.Params, f.Registers)
	}
	consts := make([]vm.Value, len(f.Constants))
	for i, c := range f.Constants {
		v, err := resolveConstant(reg, c)
		if err != nil {
			return nil, fmt.Errorf("function %s: constant k%d: %w", f.Name, i, err)
		}
		consts[i] = v
	}
	return &vm.Function{
		Name:      f.Name,
		Registers: f.Registers,
		Params:    f.Params,
		Constants: consts,
		Code:      f.Code,
	}, nil
}

func resolveConstant(reg *vm.Registry, c Constant) (vm.Value, error) {
	if c.Tag == vm.TagType {
		t, err := reg.GetType(c.Type)
		if err != nil {
			return vm.Void, err
		}
		return vm.FromType(t), nil
	}
	v, ok := vm.FromBits(c.Tag, c.Bits)
	if !ok {
		return vm.Void, fmt.Errorf("%s values cannot be constants", c.Tag)
	}
	return v, nil
}

// FromProgram converts a loaded program back to its image form. Object
// constants have no image form and are rejected.
func FromProgram(p *vm.Program) (*Program, error) {
	out := &Program{
		Version:   FormatVersion,
		Name:      p.Name,
		Entry:     p.Entry,
		Functions: make([]Function, len(p.Functions)),
	}
	for i, fn := range p.Functions {
		f := Function{
			Name:      fn.Name,
			Registers: fn.Registers,
			Params:    fn.Params,
			Code:      fn.Code,
		}
		for j, v := range fn.Constants {
			c, err := constantOf(v)
			if err != nil {
				return nil, fmt.Errorf("function %s: constant k%d: %w", fn.Name, j, err)
			}
			f.Constants = append(f.Constants, c)
		}
		out.Functions[i] = f
	}
	return out, nil
}

func constantOf(v vm.Value) (Constant, error) {
	switch {
	case v.IsType():
		return Constant{Tag: vm.TagType, Type: v.TypeRef().Name()}, nil
	case v.IsObject():
		return Constant{}, fmt.Errorf("object %s cannot be a constant", v.Handle())
	}
	return Constant{Tag: v.Tag(), Bits: v.Bits()}, nil
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

// Verify checks that fn decodes into whole instructions, that every
// operand addresses an existing register, constant or function, and that
// every jump lands on an instruction boundary or the end of the code.
func Verify(fn *vm.Function, functions int) error {
	r := vm.NewBytecodeReader(fn.Code)
	starts := make(map[int]bool)
	type jump struct{ at, target int }
	var jumps []jump

	for r.HasMore() {
		at := r.Position()
		starts[at] = true
		op := r.ReadOpcode()
		info, ok := op.Info()
		if !ok {
			return fmt.Errorf("function %s: unknown opcode 0x%02X at %04d", fn.Name, byte(op), at)
		}
		var first int
		for _, letter := range info.Layout {
			switch letter {
			case 'D', 'S':
				o := r.ReadOperand()
				if r.Err() != nil {
					break
				}
				if err := checkOperand(fn, o, letter == 'D'); err != nil {
					return fmt.Errorf("function %s: %s at %04d: %w", fn.Name, info.Name, at, err)
				}
			case 'R':
				first = int(r.ReadUint16())
			case 'n':
				if n := int(r.ReadByte()); first+n > fn.Registers {
					return fmt.Errorf("function %s: %s at %04d: registers r%d..r%d out of range", fn.Name, info.Name, at, first, first+n-1)
				}
			case 'f':
				if idx := int(r.ReadUint16()); idx >= functions {
					return fmt.Errorf("function %s: %s at %04d: unknown function fn%d", fn.Name, info.Name, at, idx)
				}
			case 'j':
				off := int(r.ReadInt16())
				jumps = append(jumps, jump{at, r.Position() + off})
			}
		}
		if err := r.Err(); err != nil {
			return fmt.Errorf("function %s: %s at %04d: %w", fn.Name, info.Name, at, err)
		}
	}
	for _, j := range jumps {
		if j.target != len(fn.Code) && !starts[j.target] {
			return fmt.Errorf("function %s: jump at %04d to %04d is not an instruction boundary", fn.Name, j.at, j.target)
		}
	}
	return nil
}

func checkOperand(fn *vm.Function, o vm.Operand, dest bool) error {
	if o.Kind == vm.OperandConstant {
		if dest {
			return fmt.Errorf("destination %s is a constant", o)
		}
		if int(o.Index) >= len(fn.Constants) {
			return fmt.Errorf("constant %s out of range (%d constants)", o, len(fn.Constants))
		}
		return nil
	}
	if int(o.Index) >= fn.Registers {
		return fmt.Errorf("register %s out of range (%d registers)", o, fn.Registers)
	}
	return nil
}
