package image

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/ember/vm"
	"gopkg.in/yaml.v3"
)

// Source is the YAML program source built into an image.
type Source struct {
	Name      string           `yaml:"name"`
	Entry     string           `yaml:"entry,omitempty"`
	Functions []SourceFunction `yaml:"functions"`
}

// SourceFunction is one function of a program source. Registers defaults
// to the number of registers the code uses.
type SourceFunction struct {
	Name      string   `yaml:"name"`
	Registers int      `yaml:"registers,omitempty"`
	Params    int      `yaml:"params,omitempty"`
	Constants []string `yaml:"constants,omitempty"`
	Code      string   `yaml:"code"`
}

// ParseSource parses a YAML program source.
func ParseSource(data []byte) (*Source, error) {
	var s Source
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("program source has no name")
	}
	return &s, nil
}

// Build assembles every function and returns the program image. The entry
// function defaults to the first one.
func (s *Source) Build() (*Program, error) {
	names := make(map[string]int, len(s.Functions))
	for i, f := range s.Functions {
		if f.Name == "" {
			return nil, fmt.Errorf("%s: function %d has no name", s.Name, i)
		}
		if _, dup := names[f.Name]; dup {
			return nil, fmt.Errorf("%s: function %s defined twice", s.Name, f.Name)
		}
		names[f.Name] = i
	}

	p := &Program{Version: FormatVersion, Name: s.Name}
	if s.Entry != "" {
		i, ok := names[s.Entry]
		if !ok {
			return nil, fmt.Errorf("%s: entry function %s not defined", s.Name, s.Entry)
		}
		p.Entry = i
	}

	for _, f := range s.Functions {
		fn, err := buildFunction(f, names)
		if err != nil {
			return nil, fmt.Errorf("%s: function %s: %w", s.Name, f.Name, err)
		}
		p.Functions = append(p.Functions, fn)
	}
	return p, nil
}

func buildFunction(f SourceFunction, names map[string]int) (Function, error) {
	fn := Function{Name: f.Name, Registers: f.Registers, Params: f.Params}
	for i, text := range f.Constants {
		c, err := ParseConstant(text)
		if err != nil {
			return fn, fmt.Errorf("constant k%d: %w", i, err)
		}
		fn.Constants = append(fn.Constants, c)
	}

	a := Assembler{Functions: names}
	b := vm.NewBytecodeBuilder()
	if err := a.Assemble(f.Code, b); err != nil {
		return fn, err
	}
	fn.Code = b.Bytes()
	if fn.Registers == 0 {
		fn.Registers = max(a.Registers(), f.Params)
	}
	return fn, nil
}

// ParseConstant parses a constant written as "<tag> <value>", "true",
// "false", "void" or "type <name>".
func ParseConstant(text string) (Constant, error) {
	fields := strings.Fields(text)
	switch len(fields) {
	case 1:
		switch fields[0] {
		case "void":
			return Constant{Tag: vm.TagVoid}, nil
		case "true":
			return constantOf(vm.FromBool(true))
		case "false":
			return constantOf(vm.FromBool(false))
		}
	case 2:
		tag, ok := vm.ParseTag(fields[0])
		if !ok {
			break
		}
		v, err := parseScalar(tag, fields[1])
		if err != nil {
			return Constant{}, err
		}
		if tag == vm.TagType {
			return Constant{Tag: vm.TagType, Type: fields[1]}, nil
		}
		return constantOf(v)
	}
	return Constant{}, fmt.Errorf("cannot parse constant %q", text)
}

func parseScalar(tag vm.Tag, s string) (vm.Value, error) {
	switch {
	case tag == vm.TagType:
		return vm.Void, nil
	case tag == vm.TagBool:
		b, err := strconv.ParseBool(s)
		return vm.FromBool(b), err
	case tag.IsSigned():
		n, err := strconv.ParseInt(s, 0, intBits[tag])
		if err != nil {
			return vm.Void, fmt.Errorf("%s %s: %w", tag, s, err)
		}
		v, _ := vm.FromBits(tag, uint64(n))
		return v, nil
	case tag.IsUnsigned():
		n, err := strconv.ParseUint(s, 0, intBits[tag])
		if err != nil {
			return vm.Void, fmt.Errorf("%s %s: %w", tag, s, err)
		}
		v, _ := vm.FromBits(tag, n)
		return v, nil
	case tag == vm.TagFloat32:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return vm.Void, fmt.Errorf("%s %s: %w", tag, s, err)
		}
		return vm.FromFloat32(float32(f)), nil
	case tag == vm.TagFloat64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return vm.Void, fmt.Errorf("%s %s: %w", tag, s, err)
		}
		return vm.FromFloat64(f), nil
	}
	return vm.Void, fmt.Errorf("%s values cannot be constants", tag)
}

// intBits maps integer tags to their width for strconv.
var intBits = map[vm.Tag]int{
	vm.TagInt8: 8, vm.TagInt16: 16, vm.TagInt32: 32, vm.TagInt64: 64,
	vm.TagUInt8: 8, vm.TagUInt16: 16, vm.TagUInt32: 32, vm.TagUInt64: 64,
}
