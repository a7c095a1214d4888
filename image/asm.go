package image

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/chazu/ember/vm"
)

// SyntaxError reports an assembler error at a source line.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Assembler translates assembly text into bytecode. One instruction per
// line; ';' starts a comment; "name:" defines a label. Operands are rN
// registers, kN constants and #N counts. Jumps name labels. Calls name a
// function, either fnN or a name from Functions.
type Assembler struct {
	Functions map[string]int

	registers int
	labels    map[string]*asmLabel
}

type asmLabel struct {
	label   *vm.Label
	defined bool
	usedAt  int
}

// Assemble assembles text into b with no named functions.
func Assemble(text string, b *vm.BytecodeBuilder) error {
	var a Assembler
	return a.Assemble(text, b)
}

// Registers returns the register file size the last assembled text needs.
func (a *Assembler) Registers() int { return a.registers }

// Assemble assembles text into b.
func (a *Assembler) Assemble(text string, b *vm.BytecodeBuilder) error {
	a.registers = 0
	a.labels = make(map[string]*asmLabel)

	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		if j := strings.IndexByte(line, ';'); j >= 0 {
			line = line[:j]
		}
		line = strings.TrimSpace(line)
		if j := strings.IndexByte(line, ':'); j > 0 && isIdent(line[:j]) {
			l := a.label(b, line[:j], lineNo)
			if l.defined {
				return &SyntaxError{lineNo, fmt.Sprintf("label %q defined twice", line[:j])}
			}
			l.defined = true
			b.Mark(l.label)
			if err := b.Err(); err != nil {
				return &SyntaxError{lineNo, fmt.Sprintf("label %q: %s", line[:j], jumpRange(err))}
			}
			line = strings.TrimSpace(line[j+1:])
		}
		if line == "" {
			continue
		}
		if err := a.instruction(line, lineNo, b); err != nil {
			return err
		}
		if err := b.Err(); err != nil {
			return &SyntaxError{lineNo, jumpRange(err)}
		}
	}
	for name, l := range a.labels {
		if !l.defined {
			return &SyntaxError{l.usedAt, fmt.Sprintf("undefined label %q", name)}
		}
	}
	return nil
}

func jumpRange(err error) string {
	var e *vm.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func (a *Assembler) label(b *vm.BytecodeBuilder, name string, line int) *asmLabel {
	l, ok := a.labels[name]
	if !ok {
		l = &asmLabel{label: b.NewLabel(), usedAt: line}
		a.labels[name] = l
	}
	return l
}

func (a *Assembler) instruction(line string, lineNo int, b *vm.BytecodeBuilder) error {
	mnemonic, rest := line, ""
	if j := strings.IndexFunc(line, unicode.IsSpace); j >= 0 {
		mnemonic, rest = line[:j], line[j:]
	}
	op, ok := vm.LookupOpcode(mnemonic)
	if !ok {
		return &SyntaxError{lineNo, fmt.Sprintf("unknown instruction %q", mnemonic)}
	}
	info, _ := op.Info()

	var args []string
	if rest = strings.TrimSpace(rest); rest != "" {
		for _, s := range strings.Split(rest, ",") {
			args = append(args, strings.TrimSpace(s))
		}
	}
	if len(args) != len(info.Layout) {
		return &SyntaxError{lineNo, fmt.Sprintf("%s takes %d operands, got %d", info.Name, len(info.Layout), len(args))}
	}

	var (
		operands []vm.Operand
		first    uint16
		count    uint8
		fn       uint16
		target   *vm.Label
	)
	for i, letter := range info.Layout {
		s := args[i]
		var err error
		switch letter {
		case 'D', 'S':
			var o vm.Operand
			o, err = parseOperand(s)
			if err == nil {
				if o.Kind == vm.OperandRegister {
					a.use(int(o.Index) + 1)
				}
				operands = append(operands, o)
			}
		case 'R':
			first, err = parseIndex(s, "r")
		case 'n':
			var n uint64
			if !strings.HasPrefix(s, "#") {
				err = fmt.Errorf("count %q must look like #N", s)
				break
			}
			n, err = strconv.ParseUint(s[1:], 10, 8)
			count = uint8(n)
			a.use(int(first) + int(count))
		case 'f':
			fn, err = a.function(s)
		case 'j':
			if !isIdent(s) {
				err = fmt.Errorf("jump target %q is not a label", s)
				break
			}
			target = a.label(b, s, lineNo).label
		}
		if err != nil {
			return &SyntaxError{lineNo, err.Error()}
		}
	}

	switch op {
	case vm.OpNew:
		b.EmitNew(operands[0], operands[1], first, count)
	case vm.OpCall:
		b.EmitCall(operands[0], fn, first, count)
	case vm.OpJump:
		b.EmitJump(target)
	case vm.OpJumpTrue, vm.OpJumpFalse:
		b.EmitBranch(op, operands[0], target)
	default:
		b.Emit(op, operands...)
	}
	return nil
}

func (a *Assembler) use(n int) {
	if n > a.registers {
		a.registers = n
	}
}

func (a *Assembler) function(s string) (uint16, error) {
	if i, ok := a.Functions[s]; ok {
		return uint16(i), nil
	}
	if strings.HasPrefix(s, "fn") {
		if i, err := strconv.ParseUint(s[2:], 10, 16); err == nil {
			return uint16(i), nil
		}
	}
	return 0, fmt.Errorf("unknown function %q", s)
}

func parseOperand(s string) (vm.Operand, error) {
	switch {
	case strings.HasPrefix(s, "r"):
		i, err := parseIndex(s, "r")
		return vm.Reg(i), err
	case strings.HasPrefix(s, "k"):
		i, err := parseIndex(s, "k")
		return vm.Const(i), err
	}
	return vm.Operand{}, fmt.Errorf("operand %q must be a register or constant", s)
}

func parseIndex(s, prefix string) (uint16, error) {
	if !strings.HasPrefix(s, prefix) {
		return 0, fmt.Errorf("operand %q must look like %sN", s, prefix)
	}
	i, err := strconv.ParseUint(s[len(prefix):], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("operand %q: bad index", s)
	}
	return uint16(i), nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || c == '.':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
