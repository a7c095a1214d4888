package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// Opcode is a single bytecode instruction.
type Opcode byte

// Control
const (
	OpIdle Opcode = 0x00 // advance only
	OpHalt Opcode = 0x01 // stop the whole run, result void
	OpMove Opcode = 0x02 // dst <- src
)

// Arithmetic
const (
	OpAdd Opcode = 0x10 + iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
)

// Logic
const (
	OpNot Opcode = 0x20 + iota
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
)

// Comparison and hashing
const (
	OpEq Opcode = 0x30 + iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpHash
)

// Objects
const (
	OpNew Opcode = 0x40 // dst, type, first register, argc
)

// Branching and calls
const (
	OpJump      Opcode = 0x50 + iota // off16
	OpJumpTrue                       // cond, off16
	OpJumpFalse                      // cond, off16
	OpCall                           // dst, fn16, first register, argc
	OpReturn                         // src
)

// Operand layout letters:
//
//	D destination operand (must be a register)
//	S source operand (register or constant)
//	R register index (uint16)
//	j signed 16-bit jump offset, relative to the end of the instruction
//	f function index (uint16)
//	n count (uint8)
const (
	layoutNone   = ""
	layoutDS     = "DS"
	layoutDSS    = "DSS"
	layoutNew    = "DSRn"
	layoutJump   = "j"
	layoutBranch = "Sj"
	layoutCall   = "DfRn"
	layoutS      = "S"
)

// OpcodeInfo describes one opcode.
type OpcodeInfo struct {
	Name   string // assembler mnemonic
	Layout string // operand layout, see the layout letters above
	Slot   Slot   // dispatched operation for arithmetic, logic and comparison
}

// Size returns the encoded size of the instruction in bytes.
func (info OpcodeInfo) Size() int {
	n := 1
	for _, c := range info.Layout {
		n += layoutWidth(c)
	}
	return n
}

func layoutWidth(c rune) int {
	switch c {
	case 'D', 'S':
		return operandSize
	case 'R', 'j', 'f':
		return 2
	case 'n':
		return 1
	}
	return 0
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpIdle: {"idle", layoutNone, 0},
	OpHalt: {"halt", layoutNone, 0},
	OpMove: {"move", layoutDS, 0},

	OpAdd: {"add", layoutDSS, SlotAdd},
	OpSub: {"sub", layoutDSS, SlotSubtract},
	OpMul: {"mul", layoutDSS, SlotMultiply},
	OpDiv: {"div", layoutDSS, SlotDivide},
	OpMod: {"mod", layoutDSS, SlotModulo},
	OpNeg: {"neg", layoutDS, SlotNegate},

	OpNot: {"not", layoutDS, SlotNot},
	OpAnd: {"and", layoutDSS, SlotAnd},
	OpOr:  {"or", layoutDSS, SlotOr},
	OpXor: {"xor", layoutDSS, SlotXor},
	OpShl: {"shl", layoutDSS, SlotShiftLeft},
	OpShr: {"shr", layoutDSS, SlotShiftRight},

	OpEq:   {"eq", layoutDSS, SlotEqual},
	OpNe:   {"ne", layoutDSS, SlotEqual},
	OpLt:   {"lt", layoutDSS, SlotCompare},
	OpLe:   {"le", layoutDSS, SlotCompare},
	OpGt:   {"gt", layoutDSS, SlotCompare},
	OpGe:   {"ge", layoutDSS, SlotCompare},
	OpHash: {"hash", layoutDS, SlotHash},

	OpNew: {"new", layoutNew, 0},

	OpJump:      {"jmp", layoutJump, 0},
	OpJumpTrue:  {"jt", layoutBranch, 0},
	OpJumpFalse: {"jf", layoutBranch, 0},
	OpCall:      {"call", layoutCall, 0},
	OpReturn:    {"ret", layoutS, 0},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns information about an opcode.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

// Name returns the mnemonic of an opcode.
func (op Opcode) Name() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("unknown(0x%02X)", byte(op))
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// LookupOpcode returns the opcode with the given mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[strings.ToLower(name)]
	return op, ok
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// OperandKind says where an operand's value lives.
type OperandKind byte

const (
	OperandRegister OperandKind = 0
	OperandConstant OperandKind = 1
)

// operandSize is the encoded size of an operand: kind byte plus a
// little-endian uint16 index.
const operandSize = 3

// Operand is a decoded register or constant reference.
type Operand struct {
	Kind  OperandKind
	Index uint16
}

// Reg returns a register operand.
func Reg(i uint16) Operand { return Operand{OperandRegister, i} }

// Const returns a constant operand.
func Const(i uint16) Operand { return Operand{OperandConstant, i} }

// String implements the Stringer interface.
func (o Operand) String() string {
	switch o.Kind {
	case OperandRegister:
		return fmt.Sprintf("r%d", o.Index)
	case OperandConstant:
		return fmt.Sprintf("k%d", o.Index)
	}
	return fmt.Sprintf("?%d:%d", byte(o.Kind), o.Index)
}

// ---------------------------------------------------------------------------
// Bytecode builder
// ---------------------------------------------------------------------------

// BytecodeBuilder assembles instructions.
type BytecodeBuilder struct {
	bytes []byte
	err   error
}

// NewBytecodeBuilder creates an empty builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the assembled code.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Err returns the first jump whose distance did not fit in 16 bits, or
// nil. The offending offset is left zeroed in the code.
func (b *BytecodeBuilder) Err() error {
	return b.err
}

// Len returns the current code length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit emits an instruction whose layout consists only of operands
// (D and S letters). Panics on a layout mismatch.
func (b *BytecodeBuilder) Emit(op Opcode, operands ...Operand) {
	info, ok := op.Info()
	if !ok {
		panic(fmt.Sprintf("Emit: unknown opcode 0x%02X", byte(op)))
	}
	if strings.Trim(info.Layout, "DS") != "" || len(info.Layout) != len(operands) {
		panic(fmt.Sprintf("Emit: %s has layout %q, got %d operands", info.Name, info.Layout, len(operands)))
	}
	b.bytes = append(b.bytes, byte(op))
	for _, o := range operands {
		b.emitOperand(o)
	}
}

func (b *BytecodeBuilder) emitOperand(o Operand) {
	b.bytes = append(b.bytes, byte(o.Kind))
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, o.Index)
}

// EmitNew emits new dst, type, first, argc.
func (b *BytecodeBuilder) EmitNew(dst, typ Operand, first uint16, argc uint8) {
	b.bytes = append(b.bytes, byte(OpNew))
	b.emitOperand(dst)
	b.emitOperand(typ)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, first)
	b.bytes = append(b.bytes, argc)
}

// EmitCall emits call dst, fn, first, argc.
func (b *BytecodeBuilder) EmitCall(dst Operand, fn, first uint16, argc uint8) {
	b.bytes = append(b.bytes, byte(OpCall))
	b.emitOperand(dst)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, fn)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, first)
	b.bytes = append(b.bytes, argc)
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a jump target that may not be placed yet.
type Label struct {
	resolved bool
	position int   // target position once resolved
	refs     []int // positions of offsets waiting for the target
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		b.putOffset(ref, label.position-(ref+2)) // offset from after the operand
	}
	label.refs = nil
}

// Resolved reports whether the label has been marked.
func (l *Label) Resolved() bool { return l.resolved }

// EmitJump emits jmp to label.
func (b *BytecodeBuilder) EmitJump(label *Label) {
	b.bytes = append(b.bytes, byte(OpJump))
	b.emitOffset(label)
}

// EmitBranch emits jt or jf on cond to label.
func (b *BytecodeBuilder) EmitBranch(op Opcode, cond Operand, label *Label) {
	if op != OpJumpTrue && op != OpJumpFalse {
		panic("EmitBranch: " + op.Name() + " is not a conditional jump")
	}
	b.bytes = append(b.bytes, byte(op))
	b.emitOperand(cond)
	b.emitOffset(label)
}

func (b *BytecodeBuilder) emitOffset(label *Label) {
	at := len(b.bytes)
	b.bytes = append(b.bytes, 0, 0)
	if label.resolved {
		b.putOffset(at, label.position-(at+2))
		return
	}
	label.refs = append(label.refs, at)
}

func (b *BytecodeBuilder) putOffset(at, offset int) {
	if offset < math.MinInt16 || offset > math.MaxInt16 {
		if b.err == nil {
			b.err = newError(ArgumentValueInvalid, "jump at %d: offset %d does not fit in 16 bits", at, offset)
		}
		return
	}
	binary.LittleEndian.PutUint16(b.bytes[at:], uint16(int16(offset)))
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader decodes instructions. Reading past the end yields zero
// values and records an error available from Err.
type BytecodeReader struct {
	bytes []byte
	pos   int
	err   error
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Err returns the first decoding error.
func (r *BytecodeReader) Err() error {
	return r.err
}

func (r *BytecodeReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.bytes) {
		r.err = newError(SemanticalError, "bytecode underflow at %d", r.pos)
		return false
	}
	return true
}

// ReadOpcode reads the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	return Opcode(r.ReadByte())
}

// ReadByte reads a single byte.
func (r *BytecodeReader) ReadByte() byte {
	if !r.need(1) {
		return 0
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadUint16 reads a little-endian uint16.
func (r *BytecodeReader) ReadUint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt16 reads a little-endian int16.
func (r *BytecodeReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// ReadOperand reads a kind byte and a 16-bit index.
func (r *BytecodeReader) ReadOperand() Operand {
	kind := OperandKind(r.ReadByte())
	idx := r.ReadUint16()
	if r.err == nil && kind != OperandRegister && kind != OperandConstant {
		r.err = newError(SemanticalError, "invalid operand kind %d at %d", kind, r.pos-operandSize)
	}
	return Operand{Kind: kind, Index: idx}
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles the instruction at the reader's
// position and advances past it.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info, ok := op.Info()
	if !ok {
		return fmt.Sprintf("%04d  %s", pos, op.Name())
	}

	parts := make([]string, 0, len(info.Layout))
	for _, c := range info.Layout {
		switch c {
		case 'D', 'S':
			parts = append(parts, r.ReadOperand().String())
		case 'R':
			parts = append(parts, fmt.Sprintf("r%d", r.ReadUint16()))
		case 'f':
			parts = append(parts, fmt.Sprintf("fn%d", r.ReadUint16()))
		case 'n':
			parts = append(parts, fmt.Sprintf("#%d", r.ReadByte()))
		case 'j':
			offset := r.ReadInt16()
			parts = append(parts, fmt.Sprintf("%d (-> %04d)", offset, r.Position()+int(offset)))
		}
	}
	if r.Err() != nil {
		return fmt.Sprintf("%04d  %s <truncated>", pos, info.Name)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
	return fmt.Sprintf("%04d  %s %s", pos, info.Name, strings.Join(parts, ", "))
}

// Disassemble returns a listing of bc, one instruction per line.
func Disassemble(bc []byte) string {
	var sb strings.Builder
	r := NewBytecodeReader(bc)
	for r.HasMore() && r.Err() == nil {
		sb.WriteString(DisassembleInstruction(r))
		sb.WriteByte('\n')
	}
	return sb.String()
}
