package vm

import "fmt"

// ---------------------------------------------------------------------------
// Programs and functions
// ---------------------------------------------------------------------------

// Function is a unit of register bytecode.
type Function struct {
	Name      string
	Registers int     // register file size
	Params    int     // arguments arrive in r0..r(Params-1)
	Constants []Value // constant pool addressed by k operands
	Code      []byte
}

// Program is a set of functions with a designated entry point. Call
// instructions address functions by index.
type Program struct {
	Name      string
	Entry     int
	Functions []*Function
}

// EntryFunction returns the function execution starts in.
func (p *Program) EntryFunction() (*Function, error) {
	if p.Entry < 0 || p.Entry >= len(p.Functions) {
		return nil, newError(NotExists, "program %q has no entry function %d", p.Name, p.Entry)
	}
	return p.Functions[p.Entry], nil
}

// Function returns the function with the given name and its index.
func (p *Program) Function(name string) (*Function, int, bool) {
	for i, fn := range p.Functions {
		if fn.Name == name {
			return fn, i, true
		}
	}
	return nil, -1, false
}

// ---------------------------------------------------------------------------
// Frame: execution state of one function activation
// ---------------------------------------------------------------------------

// Frame holds a cursor into its function's code and the register file.
// Every register owns one lock on the object it holds.
type Frame struct {
	Function  *Function
	IP        int
	Registers []Value

	returnTo int // caller register receiving the result
}

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

type signal uint8

const (
	sigNone signal = iota
	sigCall
	sigReturn
	sigHalt
)

// Interpreter executes register bytecode on one context.
type Interpreter struct {
	ctx       *Context
	heap      *Heap
	program   *Program
	frames    []*Frame
	maxFrames int

	// Debug enables the per-handler opcode check.
	Debug bool
	// Trace logs every instruction at debug level.
	Trace bool

	sig    signal
	result Value
	steps  uint64
}

// NewInterpreter creates an interpreter running p on c. The program may
// be nil when only single functions are run.
func NewInterpreter(c *Context, p *Program) *Interpreter {
	return &Interpreter{
		ctx:       c,
		heap:      c.Heap(),
		program:   p,
		maxFrames: c.rt.config.MaxFrames,
	}
}

// Context returns the interpreter's execution context.
func (in *Interpreter) Context() *Context { return in.ctx }

// Steps returns the number of instructions executed.
func (in *Interpreter) Steps() uint64 { return in.steps }

// Depth returns the number of active frames.
func (in *Interpreter) Depth() int { return len(in.frames) }

// NewFrame creates a frame for fn with all registers void. The frame is
// not pushed; use it with Step directly or let Run manage frames.
func (in *Interpreter) NewFrame(fn *Function) *Frame {
	return &Frame{
		Function:  fn,
		Registers: make([]Value, fn.Registers),
	}
}

// SetRegister stores a borrowed value in register i, locking it and
// releasing the previous occupant.
func (in *Interpreter) SetRegister(f *Frame, i int, v Value) error {
	if i < 0 || i >= len(f.Registers) {
		return in.ctx.Fail(ArgumentValueInvalid, "register r%d out of range (%d registers)", i, len(f.Registers))
	}
	if err := in.heap.Lock(v); err != nil {
		return in.ctx.SetStatus(err)
	}
	in.adopt(f, i, v)
	return nil
}

// adopt stores a value whose lock is transferred to the register.
func (in *Interpreter) adopt(f *Frame, i int, v Value) {
	old := f.Registers[i]
	f.Registers[i] = v
	if err := in.heap.Unlock(old); err != nil {
		log.Warningf("register r%d released stale %s: %s", i, old, err)
	}
}

// ReleaseFrame unlocks every register of f.
func (in *Interpreter) ReleaseFrame(f *Frame) {
	for i := range f.Registers {
		in.adopt(f, i, Void)
	}
}

// Run executes fn with args in its first registers and returns its
// result, which carries one lock owned by the caller. The run is guarded by
// a jump target: a failure unwinds the frames it entered and restores the
// value stack to its height at entry.
func (in *Interpreter) Run(fn *Function, args ...Value) (Value, error) {
	if in.ctx.poisoned {
		return Void, in.ctx.err
	}
	base := len(in.frames)
	var result Value
	err := in.ctx.Guard(func() error {
		if _, err := in.enter(fn, args); err != nil {
			return err
		}
		var err error
		result, err = in.loop(base)
		return err
	})
	if err != nil {
		in.unwind(base)
		return Void, err
	}
	return result, nil
}

func (in *Interpreter) loop(base int) (Value, error) {
	for len(in.frames) > base {
		top := in.frames[len(in.frames)-1]
		in.sig = sigNone
		if err := in.Step(top); err != nil {
			return Void, err
		}
		switch in.sig {
		case sigReturn:
			result := in.result
			in.result = Void
			in.leave()
			if len(in.frames) == base {
				return result, nil
			}
			in.adopt(in.frames[len(in.frames)-1], top.returnTo, result)
		case sigHalt:
			in.unwind(base)
			return Void, nil
		}
	}
	return Void, nil
}

// RunProgram executes the program's entry function.
func (in *Interpreter) RunProgram(args ...Value) (Value, error) {
	if in.program == nil {
		return Void, in.ctx.Fail(OperationInvalid, "interpreter has no program")
	}
	fn, err := in.program.EntryFunction()
	if err != nil {
		return Void, in.ctx.SetStatus(err)
	}
	return in.Run(fn, args...)
}

func (in *Interpreter) enter(fn *Function, args []Value) (*Frame, error) {
	if len(args) != fn.Params {
		return nil, in.ctx.Fail(NumberOfArgumentsInvalid, "%s takes %d arguments, got %d", fn.Name, fn.Params, len(args))
	}
	if fn.Params > fn.Registers {
		return nil, in.ctx.Fail(SemanticalError, "%s has %d parameters but %d registers", fn.Name, fn.Params, fn.Registers)
	}
	if in.maxFrames > 0 && len(in.frames) >= in.maxFrames {
		return nil, in.ctx.Fail(AllocationFailed, "frame stack overflow (limit %d)", in.maxFrames)
	}
	f := in.NewFrame(fn)
	for i, a := range args {
		if err := in.SetRegister(f, i, a); err != nil {
			in.ReleaseFrame(f)
			return nil, err
		}
	}
	in.frames = append(in.frames, f)
	return f, nil
}

func (in *Interpreter) leave() {
	n := len(in.frames) - 1
	in.ReleaseFrame(in.frames[n])
	in.frames[n] = nil
	in.frames = in.frames[:n]
}

func (in *Interpreter) unwind(base int) {
	for len(in.frames) > base {
		in.leave()
	}
	if err := in.heap.Unlock(in.result); err != nil {
		log.Warningf("unwind released stale %s", in.result)
	}
	in.result = Void
}

// ---------------------------------------------------------------------------
// Instruction execution
// ---------------------------------------------------------------------------

// Step executes the instruction at f's cursor. Running off the end of the
// code returns void. A failed instruction leaves its destination register
// unmodified.
func (in *Interpreter) Step(f *Frame) error {
	if in.ctx.poisoned {
		return in.ctx.err
	}
	code := f.Function.Code
	if f.IP >= len(code) {
		in.result = Void
		in.sig = sigReturn
		return nil
	}
	op := Opcode(code[f.IP])
	info, ok := op.Info()
	if !ok {
		return in.ctx.Fail(SemanticalError, "%s: unknown opcode 0x%02X at %04d", f.Function.Name, byte(op), f.IP)
	}
	if in.Trace {
		r := NewBytecodeReader(code)
		r.Seek(f.IP)
		log.Debugf("%s: %s", f.Function.Name, DisassembleInstruction(r))
	}
	in.steps++

	r := NewBytecodeReader(code)
	r.Seek(f.IP)

	switch op {
	case OpIdle:
		in.begin(f, r, op)
		f.IP = r.Position()
		return nil
	case OpHalt:
		in.begin(f, r, op)
		f.IP = r.Position()
		in.sig = sigHalt
		return nil
	case OpMove:
		return in.execMove(f, r)
	case OpNeg, OpNot, OpHash:
		return in.execUnary(f, r, op, info)
	case OpNew:
		return in.execNew(f, r)
	case OpJump:
		return in.execJump(f, r)
	case OpJumpTrue, OpJumpFalse:
		return in.execBranch(f, r, op)
	case OpCall:
		return in.execCall(f, r)
	case OpReturn:
		return in.execReturn(f, r)
	}
	return in.execBinary(f, r, op, info)
}

// begin checks, in debug mode, that the cursor sits on the opcode the
// handler implements, then advances past it.
func (in *Interpreter) begin(f *Frame, r *BytecodeReader, want Opcode) {
	if in.Debug {
		if got := Opcode(f.Function.Code[r.Position()]); got != want {
			panic(fmt.Sprintf("interpreter: %s handler at %04d found %s", want, r.Position(), got))
		}
	}
	r.ReadOpcode()
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (in *Interpreter) decodeErr(f *Frame, r *BytecodeReader) error {
	if err := r.Err(); err != nil {
		return in.ctx.SetStatus(newError(SemanticalError, "%s: %s", f.Function.Name, err.(*Error).Message))
	}
	return nil
}

func (in *Interpreter) dest(f *Frame, r *BytecodeReader) (int, error) {
	o := r.ReadOperand()
	if err := in.decodeErr(f, r); err != nil {
		return 0, err
	}
	if o.Kind == OperandConstant {
		return 0, in.ctx.Fail(SemanticalError, "%s: destination %s is a constant", f.Function.Name, o)
	}
	if int(o.Index) >= len(f.Registers) {
		return 0, in.ctx.Fail(ArgumentValueInvalid, "%s: register %s out of range (%d registers)", f.Function.Name, o, len(f.Registers))
	}
	return int(o.Index), nil
}

func (in *Interpreter) source(f *Frame, r *BytecodeReader) (Value, error) {
	o := r.ReadOperand()
	if err := in.decodeErr(f, r); err != nil {
		return Void, err
	}
	i := int(o.Index)
	if o.Kind == OperandConstant {
		if i >= len(f.Function.Constants) {
			return Void, in.ctx.Fail(ArgumentValueInvalid, "%s: constant %s out of range (%d constants)", f.Function.Name, o, len(f.Function.Constants))
		}
		return f.Function.Constants[i], nil
	}
	if i >= len(f.Registers) {
		return Void, in.ctx.Fail(ArgumentValueInvalid, "%s: register %s out of range (%d registers)", f.Function.Name, o, len(f.Registers))
	}
	return f.Registers[i], nil
}

// window decodes a first register and count, returning the registers.
func (in *Interpreter) window(f *Frame, r *BytecodeReader) ([]Value, error) {
	first := int(r.ReadUint16())
	argc := int(r.ReadByte())
	if err := in.decodeErr(f, r); err != nil {
		return nil, err
	}
	if first+argc > len(f.Registers) {
		return nil, in.ctx.Fail(ArgumentValueInvalid, "%s: registers r%d..r%d out of range (%d registers)", f.Function.Name, first, first+argc-1, len(f.Registers))
	}
	return f.Registers[first : first+argc], nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (in *Interpreter) execMove(f *Frame, r *BytecodeReader) error {
	in.begin(f, r, OpMove)
	dst, err := in.dest(f, r)
	if err != nil {
		return err
	}
	v, err := in.source(f, r)
	if err != nil {
		return err
	}
	f.IP = r.Position()
	return in.SetRegister(f, dst, v)
}

func (in *Interpreter) execBinary(f *Frame, r *BytecodeReader, op Opcode, info OpcodeInfo) error {
	in.begin(f, r, op)
	dst, err := in.dest(f, r)
	if err != nil {
		return err
	}
	a, err := in.source(f, r)
	if err != nil {
		return err
	}
	b, err := in.source(f, r)
	if err != nil {
		return err
	}
	f.IP = r.Position()

	var result Value
	switch op {
	case OpEq, OpNe:
		eq, err := in.ctx.IsEqualTo(a, b)
		if err != nil {
			return err
		}
		result = FromBool(eq == (op == OpEq))
	case OpLt, OpLe, OpGt, OpGe:
		n, err := in.ctx.Compare(a, b)
		if err != nil {
			return err
		}
		result = FromBool(compareHolds(op, n))
	default:
		result, err = in.dispatch(f, info, a, b)
		if err != nil {
			return err
		}
	}
	in.adopt(f, dst, result)
	return nil
}

func compareHolds(op Opcode, n int) bool {
	switch op {
	case OpLt:
		return n < 0
	case OpLe:
		return n <= 0
	case OpGt:
		return n > 0
	}
	return n >= 0
}

func (in *Interpreter) execUnary(f *Frame, r *BytecodeReader, op Opcode, info OpcodeInfo) error {
	in.begin(f, r, op)
	dst, err := in.dest(f, r)
	if err != nil {
		return err
	}
	a, err := in.source(f, r)
	if err != nil {
		return err
	}
	f.IP = r.Position()

	result, err := in.dispatch(f, info, a)
	if err != nil {
		return err
	}
	in.adopt(f, dst, result)
	return nil
}

// dispatch resolves info's slot on the first operand's type and invokes it.
func (in *Interpreter) dispatch(f *Frame, info OpcodeInfo, args ...Value) (Value, error) {
	fn, t, err := in.ctx.Lookup(args[0], info.Slot)
	if err != nil {
		return Void, err
	}
	if fn == nil {
		return Void, in.ctx.Fail(ArgumentValueInvalid, "%s: type %q has no %s operation", f.Function.Name, t.Name(), info.Slot)
	}
	results, err := in.ctx.Invoke(fn, args, info.Slot.Info().Results)
	if err != nil {
		return Void, err
	}
	return results[0], nil
}

func (in *Interpreter) execNew(f *Frame, r *BytecodeReader) error {
	in.begin(f, r, OpNew)
	dst, err := in.dest(f, r)
	if err != nil {
		return err
	}
	tv, err := in.source(f, r)
	if err != nil {
		return err
	}
	args, err := in.window(f, r)
	if err != nil {
		return err
	}
	f.IP = r.Position()

	if !tv.IsType() {
		return in.ctx.Fail(ArgumentTypeInvalid, "%s: new of %s, want a type", f.Function.Name, tv)
	}
	if err := in.ctx.Push(args...); err != nil {
		return err
	}
	obj, err := in.heap.Allocate(in.ctx, tv.TypeRef(), len(args))
	if err != nil {
		return err
	}
	in.adopt(f, dst, obj)
	return nil
}

func (in *Interpreter) jumpTo(f *Frame, r *BytecodeReader, offset int16) error {
	target := r.Position() + int(offset)
	if target < 0 || target > len(f.Function.Code) {
		return in.ctx.Fail(SemanticalError, "%s: jump to %d outside code of %d bytes", f.Function.Name, target, len(f.Function.Code))
	}
	f.IP = target
	return nil
}

func (in *Interpreter) execJump(f *Frame, r *BytecodeReader) error {
	in.begin(f, r, OpJump)
	offset := r.ReadInt16()
	if err := in.decodeErr(f, r); err != nil {
		return err
	}
	return in.jumpTo(f, r, offset)
}

func (in *Interpreter) execBranch(f *Frame, r *BytecodeReader, op Opcode) error {
	in.begin(f, r, op)
	cond, err := in.source(f, r)
	if err != nil {
		return err
	}
	offset := r.ReadInt16()
	if err := in.decodeErr(f, r); err != nil {
		return err
	}
	if !cond.IsBool() {
		return in.ctx.Fail(ArgumentTypeInvalid, "%s: %s condition is %s, want bool", f.Function.Name, op, cond.tag)
	}
	if cond.Bool() == (op == OpJumpTrue) {
		return in.jumpTo(f, r, offset)
	}
	f.IP = r.Position()
	return nil
}

func (in *Interpreter) execCall(f *Frame, r *BytecodeReader) error {
	in.begin(f, r, OpCall)
	dst, err := in.dest(f, r)
	if err != nil {
		return err
	}
	index := int(r.ReadUint16())
	args, err := in.window(f, r)
	if err != nil {
		return err
	}
	f.IP = r.Position()

	if in.program == nil || index >= len(in.program.Functions) {
		return in.ctx.Fail(ArgumentValueInvalid, "%s: call of unknown function %d", f.Function.Name, index)
	}
	callee, err := in.enter(in.program.Functions[index], args)
	if err != nil {
		return err
	}
	callee.returnTo = dst
	in.sig = sigCall
	return nil
}

func (in *Interpreter) execReturn(f *Frame, r *BytecodeReader) error {
	in.begin(f, r, OpReturn)
	v, err := in.source(f, r)
	if err != nil {
		return err
	}
	f.IP = r.Position()
	if err := in.heap.Lock(v); err != nil {
		return in.ctx.SetStatus(err)
	}
	in.result = v
	in.sig = sigReturn
	return nil
}
