package vm

import (
	"errors"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Context: value stack, status and jump targets
// ---------------------------------------------------------------------------

// Context is one thread of execution over a runtime. It carries the value
// stack used by the calling convention, the status of the last failure and
// the stack of jump targets that bound failures.
//
// Values on the stack are borrowed: the stack itself owns no locks.
// A Context is not safe for concurrent use.
type Context struct {
	rt       *Runtime
	id       uuid.UUID
	status   Status
	err      error
	stack    []Value
	maxStack int
	targets  []JumpTarget
	poisoned bool
}

// JumpTarget is a recovery point recorded by PushJumpTarget.
type JumpTarget struct {
	Height int // value stack height when the target was pushed
	Depth  int // index in the target stack
}

func newContext(rt *Runtime, maxStack int) *Context {
	return &Context{
		rt:       rt,
		id:       uuid.New(),
		stack:    make([]Value, 0, 64),
		maxStack: maxStack,
	}
}

// ID returns the context's unique id.
func (c *Context) ID() uuid.UUID { return c.id }

// Runtime returns the runtime the context executes on.
func (c *Context) Runtime() *Runtime { return c.rt }

// Heap returns the runtime's heap.
func (c *Context) Heap() *Heap { return c.rt.Heap }

// Status returns the status of the most recent failure, or Success.
func (c *Context) Status() Status { return c.status }

// Err returns the most recent failure, or nil.
func (c *Context) Err() error { return c.err }

// Poisoned reports whether the context observed a stack corruption. No
// further calls are dispatched on a poisoned context.
func (c *Context) Poisoned() bool { return c.poisoned }

// ClearStatus resets the status to Success. A poisoned context stays
// poisoned.
func (c *Context) ClearStatus() {
	if c.poisoned {
		return
	}
	c.status = Success
	c.err = nil
}

// Fail records a failure with the given status and returns it.
func (c *Context) Fail(s Status, format string, args ...any) error {
	return c.SetStatus(newError(s, format, args...))
}

// SetStatus records err as the context's status and returns it unchanged.
// A nil error is a no-op. A poisoned context keeps its StackCorruption
// status.
func (c *Context) SetStatus(err error) error {
	if err == nil || c.poisoned {
		return err
	}
	c.status = StatusOf(err)
	c.err = err
	if c.status.Fatal() {
		c.poison(err)
	}
	return err
}

func (c *Context) poison(err error) {
	if !c.poisoned {
		log.Errorf("context %s poisoned: %s", c.id, err)
	}
	c.poisoned = true
	c.status = StackCorruption
	c.err = err
}

// ---------------------------------------------------------------------------
// Value stack
// ---------------------------------------------------------------------------

// Height returns the number of values on the stack.
func (c *Context) Height() int { return len(c.stack) }

// Push pushes values onto the stack. Exceeding the stack limit fails
// AllocationFailed and pushes nothing.
func (c *Context) Push(vs ...Value) error {
	if c.maxStack > 0 && len(c.stack)+len(vs) > c.maxStack {
		return c.Fail(AllocationFailed, "value stack overflow (limit %d)", c.maxStack)
	}
	c.stack = append(c.stack, vs...)
	return nil
}

// Pop removes and returns the top value.
func (c *Context) Pop() (Value, error) {
	n := len(c.stack)
	if n == 0 {
		return Void, c.Fail(StackCorruption, "pop from empty value stack")
	}
	v := c.stack[n-1]
	c.stack[n-1] = Void
	c.stack = c.stack[:n-1]
	return v, nil
}

// PopN removes the top n values and returns them, deepest first.
func (c *Context) PopN(n int) ([]Value, error) {
	if n < 0 || n > len(c.stack) {
		return nil, c.Fail(StackCorruption, "pop of %d values with %d on the stack", n, len(c.stack))
	}
	base := len(c.stack) - n
	out := make([]Value, n)
	copy(out, c.stack[base:])
	c.truncate(base)
	return out, nil
}

// Peek returns the value depth slots below the top (0 is the top).
func (c *Context) Peek(depth int) (Value, error) {
	idx := len(c.stack) - 1 - depth
	if depth < 0 || idx < 0 {
		return Void, c.Fail(StackCorruption, "peek at depth %d with %d on the stack", depth, len(c.stack))
	}
	return c.stack[idx], nil
}

// Arg returns argument i (0 is the first, deepest) of the argc arguments
// at the top of the stack.
func (c *Context) Arg(argc, i int) Value {
	return c.stack[len(c.stack)-argc+i]
}

// Drop discards the top n values.
func (c *Context) Drop(n int) error {
	if n < 0 || n > len(c.stack) {
		return c.Fail(StackCorruption, "drop of %d values with %d on the stack", n, len(c.stack))
	}
	c.truncate(len(c.stack) - n)
	return nil
}

// Return replaces the argc arguments at the top of the stack with results.
// It is the usual last statement of an OpFunc.
func (c *Context) Return(argc int, results ...Value) error {
	if err := c.Drop(argc); err != nil {
		return err
	}
	return c.Push(results...)
}

func (c *Context) truncate(height int) {
	if height < 0 || height >= len(c.stack) {
		return
	}
	clear(c.stack[height:])
	c.stack = c.stack[:height]
}

// ---------------------------------------------------------------------------
// Calling convention
// ---------------------------------------------------------------------------

// Call invokes fn with the argc arguments already on the stack. On success
// the stack must hold exactly results values in place of the arguments;
// any other height is a stack corruption, which poisons the context. On
// failure the arguments are discarded and the error is returned.
func (c *Context) Call(fn OpFunc, argc, results int) error {
	if c.poisoned {
		return c.err
	}
	base := len(c.stack) - argc
	if argc < 0 || base < 0 {
		return c.Fail(NumberOfArgumentsInvalid, "call with %d arguments and %d on the stack", argc, len(c.stack))
	}
	if fn == nil {
		c.truncate(base)
		return c.Fail(ArgumentValueInvalid, "call of nil operation")
	}
	err := fn(c, argc)
	return c.settle(base, results, err)
}

// callConstruct applies the calling convention to a constructor, which
// leaves no results.
func (c *Context) callConstruct(fn ConstructFunc, obj *Object, argc int) error {
	if c.poisoned {
		return c.err
	}
	base := len(c.stack) - argc
	if argc < 0 || base < 0 {
		return c.Fail(NumberOfArgumentsInvalid, "construct with %d arguments and %d on the stack", argc, len(c.stack))
	}
	err := fn(c, obj, argc)
	return c.settle(base, 0, err)
}

func (c *Context) settle(base, results int, err error) error {
	if c.poisoned {
		return c.err
	}
	if err != nil {
		if len(c.stack) < base {
			return c.Fail(StackCorruption, "failed call consumed %d values below its arguments", base-len(c.stack))
		}
		c.truncate(base)
		return c.SetStatus(err)
	}
	if want := base + results; len(c.stack) != want {
		return c.Fail(StackCorruption, "stack height %d after call, want %d", len(c.stack), want)
	}
	return nil
}

// Invoke pushes args, calls fn and pops its results.
func (c *Context) Invoke(fn OpFunc, args []Value, results int) ([]Value, error) {
	if err := c.Push(args...); err != nil {
		return nil, err
	}
	if err := c.Call(fn, len(args), results); err != nil {
		return nil, err
	}
	return c.PopN(results)
}

// ---------------------------------------------------------------------------
// Jump targets
// ---------------------------------------------------------------------------

// PushJumpTarget records the current stack height as a recovery point.
func (c *Context) PushJumpTarget() JumpTarget {
	t := JumpTarget{Height: len(c.stack), Depth: len(c.targets)}
	c.targets = append(c.targets, t)
	return t
}

// PopJumpTarget removes the innermost recovery point.
func (c *Context) PopJumpTarget() (JumpTarget, error) {
	n := len(c.targets)
	if n == 0 {
		return JumpTarget{}, c.Fail(OperationInvalid, "pop of empty jump target stack")
	}
	t := c.targets[n-1]
	c.targets = c.targets[:n-1]
	return t, nil
}

// JumpTargets returns the number of active recovery points.
func (c *Context) JumpTargets() int { return len(c.targets) }

// Jump records err and unwinds the value stack to the innermost recovery
// point, discarding everything pushed since. It returns err, or a stack
// corruption if the stack already shrank below the recovery point. Without
// a recovery point the error is only recorded.
func (c *Context) Jump(err error) error {
	if err == nil {
		return nil
	}
	c.SetStatus(err)
	n := len(c.targets)
	if n == 0 {
		return err
	}
	t := c.targets[n-1]
	if len(c.stack) < t.Height {
		return c.Fail(StackCorruption, "value stack at %d below jump target at %d", len(c.stack), t.Height)
	}
	c.truncate(t.Height)
	return err
}

// Guard runs fn inside its own recovery point. A failure of fn unwinds the
// stack to the height at entry and is returned; the status stays recorded.
func (c *Context) Guard(fn func() error) error {
	t := c.PushJumpTarget()
	err := fn()
	if err != nil {
		err = c.Jump(err)
	}
	if len(c.targets) > t.Depth {
		c.targets = c.targets[:t.Depth]
	} else if !errors.Is(err, ErrStackCorruption) {
		err = c.Fail(StackCorruption, "jump target %d popped inside its guard", t.Depth)
	}
	return err
}
