package vm

import (
	"errors"
	"testing"
)

// node is a test object type holding locked references to other objects.
type node struct {
	refs []Value
}

func newTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	rt := NewRuntime(cfg)
	t.Cleanup(rt.Close)
	return rt
}

// registerNodeType registers "node", a child of the root object type whose
// instances own a list of references. Destructions are appended to
// destroyed when it is non-nil.
func registerNodeType(t *testing.T, rt *Runtime, destroyed *[]Handle) *Type {
	t.Helper()
	ops := &Operations{
		Construct: func(c *Context, obj *Object, argc int) error {
			if argc != 0 {
				return c.Fail(NumberOfArgumentsInvalid, "node takes no arguments")
			}
			obj.SetPayload(&node{})
			return nil
		},
		Destruct: func(h *Heap, obj *Object) {
			n := obj.Payload().(*node)
			for _, r := range n.refs {
				h.Unlock(r)
			}
			n.refs = nil
			if destroyed != nil {
				*destroyed = append(*destroyed, obj.Handle())
			}
		},
		Visit: func(v *Visitor, obj *Object) {
			for _, r := range obj.Payload().(*node).refs {
				v.Visit(r)
			}
		},
	}
	typ, err := rt.Types.RegisterObjectType("node", 0, rt.ObjectType, ops, nil)
	if err != nil {
		t.Fatalf("RegisterObjectType(node): %v", err)
	}
	return typ
}

func allocate(t *testing.T, c *Context, typ *Type) Value {
	t.Helper()
	v, err := c.Heap().Allocate(c, typ, 0)
	if err != nil {
		t.Fatalf("Allocate(%s): %v", typ.Name(), err)
	}
	return v
}

// link makes from own a lock on to.
func link(t *testing.T, h *Heap, from, to Value) {
	t.Helper()
	obj, err := h.Resolve(from)
	if err != nil {
		t.Fatalf("Resolve(%s): %v", from, err)
	}
	if err := h.Lock(to); err != nil {
		t.Fatalf("Lock(%s): %v", to, err)
	}
	n := obj.Payload().(*node)
	n.refs = append(n.refs, to)
	h.ForwardBarrier(from, to)
}

func unlock(t *testing.T, h *Heap, v Value) {
	t.Helper()
	if err := h.Unlock(v); err != nil {
		t.Fatalf("Unlock(%s): %v", v, err)
	}
}

func wantStatus(t *testing.T, err error, want Status) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %s", want)
	}
	if got := StatusOf(err); got != want {
		t.Fatalf("status = %s (%v), want %s", got, err, want)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error %T is not a *Error", err)
	}
}
