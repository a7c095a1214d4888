package vm

import (
	"fmt"
	"testing"
)

func TestAllocateRejectsBadTypes(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()

	_, err := rt.Heap.Allocate(c, nil, 0)
	wantStatus(t, err, ArgumentValueInvalid)

	_, err = rt.Heap.Allocate(c, rt.ScalarType(TagInt32), 0)
	wantStatus(t, err, ArgumentTypeInvalid)

	if rt.Heap.Live() != 0 {
		t.Errorf("Live() = %d, want 0", rt.Heap.Live())
	}
}

func TestAllocateOverflowFailsBeforeAllocating(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	constructed := false
	huge, err := rt.Types.RegisterObjectType("huge", ^uintptr(0)-1, nil, &Operations{
		Construct: func(c *Context, obj *Object, argc int) error {
			constructed = true
			return nil
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = rt.Heap.Allocate(c, huge, 0)
	wantStatus(t, err, AllocationFailed)
	if constructed || rt.Heap.Live() != 0 || rt.Heap.Bytes() != 0 {
		t.Errorf("overflowing allocation left state: constructed=%v live=%d bytes=%d", constructed, rt.Heap.Live(), rt.Heap.Bytes())
	}
}

func TestAllocateHeapLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHeapBytes = uint64(headerSize) + 64
	rt := newTestRuntime(t, cfg)
	c := rt.NewContext()
	blob, _ := rt.Types.RegisterObjectType("blob", 64, nil, &Operations{Construct: noopConstruct}, nil)

	first, err := rt.Heap.Allocate(c, blob, 0)
	if err != nil {
		t.Fatalf("first allocation: %v", err)
	}
	_, err = rt.Heap.Allocate(c, blob, 0)
	wantStatus(t, err, AllocationFailed)

	unlock(t, rt.Heap, first)
	if _, err := rt.Heap.Allocate(c, blob, 0); err != nil {
		t.Errorf("allocation after release: %v", err)
	}
}

func TestNewObjectHasOneLockAndZeroedData(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	blob, _ := rt.Types.RegisterObjectType("blob", 16, rt.ObjectType, &Operations{Construct: noopConstruct}, nil)

	v := allocate(t, c, blob)
	obj, err := rt.Heap.Resolve(v)
	if err != nil {
		t.Fatal(err)
	}
	if obj.Locks() != 1 {
		t.Errorf("Locks() = %d, want 1", obj.Locks())
	}
	if obj.Type() != blob {
		t.Errorf("Type() = %s, want blob", obj.Type())
	}
	if len(obj.Data()) != 16 {
		t.Errorf("len(Data()) = %d, want 16", len(obj.Data()))
	}
	for _, b := range obj.Data() {
		if b != 0 {
			t.Fatal("instance region not zeroed")
		}
	}
	if rt.RawMemoryType.Locks() != 1 {
		t.Errorf("raw-memory locks = %d after construction, want 1", rt.RawMemoryType.Locks())
	}
	unlock(t, rt.Heap, v)
}

// registerChain registers base <- mid <- leaf. Each constructor runs its
// parent first; events record constructions and destructions together
// with the header type seen by the destructor.
func registerChain(t *testing.T, rt *Runtime, events *[]string, failLeaf bool) (base, mid, leaf *Type) {
	t.Helper()
	level := func(name string, chain bool, fail bool) *Operations {
		return &Operations{
			Construct: func(c *Context, obj *Object, argc int) error {
				if chain {
					if err := c.Heap().ConstructParent(c, obj, 0); err != nil {
						return err
					}
				}
				if fail {
					return c.Fail(ArgumentValueInvalid, "%s refuses", name)
				}
				*events = append(*events, "construct "+name)
				return nil
			},
			Destruct: func(h *Heap, obj *Object) {
				*events = append(*events, fmt.Sprintf("destruct %s (header %s)", name, obj.Type().Name()))
			},
		}
	}
	var err error
	if base, err = rt.Types.RegisterObjectType("base", 8, nil, level("base", false, false), nil); err != nil {
		t.Fatal(err)
	}
	if mid, err = rt.Types.RegisterObjectType("mid", 16, base, level("mid", true, false), nil); err != nil {
		t.Fatal(err)
	}
	if leaf, err = rt.Types.RegisterObjectType("leaf", 24, mid, level("leaf", true, failLeaf), nil); err != nil {
		t.Fatal(err)
	}
	return base, mid, leaf
}

func TestConstructionAndFinalizationOrder(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	var events []string
	_, _, leaf := registerChain(t, rt, &events, false)

	v := allocate(t, c, leaf)
	unlock(t, rt.Heap, v)

	want := []string{
		"construct base",
		"construct mid",
		"construct leaf",
		"destruct leaf (header leaf)",
		"destruct mid (header mid)",
		"destruct base (header base)",
	}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("events:\n got %v\nwant %v", events, want)
	}
	if rt.Heap.Live() != 0 || rt.Heap.Bytes() != 0 {
		t.Errorf("Live() = %d, Bytes() = %d after finalization", rt.Heap.Live(), rt.Heap.Bytes())
	}
}

func TestBalancedLocksFinalizeOnce(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	var events []string
	_, _, leaf := registerChain(t, rt, &events, false)

	v := allocate(t, c, leaf)
	obj, err := rt.Heap.Resolve(v)
	if err != nil {
		t.Fatal(err)
	}
	events = nil

	const extra = 5
	for i := 0; i < extra; i++ {
		if err := rt.Heap.Lock(v); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < extra; i++ {
		unlock(t, rt.Heap, v)
	}
	if len(events) != 0 {
		t.Fatalf("destructors ran with the caller's lock still held: %v", events)
	}
	if obj.Locks() != 1 {
		t.Fatalf("Locks() = %d, want 1", obj.Locks())
	}

	unlock(t, rt.Heap, v)
	want := []string{
		"destruct leaf (header leaf)",
		"destruct mid (header mid)",
		"destruct base (header base)",
	}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("events:\n got %v\nwant %v", events, want)
	}
	if obj.Type() != nil {
		t.Errorf("header type = %s after finalization, want nil", obj.Type())
	}
	if err := rt.Heap.Unlock(v); err == nil {
		t.Error("Unlock of a finalized object succeeded")
	}
	if len(events) != len(want) {
		t.Errorf("destructors ran again: %v", events)
	}
}

func TestConstructorReleasingCallerLockFails(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	destructed := 0
	greedy, err := rt.Types.RegisterObjectType("greedy", 0, nil, &Operations{
		Construct: func(c *Context, obj *Object, argc int) error {
			c.Heap().UnlockObject(obj)
			return nil
		},
		Destruct: func(h *Heap, obj *Object) { destructed++ },
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	v, err := rt.Heap.Allocate(c, greedy, 0)
	wantStatus(t, err, OperationInvalid)
	if !v.IsVoid() {
		t.Errorf("Allocate returned %s, want void", v)
	}
	if destructed != 1 || rt.Heap.Live() != 0 {
		t.Errorf("destructed %d, Live() = %d, want 1 and 0", destructed, rt.Heap.Live())
	}
}

func TestFailedConstructionTearsDownCompletedLevels(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	var events []string
	base, mid, leaf := registerChain(t, rt, &events, true)

	_, err := rt.Heap.Allocate(c, leaf, 0)
	wantStatus(t, err, ArgumentValueInvalid)

	want := []string{
		"construct base",
		"construct mid",
		"destruct mid (header mid)",
		"destruct base (header base)",
	}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("events:\n got %v\nwant %v", events, want)
	}
	if rt.Heap.Live() != 0 {
		t.Errorf("Live() = %d, want 0", rt.Heap.Live())
	}
	if leaf.Locks() != 1 || mid.Locks() != 2 || base.Locks() != 2 {
		t.Errorf("type locks leaf=%d mid=%d base=%d, want 1 2 2", leaf.Locks(), mid.Locks(), base.Locks())
	}
	if rt.RawMemoryType.Locks() != 1 {
		t.Errorf("raw-memory locks = %d, want 1", rt.RawMemoryType.Locks())
	}
}

func TestConstructorConsumesArguments(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	var got []int32
	pair, _ := rt.Types.RegisterObjectType("pair", 8, nil, &Operations{
		Construct: func(c *Context, obj *Object, argc int) error {
			if argc != 2 {
				return c.Fail(NumberOfArgumentsInvalid, "pair takes 2 arguments")
			}
			got = append(got, c.Arg(argc, 0).Int32(), c.Arg(argc, 1).Int32())
			return c.Drop(argc)
		},
	}, nil)

	c.Push(FromBool(true))
	c.Push(FromInt32(3), FromInt32(4))
	v, err := rt.Heap.Allocate(c, pair, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Heap.Unlock(v)
	if c.Height() != 1 {
		t.Errorf("Height() = %d after construction, want 1", c.Height())
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("constructor saw %v, want [3 4]", got)
	}

	c.Push(FromInt32(1))
	_, err = rt.Heap.Allocate(c, pair, 1)
	wantStatus(t, err, NumberOfArgumentsInvalid)
	if c.Height() != 1 {
		t.Errorf("Height() = %d after failed construction, want 1", c.Height())
	}
}

func TestConstructorLeavingValuesCorruptsStack(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	sloppy, _ := rt.Types.RegisterObjectType("sloppy", 0, nil, &Operations{
		Construct: func(c *Context, obj *Object, argc int) error {
			return c.Push(FromInt32(1))
		},
	}, nil)

	_, err := rt.Heap.Allocate(c, sloppy, 0)
	wantStatus(t, err, StackCorruption)
	if !c.Poisoned() {
		t.Error("context not poisoned")
	}
}

func TestTypeOutlivesUnregisterWhileInstancesLive(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	removed := false
	temp, _ := rt.Types.RegisterObjectType("temp", 0, rt.ObjectType, &Operations{Construct: noopConstruct}, func(*Type) { removed = true })

	v := allocate(t, c, temp)
	if err := rt.Types.Unregister("temp"); err != nil {
		t.Fatal(err)
	}
	if removed || temp.Removed() {
		t.Fatal("type destroyed while an instance holds it")
	}
	unlock(t, rt.Heap, v)
	if !removed || !temp.Removed() {
		t.Fatal("type not destroyed after its last instance")
	}
}

func TestStaleHandleRejected(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	nodeType := registerNodeType(t, rt, nil)

	old := allocate(t, c, nodeType)
	unlock(t, rt.Heap, old)

	_, err := rt.Heap.Resolve(old)
	wantStatus(t, err, NotExists)
	wantStatus(t, rt.Heap.Lock(old), NotExists)

	fresh := allocate(t, c, nodeType)
	defer rt.Heap.Unlock(fresh)
	if fresh.Handle().Index != old.Handle().Index {
		t.Fatalf("slot not reused: %s vs %s", fresh.Handle(), old.Handle())
	}
	if fresh.Handle().Gen == old.Handle().Gen {
		t.Fatal("generation not bumped on reuse")
	}
	if _, err := rt.Heap.Resolve(old); StatusOf(err) != NotExists {
		t.Errorf("old handle resolved after reuse: %v", err)
	}

	_, err = rt.Heap.Resolve(FromInt32(1))
	wantStatus(t, err, ArgumentTypeInvalid)
}

func TestDeferredFinalization(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeferFinalization = true
	rt := newTestRuntime(t, cfg)
	c := rt.NewContext()
	var destroyed []Handle
	nodeType := registerNodeType(t, rt, &destroyed)

	a := allocate(t, c, nodeType)
	b := allocate(t, c, nodeType)
	link(t, rt.Heap, a, b)
	unlock(t, rt.Heap, b)
	unlock(t, rt.Heap, a)

	if len(destroyed) != 0 || rt.Heap.Pending() != 1 {
		t.Fatalf("destroyed=%d pending=%d before Drain, want 0 and 1", len(destroyed), rt.Heap.Pending())
	}
	if n := rt.Heap.Drain(); n != 2 {
		t.Errorf("Drain() = %d, want 2", n)
	}
	if len(destroyed) != 2 || destroyed[0] != a.Handle() || destroyed[1] != b.Handle() {
		t.Errorf("destroyed = %v, want [%s %s]", destroyed, a.Handle(), b.Handle())
	}
}

func TestLockResurrectsPendingObject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeferFinalization = true
	rt := newTestRuntime(t, cfg)
	c := rt.NewContext()
	nodeType := registerNodeType(t, rt, nil)

	v := allocate(t, c, nodeType)
	unlock(t, rt.Heap, v)
	if err := rt.Heap.Lock(v); err != nil {
		t.Fatal(err)
	}
	if rt.Heap.Drain() != 0 {
		t.Fatal("resurrected object was finalized")
	}
	obj, err := rt.Heap.Resolve(v)
	if err != nil || !obj.IsLive() {
		t.Fatalf("object not live after resurrection: %v", err)
	}
	unlock(t, rt.Heap, v)
}

func TestUnlockOfDeadObjectIsIgnored(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	nodeType := registerNodeType(t, rt, nil)
	v := allocate(t, c, nodeType)
	obj, _ := rt.Heap.Resolve(v)
	unlock(t, rt.Heap, v)
	// obj is dead; unlocking it directly must not panic or double free
	rt.Heap.UnlockObject(obj)
	if rt.Heap.Live() != 0 {
		t.Errorf("Live() = %d, want 0", rt.Heap.Live())
	}
}

func TestHeapCloseReclaimsEverything(t *testing.T) {
	rt := NewRuntime(DefaultConfig())
	c := rt.NewContext()
	var destroyed []Handle
	nodeType := registerNodeType(t, rt, &destroyed)
	a := allocate(t, c, nodeType)
	b := allocate(t, c, nodeType)
	link(t, rt.Heap, a, b)
	link(t, rt.Heap, b, a)

	rt.Close()
	if rt.Heap.Live() != 0 {
		t.Errorf("Live() = %d after Close", rt.Heap.Live())
	}
	if len(destroyed) != 2 {
		t.Errorf("destroyed %d objects, want 2", len(destroyed))
	}
	if !nodeType.Removed() {
		t.Error("node type survived Close")
	}
}
