package vm

import (
	"math"
	"math/bits"
)

// maxObjectSize bounds a single allocation independently of the heap limit.
const maxObjectSize = math.MaxInt32

// ---------------------------------------------------------------------------
// Heap: allocator and object table
// ---------------------------------------------------------------------------

// Heap owns every object of a runtime. Objects are addressed by Handle;
// freed slots are recycled with a bumped generation.
//
// A Heap is not safe for concurrent use. One execution context at a time
// may allocate, lock or collect on it.
type Heap struct {
	types *Registry
	raw   *Type

	objects []*Object
	gens    []uint32
	free    []uint32

	live     int
	bytes    uint64
	maxBytes uint64

	pending           []*Object
	draining          bool
	deferFinalization bool

	// collector state
	barriers     bool
	remembered   map[edge]struct{}
	collectEvery int
	sinceCollect int
	sweepCount   uint64
	lastStats    CollectStats
	nextObserver NotifyID
}

// newHeap creates a heap allocating types from reg. raw is the sentinel
// header type of objects whose construction is in progress.
func newHeap(reg *Registry, raw *Type, cfg Config) *Heap {
	return &Heap{
		types:             reg,
		raw:               raw,
		objects:           make([]*Object, 1, 64), // index 0 is never handed out
		gens:              make([]uint32, 1, 64),
		maxBytes:          cfg.MaxHeapBytes,
		deferFinalization: cfg.DeferFinalization,
		barriers:          cfg.Barriers,
		collectEvery:      cfg.CollectEvery,
		remembered:        make(map[edge]struct{}),
	}
}

// Live returns the number of objects that have not been reclaimed.
func (h *Heap) Live() int { return h.live }

// Bytes returns the accounted size of all unreclaimed objects.
func (h *Heap) Bytes() uint64 { return h.bytes }

// Pending returns the number of objects queued for finalization.
func (h *Heap) Pending() int { return len(h.pending) }

// RawMemoryType returns the sentinel header type of objects under
// construction.
func (h *Heap) RawMemoryType() *Type { return h.raw }

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// Allocate creates an instance of t, running its constructor with the argc
// arguments on top of c's value stack. The arguments are consumed whether
// or not construction succeeds. The returned reference carries one lock
// owned by the caller.
func (h *Heap) Allocate(c *Context, t *Type, argc int) (Value, error) {
	base := c.Height() - argc
	if argc < 0 || base < 0 {
		return Void, c.Fail(NumberOfArgumentsInvalid, "allocate: %d arguments with %d on the stack", argc, c.Height())
	}
	if t == nil {
		c.truncate(base)
		return Void, c.Fail(ArgumentValueInvalid, "allocate: nil type")
	}
	if t.kind != KindObject {
		c.truncate(base)
		return Void, c.Fail(ArgumentTypeInvalid, "allocate: %q is a %s type", t.Name(), t.kind)
	}
	if t.removed {
		c.truncate(base)
		return Void, c.Fail(TypeNotExists, "allocate: type %q was removed", t.Name())
	}

	total, carry := bits.Add64(uint64(headerSize), uint64(t.size), 0)
	if carry != 0 || t.size > maxObjectSize {
		c.truncate(base)
		return Void, c.Fail(AllocationFailed, "allocate: %q: object size overflows", t.Name())
	}
	if h.maxBytes != 0 && (h.bytes+total < h.bytes || h.bytes+total > h.maxBytes) {
		c.truncate(base)
		return Void, c.Fail(AllocationFailed, "allocate: %q: heap limit of %d bytes reached (%d in use)", t.Name(), h.maxBytes, h.bytes)
	}

	obj := h.newObject(t.size, uintptr(total))
	h.SetType(obj, h.raw)

	if err := h.constructLevel(c, obj, t, argc); err != nil {
		c.truncate(base)
		h.abandon(obj)
		return Void, err
	}
	obj.state = stateLive
	if obj.locks == 0 {
		h.schedule(obj)
		return Void, c.Fail(OperationInvalid, "allocate: constructor of %q released the caller's lock", t.Name())
	}

	if h.collectEvery > 0 {
		h.sinceCollect++
		if h.sinceCollect >= h.collectEvery {
			h.Collect()
		}
	}
	return obj.Value(), nil
}

// ConstructParent runs the constructor of the parent of the level
// currently being constructed, consuming argc arguments. It is called from
// within a Construct callback. A root level has no parent and accepts no
// arguments.
func (h *Heap) ConstructParent(c *Context, obj *Object, argc int) error {
	level := obj.building
	if level == nil {
		return c.Fail(OperationInvalid, "construct parent: %s is not under construction", obj.handle)
	}
	if level.parent == nil {
		if argc != 0 {
			return c.Fail(NumberOfArgumentsInvalid, "construct parent: root %q takes no arguments, got %d", level.Name(), argc)
		}
		return nil
	}
	return h.constructLevel(c, obj, level.parent, argc)
}

// constructLevel runs level's Construct and advances the header type to
// level once it succeeds.
func (h *Heap) constructLevel(c *Context, obj *Object, level *Type, argc int) error {
	prev := obj.building
	obj.building = level
	err := c.callConstruct(level.ops.Construct, obj, argc)
	obj.building = prev
	if err != nil {
		return err
	}
	h.SetType(obj, level)
	return nil
}

func (h *Heap) newObject(valueSize, total uintptr) *Object {
	var idx uint32
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		idx = uint32(len(h.objects))
		h.objects = append(h.objects, nil)
		h.gens = append(h.gens, 1)
	}
	obj := &Object{
		handle: Handle{Index: idx, Gen: h.gens[idx]},
		size:   total,
		data:   make([]byte, valueSize),
	}
	obj.locks = 1
	obj.state = stateConstructing
	h.objects[idx] = obj
	h.live++
	h.bytes += uint64(total)
	return obj
}

// abandon tears down an object whose construction failed. Only the levels
// that completed are destructed.
func (h *Heap) abandon(obj *Object) {
	obj.locks = 0
	h.finalize(obj)
	h.release(obj)
}

// SetType replaces obj's header type, locking t before the previous type
// is unlocked. Either may be nil.
func (h *Heap) SetType(obj *Object, t *Type) {
	h.types.LockType(t)
	old := obj.typ
	obj.typ = t
	h.types.UnlockType(old)
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// Get returns the object named by handle.
func (h *Heap) Get(handle Handle) (*Object, error) {
	idx := int(handle.Index)
	if idx <= 0 || idx >= len(h.objects) || h.gens[idx] != handle.Gen {
		return nil, newError(NotExists, "object %s does not exist", handle)
	}
	obj := h.objects[idx]
	if obj == nil || obj.state == stateDead {
		return nil, newError(NotExists, "object %s does not exist", handle)
	}
	return obj, nil
}

// Resolve returns the object referenced by v.
func (h *Heap) Resolve(v Value) (*Object, error) {
	if !v.IsObject() {
		return nil, newError(ArgumentTypeInvalid, "%s is not an object reference", v)
	}
	return h.Get(v.Handle())
}

// ---------------------------------------------------------------------------
// Locking
// ---------------------------------------------------------------------------

// Lock adds a lock to the object referenced by v. Non-object values are a
// no-op.
func (h *Heap) Lock(v Value) error {
	if !v.IsObject() {
		return nil
	}
	obj, err := h.Resolve(v)
	if err != nil {
		return err
	}
	h.LockObject(obj)
	return nil
}

// Unlock releases a lock on the object referenced by v. Non-object values
// are a no-op.
func (h *Heap) Unlock(v Value) error {
	if !v.IsObject() {
		return nil
	}
	obj, err := h.Resolve(v)
	if err != nil {
		return err
	}
	h.UnlockObject(obj)
	return nil
}

// LockObject adds a lock to obj.
func (h *Heap) LockObject(obj *Object) {
	switch obj.state {
	case stateConstructing, stateLive:
		obj.locks++
	case statePending:
		// resurrected before its finalizer ran
		obj.locks++
		obj.state = stateLive
		for i, p := range h.pending {
			if p == obj {
				h.pending = append(h.pending[:i], h.pending[i+1:]...)
				break
			}
		}
	default:
		heapLog.Errorf("lock of %s during finalization", obj.handle)
	}
}

// UnlockObject releases a lock on obj. Reaching zero schedules the object
// for finalization. Unlocks of objects already being finalized are
// ignored.
func (h *Heap) UnlockObject(obj *Object) {
	switch obj.state {
	case stateConstructing, stateLive:
	default:
		return
	}
	if obj.locks <= 0 {
		heapLog.Errorf("unlock of %s with no locks held", obj.handle)
		return
	}
	obj.locks--
	if obj.locks > 0 || obj.state == stateConstructing {
		return
	}
	h.schedule(obj)
}

// schedule queues a live object with no locks for finalization.
func (h *Heap) schedule(obj *Object) {
	obj.state = statePending
	h.pending = append(h.pending, obj)
	if !h.deferFinalization {
		h.Drain()
	}
}

// ---------------------------------------------------------------------------
// Finalization
// ---------------------------------------------------------------------------

// Drain finalizes every queued object, including objects queued by the
// destructors it runs. Returns the number of objects reclaimed. Nested
// calls from inside a destructor return 0 and leave the work to the
// outermost call.
func (h *Heap) Drain() int {
	if h.draining {
		return 0
	}
	h.draining = true
	defer func() { h.draining = false }()

	n := 0
	for len(h.pending) > 0 {
		obj := h.pending[0]
		h.pending = h.pending[1:]
		h.finalize(obj)
		h.release(obj)
		n++
	}
	return n
}

// finalize notifies destroy observers and runs the destructor chain from
// the current header type upward, advancing the header after each level.
func (h *Heap) finalize(obj *Object) {
	obj.state = stateFinalizing

	observers := obj.observers
	obj.observers = nil
	for _, o := range observers {
		o.fn(obj)
	}

	if obj.typ == h.raw {
		h.SetType(obj, nil)
		return
	}
	for obj.typ != nil {
		level := obj.typ
		if level.ops.Destruct != nil {
			level.ops.Destruct(h, obj)
		}
		h.SetType(obj, level.parent)
	}
}

// release recycles obj's slot.
func (h *Heap) release(obj *Object) {
	idx := obj.handle.Index
	h.objects[idx] = nil
	h.gens[idx]++
	if h.gens[idx] == 0 {
		h.gens[idx] = 1
	}
	h.free = append(h.free, idx)
	h.live--
	h.bytes -= uint64(obj.size)

	obj.state = stateDead
	obj.locks = 0
	obj.data = nil
	obj.payload = nil
}

// Close finalizes every remaining object regardless of lock counts,
// including unreachable cycles. Returns the number of objects reclaimed.
func (h *Heap) Close() int {
	n := h.Drain()
	var doomed []*Object
	for _, obj := range h.objects {
		if obj != nil && obj.state != stateDead {
			obj.state = stateDoomed
			doomed = append(doomed, obj)
		}
	}
	n += h.reclaim(doomed)
	heapLog.Debugf("closed heap, reclaimed %d objects", n)
	return n
}

// reclaim finalizes and releases a set of doomed objects. Destructors run
// before any slot is recycled so cross references stay resolvable.
func (h *Heap) reclaim(doomed []*Object) int {
	nested := h.draining
	h.draining = true
	for _, obj := range doomed {
		h.finalize(obj)
	}
	for _, obj := range doomed {
		h.release(obj)
	}
	h.draining = nested
	if nested || h.deferFinalization {
		return len(doomed)
	}
	return len(doomed) + h.Drain()
}
