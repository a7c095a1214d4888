package vm

import "time"

// ---------------------------------------------------------------------------
// Visitor protocol
// ---------------------------------------------------------------------------

// Visitor is handed to Visit callbacks. A callback calls Visit on every
// value its level owns a lock on.
type Visitor struct {
	heap    *Heap
	fn      func(*Object)
	types   map[*Type]struct{}
	objects int
}

// NewVisitor returns a visitor calling fn for every object reference it is
// shown.
func (h *Heap) NewVisitor(fn func(*Object)) *Visitor {
	return &Visitor{heap: h, fn: fn, types: make(map[*Type]struct{})}
}

// Visit reports one owned reference. Non-object values are ignored; stale
// references are logged and skipped.
func (v *Visitor) Visit(val Value) {
	if !val.IsObject() {
		return
	}
	obj, err := v.heap.Resolve(val)
	if err != nil {
		heapLog.Warningf("visit of stale reference %s", val)
		return
	}
	if v.fn != nil {
		v.fn(obj)
	}
}

// Objects returns the number of objects whose chains this visitor walked.
func (v *Visitor) Objects() int { return v.objects }

// Types returns the number of distinct header types seen.
func (v *Visitor) Types() int { return len(v.types) }

// Visit walks obj's type chain from its current header type upward,
// invoking each level's Visit callback. Objects still typed with the
// raw-memory sentinel own nothing.
func (h *Heap) Visit(v *Visitor, obj *Object) {
	v.objects++
	if obj.typ == nil {
		return
	}
	v.types[obj.typ] = struct{}{}
	if obj.typ == h.raw {
		return
	}
	for _, level := range obj.typ.chain {
		if level.ops.Visit != nil {
			level.ops.Visit(v, obj)
		}
	}
}

// ---------------------------------------------------------------------------
// Cycle collection
// ---------------------------------------------------------------------------

// CollectStats summarizes one collection.
type CollectStats struct {
	Objects    int // objects examined
	Roots      int // objects holding external locks or named explicitly
	Marked     int // reachable objects
	Reclaimed  int // garbage objects finalized
	Types      int // distinct header types seen while marking
	Remembered int // barrier edges recorded since the previous collection
	Duration   time.Duration
	Timestamp  time.Time
}

// Collect reclaims unreachable cycles.
//
// Every lock an object receives from another heap object is found by
// visiting and subtracted from its lock count; what remains are external
// locks (registers, Go code, singletons). Objects with external locks and
// the explicit roots are marked, then everything reachable from them.
// Unmarked objects only keep each other alive and are finalized together;
// their unlocks of one another are ignored.
func (h *Heap) Collect(roots ...Value) CollectStats {
	start := time.Now()
	h.Drain()

	candidates := make([]*Object, 0, h.live)
	for _, obj := range h.objects {
		if obj == nil {
			continue
		}
		switch obj.state {
		case stateConstructing, stateLive:
			obj.gcRefs = obj.locks
			obj.marked = false
			candidates = append(candidates, obj)
		}
	}

	counter := h.NewVisitor(func(child *Object) { child.gcRefs-- })
	for _, obj := range candidates {
		h.Visit(counter, obj)
	}

	var work []*Object
	mark := func(obj *Object) {
		if !obj.marked {
			obj.marked = true
			work = append(work, obj)
		}
	}
	for _, obj := range candidates {
		if obj.gcRefs > 0 || obj.state == stateConstructing {
			mark(obj)
		}
	}
	for _, root := range roots {
		if obj, err := h.Resolve(root); err == nil {
			mark(obj)
		}
	}
	rootCount := len(work)

	marker := h.NewVisitor(func(child *Object) {
		if child.state == stateConstructing || child.state == stateLive {
			mark(child)
		}
	})
	for len(work) > 0 {
		obj := work[len(work)-1]
		work = work[:len(work)-1]
		h.Visit(marker, obj)
	}

	var doomed []*Object
	marked := 0
	for _, obj := range candidates {
		if obj.marked {
			marked++
			obj.marked = false
			continue
		}
		obj.state = stateDoomed
		doomed = append(doomed, obj)
	}

	stats := CollectStats{
		Objects:    len(candidates),
		Roots:      rootCount,
		Marked:     marked,
		Types:      marker.Types(),
		Remembered: len(h.remembered),
		Timestamp:  start,
	}
	stats.Reclaimed = h.reclaim(doomed)
	stats.Duration = time.Since(start)

	h.remembered = make(map[edge]struct{})
	h.sinceCollect = 0
	h.sweepCount++
	h.lastStats = stats
	heapLog.Infof("collection %d: %d objects, %d marked, %d reclaimed in %s",
		h.sweepCount, stats.Objects, stats.Marked, stats.Reclaimed, stats.Duration)
	return stats
}

// SweepCount returns the number of completed collections.
func (h *Heap) SweepCount() uint64 { return h.sweepCount }

// LastStats returns the statistics of the most recent collection.
func (h *Heap) LastStats() CollectStats { return h.lastStats }

// ---------------------------------------------------------------------------
// Write barriers
// ---------------------------------------------------------------------------

type edge struct {
	from, to Handle
	backward bool
}

// ForwardBarrier records that target was stored into source. It is a
// no-op unless barriers are enabled.
func (h *Heap) ForwardBarrier(source, target Value) {
	h.remember(source, target, false)
}

// BackwardBarrier records that source was modified to reference target,
// rescanning source rather than target. It is a no-op unless barriers are
// enabled.
func (h *Heap) BackwardBarrier(source, target Value) {
	h.remember(source, target, true)
}

func (h *Heap) remember(source, target Value, backward bool) {
	if !h.barriers || !source.IsObject() || !target.IsObject() {
		return
	}
	h.remembered[edge{from: source.Handle(), to: target.Handle(), backward: backward}] = struct{}{}
}

// Remembered returns the number of barrier edges recorded since the last
// collection.
func (h *Heap) Remembered() int { return len(h.remembered) }

// ---------------------------------------------------------------------------
// Destroy observers
// ---------------------------------------------------------------------------

// NotifyID identifies a registered destroy observer.
type NotifyID uint64

type observer struct {
	id NotifyID
	fn func(*Object)
}

// AddNotifyDestroyCallback registers fn to be called once with the object
// referenced by v when its finalization begins.
func (h *Heap) AddNotifyDestroyCallback(v Value, fn func(*Object)) (NotifyID, error) {
	obj, err := h.Resolve(v)
	if err != nil {
		return 0, err
	}
	if fn == nil {
		return 0, newError(ArgumentValueInvalid, "destroy callback for %s is nil", obj.handle)
	}
	if obj.state != stateConstructing && obj.state != stateLive {
		return 0, newError(OperationInvalid, "%s is already being finalized", obj.handle)
	}
	h.nextObserver++
	id := h.nextObserver
	obj.observers = append(obj.observers, observer{id: id, fn: fn})
	return id, nil
}

// RemoveNotifyDestroyCallback unregisters an observer added with
// AddNotifyDestroyCallback.
func (h *Heap) RemoveNotifyDestroyCallback(v Value, id NotifyID) error {
	obj, err := h.Resolve(v)
	if err != nil {
		return err
	}
	for i, o := range obj.observers {
		if o.id == id {
			obj.observers = append(obj.observers[:i], obj.observers[i+1:]...)
			return nil
		}
	}
	return newError(NotExists, "no destroy callback %d on %s", id, obj.handle)
}
