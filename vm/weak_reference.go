package vm

// ---------------------------------------------------------------------------
// WeakReference: a reference that does not hold a lock
// ---------------------------------------------------------------------------

// WeakReference observes an object without keeping it alive. When the
// target begins finalization the reference clears itself and runs its
// finalizer, if any.
type WeakReference struct {
	heap      *Heap
	target    Value
	notify    NotifyID
	finalizer func(Value)
}

// NewWeakReference creates a weak reference to the object referenced by v.
func (h *Heap) NewWeakReference(v Value) (*WeakReference, error) {
	wr := &WeakReference{heap: h}
	id, err := h.AddNotifyDestroyCallback(v, wr.cleared)
	if err != nil {
		return nil, err
	}
	wr.target = v
	wr.notify = id
	return wr, nil
}

func (wr *WeakReference) cleared(obj *Object) {
	old := wr.target
	wr.target = Void
	wr.notify = 0
	if wr.finalizer != nil {
		wr.finalizer(old)
	}
}

// Get returns the target, or Void once it has been finalized. The result
// is borrowed; lock it to keep it.
func (wr *WeakReference) Get() Value { return wr.target }

// IsAlive reports whether the target has not begun finalization.
func (wr *WeakReference) IsAlive() bool { return !wr.target.IsVoid() }

// SetFinalizer sets a callback run with the old target when it dies.
func (wr *WeakReference) SetFinalizer(fn func(Value)) { wr.finalizer = fn }

// Clear detaches the reference from its target without running the
// finalizer.
func (wr *WeakReference) Clear() {
	if wr.target.IsVoid() {
		return
	}
	if err := wr.heap.RemoveNotifyDestroyCallback(wr.target, wr.notify); err != nil {
		heapLog.Warningf("clear weak reference: %s", err)
	}
	wr.target = Void
	wr.notify = 0
}

// ---------------------------------------------------------------------------
// Singleton: lazily created shared instance
// ---------------------------------------------------------------------------

// Singleton holds at most one instance of a type through a weak
// reference. The instance is created on first use and forgotten when its
// last lock is released, so the next Get creates a fresh one.
type Singleton struct {
	heap    *Heap
	typ     *Type
	ref     *WeakReference
	created int
}

// NewSingleton returns an empty singleton slot for t.
func (h *Heap) NewSingleton(t *Type) *Singleton {
	return &Singleton{heap: h, typ: t}
}

// Get returns the instance, creating it with a zero-argument construction
// if none is alive. The result carries one lock owned by the caller.
func (s *Singleton) Get(c *Context) (Value, error) {
	if s.ref != nil && s.ref.IsAlive() {
		v := s.ref.Get()
		if err := s.heap.Lock(v); err != nil {
			return Void, err
		}
		return v, nil
	}
	v, err := s.heap.Allocate(c, s.typ, 0)
	if err != nil {
		return Void, err
	}
	ref, err := s.heap.NewWeakReference(v)
	if err != nil {
		s.heap.Unlock(v)
		return Void, err
	}
	s.ref = ref
	s.created++
	return v, nil
}

// Peek returns the current instance without creating or locking one.
func (s *Singleton) Peek() Value {
	if s.ref == nil {
		return Void
	}
	return s.ref.Get()
}

// Created returns how many instances Get has constructed.
func (s *Singleton) Created() int { return s.created }

// Reset forgets the current instance without affecting its lifetime.
func (s *Singleton) Reset() {
	if s.ref != nil {
		s.ref.Clear()
		s.ref = nil
	}
}
