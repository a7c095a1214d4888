package vm

import "testing"

func TestCollectReclaimsCycle(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	var destroyed []Handle
	nodeType := registerNodeType(t, rt, &destroyed)

	a := allocate(t, c, nodeType)
	b := allocate(t, c, nodeType)
	link(t, rt.Heap, a, b)
	link(t, rt.Heap, b, a)
	unlock(t, rt.Heap, a)
	unlock(t, rt.Heap, b)

	if rt.Heap.Live() != 2 {
		t.Fatalf("Live() = %d before Collect, want the cycle to survive counting", rt.Heap.Live())
	}
	stats := rt.Heap.Collect()
	if stats.Reclaimed != 2 || stats.Marked != 0 {
		t.Errorf("stats = %+v, want 2 reclaimed and 0 marked", stats)
	}
	if rt.Heap.Live() != 0 || len(destroyed) != 2 {
		t.Errorf("Live() = %d, destroyed = %d after Collect", rt.Heap.Live(), len(destroyed))
	}
	if rt.Heap.SweepCount() != 1 || rt.Heap.LastStats().Reclaimed != 2 {
		t.Errorf("SweepCount() = %d, LastStats() = %+v", rt.Heap.SweepCount(), rt.Heap.LastStats())
	}
}

func TestCollectKeepsExternallyReachable(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	nodeType := registerNodeType(t, rt, nil)

	a := allocate(t, c, nodeType)
	b := allocate(t, c, nodeType)
	d := allocate(t, c, nodeType)
	link(t, rt.Heap, a, b)
	link(t, rt.Heap, b, a)
	link(t, rt.Heap, b, d)
	unlock(t, rt.Heap, b)
	unlock(t, rt.Heap, d)
	// a keeps the caller's lock

	stats := rt.Heap.Collect()
	if stats.Reclaimed != 0 || stats.Marked != 3 || stats.Roots != 1 {
		t.Errorf("stats = %+v, want 3 marked from 1 root and nothing reclaimed", stats)
	}
	if stats.Types != 1 {
		t.Errorf("stats.Types = %d, want 1", stats.Types)
	}

	unlock(t, rt.Heap, a)
	stats = rt.Heap.Collect()
	if stats.Reclaimed != 3 || rt.Heap.Live() != 0 {
		t.Errorf("second collection reclaimed %d, Live() = %d, want 3 and 0", stats.Reclaimed, rt.Heap.Live())
	}
}

func TestCollectHonoursExplicitRoots(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	nodeType := registerNodeType(t, rt, nil)

	a := allocate(t, c, nodeType)
	b := allocate(t, c, nodeType)
	link(t, rt.Heap, a, b)
	link(t, rt.Heap, b, a)
	unlock(t, rt.Heap, a)
	unlock(t, rt.Heap, b)

	if stats := rt.Heap.Collect(a); stats.Reclaimed != 0 {
		t.Fatalf("collection with explicit root reclaimed %d", stats.Reclaimed)
	}
	if stats := rt.Heap.Collect(); stats.Reclaimed != 2 {
		t.Errorf("collection without roots reclaimed %d, want 2", stats.Reclaimed)
	}
}

func TestCollectEvery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CollectEvery = 3
	rt := newTestRuntime(t, cfg)
	c := rt.NewContext()
	nodeType := registerNodeType(t, rt, nil)

	for i := 0; i < 7; i++ {
		unlock(t, rt.Heap, allocate(t, c, nodeType))
	}
	if rt.Heap.SweepCount() != 2 {
		t.Errorf("SweepCount() = %d after 7 allocations, want 2", rt.Heap.SweepCount())
	}
}

func TestVisitWalksChain(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	nodeType := registerNodeType(t, rt, nil)
	visited := 0
	child, _ := rt.Types.RegisterObjectType("child", 0, nodeType, &Operations{
		Construct: func(c *Context, obj *Object, argc int) error {
			return c.Heap().ConstructParent(c, obj, argc)
		},
		Visit: func(v *Visitor, obj *Object) { visited++ },
	}, nil)

	v := allocate(t, c, child)
	other := allocate(t, c, nodeType)
	defer rt.Heap.Unlock(v)
	link(t, rt.Heap, v, other)
	unlock(t, rt.Heap, other)

	obj, _ := rt.Heap.Resolve(v)
	var seen []Handle
	visitor := rt.Heap.NewVisitor(func(o *Object) { seen = append(seen, o.Handle()) })
	rt.Heap.Visit(visitor, obj)

	if visited != 1 {
		t.Errorf("child level visited %d times, want 1", visited)
	}
	if len(seen) != 1 || seen[0] != other.Handle() {
		t.Errorf("seen = %v, want [%s] from the inherited node level", seen, other.Handle())
	}
	if visitor.Objects() != 1 || visitor.Types() != 1 {
		t.Errorf("visitor saw %d objects, %d types", visitor.Objects(), visitor.Types())
	}
}

func TestBarriers(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.Barriers = enabled
		rt := newTestRuntime(t, cfg)
		c := rt.NewContext()
		nodeType := registerNodeType(t, rt, nil)

		a := allocate(t, c, nodeType)
		b := allocate(t, c, nodeType)
		link(t, rt.Heap, a, b)
		rt.Heap.BackwardBarrier(a, b)
		rt.Heap.ForwardBarrier(a, FromInt32(1))

		want := 0
		if enabled {
			want = 2
		}
		if rt.Heap.Remembered() != want {
			t.Errorf("barriers=%v: Remembered() = %d, want %d", enabled, rt.Heap.Remembered(), want)
		}
		stats := rt.Heap.Collect()
		if stats.Remembered != want || rt.Heap.Remembered() != 0 {
			t.Errorf("barriers=%v: stats.Remembered = %d, after = %d", enabled, stats.Remembered, rt.Heap.Remembered())
		}
		if stats.Reclaimed != 0 {
			t.Errorf("barriers=%v: reclaimed %d live objects", enabled, stats.Reclaimed)
		}
		unlock(t, rt.Heap, a)
		unlock(t, rt.Heap, b)
	}
}

func TestNotifyDestroyFiresOnce(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	nodeType := registerNodeType(t, rt, nil)

	v := allocate(t, c, nodeType)
	fired := 0
	var typeAtNotify *Type
	if _, err := rt.Heap.AddNotifyDestroyCallback(v, func(obj *Object) {
		fired++
		typeAtNotify = obj.Type()
	}); err != nil {
		t.Fatal(err)
	}
	removedID, err := rt.Heap.AddNotifyDestroyCallback(v, func(*Object) { t.Error("removed callback fired") })
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Heap.RemoveNotifyDestroyCallback(v, removedID); err != nil {
		t.Fatal(err)
	}
	wantStatus(t, rt.Heap.RemoveNotifyDestroyCallback(v, removedID), NotExists)

	unlock(t, rt.Heap, v)
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}
	if typeAtNotify != nodeType {
		t.Errorf("header type at notification = %s, want node", typeAtNotify)
	}
	_, err = rt.Heap.AddNotifyDestroyCallback(v, func(*Object) {})
	wantStatus(t, err, NotExists)
}

func TestWeakReference(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	nodeType := registerNodeType(t, rt, nil)

	v := allocate(t, c, nodeType)
	wr, err := rt.Heap.NewWeakReference(v)
	if err != nil {
		t.Fatal(err)
	}
	var finalized Value
	wr.SetFinalizer(func(old Value) { finalized = old })

	obj, _ := rt.Heap.Resolve(v)
	if obj.Locks() != 1 {
		t.Errorf("weak reference took a lock: Locks() = %d", obj.Locks())
	}
	if !wr.IsAlive() || !Identical(wr.Get(), v) {
		t.Fatal("weak reference lost a live target")
	}
	unlock(t, rt.Heap, v)
	if wr.IsAlive() || !wr.Get().IsVoid() {
		t.Error("weak reference survived its target")
	}
	if !Identical(finalized, v) {
		t.Errorf("finalizer got %v, want %v", finalized, v)
	}
}

func TestSingletonResetsWhenInstanceDies(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	c := rt.NewContext()
	nodeType := registerNodeType(t, rt, nil)
	s := rt.Heap.NewSingleton(nodeType)

	first, err := s.Get(c)
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.Get(c)
	if err != nil {
		t.Fatal(err)
	}
	if !Identical(first, again) || s.Created() != 1 {
		t.Fatalf("second Get created a new instance: %v vs %v", first, again)
	}
	unlock(t, rt.Heap, again)
	unlock(t, rt.Heap, first)

	if !s.Peek().IsVoid() {
		t.Fatalf("Peek() = %v after the instance died, want void", s.Peek())
	}
	fresh, err := s.Get(c)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Heap.Unlock(fresh)
	if s.Created() != 2 || Identical(fresh, first) {
		t.Errorf("Created() = %d, fresh = %v, want a second instance", s.Created(), fresh)
	}
}
