package vm

import "sync"

// ---------------------------------------------------------------------------
// Registry: the type table
// ---------------------------------------------------------------------------

// Registry owns every type descriptor of a runtime.
// Registration, lookup and type locking are safe for concurrent use;
// OnRemoved hooks run outside the registry lock.
type Registry struct {
	mu      sync.RWMutex
	symbols *SymbolTable
	types   map[uint32]*Type // symbol id -> type
	order   []*Type          // registration order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		symbols: NewSymbolTable(),
		types:   make(map[uint32]*Type),
	}
}

// RegisterInternalType registers a runtime bookkeeping type.
// Panics if ops supplies object callbacks.
func (r *Registry) RegisterInternalType(name string, ops *Operations, onRemoved func(*Type)) (*Type, error) {
	if ops.hasObjectCallbacks() {
		panic("RegisterInternalType: " + name + ": internal types cannot construct, destruct or visit")
	}
	return r.register(name, KindInternal, 0, nil, ops, onRemoved)
}

// RegisterScalarType registers a type whose payload lives inside a Value.
// Panics if ops supplies object callbacks.
func (r *Registry) RegisterScalarType(name string, ops *Operations, onRemoved func(*Type)) (*Type, error) {
	if ops.hasObjectCallbacks() {
		panic("RegisterScalarType: " + name + ": scalar types cannot construct, destruct or visit")
	}
	return r.register(name, KindScalar, 0, nil, ops, onRemoved)
}

// RegisterObjectType registers a heap type of valueSize bytes deriving from
// parent (nil for a root). The parent is locked for the lifetime of the new
// type. Panics if ops does not supply a Construct callback.
func (r *Registry) RegisterObjectType(name string, valueSize uintptr, parent *Type, ops *Operations, onRemoved func(*Type)) (*Type, error) {
	if ops == nil || ops.Construct == nil {
		panic("RegisterObjectType: " + name + ": object types require a Construct callback")
	}
	if parent != nil && parent.kind != KindObject {
		return nil, newError(ArgumentTypeInvalid, "parent %q of %q is a %s type", parent.Name(), name, parent.kind)
	}
	return r.register(name, KindObject, valueSize, parent, ops, onRemoved)
}

func (r *Registry) register(name string, kind Kind, size uintptr, parent *Type, ops *Operations, onRemoved func(*Type)) (*Type, error) {
	if name == "" {
		return nil, newError(ArgumentValueInvalid, "type name is empty")
	}
	sym := r.symbols.Intern(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[sym.id]; exists {
		return nil, newError(TypeExists, "type %q is already registered", name)
	}
	if parent != nil && (parent.removed || r.types[parent.sym.id] != parent) {
		return nil, newError(TypeNotExists, "parent type %q is not registered", parent.Name())
	}

	if ops == nil {
		ops = &Operations{}
	} else {
		copied := *ops
		ops = &copied
	}

	t := &Type{
		sym:        sym,
		kind:       kind,
		size:       size,
		parent:     parent,
		ops:        ops,
		onRemoved:  onRemoved,
		locks:      1,
		registered: true,
	}
	t.chain = append(make([]*Type, 0, 1+len(parentChain(parent))), t)
	t.chain = append(t.chain, parentChain(parent)...)
	if parent != nil {
		parent.locks++
	}

	r.types[sym.id] = t
	r.order = append(r.order, t)
	log.Debugf("registered %s type %q (size %d, depth %d)", kind, name, size, t.Depth())
	return t, nil
}

func parentChain(parent *Type) []*Type {
	if parent == nil {
		return nil
	}
	return parent.chain
}

// GetType returns the type registered under name.
func (r *Registry) GetType(name string) (*Type, error) {
	sym, ok := r.symbols.Lookup(name)
	if ok {
		r.mu.RLock()
		t := r.types[sym.id]
		r.mu.RUnlock()
		if t != nil {
			return t, nil
		}
	}
	return nil, newError(TypeNotExists, "type %q is not registered", name)
}

// HasChildren reports whether an object type registered here names t as
// its parent.
func (r *Registry) HasChildren(t *Type) bool {
	if t == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, other := range r.order {
		if other.kind == KindObject && other.parent == t {
			return true
		}
	}
	return false
}

// Types returns all registered types in registration order.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Type, len(r.order))
	copy(result, r.order)
	return result
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ---------------------------------------------------------------------------
// Type locking
// ---------------------------------------------------------------------------

// LockType adds a lock on t. A nil type is a no-op.
func (r *Registry) LockType(t *Type) {
	if t == nil {
		return
	}
	r.mu.Lock()
	if t.removed {
		log.Errorf("lock of removed type %q", t.Name())
	} else {
		t.locks++
	}
	r.mu.Unlock()
}

// UnlockType releases a lock on t. A nil type is a no-op. When the count
// reaches zero the type is destroyed and its parent unlocked, recursively.
func (r *Registry) UnlockType(t *Type) {
	if t == nil {
		return
	}
	r.mu.Lock()
	removed := r.unlockLocked(t)
	r.mu.Unlock()
	r.notifyRemoved(removed)
}

// Unregister drops the registry's own lock on the named type. The type is
// destroyed once no subtype or instance holds it any more.
func (r *Registry) Unregister(name string) error {
	t, err := r.GetType(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if !t.registered {
		r.mu.Unlock()
		return newError(NotExists, "type %q was already unregistered", name)
	}
	t.registered = false
	removed := r.unlockLocked(t)
	r.mu.Unlock()
	r.notifyRemoved(removed)
	return nil
}

// Teardown drops every lock the registry holds, leaves first. Types still
// locked by live instances survive until those instances are finalized.
func (r *Registry) Teardown() {
	for {
		r.mu.Lock()
		var leaf *Type
		for _, t := range r.order {
			if t.registered && !r.hasRegisteredChildrenLocked(t) {
				leaf = t
				break
			}
		}
		if leaf == nil {
			r.mu.Unlock()
			return
		}
		leaf.registered = false
		removed := r.unlockLocked(leaf)
		r.mu.Unlock()
		r.notifyRemoved(removed)
	}
}

func (r *Registry) hasRegisteredChildrenLocked(t *Type) bool {
	for _, other := range r.order {
		if other.parent == t && other.registered {
			return true
		}
	}
	return false
}

// unlockLocked decrements t and collapses the parent chain of every type
// that reaches zero. Returns the destroyed types, most derived first.
func (r *Registry) unlockLocked(t *Type) []*Type {
	var removed []*Type
	for t != nil {
		if t.locks <= 0 {
			log.Errorf("unlock of type %q with no locks held", t.Name())
			return removed
		}
		t.locks--
		if t.locks > 0 {
			return removed
		}
		t.removed = true
		t.registered = false
		delete(r.types, t.sym.id)
		for i, other := range r.order {
			if other == t {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		removed = append(removed, t)
		t = t.parent
	}
	return removed
}

func (r *Registry) notifyRemoved(removed []*Type) {
	for _, t := range removed {
		log.Debugf("removed type %q", t.Name())
		if t.onRemoved != nil {
			t.onRemoved(t)
		}
	}
}
