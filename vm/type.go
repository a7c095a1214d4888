package vm

import "fmt"

// ---------------------------------------------------------------------------
// Type: runtime type descriptor
// ---------------------------------------------------------------------------

// Kind classifies a type descriptor.
type Kind uint8

const (
	KindInternal Kind = iota // runtime bookkeeping types, e.g. raw-memory
	KindScalar               // payload lives inside a Value
	KindObject               // heap allocated, constructed and finalized
)

// String implements the Stringer interface.
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Type describes one named type.
//
// A Type is created by one of the Registry's Register* calls and stays
// alive while its lock count is positive. The registry holds one lock,
// every direct subtype holds one, and every object header naming the type
// holds one. When the count reaches zero the type leaves the registry, its
// OnRemoved hook runs and its parent is unlocked.
type Type struct {
	sym       Symbol
	kind      Kind
	size      uintptr
	parent    *Type
	chain     []*Type // self first, root last
	ops       *Operations
	onRemoved func(*Type)

	locks      int
	registered bool // the registry's own lock is still held
	removed    bool
}

// Name returns the type's interned name.
func (t *Type) Name() string {
	if t == nil {
		return "<nil>"
	}
	return t.sym.name
}

// Symbol returns the interned name.
func (t *Type) Symbol() Symbol { return t.sym }

// Kind returns the type's kind.
func (t *Type) Kind() Kind { return t.kind }

// Size returns the instance value size in bytes (0 for non-object kinds).
func (t *Type) Size() uintptr { return t.size }

// Parent returns the parent type, or nil for roots and non-object kinds.
func (t *Type) Parent() *Type { return t.parent }

// Ops returns the type's own operations table (never nil).
func (t *Type) Ops() *Operations { return t.ops }

// Chain returns the supertype chain, self first and root last.
// The returned slice must not be modified.
func (t *Type) Chain() []*Type { return t.chain }

// Depth returns the inheritance depth (0 for a root).
func (t *Type) Depth() int { return len(t.chain) - 1 }

// Locks returns the current lock count.
func (t *Type) Locks() int { return t.locks }

// Removed reports whether the type has been destroyed.
func (t *Type) Removed() bool { return t.removed }

// Hash returns a hash of the interned name.
func (t *Type) Hash() uint64 { return t.sym.hash }

// Equal reports whether t and other are the same descriptor.
func (t *Type) Equal(other *Type) bool {
	return t == other
}

// Lookup resolves a value operation, walking the supertype chain.
// Returns nil if no level supplies the slot.
func (t *Type) Lookup(s Slot) OpFunc {
	for _, level := range t.chain {
		if fn := level.ops.Get(s); fn != nil {
			return fn
		}
	}
	return nil
}

// String implements the Stringer interface.
func (t *Type) String() string {
	return t.Name()
}

// IsSubType reports whether candidate is ancestor or derives from it.
//
// Object kinds compare descriptor identity along candidate's supertype
// chain, so every type is a subtype of itself. Scalar and internal kinds
// are related only by identity. Descriptors of different kinds are never
// related.
func IsSubType(candidate, ancestor *Type) bool {
	if candidate == nil || ancestor == nil {
		return false
	}
	if candidate.kind != ancestor.kind {
		return false
	}
	if candidate.kind != KindObject {
		return candidate == ancestor
	}
	for _, level := range candidate.chain {
		if level == ancestor {
			return true
		}
	}
	return false
}
