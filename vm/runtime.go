package vm

import "fmt"

// ---------------------------------------------------------------------------
// Runtime: registry, heap and built-in types
// ---------------------------------------------------------------------------

// Config tunes a runtime. The zero value is usable: no heap limit, no
// stack or frame limits, immediate finalization and no automatic
// collection.
type Config struct {
	MaxHeapBytes      uint64 // 0 means unlimited
	MaxStack          int    // value stack slots per context, 0 means unlimited
	MaxFrames         int    // interpreter call depth, 0 means unlimited
	DeferFinalization bool   // queue finalization until Heap.Drain
	CollectEvery      int    // allocations between automatic collections, 0 disables
	Barriers          bool   // record write barrier edges
}

// DefaultConfig returns the configuration used when no manifest overrides
// it.
func DefaultConfig() Config {
	return Config{
		MaxStack:  4096,
		MaxFrames: 256,
	}
}

// Runtime bundles a type registry with a heap and the built-in types.
type Runtime struct {
	Types *Registry
	Heap  *Heap

	RawMemoryType *Type
	ObjectType    *Type

	scalars [numTags]*Type
	config  Config
}

// NewRuntime creates a runtime with the built-in types registered.
func NewRuntime(cfg Config) *Runtime {
	rt := &Runtime{
		Types:  NewRegistry(),
		config: cfg,
	}
	rt.bootstrap()
	rt.Heap = newHeap(rt.Types, rt.RawMemoryType, cfg)
	log.Debugf("runtime ready with %d built-in types", rt.Types.Len())
	return rt
}

func (rt *Runtime) bootstrap() {
	var err error
	if rt.RawMemoryType, err = rt.Types.RegisterInternalType("raw-memory", nil, nil); err != nil {
		panic(err)
	}

	rt.defineScalar(TagVoid, voidOps())
	rt.defineScalar(TagBool, boolOps())
	rt.defineScalar(TagInt8, integerOps(int8Codec))
	rt.defineScalar(TagInt16, integerOps(int16Codec))
	rt.defineScalar(TagInt32, integerOps(int32Codec))
	rt.defineScalar(TagInt64, integerOps(int64Codec))
	rt.defineScalar(TagUInt8, integerOps(uint8Codec))
	rt.defineScalar(TagUInt16, integerOps(uint16Codec))
	rt.defineScalar(TagUInt32, integerOps(uint32Codec))
	rt.defineScalar(TagUInt64, integerOps(uint64Codec))
	rt.defineScalar(TagFloat32, floatOps(float32Codec))
	rt.defineScalar(TagFloat64, floatOps(float64Codec))
	rt.defineScalar(TagType, typeOps())

	if rt.ObjectType, err = rt.Types.RegisterObjectType("object", 0, nil, objectOps(), nil); err != nil {
		panic(err)
	}
}

func (rt *Runtime) defineScalar(tag Tag, ops *Operations) {
	t, err := rt.Types.RegisterScalarType(tag.String(), ops, nil)
	if err != nil {
		panic(fmt.Sprintf("bootstrap scalar %s: %v", tag, err))
	}
	rt.scalars[tag] = t
}

// Config returns the configuration the runtime was created with.
func (rt *Runtime) Config() Config { return rt.config }

// NewContext creates an execution context on the runtime.
func (rt *Runtime) NewContext() *Context {
	return newContext(rt, rt.config.MaxStack)
}

// ScalarType returns the static type of a scalar tag, or nil for object
// references.
func (rt *Runtime) ScalarType(tag Tag) *Type {
	if tag >= numTags || tag == TagObject {
		return nil
	}
	return rt.scalars[tag]
}

// TypeOf returns the runtime type of v: the header type for object
// references, the static type of the tag otherwise.
func (rt *Runtime) TypeOf(v Value) (*Type, error) {
	if !v.IsObject() {
		if t := rt.ScalarType(v.tag); t != nil {
			return t, nil
		}
		return nil, newError(ArgumentTypeInvalid, "value with unknown tag %s", v.tag)
	}
	obj, err := rt.Heap.Resolve(v)
	if err != nil {
		return nil, err
	}
	if obj.typ == nil {
		return nil, newError(NotExists, "object %s has been finalized", obj.handle)
	}
	return obj.typ, nil
}

// Close finalizes every object and drops the registry's type locks.
func (rt *Runtime) Close() {
	n := rt.Heap.Close()
	rt.Types.Teardown()
	log.Debugf("runtime closed: %d objects reclaimed, %d types left", n, rt.Types.Len())
}
