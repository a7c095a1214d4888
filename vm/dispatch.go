package vm

// ---------------------------------------------------------------------------
// Operation dispatch
// ---------------------------------------------------------------------------

// Lookup resolves slot s on the runtime type of v.
func (c *Context) Lookup(v Value, s Slot) (OpFunc, *Type, error) {
	t, err := c.rt.TypeOf(v)
	if err != nil {
		return nil, nil, c.SetStatus(err)
	}
	return t.Lookup(s), t, nil
}

// Dispatch applies slot s to args, resolving the operation on the type of
// the first argument. The result carries whatever lock the operation
// transferred to the caller.
func (c *Context) Dispatch(s Slot, args ...Value) (Value, error) {
	info := s.Info()
	if len(args) != info.Args {
		return Void, c.Fail(NumberOfArgumentsInvalid, "%s takes %d arguments, got %d", info.Name, info.Args, len(args))
	}
	fn, t, err := c.Lookup(args[0], s)
	if err != nil {
		return Void, err
	}
	if fn == nil {
		return Void, c.Fail(ArgumentValueInvalid, "type %q has no %s operation", t.Name(), info.Name)
	}
	results, err := c.Invoke(fn, args, info.Results)
	if err != nil {
		return Void, err
	}
	return results[0], nil
}

// IsEqualTo reports whether a equals b. Values of different tags are never
// equal. Types without an equal operation compare by identity.
func (c *Context) IsEqualTo(a, b Value) (bool, error) {
	if a.tag != b.tag {
		return false, nil
	}
	fn, _, err := c.Lookup(a, SlotEqual)
	if err != nil {
		return false, err
	}
	if fn == nil {
		return Identical(a, b), nil
	}
	results, err := c.Invoke(fn, []Value{a, b}, 1)
	if err != nil {
		return false, err
	}
	if !results[0].IsBool() {
		return false, c.Fail(OperationInvalid, "equal returned %s, want bool", results[0])
	}
	return results[0].Bool(), nil
}

// IsNotEqualTo is the negation of IsEqualTo.
func (c *Context) IsNotEqualTo(a, b Value) (bool, error) {
	eq, err := c.IsEqualTo(a, b)
	return !eq, err
}

// Hash returns the hash of v. Types without a hash operation hash by
// identity.
func (c *Context) Hash(v Value) (uint64, error) {
	fn, _, err := c.Lookup(v, SlotHash)
	if err != nil {
		return 0, err
	}
	if fn == nil {
		if v.IsType() {
			return v.typ.Hash(), nil
		}
		return hashBits(v.tag, v.bits), nil
	}
	results, err := c.Invoke(fn, []Value{v}, 1)
	if err != nil {
		return 0, err
	}
	if !results[0].IsInteger() {
		return 0, c.Fail(OperationInvalid, "hash returned %s, want an integer", results[0])
	}
	return results[0].bits, nil
}

// Compare orders a and b, returning -1, 0 or 1. Both must carry the same
// tag and the type must supply a compare operation.
func (c *Context) Compare(a, b Value) (int, error) {
	if a.tag != b.tag {
		return 0, c.Fail(ArgumentTypeInvalid, "compare of %s with %s", a.tag, b.tag)
	}
	fn, t, err := c.Lookup(a, SlotCompare)
	if err != nil {
		return 0, err
	}
	if fn == nil {
		return 0, c.Fail(ArgumentValueInvalid, "type %q has no compare operation", t.Name())
	}
	results, err := c.Invoke(fn, []Value{a, b}, 1)
	if err != nil {
		return 0, err
	}
	n, ok := results[0].AsInt64()
	if !ok {
		return 0, c.Fail(OperationInvalid, "compare returned %s, want a signed integer", results[0])
	}
	switch {
	case n < 0:
		return -1, nil
	case n > 0:
		return 1, nil
	}
	return 0, nil
}
