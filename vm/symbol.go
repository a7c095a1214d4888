package vm

import (
	"sync"

	"github.com/zeebo/xxh3"
)

// ---------------------------------------------------------------------------
// Symbols: interned type names
// ---------------------------------------------------------------------------

// Symbol is an interned name. Two symbols from the same table are equal iff
// their ids are equal; the hash is computed once at intern time.
type Symbol struct {
	id   uint32
	name string
	hash uint64
}

// ID returns the symbol's table index.
func (s Symbol) ID() uint32 { return s.id }

// Name returns the interned string.
func (s Symbol) Name() string { return s.name }

// Hash returns the xxh3 hash of the name.
func (s Symbol) Hash() uint64 { return s.hash }

// SymbolTable interns names to Symbols.
type SymbolTable struct {
	mu     sync.RWMutex
	byName map[string]Symbol
	byID   []Symbol
}

// NewSymbolTable creates an empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string]Symbol),
		byID:   make([]Symbol, 0, 64),
	}
}

// Intern returns the symbol for name, creating it if needed.
func (st *SymbolTable) Intern(name string) Symbol {
	st.mu.RLock()
	sym, ok := st.byName[name]
	st.mu.RUnlock()
	if ok {
		return sym
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if sym, ok := st.byName[name]; ok {
		return sym
	}
	sym = Symbol{
		id:   uint32(len(st.byID)),
		name: name,
		hash: xxh3.HashString(name),
	}
	st.byName[name] = sym
	st.byID = append(st.byID, sym)
	return sym
}

// Lookup returns the symbol for name without interning it.
func (st *SymbolTable) Lookup(name string) (Symbol, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sym, ok := st.byName[name]
	return sym, ok
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}
