package vm

import "strings"

// ---------------------------------------------------------------------------
// SymbolTable: Interned symbols
// ---------------------------------------------------------------------------

// SymbolTable interns symbol names to unique symbol cells. Interned symbols
// are never collected; the table is a root of every collection.
type SymbolTable struct {
	byName map[string]*Object
	order  []*Object
}

// NewSymbolTable creates a new empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string]*Object),
		order:  make([]*Object, 0, 256),
	}
}

// Lookup returns the symbol for a name, or nil and false if not interned.
func (st *SymbolTable) Lookup(name string) (*Object, bool) {
	sym, ok := st.byName[name]
	return sym, ok
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	return len(st.order)
}

// All returns all symbols in interning order.
func (st *SymbolTable) All() []*Object {
	result := make([]*Object, len(st.order))
	copy(result, st.order)
	return result
}

func (st *SymbolTable) add(name string, sym *Object) {
	st.byName[name] = sym
	st.order = append(st.order, sym)
}

// cString truncates s at the first NUL byte, as the interpreter's C entry
// points read their argument.
func cString(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}

// Install returns the symbol named name, interning it on first use.
// Interning is idempotent but allocates on a miss; hot paths should cache
// the result. Text after an embedded NUL is ignored.
func (h *Heap) Install(name string) *Object {
	name = cString(name)
	if sym, ok := h.symbols.Lookup(name); ok {
		return sym
	}

	pname := h.Protect(h.MkChar(name))
	sym := h.alloc(SymbolType)
	sym.car = pname
	sym.cdr = h.Unbound
	sym.tag = h.Nil
	h.symbols.add(name, sym)
	h.Unprotect(1)
	return sym
}

// Symbols exposes the symbol table.
func (h *Heap) Symbols() *SymbolTable {
	return h.symbols
}
