package vm

// ---------------------------------------------------------------------------
// Environments
// ---------------------------------------------------------------------------

// Hash table growth follows the interpreter: a table is resized by a factor
// of 1.2 once more than 85% of its buckets are occupied.
const (
	hashTableGrowthRate = 1.2
	hashTableMaxLoad    = 0.85
	// DefaultHashSize is the bucket count new.env uses when none is given.
	DefaultHashSize = 29
)

func (h *Heap) newEnvCell(frame, enclos *Object) *Object {
	h.Protect(frame)
	h.Protect(enclos)
	env := h.alloc(EnvironmentType)
	env.car = frame.live()
	env.cdr = enclos.live()
	h.Unprotect(2)
	return env
}

// NewEnv creates an empty environment enclosed by enclos. A hashed
// environment keeps its bindings in a vector of size buckets, each bucket a
// pairlist tagged by symbol; an unhashed one keeps a single frame pairlist.
func (h *Heap) NewEnv(enclos *Object, hash bool, size int) *Object {
	env := h.Protect(h.newEnvCell(h.Nil, enclos))
	if hash {
		if size <= 0 {
			size = DefaultHashSize
		}
		env.tag = h.AllocVector(ListType, size)
	}
	h.Unprotect(1)
	return env
}

// hashpjw is the interpreter's string hash for symbol names.
func hashpjw(s string) uint32 {
	var hv uint32
	for i := 0; i < len(s); i++ {
		hv = (hv << 4) + uint32(s[i])
		if g := hv & 0xf0000000; g != 0 {
			hv ^= g >> 24
			hv ^= g
		}
	}
	return hv
}

func bucketIndex(sym, table *Object) int {
	return int(hashpjw(sym.PrintName().CharString()) % uint32(len(table.elts)))
}

// findCell returns the binding cell of sym in chain, or nil.
func findCell(chain, sym *Object) *Object {
	for c := chain; c.Type() != NilType; c = c.Cdr() {
		if c.tag == sym {
			return c
		}
	}
	return nil
}

// bindingCell locates the cell binding sym directly in rho.
func (h *Heap) bindingCell(rho, sym *Object) *Object {
	if table := rho.HashTab(); table.Type() != NilType {
		return findCell(table.elts[bucketIndex(sym, table)], sym)
	}
	return findCell(rho.Frame(), sym)
}

// DefineVar binds sym to value in rho, replacing any existing binding in
// that frame. It protects its arguments across the allocation of a new
// binding cell. Assigning into the empty environment raises an *Error.
func (h *Heap) DefineVar(sym, value, rho *Object) {
	sym.expect(SymbolType)
	switch rho.expect(EnvironmentType) {
	case h.EmptyEnv:
		h.errorf("cannot assign values in the empty environment")
	case h.BaseEnv:
		sym.cdr = value.live()
		return
	}

	if cell := h.bindingCell(rho, sym); cell != nil {
		cell.car = value.live()
		return
	}

	h.Protect(value)
	h.Protect(rho)
	if table := rho.HashTab(); table.Type() != NilType {
		idx := bucketIndex(sym, table)
		chain := table.elts[idx]
		cell := h.Cons(value, chain)
		cell.tag = sym
		table = rho.HashTab()
		if chain.typ == NilType {
			table.truelength++
		}
		table.elts[idx] = cell
		if float64(table.truelength) > float64(len(table.elts))*hashTableMaxLoad {
			rho.tag = h.resizeHashTable(table)
		}
	} else {
		cell := h.Cons(value, rho.Frame())
		cell.tag = sym
		rho.car = cell
	}
	h.Unprotect(2)
}

// resizeHashTable relinks every binding cell of table into a larger table.
// No binding cell is allocated; only the bucket vector is.
func (h *Heap) resizeHashTable(table *Object) *Object {
	h.Protect(table)
	size := int(float64(len(table.elts)) * hashTableGrowthRate)
	if size <= len(table.elts) {
		size = len(table.elts) + 1
	}
	grown := h.AllocVector(ListType, size)
	for _, chain := range table.elts {
		for c := chain; c.Type() != NilType; {
			next := c.cdr
			idx := bucketIndex(c.tag, grown)
			if grown.elts[idx].typ == NilType {
				grown.truelength++
			}
			c.cdr = grown.elts[idx]
			grown.elts[idx] = c
			c = next
		}
	}
	h.Unprotect(1)
	log.Debugf("env hash table resized %d -> %d buckets", len(table.elts), size)
	return grown
}

// FindVarInFrame returns the value bound to sym directly in rho, or Unbound.
func (h *Heap) FindVarInFrame(rho, sym *Object) *Object {
	switch rho.expect(EnvironmentType) {
	case h.EmptyEnv:
		return h.Unbound
	case h.BaseEnv:
		return sym.SymValue()
	}
	if cell := h.bindingCell(rho, sym); cell != nil {
		return cell.car
	}
	return h.Unbound
}

// FindVar searches rho and its enclosures for sym and returns Unbound if no
// frame binds it.
func (h *Heap) FindVar(sym, rho *Object) *Object {
	for env := rho; env != h.EmptyEnv; env = env.Enclos() {
		if v := h.FindVarInFrame(env, sym); v != h.Unbound {
			return v
		}
	}
	return h.Unbound
}

// RemoveVar unbinds sym in rho by storing Unbound in its binding cell. The
// cell stays linked until the frame is rebuilt, so walkers of the frame must
// skip Unbound values. It reports whether a binding was found.
func (h *Heap) RemoveVar(sym, rho *Object) bool {
	switch rho.expect(EnvironmentType) {
	case h.EmptyEnv:
		return false
	case h.BaseEnv:
		bound := sym.SymValue() != h.Unbound
		sym.cdr = h.Unbound
		return bound
	}
	cell := h.bindingCell(rho, sym)
	if cell == nil || cell.car == h.Unbound {
		return false
	}
	cell.car = h.Unbound
	return true
}

// FrameNames returns the names bound in rho itself, skipping unbound slots.
func (h *Heap) FrameNames(rho *Object) []string {
	var names []string
	collect := func(chain *Object) {
		for c := chain; c.Type() != NilType; c = c.Cdr() {
			if c.car != h.Unbound && c.tag.typ == SymbolType {
				names = append(names, c.tag.PrintName().CharString())
			}
		}
	}
	switch rho.expect(EnvironmentType) {
	case h.EmptyEnv:
		return nil
	case h.BaseEnv:
		for _, sym := range h.symbols.order {
			if sym.cdr != h.Unbound {
				names = append(names, sym.car.CharString())
			}
		}
		return names
	}
	if table := rho.HashTab(); table.Type() != NilType {
		for _, chain := range table.elts {
			collect(chain)
		}
		return names
	}
	collect(rho.Frame())
	return names
}
