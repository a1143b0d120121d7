package vm

// ---------------------------------------------------------------------------
// Protection stack
// ---------------------------------------------------------------------------

// Protect pushes x onto the protection stack and returns it, so an
// allocation result can be protected in the same expression.
func (h *Heap) Protect(x *Object) *Object {
	if len(h.protect) >= h.cfg.ProtectStackSize {
		h.Fatalf("protect(): protection stack overflow")
	}
	h.protect = append(h.protect, x.live())
	h.stats.Protects++
	if d := len(h.protect); d > h.stats.MaxProtectDepth {
		h.stats.MaxProtectDepth = d
	}
	return x
}

// Unprotect pops the n most recent protections.
func (h *Heap) Unprotect(n int) {
	if n < 0 || n > len(h.protect) {
		h.Fatalf("unprotect(): only %d protected items", len(h.protect))
	}
	top := len(h.protect)
	for i := top - n; i < top; i++ {
		h.protect[i] = nil
	}
	h.protect = h.protect[:top-n]
	h.stats.Unprotects += uint64(n)
}

// ProtectDepth returns the current depth of the protection stack.
func (h *Heap) ProtectDepth() int {
	return len(h.protect)
}

// ---------------------------------------------------------------------------
// Precious set
// ---------------------------------------------------------------------------

// PreserveObject registers x as a long-lived root. Preserving the same
// object twice requires two releases.
func (h *Heap) PreserveObject(x *Object) {
	x.live()
	h.precious[x]++
}

// ReleaseObject removes one registration made by PreserveObject. Releasing
// an object that is not preserved does nothing.
func (h *Heap) ReleaseObject(x *Object) {
	n, ok := h.precious[x]
	if !ok {
		return
	}
	if n <= 1 {
		delete(h.precious, x)
		return
	}
	h.precious[x] = n - 1
}

// IsPreserved reports whether x is registered in the precious set.
func (h *Heap) IsPreserved(x *Object) bool {
	return h.precious[x] > 0
}
