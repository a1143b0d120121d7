package vm

import "github.com/tliron/commonlog"

// ---------------------------------------------------------------------------
// Garbage collection
// ---------------------------------------------------------------------------

// CollectGarbage runs a full mark-sweep collection and returns the number of
// cells reclaimed. Roots are the sentinels, the root environments, every
// interned symbol, the protection stack and the precious set. Reclaimed
// cells are poisoned; touching one afterwards panics with ErrCollected.
func (h *Heap) CollectGarbage() int {
	// Mark phase: find all reachable objects
	work := make([]*Object, 0, 64)
	mark := func(x *Object) {
		if x == nil || x.marked || x.typ == FreeType {
			return
		}
		x.marked = true
		work = append(work, x)
	}

	permanent := []*Object{h.Nil, h.Unbound, h.MissingArg, h.GlobalEnv, h.BaseEnv, h.EmptyEnv}
	for _, x := range permanent {
		mark(x)
	}
	for _, sym := range h.symbols.order {
		mark(sym)
	}
	for _, x := range h.protect {
		mark(x)
	}
	for x := range h.precious {
		mark(x)
	}

	for len(work) > 0 {
		x := work[len(work)-1]
		work = work[:len(work)-1]
		mark(x.car)
		mark(x.cdr)
		mark(x.tag)
		for _, e := range x.elts {
			mark(e)
		}
	}

	// Sweep phase: poison every unmarked cell
	collected := 0
	kept := h.objects[:0]
	for _, obj := range h.objects {
		if obj.marked {
			obj.marked = false
			kept = append(kept, obj)
			continue
		}
		if obj.typ == CharType && h.chars[obj.chars] == obj {
			delete(h.chars, obj.chars)
		}
		obj.poison()
		collected++
	}
	for i := len(kept); i < len(h.objects); i++ {
		h.objects[i] = nil
	}
	h.objects = kept

	// Sentinels live outside the object list
	for _, x := range permanent {
		if x != nil {
			x.marked = false
		}
	}

	h.sinceGC = 0
	h.stats.Collections++
	h.stats.Freed += uint64(collected)
	if collected > 0 && log.AllowLevel(commonlog.Debug) {
		log.Debugf("gc: reclaimed %d cells, %d live", collected, len(h.objects))
	}
	return collected
}
