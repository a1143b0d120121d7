package vm

import (
	"bytes"
	"math"
)

// Identical reports whether a and b hold the same value. Vectors and
// pairlists compare element-wise; symbols, environments and promises
// compare by identity; closures compare formals and body structurally and
// their environments by identity. NaN is identical to NaN.
func (h *Heap) Identical(a, b *Object) bool {
	if a == b {
		return true
	}
	if a.Type() != b.Type() {
		return false
	}
	switch a.typ {
	case NilType:
		return true
	case CharType:
		return a.chars == b.chars
	case LogicalType, IntegerType:
		if len(a.ints) != len(b.ints) {
			return false
		}
		for i := range a.ints {
			if a.ints[i] != b.ints[i] {
				return false
			}
		}
		return true
	case RealType:
		if len(a.reals) != len(b.reals) {
			return false
		}
		for i := range a.reals {
			x, y := a.reals[i], b.reals[i]
			if x != y && !(math.IsNaN(x) && math.IsNaN(y)) {
				return false
			}
		}
		return true
	case RawType:
		return bytes.Equal(a.raw, b.raw)
	case StringType, ListType, ExpressionType:
		if len(a.elts) != len(b.elts) {
			return false
		}
		for i := range a.elts {
			if !h.Identical(a.elts[i], b.elts[i]) {
				return false
			}
		}
		return true
	case PairlistType, LanguageType:
		x, y := a, b
		for x.Type() != NilType && y.Type() != NilType {
			if x.typ != y.typ || x.tag != y.tag || !h.Identical(x.car, y.car) {
				return false
			}
			x, y = x.Cdr(), y.Cdr()
		}
		return x.Type() == NilType && y.Type() == NilType
	case ClosureType:
		return h.Identical(a.car, b.car) && h.Identical(a.cdr, b.cdr) && a.tag == b.tag
	case BuiltinType, SpecialType:
		return a.prim == b.prim
	}
	return false
}
