package vm

import (
	"errors"
	"fmt"
	"math"
)

// ErrCollected is the panic value raised when a cell reclaimed by the
// collector is touched. Seeing it means some temporary was not protected.
var ErrCollected = errors.New("vm: use of collected object")

// NAInteger is the missing-value marker for integer and logical vectors.
const NAInteger int32 = math.MinInt32

// ---------------------------------------------------------------------------
// Object: one heap cell
// ---------------------------------------------------------------------------

// Object is a single cell in the interpreter heap.
//
// The three pointer slots are shared between cell kinds the same way the
// interpreter shares them:
//
//	pairlist, language: car = value,      cdr = next,    tag = name
//	symbol:             car = print name, cdr = value,   tag = internal
//	environment:        car = frame,      cdr = enclos,  tag = hash table
//	closure:            car = formals,    cdr = body,    tag = env
//	promise:            car = value,      cdr = code,    tag = env
type Object struct {
	typ    Type
	marked bool
	seen   bool

	car, cdr, tag *Object

	elts  []*Object // character, list, expression
	ints  []int32   // logical, integer
	reals []float64 // double
	raw   []byte    // raw
	chars string    // char
	prim  *primitive

	// truelength counts occupied buckets of a hash table vector.
	truelength int
}

func (x *Object) live() *Object {
	if x == nil {
		panic("vm: nil object")
	}
	if x.typ == FreeType {
		panic(ErrCollected)
	}
	return x
}

func (x *Object) expect(types ...Type) *Object {
	x.live()
	for _, t := range types {
		if x.typ == t {
			return x
		}
	}
	panic(fmt.Sprintf("vm: %s cell used where %v was expected", x.typ, types))
}

// poison clears a reclaimed cell so later access fails loudly.
func (x *Object) poison() {
	*x = Object{typ: FreeType}
}

// Type returns the dynamic type tag.
func (x *Object) Type() Type {
	return x.live().typ
}

// IsCollected reports whether the cell was reclaimed. It never panics.
func (x *Object) IsCollected() bool {
	return x != nil && x.typ == FreeType
}

// ---------------------------------------------------------------------------
// Cons cell access
// ---------------------------------------------------------------------------

func (x *Object) Car() *Object { return x.live().car }
func (x *Object) Cdr() *Object { return x.live().cdr }
func (x *Object) Tag() *Object { return x.live().tag }

func (x *Object) SetCar(v *Object) { x.expect(PairlistType, LanguageType).car = v.live() }
func (x *Object) SetCdr(v *Object) { x.expect(PairlistType, LanguageType).cdr = v.live() }
func (x *Object) SetTag(v *Object) { x.expect(PairlistType, LanguageType).tag = v.live() }

// ---------------------------------------------------------------------------
// Symbols, closures, environments, promises
// ---------------------------------------------------------------------------

// PrintName returns the char cell holding a symbol's name.
func (x *Object) PrintName() *Object { return x.expect(SymbolType).car }

// SymValue returns the base binding stored on a symbol.
func (x *Object) SymValue() *Object { return x.expect(SymbolType).cdr }

func (x *Object) Formals() *Object { return x.expect(ClosureType).car }
func (x *Object) Body() *Object    { return x.expect(ClosureType).cdr }
func (x *Object) CloEnv() *Object  { return x.expect(ClosureType).tag }

func (x *Object) Frame() *Object   { return x.expect(EnvironmentType).car }
func (x *Object) Enclos() *Object  { return x.expect(EnvironmentType).cdr }
func (x *Object) HashTab() *Object { return x.expect(EnvironmentType).tag }

func (x *Object) PrValue() *Object { return x.expect(PromiseType).car }
func (x *Object) PrCode() *Object  { return x.expect(PromiseType).cdr }
func (x *Object) PrEnv() *Object   { return x.expect(PromiseType).tag }
func (x *Object) PrSeen() bool     { return x.expect(PromiseType).seen }

// ---------------------------------------------------------------------------
// Vectors
// ---------------------------------------------------------------------------

// VectorElt returns element i of a list, expression or character vector.
func (x *Object) VectorElt(i int) *Object {
	return x.expect(ListType, ExpressionType, StringType).elts[i]
}

// SetVectorElt stores v at index i. Stores never allocate.
func (x *Object) SetVectorElt(i int, v *Object) {
	x.expect(ListType, ExpressionType, StringType).elts[i] = v.live()
}

// StringElt returns the text of element i of a character vector.
func (x *Object) StringElt(i int) string {
	return x.expect(StringType).elts[i].CharString()
}

// CharString returns the text held by a char cell.
func (x *Object) CharString() string {
	return x.expect(CharType).chars
}

// RawBytes returns the storage of a raw vector. The slice aliases the cell.
func (x *Object) RawBytes() []byte {
	return x.expect(RawType).raw
}

// Ints returns the storage of an integer or logical vector.
func (x *Object) Ints() []int32 {
	return x.expect(IntegerType, LogicalType).ints
}

// Reals returns the storage of a double vector.
func (x *Object) Reals() []float64 {
	return x.expect(RealType).reals
}

// PrimName returns the name a builtin or special was registered under.
func (x *Object) PrimName() string {
	return x.expect(BuiltinType, SpecialType).prim.name
}

// IsPrimitive reports whether x is a builtin or special.
func (x *Object) IsPrimitive() bool {
	t := x.Type()
	return t == BuiltinType || t == SpecialType
}

// IsFunction reports whether x can be applied.
func (x *Object) IsFunction() bool {
	return x.Type() == ClosureType || x.IsPrimitive()
}

// vectorLength returns the element count of a vector cell.
func (x *Object) vectorLength() int {
	switch x.typ {
	case CharType:
		return len(x.chars)
	case LogicalType, IntegerType:
		return len(x.ints)
	case RealType:
		return len(x.reals)
	case StringType, ListType, ExpressionType:
		return len(x.elts)
	case RawType:
		return len(x.raw)
	}
	return 1
}

func (x *Object) String() string {
	if x == nil {
		return "<nil>"
	}
	switch x.typ {
	case FreeType:
		return "<collected>"
	case SymbolType:
		if x.car != nil && x.car.typ == CharType {
			return "`" + x.car.chars + "`"
		}
	case CharType:
		return fmt.Sprintf("%q", x.chars)
	case BuiltinType, SpecialType:
		return ".Primitive(" + fmt.Sprintf("%q", x.prim.name) + ")"
	}
	return "<" + x.typ.String() + ">"
}
